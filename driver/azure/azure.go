package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/gobeaver/filekit"
)

// copyPollInterval is the wait between copy status polls. Same-account
// copies usually complete synchronously; the poll covers the rest.
const copyPollInterval = 200 * time.Millisecond

// Adapter provides an Azure Blob Storage implementation of filekit.Backend.
// Azure has no rename and no conditional delete to build one from, so
// moves go through copy-plus-delete; the adapter implements filekit.Copier
// to keep the copy server-side.
type Adapter struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// AdapterOption is a function that configures the Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for blob names
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new Azure adapter over an existing client
func New(client *azblob.Client, containerName string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client:        client,
		containerName: containerName,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// NewFromConfig creates an Azure adapter from filekit config using shared
// key credentials. A custom service URL points the adapter at Azurite.
func NewFromConfig(cfg filekit.Config) (*Adapter, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, fmt.Errorf("%w: azure account name and key are required", filekit.ErrInvalidConfig)
	}

	serviceURL := cfg.AzureServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccountName)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, err
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}

	return New(client, cfg.AzureContainer, WithPrefix(cfg.AzurePrefix)), nil
}

// key maps a store path onto a blob name, keeping the trailing slash of
// directory paths.
func (a *Adapter) key(p string) string {
	k := path.Join(a.prefix, p)
	if k == "." {
		k = ""
	}
	if strings.HasSuffix(p, "/") && k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

// storePath maps a blob name back onto a store path.
func (a *Adapter) storePath(key string) string {
	return strings.TrimPrefix(key, a.prefix)
}

// blobClient returns a client for one blob.
func (a *Adapter) blobClient(key string) *blob.Client {
	return a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(key)
}

// containerClient returns a client for the adapter's container.
func (a *Adapter) containerClient() *container.Client {
	return a.client.ServiceClient().NewContainerClient(a.containerName)
}

// Upload implements filekit.Backend. Visibility is ignored: access level
// is a container property on Azure, not a per-blob one.
func (a *Adapter) Upload(ctx context.Context, filePath string, content io.Reader, options ...filekit.Option) error {
	opts := filekit.ApplyOptions(options...)
	key := a.key(filePath)

	uploadOpts := &azblob.UploadStreamOptions{}

	headers := &blob.HTTPHeaders{}
	if opts.ContentType != "" {
		headers.BlobContentType = to.Ptr(opts.ContentType)
	}
	if opts.CacheControl != "" {
		headers.BlobCacheControl = to.Ptr(opts.CacheControl)
	}
	uploadOpts.HTTPHeaders = headers

	if len(opts.Metadata) > 0 {
		metadata := make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = to.Ptr(v)
		}
		uploadOpts.Metadata = metadata
	}

	if _, err := a.client.UploadStream(ctx, a.containerName, key, content, uploadOpts); err != nil {
		return mapAzureError("upload", filePath, err)
	}

	return nil
}

// Download implements filekit.Backend
func (a *Adapter) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	key := a.key(filePath)

	resp, err := a.client.DownloadStream(ctx, a.containerName, key, nil)
	if err != nil {
		return nil, mapAzureError("download", filePath, err)
	}

	return resp.Body, nil
}

// Delete implements filekit.Backend
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	key := a.key(filePath)

	if _, err := a.client.DeleteBlob(ctx, a.containerName, key, nil); err != nil {
		return mapAzureError("delete", filePath, err)
	}

	return nil
}

// Exists implements filekit.Backend
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	key := a.key(filePath)

	_, err := a.blobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, mapAzureError("exists", filePath, err)
	}

	return true, nil
}

// PathExists implements filekit.Backend. A directory exists when its
// marker blob does or when at least one blob lives under the prefix.
func (a *Adapter) PathExists(ctx context.Context, dirPath string) (bool, error) {
	key := a.key(dirPath)
	if key == "" {
		// The container root always exists
		return true, nil
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(key),
		MaxResults: to.Ptr(int32(1)),
	})
	if !pager.More() {
		return false, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return false, mapAzureError("pathexists", dirPath, err)
	}

	return len(page.Segment.BlobItems) > 0, nil
}

// FileInfo implements filekit.Backend
func (a *Adapter) FileInfo(ctx context.Context, filePath string) (*filekit.File, error) {
	key := a.key(filePath)

	props, err := a.blobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return nil, mapAzureError("fileinfo", filePath, err)
	}

	metadata := make(map[string]string)
	for k, v := range props.Metadata {
		if v != nil {
			metadata[k] = *v
		}
	}

	return &filekit.File{
		Name:        path.Base(strings.TrimSuffix(key, "/")),
		Path:        filePath,
		Size:        derefInt64(props.ContentLength),
		ModTime:     derefTime(props.LastModified),
		IsDir:       strings.HasSuffix(key, "/"),
		ContentType: derefString(props.ContentType),
		Metadata:    metadata,
	}, nil
}

// List implements filekit.Backend. Listing pages through the container
// lazily; breaking out of the range stops further requests.
func (a *Adapter) List(ctx context.Context, dirPath string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	listPrefix := a.key(dirPath)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	if opts.Recursive {
		return a.listFlat(ctx, dirPath, listPrefix, opts)
	}
	return a.listHierarchy(ctx, dirPath, listPrefix, opts)
}

func (a *Adapter) listFlat(ctx context.Context, dirPath, listPrefix string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	return func(yield func(filekit.File, error) bool) {
		pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
			Prefix: to.Ptr(listPrefix),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(filekit.File{}, mapAzureError("list", dirPath, err))
				return
			}
			if !a.yieldItems(page.Segment.BlobItems, listPrefix, opts, yield) {
				return
			}
		}
	}
}

func (a *Adapter) listHierarchy(ctx context.Context, dirPath, listPrefix string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	return func(yield func(filekit.File, error) bool) {
		pager := a.containerClient().NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix: to.Ptr(listPrefix),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(filekit.File{}, mapAzureError("list", dirPath, err))
				return
			}

			// Synthesized directories (blob prefixes)
			if opts.IncludeDirs {
				for _, p := range page.Segment.BlobPrefixes {
					name := derefString(p.Name)
					if name == listPrefix {
						continue
					}
					dir := filekit.File{
						Name:  path.Base(strings.TrimSuffix(name, "/")),
						Path:  a.storePath(name),
						IsDir: true,
					}
					if !yield(dir, nil) {
						return
					}
				}
			}

			if !a.yieldItems(page.Segment.BlobItems, listPrefix, opts, yield) {
				return
			}
		}
	}
}

// yieldItems yields blob items, skipping the listed directory's own marker.
// Reports false when the consumer stopped the iteration.
func (a *Adapter) yieldItems(items []*container.BlobItem, listPrefix string, opts filekit.WalkOptions, yield func(filekit.File, error) bool) bool {
	for _, item := range items {
		name := derefString(item.Name)
		if name == listPrefix {
			continue
		}
		isDir := strings.HasSuffix(name, "/")
		if isDir && !opts.IncludeDirs {
			continue
		}

		f := filekit.File{
			Name:  path.Base(strings.TrimSuffix(name, "/")),
			Path:  a.storePath(name),
			IsDir: isDir,
		}
		if item.Properties != nil {
			f.Size = derefInt64(item.Properties.ContentLength)
			f.ModTime = derefTime(item.Properties.LastModified)
			f.ContentType = derefString(item.Properties.ContentType)
		}
		if !yield(f, nil) {
			return false
		}
	}
	return true
}

// CreateDir implements filekit.Backend. Azure has no real directories; an
// empty blob with a trailing slash marks one.
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	key := a.key(dirPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err := a.client.UploadBuffer(ctx, a.containerName, key, []byte{}, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/x-directory"),
		},
	})
	if err != nil {
		return mapAzureError("createdir", dirPath, err)
	}

	return nil
}

// DeleteDir implements filekit.Backend, removing every blob under the
// prefix.
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string) error {
	dirKey := a.key(dirPath)
	if !strings.HasSuffix(dirKey, "/") {
		dirKey += "/"
	}

	pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(dirKey),
	})

	deleted := false
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return mapAzureError("deletedir", dirPath, err)
		}
		for _, item := range page.Segment.BlobItems {
			name := derefString(item.Name)
			if _, err := a.client.DeleteBlob(ctx, a.containerName, name, nil); err != nil {
				if bloberror.HasCode(err, bloberror.BlobNotFound) {
					continue
				}
				return mapAzureError("deletedir", dirPath, err)
			}
			deleted = true
		}
	}

	if !deleted {
		return &filekit.PathError{
			Op:   "deletedir",
			Path: dirPath,
			Err:  filekit.ErrNotExist,
		}
	}

	return nil
}

// Copy implements filekit.Copier using a server-side copy. StartCopyFromURL
// is asynchronous; the copy is polled until it leaves the pending state.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcClient := a.blobClient(a.key(src))
	dstClient := a.blobClient(a.key(dst))

	if _, err := dstClient.StartCopyFromURL(ctx, srcClient.URL(), nil); err != nil {
		return mapAzureError("copy", src, err)
	}

	for {
		props, err := dstClient.GetProperties(ctx, nil)
		if err != nil {
			return mapAzureError("copy", dst, err)
		}
		if props.CopyStatus == nil || *props.CopyStatus == blob.CopyStatusTypeSuccess {
			return nil
		}
		if *props.CopyStatus != blob.CopyStatusTypePending {
			return &filekit.LinkError{
				Op:  "copy",
				Old: src,
				New: dst,
				Err: fmt.Errorf("%w: copy ended with status %s", filekit.ErrBackend, *props.CopyStatus),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(copyPollInterval):
		}
	}
}

// UploadFile implements filekit.Uploader
func (a *Adapter) UploadFile(ctx context.Context, filePath string, localPath string, options ...filekit.Option) error {
	opts := filekit.ApplyOptions(options...)
	if opts.ContentType == "" {
		if contentType := mime.TypeByExtension(filepath.Ext(localPath)); contentType != "" {
			options = append(options, filekit.WithContentType(contentType))
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return &filekit.PathError{
			Op:   "uploadfile",
			Path: localPath,
			Err:  err,
		}
	}
	defer file.Close()

	return a.Upload(ctx, filePath, file, options...)
}

// Close implements filekit.Backend
func (a *Adapter) Close() error {
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// mapAzureError maps Azure errors to filekit errors. A 404 response that
// bloberror does not recognize still means the blob is gone.
func mapAzureError(op, path string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return &filekit.PathError{
			Op:   op,
			Path: path,
			Err:  filekit.ErrNotExist,
		}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return &filekit.PathError{
			Op:   op,
			Path: path,
			Err:  filekit.ErrNotExist,
		}
	}

	return &filekit.PathError{
		Op:   op,
		Path: path,
		Err:  errors.Join(filekit.ErrBackend, err),
	}
}
