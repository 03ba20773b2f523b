package gcs

import (
	"context"
	"errors"
	"io"
	"iter"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/filekit"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Adapter provides a Google Cloud Storage implementation of filekit.Backend.
//
// GCS has no rename, but it does have generation preconditions, which are
// enough to build one: Rename copies the source at a pinned generation and
// then deletes it only if that generation is still current. Of two workers
// renaming the same object, the loser's delete fails the precondition and
// the rename reports the source as gone, which keeps rename-based claiming
// race-safe on this backend.
type Adapter struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// AdapterOption is a function that configures the Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for GCS objects
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new GCS adapter over an existing client
func New(client *storage.Client, bucket string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client: client,
		bucket: client.Bucket(bucket),
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// NewFromConfig creates a GCS adapter from filekit config, building the
// client from the credentials file, endpoint and anonymous settings. A
// custom endpoint points the adapter at a fake-gcs-server instance.
func NewFromConfig(ctx context.Context, cfg filekit.Config) (*Adapter, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	if cfg.GCSAnonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.GCSEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GCSEndpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return New(client, cfg.GCSBucket, WithPrefix(cfg.GCSPrefix)), nil
}

// key maps a store path onto an object name, keeping the trailing slash of
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

// storePath maps an object name back onto a store path.
func (a *Adapter) storePath(key string) string {
	return strings.TrimPrefix(key, a.prefix)
}

// Upload implements filekit.Backend
func (a *Adapter) Upload(ctx context.Context, filePath string, content io.Reader, options ...filekit.Option) error {
	opts := filekit.ApplyOptions(options...)
	key := a.key(filePath)

	w := a.bucket.Object(key).NewWriter(ctx)
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if opts.CacheControl != "" {
		w.CacheControl = opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		metadata := make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		w.Metadata = metadata
	}
	if opts.Visibility == filekit.Public {
		w.PredefinedACL = "publicRead"
	}

	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return mapGCSError("upload", filePath, err)
	}
	// GCS surfaces most write failures at Close
	if err := w.Close(); err != nil {
		return mapGCSError("upload", filePath, err)
	}

	return nil
}

// Download implements filekit.Backend
func (a *Adapter) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	key := a.key(filePath)

	r, err := a.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("download", filePath, err)
	}

	return r, nil
}

// Delete implements filekit.Backend
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	key := a.key(filePath)

	if err := a.bucket.Object(key).Delete(ctx); err != nil {
		return mapGCSError("delete", filePath, err)
	}

	return nil
}

// Exists implements filekit.Backend
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	key := a.key(filePath)

	_, err := a.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, mapGCSError("exists", filePath, err)
	}

	return true, nil
}

// PathExists implements filekit.Backend. A directory exists when its
// marker object does or when at least one object lives under the prefix.
func (a *Adapter) PathExists(ctx context.Context, dirPath string) (bool, error) {
	key := a.key(dirPath)
	if key == "" {
		// The bucket root always exists
		return true, nil
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	it := a.bucket.Objects(ctx, &storage.Query{Prefix: key})
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, mapGCSError("pathexists", dirPath, err)
	}

	return true, nil
}

// FileInfo implements filekit.Backend
func (a *Adapter) FileInfo(ctx context.Context, filePath string) (*filekit.File, error) {
	key := a.key(filePath)

	attrs, err := a.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return nil, mapGCSError("fileinfo", filePath, err)
	}

	return attrsFile(a.storePath(attrs.Name), attrs), nil
}

// attrsFile builds a File from object attributes.
func attrsFile(storePath string, attrs *storage.ObjectAttrs) *filekit.File {
	metadata := make(map[string]string)
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}

	return &filekit.File{
		Name:        path.Base(strings.TrimSuffix(attrs.Name, "/")),
		Path:        storePath,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		IsDir:       strings.HasSuffix(attrs.Name, "/"),
		ContentType: attrs.ContentType,
		Metadata:    metadata,
	}
}

// List implements filekit.Backend. The object iterator pages through the
// bucket lazily; breaking out of the range stops further requests.
func (a *Adapter) List(ctx context.Context, dirPath string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	listPrefix := a.key(dirPath)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	query := &storage.Query{Prefix: listPrefix}
	if !opts.Recursive {
		query.Delimiter = "/"
	}

	return func(yield func(filekit.File, error) bool) {
		it := a.bucket.Objects(ctx, query)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(filekit.File{}, mapGCSError("list", dirPath, err))
				return
			}

			// Synthesized directories arrive as prefix-only entries
			if attrs.Prefix != "" {
				if !opts.IncludeDirs {
					continue
				}
				dir := filekit.File{
					Name:  path.Base(strings.TrimSuffix(attrs.Prefix, "/")),
					Path:  a.storePath(attrs.Prefix),
					IsDir: true,
				}
				if !yield(dir, nil) {
					return
				}
				continue
			}

			// Skip the marker of the listed directory itself
			if attrs.Name == listPrefix {
				continue
			}
			isDir := strings.HasSuffix(attrs.Name, "/")
			if isDir && !opts.IncludeDirs {
				continue
			}

			if !yield(*attrsFile(a.storePath(attrs.Name), attrs), nil) {
				return
			}
		}
	}
}

// CreateDir implements filekit.Backend. GCS has no real directories; an
// empty object with a trailing slash marks one.
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	key := a.key(dirPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	w := a.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/x-directory"
	if err := w.Close(); err != nil {
		return mapGCSError("createdir", dirPath, err)
	}

	return nil
}

// DeleteDir implements filekit.Backend, removing every object under the
// prefix.
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string) error {
	dirKey := a.key(dirPath)
	if !strings.HasSuffix(dirKey, "/") {
		dirKey += "/"
	}

	it := a.bucket.Objects(ctx, &storage.Query{Prefix: dirKey})
	deleted := false
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return mapGCSError("deletedir", dirPath, err)
		}
		if err := a.bucket.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			return mapGCSError("deletedir", dirPath, err)
		}
		deleted = true
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

// Copy implements filekit.Copier using a server-side object rewrite.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcObj := a.bucket.Object(a.key(src))
	dstObj := a.bucket.Object(a.key(dst))

	if _, err := dstObj.CopierFrom(srcObj).Run(ctx); err != nil {
		return mapGCSError("copy", src, err)
	}

	return nil
}

// Rename implements filekit.Renamer as copy-then-conditional-delete. The
// source's generation is read first and the delete carries a generation
// precondition, so when two workers rename the same object only one delete
// goes through. The loser removes its own copy and reports the source as
// missing, which is exactly the signal the staking protocol treats as a
// lost race.
func (a *Adapter) Rename(ctx context.Context, oldpath, newpath string) error {
	srcObj := a.bucket.Object(a.key(oldpath))
	dstObj := a.bucket.Object(a.key(newpath))

	attrs, err := srcObj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: filekit.ErrNotExist}
		}
		return mapGCSLinkError("rename", oldpath, newpath, err)
	}

	// Copy the exact generation observed above
	if _, err := dstObj.CopierFrom(srcObj.Generation(attrs.Generation)).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: filekit.ErrNotExist}
		}
		return mapGCSLinkError("rename", oldpath, newpath, err)
	}

	err = srcObj.If(storage.Conditions{GenerationMatch: attrs.Generation}).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || isPreconditionFailed(err) {
			// Another worker won the race between our copy and delete.
			// Withdraw the copy so only the winner's claim remains.
			_ = dstObj.Delete(ctx)
			return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: filekit.ErrNotExist}
		}
		return mapGCSLinkError("rename", oldpath, newpath, err)
	}

	return nil
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
	return a.client.Close()
}

// isPreconditionFailed reports whether err is a generation precondition
// failure.
func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// mapGCSError maps GCS errors to filekit errors
func mapGCSError(op, path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &filekit.PathError{
			Op:   op,
			Path: path,
			Err:  filekit.ErrNotExist,
		}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
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

func mapGCSLinkError(op, old, new string, err error) error {
	return &filekit.LinkError{
		Op:  op,
		Old: old,
		New: new,
		Err: errors.Join(filekit.ErrBackend, err),
	}
}
