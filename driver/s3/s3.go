package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gobeaver/filekit"
)

// deleteBatchSize is the DeleteObjects request limit.
const deleteBatchSize = 1000

// Adapter provides an S3 implementation of filekit.Backend. S3 has no
// rename, so moves go through copy-plus-delete; the adapter implements
// filekit.Copier to keep the copy server-side.
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

// AdapterOption is a function that configures the Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for S3 objects
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new S3 adapter over an existing client
func New(client *s3.Client, bucket string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client: client,
		bucket: bucket,
	}

	// Apply options
	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// NewFromConfig creates an S3 adapter from filekit config, building the
// client from the region, endpoint and credential settings. A custom
// endpoint with path-style addressing points the adapter at MinIO or
// LocalStack.
func NewFromConfig(ctx context.Context, cfg filekit.Config) (*Adapter, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	return New(client, cfg.S3Bucket, WithPrefix(cfg.S3Prefix)), nil
}

// key maps a store path onto an object key, keeping the trailing slash of
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

// storePath maps an object key back onto a store path.
func (a *Adapter) storePath(key string) string {
	return strings.TrimPrefix(key, a.prefix)
}

// Upload implements filekit.Backend
func (a *Adapter) Upload(ctx context.Context, filePath string, content io.Reader, options ...filekit.Option) error {
	opts := filekit.ApplyOptions(options...)
	key := a.key(filePath)

	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   content,
	}

	// Set content type if provided
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	// Set cache control if provided
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	// Set metadata if provided
	if len(opts.Metadata) > 0 {
		metadata := make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		input.Metadata = metadata
	}

	// Set ACL based on visibility
	if opts.Visibility == filekit.Public {
		input.ACL = types.ObjectCannedACLPublicRead
	} else if opts.Visibility == filekit.Private {
		input.ACL = types.ObjectCannedACLPrivate
	}

	_, err := a.client.PutObject(ctx, input)
	if err != nil {
		return mapS3Error("upload", filePath, err)
	}

	return nil
}

// Download implements filekit.Backend
func (a *Adapter) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	key := a.key(filePath)

	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("download", filePath, err)
	}

	return resp.Body, nil
}

// Delete implements filekit.Backend. Deletion waits for the object to be
// gone; S3 acknowledges deletes before all replicas agree.
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	key := a.key(filePath)

	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error("delete", filePath, err)
	}

	// Wait for the object to be deleted
	waiter := s3.NewObjectNotExistsWaiter(a.client)
	err = waiter.Wait(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, 30*time.Second)
	if err != nil {
		return mapS3Error("delete", filePath, err)
	}

	return nil
}

// Exists implements filekit.Backend
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	key := a.key(filePath)

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &notFound) {
			return false, nil
		}
		return false, mapS3Error("exists", filePath, err)
	}

	return true, nil
}

// PathExists implements filekit.Backend. A directory exists when its
// marker object does or when at least one key lives under the prefix.
func (a *Adapter) PathExists(ctx context.Context, dirPath string) (bool, error) {
	key := a.key(dirPath)
	if key == "" {
		// The bucket root always exists
		return true, nil
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapS3Error("pathexists", dirPath, err)
	}

	return len(resp.Contents) > 0, nil
}

// FileInfo implements filekit.Backend
func (a *Adapter) FileInfo(ctx context.Context, filePath string) (*filekit.File, error) {
	key := a.key(filePath)

	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("fileinfo", filePath, err)
	}

	metadata := make(map[string]string)
	for k, v := range resp.Metadata {
		metadata[k] = v
	}

	return &filekit.File{
		Name:        path.Base(filePath),
		Path:        filePath,
		Size:        aws.ToInt64(resp.ContentLength),
		ModTime:     aws.ToTime(resp.LastModified),
		IsDir:       strings.HasSuffix(key, "/"),
		ContentType: aws.ToString(resp.ContentType),
		Metadata:    metadata,
	}, nil
}

// List implements filekit.Backend. Listing pages through the bucket
// lazily; breaking out of the range stops further requests.
func (a *Adapter) List(ctx context.Context, dirPath string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	listPrefix := a.key(dirPath)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	}
	if !opts.Recursive {
		input.Delimiter = aws.String("/")
	}

	return func(yield func(filekit.File, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(a.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(filekit.File{}, mapS3Error("list", dirPath, err))
				return
			}

			// Synthesized directories (common prefixes)
			if opts.IncludeDirs {
				for _, p := range page.CommonPrefixes {
					prefix := aws.ToString(p.Prefix)
					if prefix == listPrefix {
						continue
					}
					dir := filekit.File{
						Name:  path.Base(strings.TrimSuffix(prefix, "/")),
						Path:  a.storePath(prefix),
						IsDir: true,
					}
					if !yield(dir, nil) {
						return
					}
				}
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				// Skip the marker of the listed directory itself
				if key == listPrefix {
					continue
				}
				isDir := strings.HasSuffix(key, "/")
				if isDir && !opts.IncludeDirs {
					continue
				}

				name := path.Base(strings.TrimSuffix(key, "/"))
				f := filekit.File{
					Name:    name,
					Path:    a.storePath(key),
					Size:    aws.ToInt64(obj.Size),
					ModTime: aws.ToTime(obj.LastModified),
					IsDir:   isDir,
				}
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// CreateDir implements filekit.Backend. S3 has no real directories; an
// empty object with a trailing slash marks one.
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	key := a.key(dirPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte{}),
		ContentType: aws.String("application/x-directory"),
	})
	if err != nil {
		return mapS3Error("createdir", dirPath, err)
	}

	return nil
}

// DeleteDir implements filekit.Backend, removing every object under the
// prefix in batches.
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string) error {
	dirKey := a.key(dirPath)
	if !strings.HasSuffix(dirKey, "/") {
		dirKey += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(dirKey),
	})

	deleted := false
	batch := make([]types.ObjectIdentifier, 0, deleteBatchSize)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Error("deletedir", dirPath, err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := a.deleteBatch(ctx, dirPath, batch); err != nil {
					return err
				}
				deleted = true
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		if err := a.deleteBatch(ctx, dirPath, batch); err != nil {
			return err
		}
		deleted = true
	}

	// If no objects were found, the directory doesn't exist
	if !deleted {
		return &filekit.PathError{
			Op:   "deletedir",
			Path: dirPath,
			Err:  filekit.ErrNotExist,
		}
	}

	return nil
}

func (a *Adapter) deleteBatch(ctx context.Context, dirPath string, batch []types.ObjectIdentifier) error {
	_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{
			Objects: batch,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return mapS3Error("deletedir", dirPath, err)
	}
	return nil
}

// Copy implements filekit.Copier using server-side CopyObject.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcKey := a.key(src)
	dstKey := a.key(dst)

	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(a.bucket + "/" + srcKey),
	})
	if err != nil {
		return mapS3Error("copy", src, err)
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

	// Open the file
	file, err := os.Open(localPath)
	if err != nil {
		return &filekit.PathError{
			Op:   "uploadfile",
			Path: localPath,
			Err:  err,
		}
	}
	defer file.Close()

	// Upload the file
	return a.Upload(ctx, filePath, file, options...)
}

// GeneratePresignedURL implements filekit.PresignedURLGenerator
func (a *Adapter) GeneratePresignedURL(ctx context.Context, filePath string, expires time.Duration) (string, error) {
	key := a.key(filePath)

	presignClient := s3.NewPresignClient(a.client)
	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})

	if err != nil {
		return "", mapS3Error("presign-get", filePath, err)
	}

	return request.URL, nil
}

// GeneratePresignedPutURL implements filekit.PresignedURLGenerator
func (a *Adapter) GeneratePresignedPutURL(ctx context.Context, filePath string, expires time.Duration) (string, error) {
	key := a.key(filePath)

	presignClient := s3.NewPresignClient(a.client)
	request, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})

	if err != nil {
		return "", mapS3Error("presign-put", filePath, err)
	}

	return request.URL, nil
}

// Close implements filekit.Backend
func (a *Adapter) Close() error {
	return nil
}

// mapS3Error maps S3 errors to filekit errors
func mapS3Error(op, path string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound

	if errors.As(err, &nsk) || errors.As(err, &notFound) {
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
