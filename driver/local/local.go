package local

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobeaver/filekit"
)

// Adapter provides a local filesystem implementation of filekit.Backend.
// It doubles as the reference backend for staking: os.Rename is atomic, so
// of two workers renaming the same file exactly one succeeds and the other
// gets ErrNotExist.
type Adapter struct {
	root   string
	signer *URLSigner
}

// AdapterOption is a function that configures the Adapter
type AdapterOption func(*Adapter)

// WithURLSigner enables signed URL generation for files under the root.
func WithURLSigner(signer *URLSigner) AdapterOption {
	return func(a *Adapter) {
		a.signer = signer
	}
}

// New creates a new local filesystem adapter
func New(root string, options ...AdapterOption) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	// Ensure the root directory exists
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, err
	}

	adapter := &Adapter{
		root: absRoot,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter, nil
}

// fullPath maps a normalized store path onto the disk under the root.
func (a *Adapter) fullPath(path string) string {
	return filepath.Join(a.root, filepath.FromSlash(strings.TrimSuffix(path, "/")))
}

// Upload implements filekit.Backend
func (a *Adapter) Upload(ctx context.Context, path string, content io.Reader, options ...filekit.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return &filekit.PathError{
			Op:   "upload",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	// Ensure the directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &filekit.PathError{
			Op:   "upload",
			Path: path,
			Err:  err,
		}
	}

	// Create the file
	f, err := os.Create(fullPath)
	if err != nil {
		return &filekit.PathError{
			Op:   "upload",
			Path: path,
			Err:  err,
		}
	}
	defer f.Close()

	// Copy the content to the file
	_, err = io.Copy(f, content)
	if err != nil {
		return &filekit.PathError{
			Op:   "upload",
			Path: path,
			Err:  err,
		}
	}

	opts := filekit.ApplyOptions(options...)

	// Set file permissions based on visibility
	if opts.Visibility == filekit.Public {
		if err := os.Chmod(fullPath, 0644); err != nil {
			return &filekit.PathError{
				Op:   "upload",
				Path: path,
				Err:  err,
			}
		}
	} else if opts.Visibility == filekit.Private {
		if err := os.Chmod(fullPath, 0600); err != nil {
			return &filekit.PathError{
				Op:   "upload",
				Path: path,
				Err:  err,
			}
		}
	}

	return nil
}

// Download implements filekit.Backend
func (a *Adapter) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return nil, &filekit.PathError{
			Op:   "download",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	// Open the file
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &filekit.PathError{
				Op:   "download",
				Path: path,
				Err:  filekit.ErrNotExist,
			}
		}
		return nil, &filekit.PathError{
			Op:   "download",
			Path: path,
			Err:  err,
		}
	}

	return f, nil
}

// Delete implements filekit.Backend
func (a *Adapter) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return &filekit.PathError{
			Op:   "delete",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	// Delete the file
	err := os.Remove(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &filekit.PathError{
				Op:   "delete",
				Path: path,
				Err:  filekit.ErrNotExist,
			}
		}
		return &filekit.PathError{
			Op:   "delete",
			Path: path,
			Err:  err,
		}
	}

	return nil
}

// Exists implements filekit.Backend
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return false, &filekit.PathError{
			Op:   "exists",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &filekit.PathError{
			Op:   "exists",
			Path: path,
			Err:  err,
		}
	}

	return !info.IsDir(), nil
}

// PathExists implements filekit.Backend
func (a *Adapter) PathExists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return false, &filekit.PathError{
			Op:   "pathexists",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &filekit.PathError{
			Op:   "pathexists",
			Path: path,
			Err:  err,
		}
	}

	return info.IsDir(), nil
}

// FileInfo implements filekit.Backend
func (a *Adapter) FileInfo(ctx context.Context, path string) (*filekit.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return nil, &filekit.PathError{
			Op:   "fileinfo",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &filekit.PathError{
				Op:   "fileinfo",
				Path: path,
				Err:  filekit.ErrNotExist,
			}
		}
		return nil, &filekit.PathError{
			Op:   "fileinfo",
			Path: path,
			Err:  err,
		}
	}

	// Get content type
	contentType := ""
	if !info.IsDir() {
		contentType = getContentType(fullPath)
	}

	return &filekit.File{
		Name:        filepath.Base(fullPath),
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
		ContentType: contentType,
	}, nil
}

// List implements filekit.Backend. Entries that vanish while the walk is
// running are skipped; concurrent workers claiming files out of a watched
// directory is normal operation.
func (a *Adapter) List(ctx context.Context, path string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	return func(yield func(filekit.File, error) bool) {
		select {
		case <-ctx.Done():
			yield(filekit.File{}, ctx.Err())
			return
		default:
			// Continue
		}

		fullPath := a.fullPath(path)

		// Check if the path is under the root
		if !isPathUnderRoot(a.root, fullPath) {
			yield(filekit.File{}, &filekit.PathError{
				Op:   "list",
				Path: path,
				Err:  filekit.ErrNotAllowed,
			})
			return
		}

		// Check if the directory exists
		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				yield(filekit.File{}, &filekit.PathError{
					Op:   "list",
					Path: path,
					Err:  filekit.ErrNotExist,
				})
				return
			}
			yield(filekit.File{}, &filekit.PathError{
				Op:   "list",
				Path: path,
				Err:  err,
			})
			return
		}

		// If it's not a directory, return an error
		if !info.IsDir() {
			yield(filekit.File{}, &filekit.PathError{
				Op:   "list",
				Path: path,
				Err:  filekit.ErrNotDir,
			})
			return
		}

		if !opts.Recursive {
			a.listDir(path, fullPath, opts, yield)
			return
		}

		filepath.WalkDir(fullPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				yield(filekit.File{}, &filekit.PathError{Op: "list", Path: path, Err: err})
				return filepath.SkipAll
			}
			if p == fullPath {
				return nil
			}

			f, ok := a.entryFile(path, fullPath, p, d)
			if !ok {
				return nil
			}
			if f.IsDir && !opts.IncludeDirs {
				return nil
			}
			if !yield(f, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// listDir yields a single directory level.
func (a *Adapter) listDir(path, fullPath string, opts filekit.WalkOptions, yield func(filekit.File, error) bool) {
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		yield(filekit.File{}, &filekit.PathError{Op: "list", Path: path, Err: err})
		return
	}

	for _, entry := range entries {
		f, ok := a.entryFile(path, fullPath, filepath.Join(fullPath, entry.Name()), entry)
		if !ok {
			continue
		}
		if f.IsDir && !opts.IncludeDirs {
			continue
		}
		if !yield(f, nil) {
			return
		}
	}
}

// entryFile builds a File for a walked entry. Reports ok=false when the
// entry vanished between listing and stat.
func (a *Adapter) entryFile(path, fullPath, entryPath string, d fs.DirEntry) (filekit.File, bool) {
	info, err := d.Info()
	if err != nil {
		return filekit.File{}, false
	}

	rel, err := filepath.Rel(fullPath, entryPath)
	if err != nil {
		return filekit.File{}, false
	}
	storePath := path + filepath.ToSlash(rel)
	if info.IsDir() {
		storePath += "/"
	}

	contentType := ""
	if !info.IsDir() {
		contentType = getContentType(entryPath)
	}

	return filekit.File{
		Name:        d.Name(),
		Path:        storePath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
		ContentType: contentType,
	}, true
}

// CreateDir implements filekit.Backend
func (a *Adapter) CreateDir(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return &filekit.PathError{
			Op:   "createdir",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	// Create the directory
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return &filekit.PathError{
			Op:   "createdir",
			Path: path,
			Err:  err,
		}
	}

	return nil
}

// DeleteDir implements filekit.Backend
func (a *Adapter) DeleteDir(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Continue
	}

	fullPath := a.fullPath(path)

	// Check if the path is under the root
	if !isPathUnderRoot(a.root, fullPath) {
		return &filekit.PathError{
			Op:   "deletedir",
			Path: path,
			Err:  filekit.ErrNotAllowed,
		}
	}

	// Check if the directory exists
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &filekit.PathError{
				Op:   "deletedir",
				Path: path,
				Err:  filekit.ErrNotExist,
			}
		}
		return &filekit.PathError{
			Op:   "deletedir",
			Path: path,
			Err:  err,
		}
	}

	// Check if it's a directory
	if !info.IsDir() {
		return &filekit.PathError{
			Op:   "deletedir",
			Path: path,
			Err:  filekit.ErrNotDir,
		}
	}

	// Delete the directory
	if err := os.RemoveAll(fullPath); err != nil {
		return &filekit.PathError{
			Op:   "deletedir",
			Path: path,
			Err:  err,
		}
	}

	return nil
}

// Rename implements filekit.Renamer. The rename is atomic: when two
// workers race to rename the same source, the loser's os.Rename fails
// with ErrNotExist.
func (a *Adapter) Rename(ctx context.Context, oldpath, newpath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Continue
	}

	oldFull := a.fullPath(oldpath)
	newFull := a.fullPath(newpath)

	if !isPathUnderRoot(a.root, oldFull) || !isPathUnderRoot(a.root, newFull) {
		return &filekit.LinkError{
			Op:  "rename",
			Old: oldpath,
			New: newpath,
			Err: filekit.ErrNotAllowed,
		}
	}

	// Create the target directory first so a remaining ENOENT can only
	// mean the source is gone.
	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		return &filekit.LinkError{
			Op:  "rename",
			Old: oldpath,
			New: newpath,
			Err: err,
		}
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		if os.IsNotExist(err) {
			return &filekit.LinkError{
				Op:  "rename",
				Old: oldpath,
				New: newpath,
				Err: filekit.ErrNotExist,
			}
		}
		return &filekit.LinkError{
			Op:  "rename",
			Old: oldpath,
			New: newpath,
			Err: err,
		}
	}

	return nil
}

// UploadFile implements filekit.Uploader
func (a *Adapter) UploadFile(ctx context.Context, path string, localPath string, options ...filekit.Option) error {
	// Open the local file
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
	return a.Upload(ctx, path, file, options...)
}

// GeneratePresignedURL implements filekit.PresignedURLGenerator when a
// URL signer is configured. The local backend has no store to presign
// against, so the URL carries an HMAC that the serving side verifies.
func (a *Adapter) GeneratePresignedURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	if a.signer == nil {
		return "", &filekit.PathError{
			Op:   "presign-get",
			Path: path,
			Err:  filekit.ErrNotSupported,
		}
	}
	return a.signer.SignedURL(http.MethodGet, path, expires)
}

// GeneratePresignedPutURL implements filekit.PresignedURLGenerator when a
// URL signer is configured.
func (a *Adapter) GeneratePresignedPutURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	if a.signer == nil {
		return "", &filekit.PathError{
			Op:   "presign-put",
			Path: path,
			Err:  filekit.ErrNotSupported,
		}
	}
	return a.signer.SignedURL(http.MethodPut, path, expires)
}

// Close implements filekit.Backend
func (a *Adapter) Close() error {
	return nil
}

// isPathUnderRoot checks if a path is under a given root directory
func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return !filepath.IsAbs(rel) && !strings.HasPrefix(rel, "../")
}

// getContentType tries to determine the content type of a file
func getContentType(path string) string {
	// Try to determine content type from extension
	ext := filepath.Ext(path)
	if ext != "" {
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}
	}

	// Try to determine content type by reading file header
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	// Read a small slice of the file to detect content type
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return ""
	}

	return http.DetectContentType(buffer[:n])
}
