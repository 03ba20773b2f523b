package filekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// tempPathAttempts bounds the name-collision retry loop in CreateTempPath.
const tempPathAttempts = 10

// FS is a handle over a single backend. It rebases every caller path under
// a configured base path, routes operations through the verified layer,
// tracks temp paths for cleanup on Close, and throttles recursive
// downloads. A handle carries a unique ID that is embedded in the names of
// files it stakes.
//
// FS is safe for concurrent use.
type FS struct {
	backend  Backend
	ops      *Verified
	driver   string
	id       string
	basePath string
	suffix   string
	prefix   string
	defaults []Option
	log      *slog.Logger

	mu        sync.Mutex
	limit     int
	downloads int
	tempPaths []string
}

// FSOption configures an FS handle.
type FSOption func(*FS)

// WithBasePath confines the handle to a subtree of the store. Every caller
// path is rebased under it; paths already carrying the prefix pass through
// unchanged.
func WithBasePath(basePath string) FSOption {
	return func(fs *FS) {
		fs.basePath = NormalizePath(basePath)
	}
}

// WithLogger sets the logger used for staking and cleanup diagnostics.
func WithLogger(log *slog.Logger) FSOption {
	return func(fs *FS) {
		fs.log = log
	}
}

// WithDownloadLimit caps the number of files fetched per recursive
// download. Zero disables the limit.
func WithDownloadLimit(limit int) FSOption {
	return func(fs *FS) {
		fs.limit = limit
	}
}

// WithStakingSuffix overrides the suffix appended to staked file names.
func WithStakingSuffix(suffix string) FSOption {
	return func(fs *FS) {
		if suffix != "" {
			fs.suffix = suffix
		}
	}
}

// WithTempPathPrefix overrides the name prefix of allocated temp paths.
func WithTempPathPrefix(prefix string) FSOption {
	return func(fs *FS) {
		fs.prefix = prefix
	}
}

// WithDefaultOptions sets options applied to every upload from this
// handle. Per-call options take precedence.
func WithDefaultOptions(options ...Option) FSOption {
	return func(fs *FS) {
		fs.defaults = options
	}
}

// WithDriverName records the driver name reported by Driver.
func WithDriverName(name string) FSOption {
	return func(fs *FS) {
		fs.driver = name
	}
}

// NewFS creates a handle over a backend.
func NewFS(backend Backend, opts ...FSOption) *FS {
	fs := &FS{
		backend: backend,
		ops:     NewVerified(backend),
		id:      newToken(),
		suffix:  "staked",
		prefix:  "tmp-",
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// ID returns the handle's claim identifier, embedded in staked names.
func (fs *FS) ID() string { return fs.id }

// Driver returns the backend driver name, when known.
func (fs *FS) Driver() string { return fs.driver }

// BasePath returns the normalized base path, "" when unset.
func (fs *FS) BasePath() string { return fs.basePath }

// StakingSuffix returns the suffix appended to staked file names.
func (fs *FS) StakingSuffix() string { return fs.suffix }

// Ops returns the verified operation layer, bypassing path rebasing.
func (fs *FS) Ops() *Verified { return fs.ops }

// rebasePath normalizes a directory path and prefixes it with the base
// path. Rebasing is idempotent: a path already under the base path is
// returned as-is.
func (fs *FS) rebasePath(path string) string {
	p := NormalizePath(path)
	if fs.basePath == "" || strings.HasPrefix(p, fs.basePath) {
		return p
	}
	return fs.basePath + p
}

// rebaseFile normalizes a file path and prefixes it with the base path.
func (fs *FS) rebaseFile(name string) string {
	n := NormalizeFilename(name)
	if fs.basePath == "" || strings.HasPrefix(n, fs.basePath) {
		return n
	}
	return fs.basePath + n
}

// withDefaults prepends the handle's default options to per-call options.
func (fs *FS) withDefaults(options []Option) []Option {
	if len(fs.defaults) == 0 {
		return options
	}
	return append(append([]Option{}, fs.defaults...), options...)
}

// Upload writes content to path.
func (fs *FS) Upload(ctx context.Context, path string, content io.Reader, options ...Option) error {
	return fs.ops.Upload(ctx, fs.rebaseFile(path), content, fs.withDefaults(options)...)
}

// UploadFile uploads the local file at localPath to path.
func (fs *FS) UploadFile(ctx context.Context, path string, localPath string, options ...Option) error {
	return fs.ops.UploadFile(ctx, fs.rebaseFile(path), localPath, fs.withDefaults(options)...)
}

// Download opens the file at path for reading.
func (fs *FS) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	return fs.ops.Download(ctx, fs.rebaseFile(path))
}

// DownloadFile downloads the file at path to localPath.
func (fs *FS) DownloadFile(ctx context.Context, path string, localPath string) error {
	return fs.ops.DownloadFile(ctx, fs.rebaseFile(path), localPath)
}

// Delete removes the file at path.
func (fs *FS) Delete(ctx context.Context, path string) error {
	return fs.ops.Delete(ctx, fs.rebaseFile(path))
}

// Move renames src to dst.
func (fs *FS) Move(ctx context.Context, src, dst string, options ...Option) error {
	return fs.ops.Move(ctx, fs.rebaseFile(src), fs.rebaseFile(dst), options...)
}

// Copy duplicates src at dst.
func (fs *FS) Copy(ctx context.Context, src, dst string, options ...Option) error {
	return fs.ops.Copy(ctx, fs.rebaseFile(src), fs.rebaseFile(dst), options...)
}

// Exists reports whether a file exists at path.
func (fs *FS) Exists(ctx context.Context, path string) (bool, error) {
	return fs.ops.Exists(ctx, fs.rebaseFile(path))
}

// PathExists reports whether a directory exists at path.
func (fs *FS) PathExists(ctx context.Context, path string) (bool, error) {
	return fs.ops.PathExists(ctx, fs.rebasePath(path))
}

// FileInfo returns metadata for the file at path.
func (fs *FS) FileInfo(ctx context.Context, path string) (*File, error) {
	return fs.ops.FileInfo(ctx, fs.rebaseFile(path))
}

// List lazily yields the entries under path. Yielded paths are full store
// paths, base path included.
func (fs *FS) List(ctx context.Context, path string, opts WalkOptions) iter.Seq2[File, error] {
	return fs.ops.List(ctx, fs.rebasePath(path), opts)
}

// CreateDir creates the directory at path.
func (fs *FS) CreateDir(ctx context.Context, path string, options ...Option) error {
	return fs.ops.CreateDir(ctx, fs.rebasePath(path), options...)
}

// DeleteDir removes the directory at path and its contents.
func (fs *FS) DeleteDir(ctx context.Context, path string) error {
	return fs.ops.DeleteDir(ctx, fs.rebasePath(path))
}

// GeneratePresignedURL returns a time-limited GET URL for path. Backends
// without presigning fail with ErrNotSupported.
func (fs *FS) GeneratePresignedURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	g, ok := fs.backend.(PresignedURLGenerator)
	if !ok {
		return "", &PathError{Op: "presign", Path: path, Err: ErrNotSupported}
	}
	return g.GeneratePresignedURL(ctx, fs.rebaseFile(path), expires)
}

// GeneratePresignedPutURL returns a time-limited PUT URL for path.
func (fs *FS) GeneratePresignedPutURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	g, ok := fs.backend.(PresignedURLGenerator)
	if !ok {
		return "", &PathError{Op: "presign", Path: path, Err: ErrNotSupported}
	}
	return g.GeneratePresignedPutURL(ctx, fs.rebaseFile(path), expires)
}

// CreateTempPath allocates a uniquely named directory under base and
// registers it for removal on Close. The base must exist unless autoCreate
// is set. Name collisions and transient create failures are retried up to
// ten times before giving up with ErrCreateFailed.
func (fs *FS) CreateTempPath(ctx context.Context, base string, autoCreate bool) (string, error) {
	basePath := fs.rebasePath(base)

	exists, err := fs.ops.PathExists(ctx, basePath)
	if err != nil {
		return "", err
	}
	if !exists {
		if !autoCreate {
			return "", &PathError{Op: "createtemppath", Path: basePath, Err: ErrNotExist}
		}
		if err := fs.ops.CreateDir(ctx, basePath, WithOverwrite(true)); err != nil {
			return "", err
		}
	}

	var lastErr error
	for attempt := 0; attempt < tempPathAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := basePath + fs.prefix + newToken() + "/"
		if err := fs.ops.CreateDir(ctx, candidate); err != nil {
			lastErr = err
			continue
		}
		fs.mu.Lock()
		fs.tempPaths = append(fs.tempPaths, candidate)
		fs.mu.Unlock()
		return candidate, nil
	}
	return "", &PathError{Op: "createtemppath", Path: basePath, Err: fmt.Errorf("%w: %w", ErrCreateFailed, lastErr)}
}

// TempPaths returns the temp paths allocated by this handle that have not
// been cleaned up yet.
func (fs *FS) TempPaths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string{}, fs.tempPaths...)
}

// SetDownloadLimit caps the number of files fetched per recursive
// download. Zero disables the limit.
func (fs *FS) SetDownloadLimit(limit int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.limit = limit
}

// IncrementDownloadCount records one completed download.
func (fs *FS) IncrementDownloadCount() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.downloads++
}

// DownloadCount returns the number of downloads recorded so far.
func (fs *FS) DownloadCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.downloads
}

// DownloadLimitReached reports whether the download counter is within one
// of the configured limit. Recursive downloads stop fetching once it
// returns true.
func (fs *FS) DownloadLimitReached() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.limit > 0 && fs.downloads >= fs.limit-1
}

// Close removes the temp paths allocated by this handle, best effort, and
// closes the backend. Cleanup failures are logged, not returned.
func (fs *FS) Close() error {
	fs.mu.Lock()
	paths := fs.tempPaths
	fs.tempPaths = nil
	fs.mu.Unlock()

	ctx := context.Background()
	for _, p := range paths {
		if err := fs.ops.DeleteDir(ctx, p); err != nil && !errors.Is(err, ErrNotExist) {
			fs.log.Warn("temp path cleanup failed", "path", p, "error", err)
		}
	}
	return fs.backend.Close()
}
