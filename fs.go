package filekit

import (
	"context"
	"io"
	"iter"
	"time"
)

// File represents a file or directory in a remote store.
type File struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	ContentType string
	Metadata    map[string]string
}

// WalkOptions controls listing behavior.
type WalkOptions struct {
	// Recursive descends into subdirectories instead of listing a single
	// level.
	Recursive bool

	// IncludeDirs yields directory entries alongside files. Object store
	// backends synthesize them from key prefixes.
	IncludeDirs bool
}

// Backend is the primitive contract a storage driver implements. Paths are
// normalized before they reach a backend, and implementations report
// failures as *PathError values wrapping the package sentinels. Backends
// perform no existence checks beyond what the remote protocol forces on
// them; the verified layer owns pre- and post-condition checking.
type Backend interface {
	// Upload writes content to path, replacing any existing file.
	Upload(ctx context.Context, path string, content io.Reader, options ...Option) error

	// Download opens the file at path for reading. The caller closes the
	// returned reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// PathExists reports whether a directory exists at path. For object
	// stores this means a marker object or at least one key under the
	// prefix.
	PathExists(ctx context.Context, path string) (bool, error)

	// FileInfo returns metadata for the file at path.
	FileInfo(ctx context.Context, path string) (*File, error)

	// List lazily yields the entries under path. Iteration stops when the
	// consumer breaks or after yielding a non-nil error. The returned
	// sequence can be ranged over more than once.
	List(ctx context.Context, path string, opts WalkOptions) iter.Seq2[File, error]

	// CreateDir creates the directory at path, including parents.
	CreateDir(ctx context.Context, path string) error

	// DeleteDir removes the directory at path and everything under it.
	DeleteDir(ctx context.Context, path string) error

	// Close releases backend connections.
	Close() error
}

// Renamer is implemented by backends with a native rename. A rename of a
// missing source fails with ErrNotExist, which is what makes rename-based
// claiming race-safe on these backends: of two workers renaming the same
// file, exactly one sees the source.
type Renamer interface {
	Rename(ctx context.Context, oldpath, newpath string) error
}

// Copier is implemented by backends with server-side copy, avoiding a
// download and re-upload through the client.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// PresignedURLGenerator is implemented by backends that can mint
// time-limited URLs for direct client access.
type PresignedURLGenerator interface {
	GeneratePresignedURL(ctx context.Context, path string, expires time.Duration) (string, error)
	GeneratePresignedPutURL(ctx context.Context, path string, expires time.Duration) (string, error)
}

// Uploader is the subset of operations needed to put files into a store.
type Uploader interface {
	Upload(ctx context.Context, path string, content io.Reader, options ...Option) error
	UploadFile(ctx context.Context, path string, localPath string, options ...Option) error
}

// Streamer is a narrow read/write streaming interface over a store.
type Streamer interface {
	Stream(ctx context.Context, path string) (io.ReadCloser, error)
	StreamWrite(ctx context.Context, path string, reader io.Reader) error
}
