package filekit

import "errors"

// Sentinel errors returned by backends and the verified operation layer.
// Callers should test them with errors.Is; they usually arrive wrapped in
// a *PathError or *LinkError carrying the operation and path.
var (
	// ErrExist is returned when a file or path already exists and
	// overwriting was not requested.
	ErrExist = errors.New("file already exists")

	// ErrNotExist is returned when a file or path does not exist.
	ErrNotExist = errors.New("file does not exist")

	// ErrSourceNotExist is returned by move and copy when the source is
	// missing. During staking it signals a claim lost to another worker.
	ErrSourceNotExist = errors.New("source file does not exist")

	// ErrSameFile is returned by move and copy when source and
	// destination resolve to the same path.
	ErrSameFile = errors.New("source and destination are the same file")

	// ErrNotAllowed is returned when an operation escapes the configured
	// root or is rejected by the backend's permission model.
	ErrNotAllowed = errors.New("operation not allowed")

	// ErrNotDir is returned when a path operation targets a file.
	ErrNotDir = errors.New("not a directory")

	// ErrNotSupported is returned when a backend lacks a capability,
	// such as native rename or server-side copy.
	ErrNotSupported = errors.New("operation not supported")

	// ErrBackend wraps backend failures that do not map to a more
	// specific sentinel.
	ErrBackend = errors.New("unhandled backend error")
)

// Post-condition verification failures. Every mutating operation re-queries
// the backend after it reports success; when the observed state does not
// match the expected outcome, one of these is returned.
var (
	ErrCreateFailed   = errors.New("create verification failed")
	ErrDeleteFailed   = errors.New("delete verification failed")
	ErrMoveFailed     = errors.New("move verification failed")
	ErrCopyFailed     = errors.New("copy verification failed")
	ErrUploadFailed   = errors.New("upload verification failed")
	ErrDownloadFailed = errors.New("download verification failed")
)

// PathError records an error and the operation and path that caused it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "filekit " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

// LinkError records an error from a two-path operation such as move or
// copy, along with both paths involved.
type LinkError struct {
	Op  string
	Old string
	New string
	Err error
}

func (e *LinkError) Error() string {
	return "filekit " + e.Op + " " + e.Old + " " + e.New + ": " + e.Err.Error()
}

func (e *LinkError) Unwrap() error { return e.Err }
