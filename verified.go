package filekit

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
)

// Verified wraps a Backend and enforces pre- and post-conditions around
// every operation. Remote stores are eventually surprising: a write can be
// acknowledged and still not be visible, a delete can leave the object
// behind. Each mutation here re-queries the backend afterwards and fails
// with a verification sentinel when the observed state does not match the
// expected outcome.
//
// All paths are normalized on entry, so Verified accepts raw caller input.
type Verified struct {
	backend Backend
}

// NewVerified creates a verified operation layer over a backend.
func NewVerified(backend Backend) *Verified {
	return &Verified{backend: backend}
}

// Backend returns the wrapped backend.
func (v *Verified) Backend() Backend { return v.backend }

// Upload writes content to path. Unless WithOverwrite is given, an
// existing file fails the pre-check with ErrExist. After the write the
// file's existence is verified; a missing file is ErrCreateFailed.
func (v *Verified) Upload(ctx context.Context, path string, content io.Reader, options ...Option) error {
	path = NormalizeFilename(path)
	opts := ApplyOptions(options...)

	if !opts.Overwrite {
		exists, err := v.backend.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return &PathError{Op: "upload", Path: path, Err: ErrExist}
		}
	}

	if err := v.backend.Upload(ctx, path, content, options...); err != nil {
		return err
	}

	exists, err := v.backend.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "upload", Path: path, Err: ErrCreateFailed}
	}
	return nil
}

// UploadFile uploads the local file at localPath to path.
func (v *Verified) UploadFile(ctx context.Context, path string, localPath string, options ...Option) error {
	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &PathError{Op: "uploadfile", Path: localPath, Err: ErrNotExist}
		}
		return &PathError{Op: "uploadfile", Path: localPath, Err: err}
	}
	defer f.Close()

	if err := v.Upload(ctx, path, f, options...); err != nil {
		if errors.Is(err, ErrCreateFailed) {
			return &PathError{Op: "uploadfile", Path: NormalizeFilename(path), Err: ErrUploadFailed}
		}
		return err
	}
	return nil
}

// Download opens the file at path for reading. A missing file fails the
// pre-check with ErrNotExist.
func (v *Verified) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	path = NormalizeFilename(path)

	exists, err := v.backend.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &PathError{Op: "download", Path: path, Err: ErrNotExist}
	}
	return v.backend.Download(ctx, path)
}

// DownloadFile downloads the file at path to localPath, creating parent
// directories as needed. The local file's existence is verified afterwards;
// a missing file is ErrDownloadFailed.
func (v *Verified) DownloadFile(ctx context.Context, path string, localPath string) error {
	rc, err := v.Download(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &PathError{Op: "downloadfile", Path: localPath, Err: err}
	}
	f, err := os.Create(localPath)
	if err != nil {
		return &PathError{Op: "downloadfile", Path: localPath, Err: err}
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(localPath)
		return &PathError{Op: "downloadfile", Path: localPath, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PathError{Op: "downloadfile", Path: localPath, Err: err}
	}

	if _, err := os.Stat(localPath); err != nil {
		return &PathError{Op: "downloadfile", Path: localPath, Err: ErrDownloadFailed}
	}
	return nil
}

// Delete removes the file at path. A missing file fails the pre-check with
// ErrNotExist; a file still present after deletion is ErrDeleteFailed.
func (v *Verified) Delete(ctx context.Context, path string) error {
	path = NormalizeFilename(path)

	exists, err := v.backend.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "delete", Path: path, Err: ErrNotExist}
	}

	if err := v.backend.Delete(ctx, path); err != nil {
		return err
	}

	exists, err = v.backend.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return &PathError{Op: "delete", Path: path, Err: ErrDeleteFailed}
	}
	return nil
}

// Move renames src to dst, using the backend's native rename when it has
// one and a copy-plus-delete otherwise. The pre-checks reject a missing
// source (ErrSourceNotExist), identical paths (ErrSameFile) and, without
// WithOverwrite, an existing destination (ErrExist). Afterwards the
// destination must exist and the source must be gone, else ErrMoveFailed.
//
// A native rename that fails with ErrNotExist after the source passed the
// pre-check means another worker moved the file in between; that race is
// reported as ErrSourceNotExist so callers can tell it apart from a bad
// argument.
func (v *Verified) Move(ctx context.Context, src, dst string, options ...Option) error {
	src = NormalizeFilename(src)
	dst = NormalizeFilename(dst)
	opts := ApplyOptions(options...)

	if src == dst {
		return &LinkError{Op: "move", Old: src, New: dst, Err: ErrSameFile}
	}
	if err := v.checkSourceAndDestination(ctx, "move", src, dst, opts.Overwrite); err != nil {
		return err
	}

	if r, ok := v.backend.(Renamer); ok {
		err := r.Rename(ctx, src, dst)
		switch {
		case err == nil:
			return v.verifyMove(ctx, src, dst)
		case errors.Is(err, ErrNotExist):
			return &LinkError{Op: "move", Old: src, New: dst, Err: ErrSourceNotExist}
		case errors.Is(err, ErrNotSupported):
			// fall through to copy and delete
		default:
			return err
		}
	}

	if err := v.copyContents(ctx, src, dst, options...); err != nil {
		if errors.Is(err, ErrNotExist) {
			return &LinkError{Op: "move", Old: src, New: dst, Err: ErrSourceNotExist}
		}
		return err
	}
	if err := v.backend.Delete(ctx, src); err != nil {
		return err
	}
	return v.verifyMove(ctx, src, dst)
}

// Copy duplicates src at dst, using server-side copy when the backend has
// one and a download-and-reupload otherwise. Pre-checks match Move.
// Afterwards both source and destination must exist, else ErrCopyFailed.
func (v *Verified) Copy(ctx context.Context, src, dst string, options ...Option) error {
	src = NormalizeFilename(src)
	dst = NormalizeFilename(dst)
	opts := ApplyOptions(options...)

	if src == dst {
		return &LinkError{Op: "copy", Old: src, New: dst, Err: ErrSameFile}
	}
	if err := v.checkSourceAndDestination(ctx, "copy", src, dst, opts.Overwrite); err != nil {
		return err
	}

	if err := v.copyContents(ctx, src, dst, options...); err != nil {
		if errors.Is(err, ErrNotExist) {
			return &LinkError{Op: "copy", Old: src, New: dst, Err: ErrSourceNotExist}
		}
		return err
	}

	srcExists, err := v.backend.Exists(ctx, src)
	if err != nil {
		return err
	}
	dstExists, err := v.backend.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if !srcExists || !dstExists {
		return &LinkError{Op: "copy", Old: src, New: dst, Err: ErrCopyFailed}
	}
	return nil
}

// checkSourceAndDestination runs the shared move/copy pre-checks.
func (v *Verified) checkSourceAndDestination(ctx context.Context, op, src, dst string, overwrite bool) error {
	exists, err := v.backend.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !exists {
		return &LinkError{Op: op, Old: src, New: dst, Err: ErrSourceNotExist}
	}

	if !overwrite {
		exists, err = v.backend.Exists(ctx, dst)
		if err != nil {
			return err
		}
		if exists {
			return &LinkError{Op: op, Old: src, New: dst, Err: ErrExist}
		}
	}
	return nil
}

// copyContents moves bytes from src to dst, preferring server-side copy.
func (v *Verified) copyContents(ctx context.Context, src, dst string, options ...Option) error {
	if c, ok := v.backend.(Copier); ok {
		err := c.Copy(ctx, src, dst)
		if err == nil || !errors.Is(err, ErrNotSupported) {
			return err
		}
	}

	rc, err := v.backend.Download(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	opts := append([]Option{WithOverwrite(true)}, options...)
	return v.backend.Upload(ctx, dst, rc, opts...)
}

func (v *Verified) verifyMove(ctx context.Context, src, dst string) error {
	dstExists, err := v.backend.Exists(ctx, dst)
	if err != nil {
		return err
	}
	srcExists, err := v.backend.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !dstExists || srcExists {
		return &LinkError{Op: "move", Old: src, New: dst, Err: ErrMoveFailed}
	}
	return nil
}

// Exists reports whether a file exists at path.
func (v *Verified) Exists(ctx context.Context, path string) (bool, error) {
	return v.backend.Exists(ctx, NormalizeFilename(path))
}

// PathExists reports whether a directory exists at path.
func (v *Verified) PathExists(ctx context.Context, path string) (bool, error) {
	return v.backend.PathExists(ctx, NormalizePath(path))
}

// FileInfo returns metadata for the file at path.
func (v *Verified) FileInfo(ctx context.Context, path string) (*File, error) {
	return v.backend.FileInfo(ctx, NormalizeFilename(path))
}

// List lazily yields the entries under path.
func (v *Verified) List(ctx context.Context, path string, opts WalkOptions) iter.Seq2[File, error] {
	return v.backend.List(ctx, NormalizePath(path), opts)
}

// CreateDir creates the directory at path. Without WithOverwrite an
// existing directory is ErrExist. Afterwards the directory must exist,
// else ErrCreateFailed.
func (v *Verified) CreateDir(ctx context.Context, path string, options ...Option) error {
	path = NormalizePath(path)
	opts := ApplyOptions(options...)

	if !opts.Overwrite {
		exists, err := v.backend.PathExists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return &PathError{Op: "createdir", Path: path, Err: ErrExist}
		}
	}

	if err := v.backend.CreateDir(ctx, path); err != nil {
		return err
	}

	exists, err := v.backend.PathExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "createdir", Path: path, Err: ErrCreateFailed}
	}
	return nil
}

// DeleteDir removes the directory at path and its contents. A missing
// directory fails the pre-check with ErrNotExist; a directory still
// present afterwards is ErrDeleteFailed.
func (v *Verified) DeleteDir(ctx context.Context, path string) error {
	path = NormalizePath(path)

	exists, err := v.backend.PathExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "deletedir", Path: path, Err: ErrNotExist}
	}

	if err := v.backend.DeleteDir(ctx, path); err != nil {
		return err
	}

	exists, err = v.backend.PathExists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return &PathError{Op: "deletedir", Path: path, Err: ErrDeleteFailed}
	}
	return nil
}
