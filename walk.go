package filekit

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
)

// DownloadedFile pairs a remote file with the local path it was fetched to.
type DownloadedFile struct {
	File      File
	LocalPath string
}

// DownloadFiles lazily walks remotePath and downloads each file into a
// mirror of the remote layout rooted at localPath, yielding one
// DownloadedFile per fetched file. Breaking out of the range stops the
// walk; no further listing or fetching happens.
//
// Files that vanish between listing and download are skipped: under
// rename-based claiming a concurrent worker moving a file out from under
// the walk is normal operation, not an error. Every completed fetch
// increments the download counter, and the walk stops early once the
// handle's download limit is reached.
func (fs *FS) DownloadFiles(ctx context.Context, remotePath, localPath string, opts WalkOptions) iter.Seq2[DownloadedFile, error] {
	root := fs.rebasePath(remotePath)
	opts.IncludeDirs = false

	return func(yield func(DownloadedFile, error) bool) {
		for f, err := range fs.ops.List(ctx, root, opts) {
			if err != nil {
				yield(DownloadedFile{}, err)
				return
			}
			if f.IsDir {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(DownloadedFile{}, err)
				return
			}

			rel := strings.TrimPrefix(f.Path, root)
			local := filepath.Join(localPath, filepath.FromSlash(rel))

			if err := fs.ops.DownloadFile(ctx, f.Path, local); err != nil {
				if errors.Is(err, ErrNotExist) || errors.Is(err, ErrSourceNotExist) {
					fs.log.Debug("file vanished before download, skipping", "path", f.Path)
					continue
				}
				yield(DownloadedFile{}, err)
				return
			}
			fs.IncrementDownloadCount()

			if !yield(DownloadedFile{File: f, LocalPath: local}, nil) {
				return
			}
			if fs.DownloadLimitReached() {
				fs.log.Debug("download limit reached, stopping walk",
					"limit", fs.limitSnapshot(), "downloads", fs.DownloadCount())
				return
			}
		}
	}
}

func (fs *FS) limitSnapshot() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.limit
}
