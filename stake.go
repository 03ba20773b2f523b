package filekit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// StakeStrategy selects how StakeFiles claims files.
type StakeStrategy string

const (
	// StakeIgnore processes files without claiming them. Concurrent
	// workers may process the same file.
	StakeIgnore StakeStrategy = "ignore"

	// StakeRename claims each file by renaming it to a name embedding the
	// handle's claim ID before processing. The rename is the mutual
	// exclusion: of the workers racing for a file, only the one whose
	// rename finds the source wins it.
	StakeRename StakeStrategy = "rename"
)

// StakedFile describes one file handed to the staking callbacks.
type StakedFile struct {
	// File is the remote file as listed, under its original path.
	File File

	// StakedPath is the remote path after claiming. Equal to File.Path
	// under StakeIgnore.
	StakedPath string

	// LocalPath is the downloaded copy.
	LocalPath string
}

// Callbacks holds the hooks invoked while staking. All fields are
// optional. Staked fires once a file is claimed, Success after Staked
// returns nil, and Error whenever a file fails: a lost claim race, a
// failed claim, or a callback returning an error. Errors reported through
// Error never abort the walk; each file fails alone.
type Callbacks struct {
	Staked  func(ctx context.Context, f StakedFile) error
	Success func(ctx context.Context, f StakedFile) error
	Error   func(ctx context.Context, f StakedFile, err error)
}

// StakedName builds the remote name of a claimed file:
// the original name, the claim ID and the staking suffix, dot-joined.
func StakedName(name, claimID, suffix string) string {
	return name + "." + claimID + "." + suffix
}

// IsStaked reports whether name already carries the staking suffix.
func IsStaked(name, suffix string) bool {
	return suffix != "" && strings.HasSuffix(name, "."+suffix)
}

// StakeFiles walks remotePath, downloads each file under localPath and
// applies the staking strategy to it. Files already bearing the staking
// suffix are skipped and their local copy discarded.
//
// Under StakeRename each file is claimed by renaming it to its staked
// name. A rename that finds the source gone lost the race to another
// worker: the local copy is discarded, the loss is reported through the
// Error callback as ErrSourceNotExist, and the walk moves on.
//
// The returned error covers the walk itself: listing failures, download
// failures, context cancellation. Per-file staking and callback failures
// only reach the Error callback.
func (fs *FS) StakeFiles(ctx context.Context, remotePath, localPath string, strategy StakeStrategy, cb Callbacks, opts WalkOptions) error {
	switch strategy {
	case StakeIgnore, StakeRename:
	default:
		return fmt.Errorf("filekit: unknown staking strategy %q", strategy)
	}

	for d, err := range fs.DownloadFiles(ctx, remotePath, localPath, opts) {
		if err != nil {
			return err
		}
		if IsStaked(d.File.Name, fs.suffix) {
			fs.discardLocal(d.LocalPath)
			fs.log.Debug("already staked, skipping", "path", d.File.Path)
			continue
		}
		fs.stakeOne(ctx, d, strategy, cb)
	}
	return nil
}

// stakeOne claims a single file and runs the callbacks. Failures stay
// with this file.
func (fs *FS) stakeOne(ctx context.Context, d DownloadedFile, strategy StakeStrategy, cb Callbacks) {
	staked := StakedFile{File: d.File, StakedPath: d.File.Path, LocalPath: d.LocalPath}

	if strategy == StakeRename {
		target := StakedName(d.File.Path, fs.id, fs.suffix)
		if err := fs.ops.Move(ctx, d.File.Path, target); err != nil {
			if errors.Is(err, ErrSourceNotExist) {
				fs.log.Debug("lost claim race", "path", d.File.Path)
			} else {
				fs.log.Warn("claim failed", "path", d.File.Path, "error", err)
			}
			fs.discardLocal(d.LocalPath)
			if cb.Error != nil {
				cb.Error(ctx, staked, err)
			}
			return
		}
		staked.StakedPath = target
		fs.log.Debug("claimed file", "path", d.File.Path, "staked", target)
	}

	err := invoke(ctx, staked, cb.Staked)
	if err == nil {
		err = invoke(ctx, staked, cb.Success)
	}
	if err != nil {
		fs.log.Warn("staking callback failed", "path", staked.File.Path, "error", err)
		if cb.Error != nil {
			cb.Error(ctx, staked, err)
		}
	}
}

func invoke(ctx context.Context, f StakedFile, cb func(context.Context, StakedFile) error) error {
	if cb == nil {
		return nil
	}
	return cb(ctx, f)
}

// discardLocal removes a downloaded copy that will not be processed.
func (fs *FS) discardLocal(localPath string) {
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.log.Debug("could not discard local copy", "path", localPath, "error", err)
	}
}
