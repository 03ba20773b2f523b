// Package filekit provides a single abstraction over heterogeneous remote
// storage: object stores (S3, GCS, Azure Blob) and remote file servers
// (SFTP, local disk) behind one verified API, plus a rename-based claiming
// protocol that lets uncoordinated workers consume files from a shared
// location at most once each.
//
// # Drivers
//
// Backends are pluggable and register themselves on import:
//
//	import (
//	    "github.com/gobeaver/filekit"
//	    _ "github.com/gobeaver/filekit/driver/s3"
//	)
//
//	fs, err := filekit.New(filekit.Config{
//	    Driver:   "s3",
//	    S3Bucket: "invoices",
//	    BasePath: "tenant-42",
//	})
//
// Or configure entirely from the environment (BEAVER_FILEKIT_* variables):
//
//	if err := filekit.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	fs := filekit.Default()
//
// # Verified operations
//
// Remote stores acknowledge writes that later turn out not to have
// happened. Every mutating operation here checks its pre-conditions
// (does the source exist, is the destination free) and re-queries the
// backend afterwards to verify the outcome. A delete that leaves the file
// behind returns ErrDeleteFailed instead of succeeding silently.
//
//	err := fs.Move(ctx, "inbox/report.pdf", "archive/report.pdf")
//
// # Staking
//
// StakeFiles turns a shared remote directory into a work queue without a
// coordinator. Each worker walks the directory, downloads candidate files,
// and claims one by renaming it to a name carrying the worker's claim ID
// and a staking suffix:
//
//	report.pdf -> report.pdf.3f2a81d4c09b4e6da11f2b8e6f3f9d71.staked
//
// Renames are atomic on backends with native rename, so of all workers
// racing for a file exactly one wins; the rest see the source missing and
// move on. Winners get their callbacks invoked:
//
//	err := fs.StakeFiles(ctx, "inbox", "/var/spool/work", filekit.StakeRename,
//	    filekit.Callbacks{
//	        Success: func(ctx context.Context, f filekit.StakedFile) error {
//	            return process(f.LocalPath)
//	        },
//	    }, filekit.WalkOptions{Recursive: true})
//
// Object store backends emulate rename with copy-plus-delete, which
// narrows the race window but does not close it; workloads needing strict
// at-most-once delivery should stake over a backend with native rename.
//
// # Encryption
//
// Setting BEAVER_FILEKIT_ENCRYPTION_ENABLED wraps the backend with
// transparent AES-256-GCM content encryption. Names stay in the clear, so
// listing, claiming and moving encrypted files work unchanged.
package filekit
