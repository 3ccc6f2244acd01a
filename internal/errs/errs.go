// Package errs holds the sentinel error kinds shared across MeowDiff's
// storage engine, following tk's convention of package-level sentinel
// errors checked with errors.Is (internal/store/errors.go, pkg/mddb/errors.go).
package errs

import "errors"

var (
	// ErrBlobMissing is returned by BlobStore.Get when no blob exists for a sha.
	ErrBlobMissing = errors.New("blob missing")

	// ErrBlobCorrupt is returned by BlobStore.Get when the decompressed bytes
	// do not hash to the requested sha.
	ErrBlobCorrupt = errors.New("blob corrupt")

	// ErrStorageError is returned by the Record Writer when a DB or filesystem
	// failure survives its one retry.
	ErrStorageError = errors.New("storage error")

	// ErrLockHeld is returned when a watcher cannot start because another
	// live process already holds the project lock, or because a stale lock
	// is present and force was not given.
	ErrLockHeld = errors.New("lock held")

	// ErrRestoreConflict is returned by Restore when the working tree has
	// diverged from the expected pre-restore state. Carries the conflicting
	// paths via [RestoreConflictError].
	ErrRestoreConflict = errors.New("restore conflict")

	// ErrTargetConflict is returned by Extract when the output directory is
	// non-empty and force was not requested.
	ErrTargetConflict = errors.New("target conflict")

	// ErrVersionMismatch is returned at startup when meta/version does not
	// match the storage format this binary understands.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrIntegrityCheckFailed is returned at startup when PRAGMA integrity_check
	// reports a corrupt timeline database.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrRecordNotFound is returned when a record_id has no matching row.
	ErrRecordNotFound = errors.New("record not found")
)

// RestoreConflictError carries the set of paths whose current contents
// disagree with the restore target, matching tk's struct-error-with-data
// convention (pkg/mddb/errors.go: Error{ID, Path, Err}).
type RestoreConflictError struct {
	Paths []string
}

func (e *RestoreConflictError) Error() string {
	return "restore conflict: " + joinPaths(e.Paths)
}

func (e *RestoreConflictError) Unwrap() error {
	return ErrRestoreConflict
}

func joinPaths(paths []string) string {
	if len(paths) == 0 {
		return "(none)"
	}

	out := paths[0]
	for _, p := range paths[1:] {
		out += ", " + p
	}

	return out
}
