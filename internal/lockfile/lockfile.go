// Package lockfile implements the project watch lock described in
// spec.md §5 "Shared-resource policy" and §9 "Global state":
// "meta/watch.lock", created on watcher start after a liveness check,
// removed on clean shutdown, overridable by a stale-lock force flag.
package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
)

// Info is the JSON payload stored in watch.lock.
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Cmdline   string    `json:"cmdline"`
}

// Lock is a held watch lock. Release removes the file.
type Lock struct {
	path string
	fs   fsx.FS
}

// Acquire creates path (normally "<project-dir>/meta/watch.lock"), and its
// parent directory, after checking for a live holder. If the file exists and
// names a live process, Acquire fails with errs.ErrLockHeld whatever force
// is. If it names a process that is no longer alive (a stale lock), Acquire
// fails with errs.ErrLockHeld unless force is true, in which case the stale
// lock is overwritten.
func Acquire(fs fsx.FS, path string, force bool) (*Lock, error) {
	existing, ok, err := read(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read existing lock: %v", errs.ErrStorageError, err)
	}

	if ok {
		if isAlive(existing.PID) {
			return nil, fmt.Errorf("%w: held by pid %d since %s", errs.ErrLockHeld, existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
		if !force {
			return nil, fmt.Errorf("%w: stale lock left by pid %d since %s (force overrides it)", errs.ErrLockHeld, existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
	}

	info := Info{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
		Cmdline:   cmdline(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal lock info: %v", errs.ErrStorageError, err)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create lock dir: %v", errs.ErrStorageError, err)
	}

	atomic := fsx.NewAtomicWriter(fs)
	if err := atomic.WriteWithDefaults(path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: write lock file: %v", errs.ErrStorageError, err)
	}

	return &Lock{path: path, fs: fs}, nil
}

// Status reports the current holder of path without acquiring it, for
// diagnostics ("meowdiff status"). held is true only when the lock file
// exists and names a live process.
func Status(fs fsx.FS, path string) (info Info, held bool, err error) {
	existing, ok, err := read(fs, path)
	if err != nil {
		return Info{}, false, fmt.Errorf("%w: read lock: %v", errs.ErrStorageError, err)
	}
	if !ok {
		return Info{}, false, nil
	}

	return existing, isAlive(existing.PID), nil
}

// Release removes the lock file. Safe to call on an already-removed lock.
func (l *Lock) Release() error {
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove lock file: %v", errs.ErrStorageError, err)
	}
	return nil
}

func read(fs fsx.FS, path string) (Info, bool, error) {
	exists, err := fs.Exists(path)
	if err != nil {
		return Info{}, false, err
	}
	if !exists {
		return Info{}, false, nil
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		return Info{}, false, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		// A corrupt lock file is treated as stale (isAlive(0) is false):
		// Acquire overwrites it only when force is true.
		return Info{}, true, nil
	}

	return info, true, nil
}

// isAlive reports whether pid names a live process, via the classic
// kill(pid, 0) liveness probe: no signal is delivered, only existence and
// permission are checked.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}

	return err != syscall.ESRCH
}

func cmdline() string {
	if len(os.Args) == 0 {
		return ""
	}
	out := os.Args[0]
	for _, a := range os.Args[1:] {
		out += " " + a
	}
	return out
}
