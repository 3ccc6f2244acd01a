package fsx

import (
	"fmt"
	"os"
	"sync"
)

// Op identifies an [FS] method for fault injection in [Fake].
type Op string

const (
	OpOpen      Op = "Open"
	OpCreate    Op = "Create"
	OpOpenFile  Op = "OpenFile"
	OpReadFile  Op = "ReadFile"
	OpWriteFile Op = "WriteFile"
	OpReadDir   Op = "ReadDir"
	OpMkdirAll  Op = "MkdirAll"
	OpStat      Op = "Stat"
	OpExists    Op = "Exists"
	OpRemove    Op = "Remove"
	OpRemoveAll Op = "RemoveAll"
	OpRename    Op = "Rename"
	OpSync      Op = "Sync"
)

// InjectedError marks an error as intentionally injected by [Fake].
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Err error
}

func (e *InjectedError) Error() string { return fmt.Sprintf("injected: %s", e.Err.Error()) }
func (e *InjectedError) Unwrap() error { return e.Err }

// Fake wraps a real [FS], failing operations chosen by a caller-supplied
// hook. It is used to exercise the commit protocol's crash windows (for
// example: a write that completes on disk but the process dies before the
// following rename, or an index transaction that never commits) without a
// full chaos/fuzz harness.
//
// Fake is safe for concurrent use.
type Fake struct {
	real *Real

	mu    sync.Mutex
	calls map[Op]int
	hook  func(op Op, path string, call int) error
}

// NewFake wraps real with fault injection. hook is invoked before every
// operation with the 1-based call count for that Op; a non-nil return value
// is returned to the caller instead of performing the operation. hook may be
// nil, in which case Fake behaves like [Real].
func NewFake(hook func(op Op, path string, call int) error) *Fake {
	return &Fake{
		real:  NewReal(),
		calls: make(map[Op]int),
		hook:  hook,
	}
}

// FailAfter returns a hook that fails the nth call (1-based) to op with err,
// and lets every other call through.
func FailAfter(op Op, n int, err error) func(Op, string, int) error {
	return func(gotOp Op, _ string, call int) error {
		if gotOp == op && call == n {
			return &InjectedError{Err: err}
		}
		return nil
	}
}

// FailOnPath returns a hook that fails every call to op whose path equals
// path, with err.
func FailOnPath(op Op, path string, err error) func(Op, string, int) error {
	return func(gotOp Op, gotPath string, _ int) error {
		if gotOp == op && gotPath == path {
			return &InjectedError{Err: err}
		}
		return nil
	}
}

func (f *Fake) check(op Op, path string) error {
	f.mu.Lock()
	f.calls[op]++
	call := f.calls[op]
	f.mu.Unlock()

	if f.hook == nil {
		return nil
	}

	return f.hook(op, path, call)
}

func (f *Fake) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}
	return f.real.Open(path)
}

func (f *Fake) Create(path string) (File, error) {
	if err := f.check(OpCreate, path); err != nil {
		return nil, err
	}
	return f.real.Create(path)
}

func (f *Fake) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}
	file, err := f.real.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &fakeFile{File: file, fake: f, path: path}, nil
}

func (f *Fake) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}
	return f.real.ReadFile(path)
}

func (f *Fake) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFile, path); err != nil {
		return err
	}
	return f.real.WriteFile(path, data, perm)
}

func (f *Fake) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}
	return f.real.ReadDir(path)
}

func (f *Fake) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}
	return f.real.MkdirAll(path, perm)
}

func (f *Fake) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}
	return f.real.Stat(path)
}

func (f *Fake) Exists(path string) (bool, error) {
	if err := f.check(OpExists, path); err != nil {
		return false, err
	}
	return f.real.Exists(path)
}

func (f *Fake) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}
	return f.real.Remove(path)
}

func (f *Fake) RemoveAll(path string) error {
	if err := f.check(OpRemoveAll, path); err != nil {
		return err
	}
	return f.real.RemoveAll(path)
}

func (f *Fake) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, newpath); err != nil {
		return err
	}
	return f.real.Rename(oldpath, newpath)
}

// fakeFile wraps a [File] returned by OpenFile so Sync can also be faulted,
// which is how the writer's fsync-before-rename step is tested.
type fakeFile struct {
	File
	fake *Fake
	path string
}

func (ff *fakeFile) Sync() error {
	if err := ff.fake.check(OpSync, ff.path); err != nil {
		return err
	}
	return ff.File.Sync()
}

// Compile-time interface checks.
var _ FS = (*Fake)(nil)
var _ File = (*fakeFile)(nil)
