package fsx_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ishowshao/meowdiff/internal/fsx"
)

func TestFake_FailAfter_FailsOnlyTheNthCall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	boom := errors.New("boom")
	fake := fsx.NewFake(fsx.FailAfter(fsx.OpWriteFile, 2, boom))

	if err := fake.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("first call: got err %v, want nil", err)
	}

	err := fake.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644)
	if !errors.Is(err, boom) {
		t.Fatalf("second call: got err %v, want wrapping %v", err, boom)
	}

	var injected *fsx.InjectedError
	if !errors.As(err, &injected) {
		t.Fatalf("second call: err %v is not an *InjectedError", err)
	}
}

func TestFake_FailAfter_SyncFailsBeforeRenameIsObserved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "record.json")
	boom := errors.New("disk full")

	fake := fsx.NewFake(fsx.FailAfter(fsx.OpSync, 1, boom))
	writer := fsx.NewAtomicWriter(fake)

	err := writer.WriteWithDefaults(target, strings.NewReader("payload"))
	if !errors.Is(err, boom) {
		t.Fatalf("got err %v, want wrapping %v", err, boom)
	}

	exists, statErr := fsx.NewReal().Exists(target)
	if statErr != nil {
		t.Fatalf("Exists: %v", statErr)
	}

	if exists {
		t.Fatalf("target file must not be visible when the temp file never synced")
	}
}

func TestFake_NilHook_BehavesLikeReal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	fake := fsx.NewFake(nil)

	if err := fake.WriteFile(path, []byte("ok"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := fake.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "ok" {
		t.Fatalf("content=%q, want %q", got, "ok")
	}
}
