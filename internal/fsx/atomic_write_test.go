package fsx_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ishowshao/meowdiff/internal/fsx"
)

func TestAtomicWriteFile_VisibleAfterRename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fsx.NewAtomicWriter(fsx.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader("hello\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := fsx.NewReal().ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "hello\n" {
		t.Fatalf("content=%q, want %q", string(got), "hello\n")
	}

	entries, err := fsx.NewReal().ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected only the final file to remain, got %d entries", len(entries))
	}
}

func TestAtomicWriteFile_ReplacesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")
	real := fsx.NewReal()
	writer := fsx.NewAtomicWriter(real)

	if err := writer.WriteWithDefaults(path, strings.NewReader("old\n")); err != nil {
		t.Fatalf("Write (1): %v", err)
	}

	if err := writer.WriteWithDefaults(path, strings.NewReader("new\n")); err != nil {
		t.Fatalf("Write (2): %v", err)
	}

	got, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "new\n" {
		t.Fatalf("content=%q, want %q", string(got), "new\n")
	}
}
