package diffutil_test

import (
	"strings"
	"testing"

	"github.com/ishowshao/meowdiff/internal/diffutil"
)

func TestUnified_CreateHasDevNullSource(t *testing.T) {
	t.Parallel()

	result := diffutil.Unified("a.txt", "create", "", "hello\n")

	if !strings.Contains(result.Patch, "--- /dev/null") {
		t.Fatalf("patch=%q, want /dev/null source header", result.Patch)
	}
	if !strings.Contains(result.Patch, "+++ b/a.txt") {
		t.Fatalf("patch=%q, want b/a.txt target header", result.Patch)
	}
	if result.Added != 1 || result.Removed != 0 {
		t.Fatalf("added=%d removed=%d, want 1/0", result.Added, result.Removed)
	}
}

func TestUnified_DeleteHasDevNullTarget(t *testing.T) {
	t.Parallel()

	result := diffutil.Unified("a.txt", "delete", "hello\n", "")

	if !strings.Contains(result.Patch, "+++ /dev/null") {
		t.Fatalf("patch=%q, want /dev/null target header", result.Patch)
	}
	if result.Removed != 1 || result.Added != 0 {
		t.Fatalf("added=%d removed=%d, want 0/1", result.Added, result.Removed)
	}
}

func TestUnified_IdenticalTextProducesEmptyPatch(t *testing.T) {
	t.Parallel()

	result := diffutil.Unified("a.txt", "modify", "hello\n", "hello\n")

	if result.Patch != "" {
		t.Fatalf("patch=%q, want empty for identical text", result.Patch)
	}
	if result.Added != 0 || result.Removed != 0 || result.Chunks != 0 {
		t.Fatalf("want zero stats for identical text, got %+v", result)
	}
}

func TestUnified_AppendLineCountsOneAdd(t *testing.T) {
	t.Parallel()

	result := diffutil.Unified("a.txt", "modify", "hello\n", "hello\nworld\n")

	if result.Added != 1 || result.Removed != 0 {
		t.Fatalf("added=%d removed=%d, want 1/0", result.Added, result.Removed)
	}
	if result.Chunks != 1 {
		t.Fatalf("chunks=%d, want 1", result.Chunks)
	}
}

func TestIsBinary_DetectsNULWithinSniffWindow(t *testing.T) {
	t.Parallel()

	data := append([]byte("text"), 0x00, 'm', 'o', 'r', 'e')

	if !diffutil.IsBinary(data, 8192) {
		t.Fatalf("expected binary detection for NUL-containing content")
	}

	if diffutil.IsBinary([]byte("plain text, no nul bytes here"), 8192) {
		t.Fatalf("expected no binary detection for plain text")
	}
}

func TestIsBinary_IgnoresNULOutsideSniffWindow(t *testing.T) {
	t.Parallel()

	data := make([]byte, 20)
	for i := range data {
		data[i] = 'a'
	}
	data[15] = 0x00

	if diffutil.IsBinary(data, 10) {
		t.Fatalf("NUL byte outside the sniff window must not be detected")
	}
}
