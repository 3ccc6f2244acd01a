package pathid_test

import (
	"testing"

	"github.com/ishowshao/meowdiff/internal/pathid"
)

func TestProjectID_IsStableAndFixedLength(t *testing.T) {
	t.Parallel()

	a := pathid.ProjectID("/home/user/project")
	b := pathid.ProjectID("/home/user/project")

	if a != b {
		t.Fatalf("ProjectID is not stable: %q != %q", a, b)
	}

	if len(a) != pathid.ProjectIDLength {
		t.Fatalf("len=%d, want %d", len(a), pathid.ProjectIDLength)
	}
}

func TestProjectID_DiffersForDifferentPaths(t *testing.T) {
	t.Parallel()

	a := pathid.ProjectID("/home/user/project-a")
	b := pathid.ProjectID("/home/user/project-b")

	if a == b {
		t.Fatalf("different paths produced the same project_id %q", a)
	}
}

func TestProjectID_CleansPathBeforeHashing(t *testing.T) {
	t.Parallel()

	a := pathid.ProjectID("/home/user/project/")
	b := pathid.ProjectID("/home/user/project")

	if a != b {
		t.Fatalf("trailing slash changed project_id: %q != %q", a, b)
	}
}

func TestRecordID_IsStableAndFixedLength(t *testing.T) {
	t.Parallel()

	paths := []string{"b.txt", "a.txt"}

	a := pathid.RecordID(1000, paths, "deadbeef")
	b := pathid.RecordID(1000, paths, "deadbeef")

	if a != b {
		t.Fatalf("RecordID is not stable: %q != %q", a, b)
	}

	if len(a) != pathid.RecordIDLength {
		t.Fatalf("len=%d, want %d", len(a), pathid.RecordIDLength)
	}
}

func TestRecordID_IgnoresPathArgumentOrder(t *testing.T) {
	t.Parallel()

	a := pathid.RecordID(1000, []string{"a.txt", "b.txt"}, "deadbeef")
	b := pathid.RecordID(1000, []string{"b.txt", "a.txt"}, "deadbeef")

	if a != b {
		t.Fatalf("RecordID depends on path argument order: %q != %q", a, b)
	}
}

func TestRecordID_DiffersOnTimestampOrDiffHash(t *testing.T) {
	t.Parallel()

	base := pathid.RecordID(1000, []string{"a.txt"}, "deadbeef")
	diffTS := pathid.RecordID(2000, []string{"a.txt"}, "deadbeef")
	diffHash := pathid.RecordID(1000, []string{"a.txt"}, "cafebabe")

	if base == diffTS {
		t.Fatalf("changing ts_end did not change record_id")
	}

	if base == diffHash {
		t.Fatalf("changing diff_hash did not change record_id")
	}
}

func TestRecordID_OnlyUsesBase62Alphabet(t *testing.T) {
	t.Parallel()

	id := pathid.RecordID(1000, []string{"a.txt"}, "deadbeef")

	for _, r := range id {
		isDigit := r >= '0' && r <= '9'
		isUpper := r >= 'A' && r <= 'Z'
		isLower := r >= 'a' && r <= 'z'

		if !isDigit && !isUpper && !isLower {
			t.Fatalf("record_id %q contains non-base62 character %q", id, r)
		}
	}
}
