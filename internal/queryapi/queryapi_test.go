package queryapi_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/diffutil"
	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/queryapi"
	"github.com/ishowshao/meowdiff/internal/timeline"
	"github.com/ishowshao/meowdiff/internal/writer"
)

const testProjectID = "proj0001"

type testEnv struct {
	stateDir string
	db       *timeline.DB
	blobs    *blobstore.Store
	writer   *writer.Writer
	api      *queryapi.API
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	stateDir := t.TempDir()
	db, err := timeline.Open(context.Background(), filepath.Join(stateDir, "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	blobs := blobstore.New(filepath.Join(stateDir, "blobs"), fsx.NewReal(), db)
	w := writer.New(stateDir, fsx.NewReal(), blobs, db)
	api := queryapi.New(testProjectID, stateDir, fsx.NewReal(), blobs, db)

	return &testEnv{stateDir: stateDir, db: db, blobs: blobs, writer: w, api: api}
}

// commitOneFile writes a single-file record via the real Writer, the way
// the Pipeline would, so queryapi tests exercise the on-disk artifacts
// (diff.patch.zst) alongside the index rows.
func (e *testEnv) commitOneFile(t *testing.T, path, oldText, newText string) timeline.Record {
	t.Helper()

	op := timeline.OpModify
	if oldText == "" {
		op = timeline.OpCreate
	}
	result := diffutil.Unified(path, string(op), oldText, newText)

	afterSHA := blobstore.Hash([]byte(newText))
	draft := writer.RecordDraft{
		ProjectID:        testProjectID,
		StartedAt:        time.Now().UTC(),
		EndedAt:          time.Now().UTC(),
		UnifiedPatchText: result.Patch,
		Files: []writer.DraftFileEntry{
			{
				Path:         path,
				Op:           op,
				AfterSHA:     &afterSHA,
				AfterContent: []byte(newText),
				Stats:        timeline.FileStats{Added: result.Added, Removed: result.Removed, Chunks: result.Chunks},
			},
		},
	}

	rec, err := e.writer.Commit(context.Background(), draft)
	require.NoError(t, err)

	return rec
}

func TestList_ReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.commitOneFile(t, "a.txt", "", "hello\n")
	second := e.commitOneFile(t, "b.txt", "", "world\n")

	records, err := e.api.List(context.Background(), queryapi.ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, second.RecordID, records[0].RecordID)
}

func TestShow_ReturnsMatchingRecord(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	got, err := e.api.Show(context.Background(), rec.RecordID)
	require.NoError(t, err)
	require.Equal(t, rec.RecordID, got.RecordID)
	require.Len(t, got.Files, 1)
}

func TestDiff_FiltersToRequestedPath(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	op := timeline.OpCreate
	resultA := diffutil.Unified("a.txt", string(op), "", "hello\n")
	resultB := diffutil.Unified("b.txt", string(op), "", "world\n")
	combined := resultA.Patch + resultB.Patch

	shaA := blobstore.Hash([]byte("hello\n"))
	shaB := blobstore.Hash([]byte("world\n"))

	rec, err := e.writer.Commit(context.Background(), writer.RecordDraft{
		ProjectID:        testProjectID,
		StartedAt:        time.Now().UTC(),
		EndedAt:          time.Now().UTC(),
		UnifiedPatchText: combined,
		Files: []writer.DraftFileEntry{
			{Path: "a.txt", Op: op, AfterSHA: &shaA, AfterContent: []byte("hello\n"), Stats: timeline.FileStats{Added: resultA.Added}},
			{Path: "b.txt", Op: op, AfterSHA: &shaB, AfterContent: []byte("world\n"), Stats: timeline.FileStats{Added: resultB.Added}},
		},
	})
	require.NoError(t, err)

	full, err := e.api.Diff(context.Background(), rec.RecordID, "")
	require.NoError(t, err)
	require.Contains(t, string(full), "a.txt")
	require.Contains(t, string(full), "b.txt")

	filtered, err := e.api.Diff(context.Background(), rec.RecordID, "a.txt")
	require.NoError(t, err)
	require.Contains(t, string(filtered), "a.txt")
	require.NotContains(t, string(filtered), "b.txt")
}

func TestExtract_FailsOnNonEmptyOutputDirWithoutForce(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "preexisting.txt"), []byte("x"), 0o644))

	err := e.api.Extract(context.Background(), rec.RecordID, outDir, false)
	require.ErrorIs(t, err, errs.ErrTargetConflict)
}

func TestExtract_WritesAfterContentToEmptyDir(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	outDir := filepath.Join(t.TempDir(), "out")
	err := e.api.Extract(context.Background(), rec.RecordID, outDir, false)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestRestore_ToBeforeDeletesCreatedFile(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	workDir := t.TempDir()

	target := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello\n"), 0o644))

	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	_, err := e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestoreApply, false)
	require.NoError(t, err)

	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err), "expected a.txt removed after restore-to-before of a create record")
}

func TestRestore_ApplyingTwiceInSuccessionIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	workDir := t.TempDir()

	target := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello\n"), 0o644))

	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	_, err := e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestoreApply, false)
	require.NoError(t, err)

	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err), "expected a.txt removed after first restore-to-before")

	// Applying the same restore again with no intervening writes must
	// reach the same filesystem state again without a conflict: there is
	// nothing at the target path that could disagree with the record.
	_, err = e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestoreApply, false)
	require.NoError(t, err)

	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err), "expected a.txt still absent after second restore-to-before")
}

func TestRestore_ReportsConflictWhenWorkingTreeDiverged(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	workDir := t.TempDir()

	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	// Diverge: the file on disk no longer matches the record's after_sha.
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("modified by someone else\n"), 0o644))

	_, err := e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestoreApply, false)
	require.Error(t, err)

	var conflictErr *errs.RestoreConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Contains(t, conflictErr.Paths, "a.txt")
}

func TestRestore_PrintModeReturnsPatchWithoutTouchingDisk(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	workDir := t.TempDir()

	target := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello\n"), 0o644))

	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	patch, err := e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestorePrint, false)
	require.NoError(t, err)

	want := diffutil.Unified("a.txt", "delete", "hello\n", "").Patch
	require.Equal(t, want, string(patch))

	// print mode must never mutate the working tree.
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestRestore_PrintModeNeverReturnsConflictError(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	workDir := t.TempDir()

	rec := e.commitOneFile(t, "a.txt", "", "hello\n")

	// Diverge: the file on disk no longer matches the record's after_sha.
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("modified by someone else\n"), 0o644))

	patch, err := e.api.Restore(context.Background(), workDir, rec.RecordID, queryapi.RestoreToBefore, queryapi.RestorePrint, false)
	require.NoError(t, err)

	want := diffutil.Unified("a.txt", "delete", "modified by someone else\n", "").Patch
	require.Equal(t, want, string(patch))
}
