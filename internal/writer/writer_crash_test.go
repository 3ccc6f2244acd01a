package writer

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/pathid"
	"github.com/ishowshao/meowdiff/internal/timeline"
)

// TestCommit_CrashBeforeIndexCommitLeavesOrphanedArtifactsInvisible exercises
// the crash window described in the Commit step 5 comment: the record
// directory (diff.patch.zst, meta.json) is fully written, but the index
// transaction never runs, as if the process died right there. It replays
// steps 1-4 of Commit directly (same helpers Commit itself calls) and then
// never calls db.Commit, standing in for the crash. No errors.Is/rollback
// path is exercised here, since nothing ever returns an error: the
// on-disk artifacts simply become orphans the DB never heard about.
func TestCommit_CrashBeforeIndexCommitLeavesOrphanedArtifactsInvisible(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	db, err := timeline.Open(ctx, filepath.Join(dir, "timeline.db"))
	if err != nil {
		t.Fatalf("timeline.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	blobs := blobstore.New(filepath.Join(dir, "blobs"), fsx.NewReal(), db)
	atomic := fsx.NewAtomicWriter(fsx.NewReal())

	content := []byte("hello\n")
	sha := blobstore.Hash(content)
	draft := RecordDraft{
		ProjectID: "proj0001",
		StartedAt: time.UnixMilli(1000).UTC(),
		EndedAt:   time.UnixMilli(1050).UTC(),
		Files: []DraftFileEntry{
			{Path: "a.txt", Op: timeline.OpCreate, AfterSHA: &sha, AfterContent: content, Stats: timeline.FileStats{Added: 1}},
		},
		UnifiedPatchText: "--- a/dev/null\n+++ b/a.txt\n@@ -0,0 +1 @@\n+hello\n",
	}

	diffHash := blobstore.Hash([]byte(draft.UnifiedPatchText))
	recordID := pathid.RecordID(draft.EndedAt.UnixNano(), []string{"a.txt"}, diffHash)
	recordDir := filepath.Join(dir, "records", recordID)

	// Step 2: store the blob, same as Commit (Put does not touch ref counts).
	gotSHA, _, err := blobs.Put(ctx, content)
	if err != nil {
		t.Fatalf("blobs.Put: %v", err)
	}
	if gotSHA != sha {
		t.Fatalf("sha=%s, want %s", gotSHA, sha)
	}

	if err := fsx.NewReal().MkdirAll(recordDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	// Step 3: diff.patch.zst.
	compressed, err := compressPatch([]byte(draft.UnifiedPatchText))
	if err != nil {
		t.Fatalf("compressPatch: %v", err)
	}
	if err := atomic.WriteWithDefaults(filepath.Join(recordDir, "diff.patch.zst"), bytes.NewReader(compressed)); err != nil {
		t.Fatalf("write diff.patch.zst: %v", err)
	}

	// Step 4: meta.json.
	rec := buildRecord(recordID, recordID, draft, nil, diffHash)
	rec.ToolVersion = ToolVersion

	metaBytes, err := marshalMeta(rec)
	if err != nil {
		t.Fatalf("marshalMeta: %v", err)
	}
	if err := atomic.WriteWithDefaults(filepath.Join(recordDir, "meta.json"), bytes.NewReader(metaBytes)); err != nil {
		t.Fatalf("write meta.json: %v", err)
	}

	// Crash here: step 5 (db.Commit) never runs.

	exists, err := fsx.NewReal().Exists(filepath.Join(recordDir, "meta.json"))
	if err != nil {
		t.Fatalf("Exists meta.json: %v", err)
	}
	if !exists {
		t.Fatalf("meta.json should remain on disk as an orphan after the simulated crash")
	}

	exists, err = fsx.NewReal().Exists(filepath.Join(recordDir, "diff.patch.zst"))
	if err != nil {
		t.Fatalf("Exists diff.patch.zst: %v", err)
	}
	if !exists {
		t.Fatalf("diff.patch.zst should remain on disk as an orphan after the simulated crash")
	}

	if _, err := db.Show(ctx, recordID); err == nil {
		t.Fatalf("Show must not find a record the index transaction never committed")
	}

	records, err := db.List(ctx, timeline.ListOptions{ProjectID: "proj0001"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("List must be empty: the crashed record never reached the index, got %d", len(records))
	}

	latest, err := db.LatestRecordID(ctx, "proj0001")
	if err != nil {
		t.Fatalf("LatestRecordID: %v", err)
	}
	if latest != "" {
		t.Fatalf("LatestRecordID=%q, want empty: pipeline resumption must not chain onto an orphaned record", latest)
	}

	// A subsequent real Commit for the same logical change must still
	// succeed and produce a fresh, independently visible record; the
	// orphan directory from the crash is left behind (no automatic GC),
	// matching spec.md §4.3's "blobs newly written in step 2 are
	// tolerated as orphans" tolerance.
	w := New(dir, fsx.NewReal(), blobs, db)
	committed, err := w.Commit(ctx, RecordDraft{
		ProjectID:        draft.ProjectID,
		StartedAt:        draft.StartedAt,
		EndedAt:          draft.EndedAt.Add(time.Millisecond),
		Files:            draft.Files,
		UnifiedPatchText: draft.UnifiedPatchText,
	})
	if err != nil {
		t.Fatalf("Commit after crash: %v", err)
	}
	if committed.RecordID == recordID {
		t.Fatalf("recovered commit must not reuse the orphaned record id")
	}

	got, err := db.Show(ctx, committed.RecordID)
	if err != nil {
		t.Fatalf("Show recovered record: %v", err)
	}
	if got.PrevRecordID != nil {
		t.Fatalf("PrevRecordID=%v, want nil: the orphaned crash record must not be chained onto", got.PrevRecordID)
	}
}
