// Package writer is the Record Writer: the atomic multi-artifact writer
// that commits one record (metadata + unified patch + blob refs + index
// row) as a logical unit, per spec.md §4.3.
//
// Its five-step commit and crash model are unchanged from the spec; the
// "writer removes partial artifacts, the database is the source of truth
// for liveness" discipline generalizes tk's WAL-replay/rollback handling
// (internal/store/wal.go) from custom-WAL-replay semantics to plain
// sqlite-transaction-rollback semantics, since MeowDiff has no separate WAL
// file of its own — the timeline DB's own WAL mode is the durability layer.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/pathid"
	"github.com/ishowshao/meowdiff/internal/timeline"
)

// ToolVersion is stamped into every committed Record's tool_version field.
const ToolVersion = "meowdiff/0.1.0"

// DraftFileEntry is one path's contribution to a RecordDraft. AfterContent
// is the file's new bytes for create/modify (nil for delete); the Writer
// passes it to BlobStore.Put as part of step 2.
type DraftFileEntry struct {
	Path         string
	Op           timeline.Op
	BeforeSHA    *string
	AfterSHA     *string
	AfterContent []byte
	Stats        timeline.FileStats
}

// RecordDraft is the Pipeline's output and the Writer's input: everything
// needed to commit one record, per spec.md §4.3.
type RecordDraft struct {
	ProjectID        string
	StartedAt        time.Time
	EndedAt          time.Time
	Files            []DraftFileEntry
	UnifiedPatchText string
}

// Writer commits RecordDrafts to <project-dir>/records/<record-id>/ and the
// timeline index.
type Writer struct {
	projectDir string
	fs         fsx.FS
	atomic     *fsx.AtomicWriter
	blobs      *blobstore.Store
	db         *timeline.DB
}

// New returns a Writer rooted at projectDir (the project's state
// directory, "<home>/.meowdiff/<project_id>").
func New(projectDir string, fs fsx.FS, blobs *blobstore.Store, db *timeline.DB) *Writer {
	return &Writer{
		projectDir: projectDir,
		fs:         fs,
		atomic:     fsx.NewAtomicWriter(fs),
		blobs:      blobs,
		db:         db,
	}
}

// Commit performs the five-step commit from spec.md §4.3. An empty draft
// (no files) is rejected with errs.ErrStorageError (Pipeline never produces
// one; see spec.md §4.4 "Empty batches").
func (w *Writer) Commit(ctx context.Context, draft RecordDraft) (timeline.Record, error) {
	if len(draft.Files) == 0 {
		return timeline.Record{}, fmt.Errorf("%w: empty record draft", errs.ErrStorageError)
	}

	// Step 1: diff_hash and record_id.
	diffHash := blobstore.Hash([]byte(draft.UnifiedPatchText))

	paths := make([]string, len(draft.Files))
	for i, f := range draft.Files {
		paths[i] = f.Path
	}
	recordID := pathid.RecordID(draft.EndedAt.UnixNano(), paths, diffHash)

	prevRecordID, err := w.db.LatestRecordID(ctx, draft.ProjectID)
	if err != nil {
		return timeline.Record{}, fmt.Errorf("%w: %v", errs.ErrStorageError, err)
	}
	var prevPtr *string
	if prevRecordID != "" {
		prevPtr = &prevRecordID
	}

	// Step 2: store/incref blobs for every entry with a non-nil sha.
	var blobIncrs []timeline.BlobIncrement
	for _, f := range draft.Files {
		if f.Op != timeline.OpDelete && f.AfterSHA != nil {
			sha, size, err := w.blobs.Put(ctx, f.AfterContent)
			if err != nil {
				return timeline.Record{}, fmt.Errorf("%w: put blob for %s: %v", errs.ErrStorageError, f.Path, err)
			}
			if sha != *f.AfterSHA {
				return timeline.Record{}, fmt.Errorf("%w: computed sha %s disagrees with draft after_sha %s for %s", errs.ErrStorageError, sha, *f.AfterSHA, f.Path)
			}
			blobIncrs = append(blobIncrs, timeline.BlobIncrement{SHA: sha, SizeBytes: size})
		}

		if f.BeforeSHA != nil {
			blobIncrs = append(blobIncrs, timeline.BlobIncrement{SHA: *f.BeforeSHA, SizeBytes: 0})
		}
	}

	recordDir := filepath.Join(w.projectDir, "records", recordID)
	if err := w.fs.MkdirAll(recordDir, 0o755); err != nil {
		return timeline.Record{}, fmt.Errorf("%w: mkdir record dir: %v", errs.ErrStorageError, err)
	}

	cleanupPartial := func() {
		_ = w.fs.RemoveAll(recordDir)
	}

	// Step 3: diff.patch.zst.
	compressedPatch, err := compressPatch([]byte(draft.UnifiedPatchText))
	if err != nil {
		cleanupPartial()
		return timeline.Record{}, fmt.Errorf("%w: compress patch: %v", errs.ErrStorageError, err)
	}

	patchPath := filepath.Join(recordDir, "diff.patch.zst")
	if err := w.atomic.WriteWithDefaults(patchPath, bytes.NewReader(compressedPatch)); err != nil {
		cleanupPartial()
		return timeline.Record{}, fmt.Errorf("%w: write diff.patch.zst: %v", errs.ErrStorageError, err)
	}

	rec := buildRecord(recordID, recordID, draft, prevPtr, diffHash)
	rec.ToolVersion = ToolVersion

	// Step 4: meta.json, written after the patch so a reader seeing meta
	// always finds the patch.
	metaBytes, err := marshalMeta(rec)
	if err != nil {
		cleanupPartial()
		return timeline.Record{}, fmt.Errorf("%w: marshal meta.json: %v", errs.ErrStorageError, err)
	}

	metaPath := filepath.Join(recordDir, "meta.json")
	if err := w.atomic.WriteWithDefaults(metaPath, bytes.NewReader(metaBytes)); err != nil {
		cleanupPartial()
		return timeline.Record{}, fmt.Errorf("%w: write meta.json: %v", errs.ErrStorageError, err)
	}

	// Step 5: single transaction — records insert, blob_refs increments,
	// latest_snapshots upserts/deletes.
	snapshots := make([]timeline.SnapshotUpdate, 0, len(draft.Files))
	for _, f := range draft.Files {
		if f.Op == timeline.OpDelete {
			snapshots = append(snapshots, timeline.SnapshotUpdate{Path: f.Path, SHA: ""})
		} else {
			snapshots = append(snapshots, timeline.SnapshotUpdate{Path: f.Path, SHA: *f.AfterSHA})
		}
	}

	err = w.db.Commit(ctx, timeline.CommitInput{
		Record:    rec,
		BlobIncrs: blobIncrs,
		Snapshots: snapshots,
	})
	if err != nil {
		// Step 5 failed: the transaction rolled back (blob_refs increments
		// reverted), so remove the orphan on-disk record directory
		// best-effort. Any blobs newly written in step 2 are tolerated as
		// orphans (spec.md §4.3 "Atomicity").
		cleanupPartial()
		return timeline.Record{}, err
	}

	return rec, nil
}

func buildRecord(recordID, _ string, draft RecordDraft, prevPtr *string, diffHash string) timeline.Record {
	files := make([]timeline.FileEntry, len(draft.Files))
	stats := timeline.RecordStats{}

	for i, f := range draft.Files {
		files[i] = timeline.FileEntry{
			Path:      f.Path,
			Op:        f.Op,
			BeforeSHA: f.BeforeSHA,
			AfterSHA:  f.AfterSHA,
			Stats:     f.Stats,
		}
		stats.Files++
		stats.LinesAdded += f.Stats.Added
		stats.LinesRemoved += f.Stats.Removed
	}

	return timeline.Record{
		RecordID:     recordID,
		ProjectID:    draft.ProjectID,
		StartedAt:    draft.StartedAt,
		EndedAt:      draft.EndedAt,
		Files:        files,
		Stats:        stats,
		PrevRecordID: prevPtr,
		DiffHash:     diffHash,
	}
}

func compressPatch(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}
