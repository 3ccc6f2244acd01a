// Package queryapi is the read-side Query/Restore API over the Timeline
// Index and Blob Store, per spec.md §4.5: list, show, diff, extract, and
// restore (with conflict detection).
package queryapi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/diffutil"
	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/timeline"
)

// API is the Query/Restore API for one project.
type API struct {
	projectDir string
	projectID  string
	fs         fsx.FS
	atomic     *fsx.AtomicWriter
	blobs      *blobstore.Store
	db         *timeline.DB
}

// New returns an API rooted at projectDir for the given project.
func New(projectID, projectDir string, fs fsx.FS, blobs *blobstore.Store, db *timeline.DB) *API {
	return &API{
		projectDir: projectDir,
		projectID:  projectID,
		fs:         fs,
		atomic:     fsx.NewAtomicWriter(fs),
		blobs:      blobs,
		db:         db,
	}
}

// ListOptions narrows List's range scan.
type ListOptions struct {
	FromTS *time.Time
	ToTS   *time.Time
	Limit  int
}

// List returns records for the project ordered by ts_end descending.
func (a *API) List(ctx context.Context, opts ListOptions) ([]timeline.Record, error) {
	return a.db.List(ctx, timeline.ListOptions{
		ProjectID: a.projectID,
		FromTS:    opts.FromTS,
		ToTS:      opts.ToTS,
		Limit:     opts.Limit,
	})
}

// Show reads one record by id.
func (a *API) Show(ctx context.Context, recordID string) (timeline.Record, error) {
	return a.db.Show(ctx, recordID)
}

// Diff decompresses a record's unified patch, optionally filtered to the
// section naming path.
func (a *API) Diff(ctx context.Context, recordID string, path string) ([]byte, error) {
	patchPath := filepath.Join(a.projectDir, "records", recordID, "diff.patch.zst")

	compressed, err := a.fs.ReadFile(patchPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read patch for %s: %v", errs.ErrStorageError, recordID, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageError, err)
	}
	defer dec.Close()

	patch, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress patch for %s: %v", errs.ErrStorageError, recordID, err)
	}

	if path == "" {
		return patch, nil
	}

	return filterPatchSection(patch, path), nil
}

// filterPatchSection returns only the unified-diff section whose "+++"
// header names path, matching spec.md §4.5 "diff". A section runs from one
// "--- " header line up to (not including) the next.
func filterPatchSection(patch []byte, path string) []byte {
	lines := strings.Split(string(patch), "\n")
	fromHeader := "--- a/" + path
	toHeader := "+++ b/" + path

	var out []string
	inSection := false

	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") {
			var next string
			if i+1 < len(lines) {
				next = lines[i+1]
			}
			inSection = line == fromHeader || next == toHeader
		}
		if inSection {
			out = append(out, line)
		}
	}

	return []byte(strings.Join(out, "\n"))
}

// Extract writes every non-deleted FileEntry's after-content to
// outputDir/<path>. It fails with errs.ErrTargetConflict if outputDir is
// non-empty and force is false.
func (a *API) Extract(ctx context.Context, recordID string, outputDir string, force bool) error {
	rec, err := a.db.Show(ctx, recordID)
	if err != nil {
		return err
	}

	if !force {
		empty, err := dirEmpty(a.fs, outputDir)
		if err != nil {
			return fmt.Errorf("%w: check output dir: %v", errs.ErrStorageError, err)
		}
		if !empty {
			return fmt.Errorf("%w: %s is not empty", errs.ErrTargetConflict, outputDir)
		}
	}

	for _, f := range rec.Files {
		if f.AfterSHA == nil {
			continue
		}

		content, err := a.blobs.Get(ctx, *f.AfterSHA)
		if err != nil {
			return fmt.Errorf("%w: extract %s: %v", errs.ErrStorageError, f.Path, err)
		}

		dest := filepath.Join(outputDir, filepath.FromSlash(f.Path))
		if err := a.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir for %s: %v", errs.ErrStorageError, f.Path, err)
		}
		if err := a.atomic.WriteWithDefaults(dest, bytes.NewReader(content)); err != nil {
			return fmt.Errorf("%w: write %s: %v", errs.ErrStorageError, f.Path, err)
		}
	}

	return nil
}

func dirEmpty(fs fsx.FS, dir string) (bool, error) {
	exists, err := fs.Exists(dir)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	entries, err := fs.ReadDir(dir)
	if err != nil {
		return false, err
	}

	return len(entries) == 0, nil
}

// RestoreMode selects restore's conflict-policy target, spec.md §4.5 step 3.
type RestoreMode string

const (
	// RestoreToBefore targets before_sha per entry (default for --apply).
	RestoreToBefore RestoreMode = "before"
	// RestoreToAfter targets after_sha per entry.
	RestoreToAfter RestoreMode = "after"
)

// RestoreAction selects print-only versus filesystem mutation.
type RestoreAction string

const (
	RestorePrint RestoreAction = "print"
	RestoreApply RestoreAction = "apply"
)

type restorePlanEntry struct {
	path           string
	targetSHA      *string // nil means delete
	currentSHA     string
	currentContent []byte
	hasCurrent     bool
	conflict       bool
}

// Restore implements spec.md §4.5 "Restore". workDir is the project's
// working tree root, used to resolve each FileEntry's project-relative
// path to an absolute filesystem path. In RestorePrint mode it mutates
// nothing and returns the unified patch RestoreApply would write,
// regardless of conflicts or force: printing is a read-only preview.
// RestoreApply reports conflicts via errs.RestoreConflictError unless
// force is set.
func (a *API) Restore(ctx context.Context, workDir, recordID string, mode RestoreMode, action RestoreAction, force bool) ([]byte, error) {
	rec, err := a.db.Show(ctx, recordID)
	if err != nil {
		return nil, err
	}

	plan, err := a.buildRestorePlan(workDir, rec, mode)
	if err != nil {
		return nil, err
	}

	if action == RestorePrint {
		return a.buildRestorePatch(ctx, plan)
	}

	var conflicts []string
	for _, e := range plan {
		if e.conflict {
			conflicts = append(conflicts, e.path)
		}
	}

	if len(conflicts) > 0 && !force {
		sort.Strings(conflicts)
		return nil, &errs.RestoreConflictError{Paths: conflicts}
	}

	return nil, a.applyRestorePlan(ctx, workDir, plan)
}

// buildRestorePatch renders the unified diff between each plan entry's
// current on-disk content and its restore target, in the same format
// flush's patch generation uses (spec.md §4.4's diff format, reused here
// per §4.5 step 4's "unified patch that would be applied").
func (a *API) buildRestorePatch(ctx context.Context, plan []restorePlanEntry) ([]byte, error) {
	var buf bytes.Buffer

	for _, e := range plan {
		var newText string
		if e.targetSHA != nil {
			content, err := a.blobs.Get(ctx, *e.targetSHA)
			if err != nil {
				return nil, fmt.Errorf("%w: fetch restore target for %s: %v", errs.ErrStorageError, e.path, err)
			}
			newText = string(content)
		}

		var op timeline.Op
		switch {
		case e.targetSHA == nil:
			op = timeline.OpDelete
		case !e.hasCurrent:
			op = timeline.OpCreate
		default:
			op = timeline.OpModify
		}

		result := diffutil.Unified(e.path, string(op), string(e.currentContent), newText)
		buf.WriteString(result.Patch)
	}

	return buf.Bytes(), nil
}

func (a *API) buildRestorePlan(workDir string, rec timeline.Record, mode RestoreMode) ([]restorePlanEntry, error) {
	plan := make([]restorePlanEntry, 0, len(rec.Files))

	for _, f := range rec.Files {
		abs := filepath.Join(workDir, filepath.FromSlash(f.Path))

		exists, err := a.fs.Exists(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", errs.ErrStorageError, f.Path, err)
		}

		var currentSHA string
		var currentContent []byte
		if exists {
			content, err := a.fs.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: read %s: %v", errs.ErrStorageError, f.Path, err)
			}
			currentSHA = blobstore.Hash(content)
			currentContent = content
		}

		var target *string
		var expect *string

		switch mode {
		case RestoreToAfter:
			target = f.AfterSHA
			expect = f.BeforeSHA
		default: // RestoreToBefore
			target = f.BeforeSHA
			expect = f.AfterSHA
		}

		// Already at the target state is never a conflict, even if it
		// disagrees with expect: this is what makes a second apply of
		// the same restore (no intervening writes) a no-op rather than
		// a spurious conflict against its own prior result.
		atTarget := false
		switch {
		case target == nil:
			atTarget = !exists
		case exists:
			atTarget = currentSHA == *target
		}

		conflict := false
		if !atTarget {
			switch {
			case expect == nil:
				conflict = exists
			case !exists:
				conflict = true
			default:
				conflict = currentSHA != *expect
			}
		}

		plan = append(plan, restorePlanEntry{
			path:           f.Path,
			targetSHA:      target,
			currentSHA:     currentSHA,
			currentContent: currentContent,
			hasCurrent:     exists,
			conflict:       conflict,
		})
	}

	return plan, nil
}

func (a *API) applyRestorePlan(ctx context.Context, workDir string, plan []restorePlanEntry) error {
	updates := make([]timeline.SnapshotUpdate, 0, len(plan))

	for _, e := range plan {
		abs := filepath.Join(workDir, filepath.FromSlash(e.path))

		if e.targetSHA == nil {
			if e.hasCurrent {
				if err := a.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("%w: remove %s: %v", errs.ErrStorageError, e.path, err)
				}
			}
			updates = append(updates, timeline.SnapshotUpdate{Path: e.path, SHA: ""})
			continue
		}

		content, err := a.blobs.Get(ctx, *e.targetSHA)
		if err != nil {
			return fmt.Errorf("%w: fetch restore target for %s: %v", errs.ErrStorageError, e.path, err)
		}

		if err := a.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir for %s: %v", errs.ErrStorageError, e.path, err)
		}
		if err := a.atomic.WriteWithDefaults(abs, bytes.NewReader(content)); err != nil {
			return fmt.Errorf("%w: write %s: %v", errs.ErrStorageError, e.path, err)
		}

		updates = append(updates, timeline.SnapshotUpdate{Path: e.path, SHA: *e.targetSHA})
	}

	if err := a.db.ApplySnapshotUpdates(ctx, a.projectID, updates); err != nil {
		return fmt.Errorf("%w: update snapshots after restore: %v", errs.ErrStorageError, err)
	}

	return nil
}
