// Package pipeline is the event debouncer and diff generator: it consumes
// filtered filesystem events, reads files at flush time, and produces
// writer.RecordDrafts for the Record Writer, per spec.md §4.4.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/diffutil"
	"github.com/ishowshao/meowdiff/internal/fsevents"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/timeline"
	"github.com/ishowshao/meowdiff/internal/writer"
)

// binarySniffLen is how many leading bytes are inspected for a NUL byte
// when deciding whether a path's contents are opaque (spec.md §4.4
// "Binary handling", implementation-defined; 8 KiB per the spec's own
// example).
const binarySniffLen = 8192

// Config configures a Pipeline's debounce behavior.
type Config struct {
	// WindowMS is the quiet interval after which an open batch flushes,
	// reset by every new event. Default 50ms.
	WindowMS int

	// MaxBatchSpanMultiple bounds the maximum batch span as a multiple of
	// WindowMS so sustained write storms still flush periodically. Open
	// Question resolved at 10 (see DESIGN.md), spec.md's own suggested
	// value.
	MaxBatchSpanMultiple int
}

// DefaultConfig returns the spec's default window and span cap.
func DefaultConfig() Config {
	return Config{WindowMS: 50, MaxBatchSpanMultiple: 10}
}

// Committer is the subset of *writer.Writer the Pipeline depends on,
// narrowed to ease testing.
type Committer interface {
	Commit(ctx context.Context, draft writer.RecordDraft) (timeline.Record, error)
}

// Pipeline owns the batching state machine. It is the only component
// allowed to call the Record Writer (spec.md §5).
type Pipeline struct {
	projectID string
	root      string // project's absolute working directory; every FileEntry.Path is relative to this
	cfg       Config
	matcher   fsevents.Matcher
	fs        fsx.FS
	blobs     *blobstore.Store
	writer    Committer
	logger    *zap.Logger

	mu       sync.Mutex
	snapshot map[string]string // write-through cache over latest_snapshots, keyed by project-relative path
}

// New constructs a Pipeline for one project rooted at root (an absolute
// path). initialSnapshot seeds the in-memory LatestSnapshot cache (spec.md
// §9: "write-through cache over the DB table"), normally loaded via
// timeline.DB.ListSnapshots at startup; its keys are the same
// project-relative paths the Pipeline itself produces.
func New(projectID, root string, cfg Config, matcher fsevents.Matcher, fs fsx.FS, blobs *blobstore.Store, w Committer, logger *zap.Logger, initialSnapshot map[string]string) *Pipeline {
	if cfg.WindowMS <= 0 {
		cfg.WindowMS = 50
	}
	if cfg.MaxBatchSpanMultiple <= 0 {
		cfg.MaxBatchSpanMultiple = 10
	}

	snap := make(map[string]string, len(initialSnapshot))
	for k, v := range initialSnapshot {
		snap[k] = v
	}

	return &Pipeline{
		projectID: projectID,
		root:      root,
		cfg:       cfg,
		matcher:   matcher,
		fs:        fs,
		blobs:     blobs,
		writer:    w,
		logger:    logger,
		snapshot:  snap,
	}
}

// relPath converts an absolute event path (as produced by fsevents.Watcher,
// rooted at p.root) into the project-relative, forward-slash path that
// FileEntry.path and the write-through snapshot cache use (spec.md §3).
func (p *Pipeline) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(p.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relativize %s against %s: %w", absPath, p.root, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside project root %s", absPath, p.root)
	}
	return rel, nil
}

func (p *Pipeline) window() time.Duration {
	return time.Duration(p.cfg.WindowMS) * time.Millisecond
}

func (p *Pipeline) maxSpan() time.Duration {
	return time.Duration(p.cfg.MaxBatchSpanMultiple) * p.window()
}

// Run drains events until the channel closes or ctx is canceled. On
// shutdown it flushes the current batch unconditionally (spec.md §5:
// "Pipeline flushes the current batch if any... even if its window has not
// elapsed").
func (p *Pipeline) Run(ctx context.Context, events <-chan fsevents.Event) error {
	var (
		cur          *batch
		timer        = time.NewTimer(time.Hour)
		spanDeadline time.Time
	)
	timer.Stop()

	flushCurrent := func() {
		if cur == nil || cur.empty() {
			cur = nil
			return
		}
		paths := cur.paths()
		// Detached from ctx: the shutdown flush runs after ctx is canceled
		// and its commit must still reach the index.
		if err := p.flush(context.WithoutCancel(ctx), paths, cur.startedAt, time.Now()); err != nil {
			p.logger.Error("flush failed", zap.Error(err))
		}
		cur = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushCurrent()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				flushCurrent()
				return nil
			}

			relPath, err := p.relPath(ev.Path)
			if err != nil {
				p.logger.Warn("dropping event outside project root", zap.String("path", ev.Path), zap.Error(err))
				continue
			}

			if p.matcher != nil && p.matcher.Matches(relPath) {
				p.logger.Debug("ignored event", zap.String("path", relPath))
				continue
			}

			now := time.Now()
			if cur == nil {
				cur = newBatch(now)
				spanDeadline = now.Add(p.maxSpan())
			}
			cur.add(relPath)

			if now.After(spanDeadline) {
				flushCurrent()
				if !timer.Stop() {
					drainTimer(timer)
				}
				continue
			}

			if !timer.Stop() {
				drainTimer(timer)
			}
			timer.Reset(p.window())

		case <-timer.C:
			flushCurrent()
		}
	}
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// flush runs the per-batch diff generation steps from spec.md §4.4 and, if
// any entry survives, commits a record.
func (p *Pipeline) flush(ctx context.Context, paths []string, startedAt, endedAt time.Time) error {
	sort.Strings(paths)

	var (
		entries   []writer.DraftFileEntry
		patchBuf  strings.Builder
	)

	for _, path := range paths {
		entry, patchSection, ok, err := p.diffOne(ctx, path)
		if err != nil {
			p.logger.Warn("read failed, skipping path", zap.String("path", path), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		entries = append(entries, entry)
		patchBuf.WriteString(patchSection)
	}

	if len(entries) == 0 {
		return nil
	}

	draft := writer.RecordDraft{
		ProjectID:        p.projectID,
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		Files:            entries,
		UnifiedPatchText: patchBuf.String(),
	}

	rec, err := p.writer.Commit(ctx, draft)
	if err != nil {
		return fmt.Errorf("commit record: %w", err)
	}

	p.mu.Lock()
	for _, f := range rec.Files {
		if f.Op == timeline.OpDelete {
			delete(p.snapshot, f.Path)
		} else if f.AfterSHA != nil {
			p.snapshot[f.Path] = *f.AfterSHA
		}
	}
	p.mu.Unlock()

	return nil
}

// diffOne implements spec.md §4.4 steps 1-6 for a single project-relative
// path. ok is false when the path dropped out of the batch (unchanged
// content).
func (p *Pipeline) diffOne(ctx context.Context, path string) (entry writer.DraftFileEntry, patchSection string, ok bool, err error) {
	beforeSHA, hadBefore := p.getSnapshot(path)

	absPath := filepath.Join(p.root, filepath.FromSlash(path))
	exists, content, err := p.readCurrent(absPath)
	if err != nil {
		return writer.DraftFileEntry{}, "", false, err
	}

	var op timeline.Op
	switch {
	case exists && !hadBefore:
		op = timeline.OpCreate
	case !exists && hadBefore:
		op = timeline.OpDelete
	default:
		op = timeline.OpModify
	}

	if !exists && !hadBefore {
		// Nothing before, nothing now: spurious event, drop silently.
		return writer.DraftFileEntry{}, "", false, nil
	}

	var beforeSHAPtr *string
	if hadBefore {
		sha := beforeSHA
		beforeSHAPtr = &sha
	}

	var afterSHAPtr *string
	if op != timeline.OpDelete {
		afterSHA := blobstore.Hash(content)
		if hadBefore && afterSHA == beforeSHA {
			// Unchanged: drop this path from the batch entirely.
			return writer.DraftFileEntry{}, "", false, nil
		}
		afterSHAPtr = &afterSHA
	}

	var oldText string
	if hadBefore {
		oldBytes, err := p.blobs.Get(ctx, beforeSHA)
		if err != nil {
			p.logger.Warn("before_sha blob unavailable, treating as new", zap.String("path", path), zap.Error(err))
		} else {
			oldText = string(oldBytes)
		}
	}

	sniffed := content
	if op == timeline.OpDelete {
		sniffed = []byte(oldText)
	}
	isBinary := diffutil.IsBinary(sniffed, binarySniffLen)

	var stats timeline.FileStats
	var section string

	if isBinary {
		section = p.patchHeader(path, op)
	} else {
		newText := string(content)
		result := diffutil.Unified(path, string(op), oldText, newText)
		section = result.Patch
		stats = timeline.FileStats{Added: result.Added, Removed: result.Removed, Chunks: result.Chunks}
	}

	return writer.DraftFileEntry{
		Path:         path,
		Op:           op,
		BeforeSHA:    beforeSHAPtr,
		AfterSHA:     afterSHAPtr,
		AfterContent: content,
		Stats:        stats,
	}, section, true, nil
}

func (p *Pipeline) patchHeader(path string, op timeline.Op) string {
	from := "a/" + path
	to := "b/" + path
	if op == timeline.OpCreate {
		from = "/dev/null"
	}
	if op == timeline.OpDelete {
		to = "/dev/null"
	}
	return fmt.Sprintf("--- %s\n+++ %s\n", from, to)
}

func (p *Pipeline) getSnapshot(path string) (sha string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sha, ok = p.snapshot[path]
	return sha, ok
}

// readCurrent takes an absolute filesystem path, unlike the rest of
// Pipeline's path handling which works in project-relative terms.
func (p *Pipeline) readCurrent(path string) (exists bool, content []byte, err error) {
	exists, err = p.fs.Exists(path)
	if err != nil {
		return false, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		return false, nil, nil
	}

	content, err = p.fs.ReadFile(path)
	if err != nil {
		return false, nil, fmt.Errorf("read %s: %w", path, err)
	}

	return true, content, nil
}
