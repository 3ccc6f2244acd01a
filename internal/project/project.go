// Package project wires a single project's Watcher, Pipeline, and Record
// Writer lifecycles together (spec.md §5 "Concurrency & Resource Model"),
// and owns the shutdown sequence: watcher stops, pipeline flushes its
// current batch unconditionally, writer drains, lock file is removed
// last.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/config"
	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsevents"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/lockfile"
	"github.com/ishowshao/meowdiff/internal/logging"
	"github.com/ishowshao/meowdiff/internal/pathid"
	"github.com/ishowshao/meowdiff/internal/pipeline"
	"github.com/ishowshao/meowdiff/internal/queryapi"
	"github.com/ishowshao/meowdiff/internal/timeline"
	"github.com/ishowshao/meowdiff/internal/writer"
)

const storageFormatVersion = "1"

// Project owns one watched directory's full stack, from the raw
// filesystem event source down to the timeline index.
type Project struct {
	ID       string
	WorkDir  string
	StateDir string
	Logger   *zap.Logger
	DB       *timeline.DB
	Blobs    *blobstore.Store
	Writer   *writer.Writer
	Query    *queryapi.API
	cfg      config.Config

	watcher *fsevents.Watcher
	matcher *fsevents.IgnoreMatcher
	lock    *lockfile.Lock
	pipe    *pipeline.Pipeline

	done chan struct{}
}

// Open resolves a project's state directory under homeDir, opens its
// timeline DB and blob store, and returns an unwatched Project. Call
// Start to begin watching.
func Open(ctx context.Context, homeDir, workDir string, cfg config.Config) (*Project, error) {
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	id := pathid.ProjectID(absWorkDir)
	stateDir := filepath.Join(homeDir, ".meowdiff", id)

	if err := ensureStateDir(stateDir); err != nil {
		return nil, err
	}

	logger, err := logging.New(stateDir, false)
	if err != nil {
		return nil, fmt.Errorf("%w: build logger: %v", errs.ErrStorageError, err)
	}
	logger = logging.WithProject(logger, id)

	db, err := timeline.Open(ctx, filepath.Join(stateDir, "timeline.db"))
	if err != nil {
		return nil, err
	}

	real := fsx.NewReal()
	blobs := blobstore.New(filepath.Join(stateDir, "blobs"), real, db)
	w := writer.New(stateDir, real, blobs, db)
	q := queryapi.New(id, stateDir, real, blobs, db)

	matcher, err := fsevents.NewIgnoreMatcher(absWorkDir, cfg.DefaultIgnore.Extra)
	if err != nil {
		return nil, fmt.Errorf("build ignore matcher: %w", err)
	}

	return &Project{
		ID:       id,
		WorkDir:  absWorkDir,
		StateDir: stateDir,
		Logger:   logger,
		DB:       db,
		Blobs:    blobs,
		Writer:   w,
		Query:    q,
		cfg:      cfg,
		matcher:  matcher,
		done:     make(chan struct{}),
	}, nil
}

func ensureStateDir(stateDir string) error {
	if err := os.MkdirAll(filepath.Join(stateDir, "meta", "logs"), 0o755); err != nil {
		return fmt.Errorf("%w: create state dir: %v", errs.ErrStorageError, err)
	}

	versionPath := filepath.Join(stateDir, "meta", "version")
	existing, err := os.ReadFile(versionPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: read version file: %v", errs.ErrStorageError, err)
		}
		if err := os.WriteFile(versionPath, []byte(storageFormatVersion), 0o644); err != nil {
			return fmt.Errorf("%w: write version file: %v", errs.ErrStorageError, err)
		}
		return nil
	}

	if string(existing) != storageFormatVersion {
		return fmt.Errorf("%w: state dir version %q, expected %q", errs.ErrVersionMismatch, existing, storageFormatVersion)
	}

	return nil
}

// Start acquires the watch lock, subscribes the Watcher, and launches the
// Pipeline's batching loop in a background goroutine. force overrides a
// stale (non-live) lock, per spec.md §5.
func (p *Project) Start(ctx context.Context, force bool) error {
	lockPath := filepath.Join(p.StateDir, "meta", "watch.lock")

	lock, err := lockfile.Acquire(fsx.NewReal(), lockPath, force)
	if err != nil {
		return err
	}
	p.lock = lock

	watcher, err := fsevents.NewWatcher()
	if err != nil {
		_ = lock.Release()
		return fmt.Errorf("%w: %v", errs.ErrStorageError, err)
	}
	p.watcher = watcher

	rawEvents, err := watcher.Subscribe(p.WorkDir)
	if err != nil {
		_ = lock.Release()
		return fmt.Errorf("%w: %v", errs.ErrStorageError, err)
	}

	snapshot, err := p.DB.ListSnapshots(ctx, p.ID)
	if err != nil {
		_ = lock.Release()
		return err
	}

	pipeCfg := pipeline.Config{WindowMS: p.cfg.WindowMS, MaxBatchSpanMultiple: 10}
	p.pipe = pipeline.New(p.ID, p.WorkDir, pipeCfg, p.matcher, fsx.NewReal(), p.Blobs, p.Writer, p.Logger, snapshot)

	go func() {
		defer close(p.done)
		if err := p.pipe.Run(ctx, rawEvents); err != nil && err != context.Canceled {
			p.Logger.Error("pipeline stopped", zap.Error(err))
		}
	}()

	p.Logger.Info("watcher started", zap.String("work_dir", p.WorkDir))
	return nil
}

// Stop implements the shutdown sequence from spec.md §5: watcher stops,
// pipeline flushes (handled internally by Pipeline.Run observing ctx
// cancellation or channel close), then the lock file is removed last.
func (p *Project) Stop() error {
	if p.watcher != nil {
		if err := p.watcher.Unsubscribe(); err != nil {
			p.Logger.Warn("watcher unsubscribe failed", zap.Error(err))
		}
	}

	<-p.done

	if p.lock != nil {
		if err := p.lock.Release(); err != nil {
			return err
		}
	}

	p.Logger.Info("watcher stopped")
	return nil
}
