package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/ishowshao/meowdiff/internal/errs"
)

// BlobIncrement is one blob whose ref_count the commit transaction must
// increment by exactly one (inserting a ref_count=1 row if the blob is new).
type BlobIncrement struct {
	SHA       string
	SizeBytes int64
}

// SnapshotUpdate is one latest_snapshots row to upsert (SHA non-empty) or
// delete (SHA empty, on a delete FileEntry).
type SnapshotUpdate struct {
	Path string
	SHA  string
}

// CommitInput bundles everything the Record Writer's step 5 transaction
// needs: the records/<id> row, blob_refs increments, latest_snapshots
// changes.
type CommitInput struct {
	Record      Record
	BlobIncrs   []BlobIncrement
	Snapshots   []SnapshotUpdate
}

// Commit performs the Record Writer's single transaction: insert the
// records row, upsert blob_refs increments, upsert/delete latest_snapshots
// rows. On transient lock contention it retries once before surfacing
// errs.ErrStorageError, matching tk's one-retry generic pattern for
// transient SQLite busy errors (internal/store/sql.go: sqliteBusyTimeout).
func (db *DB) Commit(ctx context.Context, in CommitInput) error {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		lastErr = db.withWriter(func(conn *sql.DB) error {
			return commitOnce(ctx, conn, in)
		})

		if lastErr == nil {
			return nil
		}

		if !isTransientBusy(lastErr) {
			return fmt.Errorf("%w: %v", errs.ErrStorageError, lastErr)
		}
	}

	return fmt.Errorf("%w: %v", errs.ErrStorageError, lastErr)
}

func commitOnce(ctx context.Context, conn *sql.DB, in CommitInput) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	filesJSON, err := json.Marshal(in.Record.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	statsJSON, err := json.Marshal(in.Record.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
			(record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.Record.RecordID,
		in.Record.ProjectID,
		in.Record.StartedAt.UnixMilli(),
		in.Record.EndedAt.UnixMilli(),
		string(filesJSON),
		string(statsJSON),
		in.Record.PrevRecordID,
		in.Record.DiffHash,
		in.Record.ToolVersion,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	now := time.Now().UnixMilli()

	for _, incr := range in.BlobIncrs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blob_refs (sha, ref_count, size_bytes, created_ts)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(sha) DO UPDATE SET ref_count = ref_count + 1
		`, incr.SHA, incr.SizeBytes, now)
		if err != nil {
			return fmt.Errorf("incref blob %s: %w", incr.SHA, err)
		}
	}

	for _, snap := range in.Snapshots {
		if snap.SHA == "" {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM latest_snapshots WHERE project_id = ? AND path = ?
			`, in.Record.ProjectID, snap.Path)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO latest_snapshots (project_id, path, sha, record_id)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(project_id, path) DO UPDATE SET sha = excluded.sha, record_id = excluded.record_id
			`, in.Record.ProjectID, snap.Path, snap.SHA, in.Record.RecordID)
		}

		if err != nil {
			return fmt.Errorf("update snapshot %s: %w", snap.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ApplySnapshotUpdates commits latest_snapshots changes in one transaction
// without inserting a records row, used by Restore (spec.md §4.5 step 5:
// restore does not itself produce a record).
func (db *DB) ApplySnapshotUpdates(ctx context.Context, projectID string, updates []SnapshotUpdate) error {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		lastErr = db.withWriter(func(conn *sql.DB) error {
			tx, err := conn.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin snapshot tx: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			for _, u := range updates {
				if u.SHA == "" {
					_, err = tx.ExecContext(ctx, `
						DELETE FROM latest_snapshots WHERE project_id = ? AND path = ?
					`, projectID, u.Path)
				} else {
					_, err = tx.ExecContext(ctx, `
						INSERT INTO latest_snapshots (project_id, path, sha, record_id)
						VALUES (?, ?, ?, '')
						ON CONFLICT(project_id, path) DO UPDATE SET sha = excluded.sha
					`, projectID, u.Path, u.SHA)
				}

				if err != nil {
					return fmt.Errorf("apply snapshot update %s: %w", u.Path, err)
				}
			}

			return tx.Commit()
		})

		if lastErr == nil {
			return nil
		}

		if !isTransientBusy(lastErr) {
			return fmt.Errorf("%w: %v", errs.ErrStorageError, lastErr)
		}
	}

	return fmt.Errorf("%w: %v", errs.ErrStorageError, lastErr)
}

// isTransientBusy reports whether err looks like a SQLITE_BUSY/SQLITE_LOCKED
// condition worth retrying once.
func isTransientBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		msg := strings.ToLower(sqliteErr.Error())
		return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
