package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ishowshao/meowdiff/internal/errs"
)

// ListOptions filters List's indexed range scan on (project_id, ts_end DESC).
type ListOptions struct {
	ProjectID string
	FromTS    *time.Time
	ToTS      *time.Time
	Limit     int
}

// List returns records for a project ordered by ts_end descending, the
// index scan spec.md §4.5 names.
func (db *DB) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	query := `
		SELECT record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version
		FROM records
		WHERE project_id = ?
	`
	args := []any{opts.ProjectID}

	if opts.FromTS != nil {
		query += " AND ts_end >= ?"
		args = append(args, opts.FromTS.UnixMilli())
	}
	if opts.ToTS != nil {
		query += " AND ts_end <= ?"
		args = append(args, opts.ToTS.UnixMilli())
	}

	query += " ORDER BY ts_end DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// Show reads one records row by record_id.
func (db *DB) Show(ctx context.Context, recordID string) (Record, error) {
	row := db.reader.QueryRowContext(ctx, `
		SELECT record_id, project_id, ts_start, ts_end, files_json, stats_json, prev_record_id, diff_hash, tool_version
		FROM records WHERE record_id = ?
	`, recordID)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("%w: %s", errs.ErrRecordNotFound, recordID)
		}
		return Record{}, err
	}

	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec          Record
		tsStart      int64
		tsEnd        int64
		filesJSON    string
		statsJSON    string
		prevRecordID sql.NullString
	)

	err := row.Scan(&rec.RecordID, &rec.ProjectID, &tsStart, &tsEnd, &filesJSON, &statsJSON, &prevRecordID, &rec.DiffHash, &rec.ToolVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, sql.ErrNoRows
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.StartedAt = time.UnixMilli(tsStart).UTC()
	rec.EndedAt = time.UnixMilli(tsEnd).UTC()

	if prevRecordID.Valid {
		id := prevRecordID.String
		rec.PrevRecordID = &id
	}

	if err := json.Unmarshal([]byte(filesJSON), &rec.Files); err != nil {
		return Record{}, fmt.Errorf("unmarshal files_json: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
		return Record{}, fmt.Errorf("unmarshal stats_json: %w", err)
	}

	return rec, nil
}

// LatestRecordID returns the project's most recently committed record_id,
// used to populate a new Record's prev_record_id. Returns ("", nil) for a
// project with no committed records yet.
func (db *DB) LatestRecordID(ctx context.Context, projectID string) (string, error) {
	row := db.reader.QueryRowContext(ctx, `
		SELECT record_id FROM records
		WHERE project_id = ?
		ORDER BY ts_end DESC
		LIMIT 1
	`, projectID)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("latest record id: %w", err)
	}

	return id, nil
}

// GetSnapshot reads one latest_snapshots row. ok is false if no row exists
// (path has no prior recorded state, or was last deleted).
func (db *DB) GetSnapshot(ctx context.Context, projectID, path string) (sha string, ok bool, err error) {
	row := db.reader.QueryRowContext(ctx, `
		SELECT sha FROM latest_snapshots WHERE project_id = ? AND path = ?
	`, projectID, path)

	if err := row.Scan(&sha); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get snapshot: %w", err)
	}

	return sha, true, nil
}

// ListSnapshots returns every latest_snapshots row for a project, used to
// warm the in-memory cache on startup (§9: "write-through cache over the DB
// table").
func (db *DB) ListSnapshots(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT path, sha FROM latest_snapshots WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, sha string
		if err := rows.Scan(&path, &sha); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[path] = sha
	}

	return out, rows.Err()
}

// BlobRefCount reads one blob's current ref count. Used by
// blobstore.Store.RefCount and tests; ok is false if no row exists.
func (db *DB) BlobRefCount(ctx context.Context, sha string) (count int, ok bool, err error) {
	row := db.reader.QueryRowContext(ctx, `SELECT ref_count FROM blob_refs WHERE sha = ?`, sha)

	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("blob ref count: %w", err)
	}

	return count, true, nil
}

// Decref decrements a blob's ref count by one. Reaching zero leaves the row
// in place (marked reclaimable by a future prune pass, per spec.md §4.1);
// it does not delete the row or the blob file.
func (db *DB) Decref(ctx context.Context, sha string) error {
	return db.withWriter(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE blob_refs SET ref_count = ref_count - 1 WHERE sha = ? AND ref_count > 0
		`, sha)
		if err != nil {
			return fmt.Errorf("%w: decref %s: %v", errs.ErrStorageError, sha, err)
		}
		return nil
	})
}
