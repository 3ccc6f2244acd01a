package timeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ishowshao/meowdiff/internal/errs"
)

// currentSchemaVersion is tracked via PRAGMA user_version, the same
// mechanism tk uses to detect a stale index (internal/store/sql.go:
// currentSchemaVersion / storedSchemaVersion) — here it only gates startup,
// it never triggers an automatic reindex.
const currentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	record_id       TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	ts_start        INTEGER NOT NULL,
	ts_end          INTEGER NOT NULL,
	files_json      TEXT NOT NULL,
	stats_json      TEXT NOT NULL,
	prev_record_id  TEXT,
	diff_hash       TEXT NOT NULL,
	tool_version    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_records_ts ON records(project_id, ts_end DESC);
CREATE INDEX IF NOT EXISTS idx_records_prev ON records(prev_record_id);

CREATE TABLE IF NOT EXISTS blob_refs (
	sha         TEXT PRIMARY KEY,
	ref_count   INTEGER NOT NULL,
	size_bytes  INTEGER NOT NULL,
	created_ts  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS latest_snapshots (
	project_id  TEXT NOT NULL,
	path        TEXT NOT NULL,
	sha         TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	PRIMARY KEY (project_id, path)
);
`

// ensureSchema creates the tables/indexes if absent and checks the stored
// schema version, mirroring tk's currentSchemaVersion/storedSchemaVersion
// startup check.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := storedSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	if version == 0 {
		return setSchemaVersion(ctx, db, currentSchemaVersion)
	}

	if version != currentSchemaVersion {
		return fmt.Errorf("%w: timeline schema version %d, binary supports %d", errs.ErrVersionMismatch, version, currentSchemaVersion)
	}

	return nil
}

func storedSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

func setSchemaVersion(ctx context.Context, db *sql.DB, version int) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}
