// Package timeline is the relational index of records, ordered by project
// and time, with prev-pointer chains and a latest-snapshot table. It is
// backed by modernc.org/sqlite, the pure-Go driver used the same way (a
// blank driver import plus a pragma query-string) in the pack's
// hazyhaar-GoClode, mehmetkoksal-w-mind-palace, leonletto-thrum, and
// N2WQ-GoCluster snippets. The single-writer/many-reader connection split
// and the mutex-before-DB-call discipline are adapted from tk's
// pkg/mddb.MDDB[T] (pkg/mddb/mddb.go), minus its flock layer: cross-process
// exclusion is handled separately by internal/lockfile.
package timeline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ishowshao/meowdiff/internal/errs"
)

// DB is the timeline index for one project's state directory.
//
// writer is a single-connection *sql.DB guarded by writerMu, matching tk's
// "one writer connection behind a mutex" discipline (pkg/mddb/mddb.go).
// reader is a separate, multi-connection *sql.DB used for concurrent reads;
// WAL mode lets readers proceed while the writer holds its transaction.
type DB struct {
	writerMu sync.Mutex
	writer   *sql.DB
	reader   *sql.DB
}

// Open opens (creating if absent) the timeline database at path, applies
// pragmas, ensures the schema, and runs PRAGMA integrity_check.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open timeline writer connection: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open timeline reader connection: %w", err)
	}

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("ping timeline db: %w", err)
	}

	if err := ensureSchema(ctx, writer); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, err
	}

	if err := integrityCheck(ctx, writer); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, err
	}

	return &DB{writer: writer, reader: reader}, nil
}

// Close closes both connections.
func (db *DB) Close() error {
	writerErr := db.writer.Close()
	readerErr := db.reader.Close()

	if writerErr != nil {
		return writerErr
	}
	return readerErr
}

func integrityCheck(ctx context.Context, db *sql.DB) error {
	row := db.QueryRowContext(ctx, "PRAGMA integrity_check")

	var result string
	if err := row.Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIntegrityCheckFailed, err)
	}

	if result != "ok" {
		return fmt.Errorf("%w: %s", errs.ErrIntegrityCheckFailed, result)
	}

	return nil
}

// withWriter serializes access to the writer connection, mirroring tk's
// "mu is always acquired before the lock layer" ordering discipline
// (pkg/mddb/mddb.go), minus the flock step MeowDiff doesn't need in-process.
func (db *DB) withWriter(fn func(*sql.DB) error) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	return fn(db.writer)
}
