// Package blobstore is the content-addressed, compressed file-contents
// store with reference counting described in spec.md §4.1. Hashing uses
// lukechampine.com/blake3, the BLAKE3 library grounded in the pack's
// jcalabro-atlas and primal-host-primal-pds manifests; compression uses
// github.com/klauspost/compress/zstd, used the same way across the pack
// (DataBeSparkling-ribasushi-ltsh, rpcpool-yellowstone-faithful,
// steveyegge-beads) for compressed blob storage.
package blobstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/timeline"
)

// Store is the blob store for one project's state directory.
type Store struct {
	dir    string
	fs     fsx.FS
	writer *fsx.AtomicWriter
	locker *fsx.Locker
	db     *timeline.DB
}

// New returns a Store rooted at dir (normally "<project-dir>/blobs"). db
// supplies ref-count bookkeeping for Decref/RefCount; the Record Writer's
// own commit transaction (internal/writer) handles ref-count increments, so
// Put here only writes content-addressed bytes to disk.
//
// Concurrent Put of the same sha is serialized with an internal/fsx.Locker
// (adapted from tk's internal/fs/lock.go) held on a per-sha lock file,
// rather than an in-process-only mutex, so the exclusion also holds between
// separate processes that open the same blob directory.
func New(dir string, fs fsx.FS, db *timeline.DB) *Store {
	return &Store{
		dir:    dir,
		fs:     fs,
		writer: fsx.NewAtomicWriter(fs),
		locker: fsx.NewLocker(fs),
		db:     db,
	}
}

// Hash returns the hex-encoded BLAKE3 digest of data, the "sha" used
// throughout the timeline and blob layout.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put compresses and writes data under its content hash if absent.
// Concurrent Put calls for the same sha are serialized so a slow writer
// never races a second writer for the identical content; the second caller
// observes the already-written file and returns immediately. Put does not
// touch blob_refs — the Record Writer's commit transaction owns ref-count
// bookkeeping (spec.md §4.1 "Guarantees").
func (s *Store) Put(ctx context.Context, data []byte) (sha string, size int64, err error) {
	sha = Hash(data)

	path := s.pathFor(sha)

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("mkdir blob dir: %w", err)
	}

	lock, err := s.locker.Lock(path + ".lock")
	if err != nil {
		return "", 0, fmt.Errorf("lock blob %s: %w", sha, err)
	}
	defer func() { _ = lock.Close() }()

	exists, err := s.fs.Exists(path)
	if err != nil {
		return "", 0, fmt.Errorf("check blob exists: %w", err)
	}
	if exists {
		info, err := s.fs.Stat(path)
		if err != nil {
			return "", 0, fmt.Errorf("stat existing blob: %w", err)
		}
		return sha, info.Size(), nil
	}

	compressed, err := compress(data)
	if err != nil {
		return "", 0, fmt.Errorf("compress blob %s: %w", sha, err)
	}

	if err := s.writer.WriteWithDefaults(path, bytes.NewReader(compressed)); err != nil {
		return "", 0, fmt.Errorf("write blob %s: %w", sha, err)
	}

	return sha, int64(len(compressed)), nil
}

// Get decompresses and returns the bytes stored for sha. Returns
// errs.ErrBlobMissing if no file exists, errs.ErrBlobCorrupt if the
// decompressed bytes do not hash to sha.
func (s *Store) Get(ctx context.Context, sha string) ([]byte, error) {
	path := s.pathFor(sha)

	exists, err := s.fs.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("check blob exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", errs.ErrBlobMissing, sha)
	}

	compressed, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", sha, err)
	}

	data, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %v", errs.ErrBlobCorrupt, sha, err)
	}

	if Hash(data) != sha {
		return nil, fmt.Errorf("%w: %s", errs.ErrBlobCorrupt, sha)
	}

	return data, nil
}

// Exists reports whether a blob file is present on disk for sha.
func (s *Store) Exists(ctx context.Context, sha string) (bool, error) {
	exists, err := s.fs.Exists(s.pathFor(sha))
	if err != nil {
		return false, fmt.Errorf("check blob exists: %w", err)
	}
	return exists, nil
}

// Verify re-hashes the decompressed bytes for sha (via Get) and reports a
// mismatch as errs.ErrBlobCorrupt.
func (s *Store) Verify(ctx context.Context, sha string) error {
	_, err := s.Get(ctx, sha)
	return err
}

// Decref decrements sha's ref_count by one via the timeline index.
func (s *Store) Decref(ctx context.Context, sha string) error {
	return s.db.Decref(ctx, sha)
}

// RefCount reports sha's current ref_count.
func (s *Store) RefCount(ctx context.Context, sha string) (count int, ok bool, err error) {
	return s.db.BlobRefCount(ctx, sha)
}

func (s *Store) pathFor(sha string) string {
	prefix := sha
	if len(prefix) > 2 {
		prefix = sha[:2]
	}
	return filepath.Join(s.dir, prefix, sha+".zst")
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return dec.DecodeAll(data, nil)
}
