package blobstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ishowshao/meowdiff/internal/blobstore"
	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/timeline"
)

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()

	dir := t.TempDir()
	db, err := timeline.Open(context.Background(), filepath.Join(dir, "timeline.db"))
	if err != nil {
		t.Fatalf("timeline.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return blobstore.New(filepath.Join(dir, "blobs"), fsx.NewReal(), db)
}

func TestPutGet_RoundTrips(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	content := []byte("hello\nworld\n")

	sha, size, err := store.Put(ctx, content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if size <= 0 {
		t.Fatalf("size=%d, want > 0", size)
	}
	if sha != blobstore.Hash(content) {
		t.Fatalf("sha=%q, want %q", sha, blobstore.Hash(content))
	}

	got, err := store.Get(ctx, sha)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content=%q, want %q", got, content)
	}
}

func TestGet_MissingBlobReturnsErrBlobMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Get(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, errs.ErrBlobMissing) {
		t.Fatalf("err=%v, want wrapping ErrBlobMissing", err)
	}
}

func TestExists_TrueAfterPut(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	sha, _, err := store.Put(ctx, []byte("data"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, sha)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("Exists=false, want true after Put")
	}
}

func TestPut_ConcurrentSameContentIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("concurrent content")

	var wg sync.WaitGroup
	shas := make([]string, 20)
	errsOut := make([]error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sha, _, err := store.Put(ctx, content)
			shas[i] = sha
			errsOut[i] = err
		}(i)
	}
	wg.Wait()

	want := blobstore.Hash(content)
	for i, err := range errsOut {
		if err != nil {
			t.Fatalf("Put[%d]: %v", i, err)
		}
		if shas[i] != want {
			t.Fatalf("Put[%d] sha=%q, want %q", i, shas[i], want)
		}
	}
}
