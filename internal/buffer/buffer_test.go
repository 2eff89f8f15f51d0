package buffer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/record"
)

func newTestStore(t *testing.T) *docstore.SQLiteStore {
	t.Helper()
	s, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// failingStore wraps a Store and fails writes on demand.
type failingStore struct {
	docstore.Store
	failSet bool
}

var errBoom = errors.New("boom")

func (f *failingStore) Set(ctx context.Context, collection, key string, doc docstore.Document, merge bool) error {
	if f.failSet {
		return errBoom
	}
	return f.Store.Set(ctx, collection, key, doc, merge)
}

func chat(i int) record.ChatRecord {
	return record.ChatRecord{
		Message:  fmt.Sprintf("q%d", i),
		Response: fmt.Sprintf("a%d", i),
		Stamp:    docstore.Stamp{Seq: int64(i + 1)},
	}
}

func storedHistory(t *testing.T, s docstore.Store, userID string) []record.ChatRecord {
	t.Helper()
	doc, err := s.Get(context.Background(), record.UsersCollection, userID)
	if err != nil {
		t.Fatalf("get user doc: %v", err)
	}
	if doc == nil {
		return nil
	}
	return record.DecodeChats(doc[record.HistoryField])
}

func TestAppend_BelowBatchSizeBuffersOnly(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store, WithBatchSize(3))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Append(ctx, "u1", chat(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := len(b.Pending("u1")); got != 2 {
		t.Errorf("pending: got %d, want 2", got)
	}
	if got := storedHistory(t, store, "u1"); len(got) != 0 {
		t.Errorf("store written before batch size reached: %d records", len(got))
	}
}

func TestAppend_FlushAtBatchSize(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store, WithBatchSize(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Append(ctx, "u1", chat(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := len(b.Pending("u1")); got != 0 {
		t.Errorf("pending after flush: got %d, want 0", got)
	}
	hist := storedHistory(t, store, "u1")
	if len(hist) != 3 {
		t.Fatalf("stored history: got %d, want 3", len(hist))
	}
	if hist[0].Message != "q0" || hist[2].Message != "q2" {
		t.Errorf("order wrong: %+v", hist)
	}
}

func TestFlush_MergesWithStoredAndTruncates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store, WithBatchSize(100), WithMaxRetained(5))
	ctx := context.Background()

	// Pre-existing stored history.
	for i := 0; i < 4; i++ {
		if err := b.Append(ctx, "u1", chat(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Flush(ctx, "u1"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Four more pending: merged total 8, truncated to the newest 5.
	for i := 4; i < 8; i++ {
		if err := b.Append(ctx, "u1", chat(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Flush(ctx, "u1"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	hist := storedHistory(t, store, "u1")
	if len(hist) != 5 {
		t.Fatalf("stored history: got %d, want 5", len(hist))
	}
	if hist[0].Message != "q3" || hist[4].Message != "q7" {
		t.Errorf("truncation kept wrong records: %+v", hist)
	}
}

func TestFlush_FailureRetainsRecords(t *testing.T) {
	t.Parallel()
	inner := newTestStore(t)
	fs := &failingStore{Store: inner, failSet: true}
	b := New(fs, WithBatchSize(100))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Append(ctx, "u1", chat(i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := b.Flush(ctx, "u1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected flush failure, got %v", err)
	}
	if got := len(b.Pending("u1")); got != 3 {
		t.Fatalf("records lost on failed flush: pending %d, want 3", got)
	}

	// Store recovery: the same records flush cleanly afterwards.
	fs.failSet = false
	if err := b.Flush(ctx, "u1"); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	hist := storedHistory(t, inner, "u1")
	if len(hist) != 3 || hist[0].Message != "q0" {
		t.Errorf("history after recovery: %+v", hist)
	}
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store)

	if err := b.Flush(context.Background(), "nobody"); err != nil {
		t.Errorf("empty flush: %v", err)
	}
}

func TestDrain_FlushesAllUsers(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store, WithBatchSize(100))
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		if err := b.Append(ctx, u, chat(0)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for _, u := range []string{"u1", "u2", "u3"} {
		if got := storedHistory(t, store, u); len(got) != 1 {
			t.Errorf("user %s: stored %d records, want 1", u, len(got))
		}
		if got := len(b.Pending(u)); got != 0 {
			t.Errorf("user %s: pending %d after drain", u, got)
		}
	}
}

func TestBuffer_UsersIsolated(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	b := New(store, WithBatchSize(2))
	ctx := context.Background()

	if err := b.Append(ctx, "u1", chat(0)); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(ctx, "u2", chat(0)); err != nil {
		t.Fatal(err)
	}

	// Neither user reached the batch size; batches are per user.
	if got := storedHistory(t, store, "u1"); len(got) != 0 {
		t.Errorf("u1 flushed early")
	}
	if got := storedHistory(t, store, "u2"); len(got) != 0 {
		t.Errorf("u2 flushed early")
	}
}
