// Package buffer batches chat-history writes so each exchange does not cost a
// store round trip. Records accumulate in memory per user and are flushed to
// the document store in batches; readers merge the in-memory tail with the
// stored history to see a consistent view.
package buffer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/syncx"
)

const (
	// DefaultBatchSize is the number of pending records per user that
	// triggers a flush.
	DefaultBatchSize = 10
	// DefaultMaxRetained is the number of most-recent history records kept
	// in the store per user after a flush.
	DefaultMaxRetained = 50
)

// Buffer accumulates chat records per user and writes them to the store in
// batches. Safe for concurrent use; flushes for different users proceed
// independently, while operations on the same user are serialised.
type Buffer struct {
	// store is the durable destination for flushed history.
	store docstore.Store
	// batchSize is the per-user pending count that triggers a flush.
	batchSize int
	// maxRetained bounds the stored history length per user.
	maxRetained int

	// users serialises store access per user so a flush never races a
	// concurrent flush or read for the same user.
	users *syncx.KeyedMutex

	// pending holds not-yet-flushed records per user. Its internal lock
	// covers map access only and is never held across store calls; the
	// per-user lock covers the full flush round trip.
	pending *syncx.Map[string, []record.ChatRecord]
}

// Option customises a Buffer.
type Option func(*Buffer)

// WithBatchSize overrides the flush-triggering batch size.
func WithBatchSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithMaxRetained overrides the stored history bound.
func WithMaxRetained(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxRetained = n
		}
	}
}

// New constructs a Buffer writing to the given store.
func New(store docstore.Store, opts ...Option) *Buffer {
	b := &Buffer{
		store:       store,
		batchSize:   DefaultBatchSize,
		maxRetained: DefaultMaxRetained,
		users:       syncx.NewKeyedMutex(),
		pending:     syncx.NewMap[string, []record.ChatRecord](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds a record to the user's pending batch, flushing when the batch
// size is reached. A flush failure is returned but the appended record is
// retained, so no exchange is ever lost to a transient store error.
func (b *Buffer) Append(ctx context.Context, userID string, rec record.ChatRecord) error {
	unlock := b.users.Lock(userID)

	recs, _ := b.pending.Load(userID)
	recs = append(recs, rec)
	b.pending.Store(userID, recs)
	full := len(recs) >= b.batchSize

	unlock()

	if !full {
		return nil
	}
	return b.Flush(ctx, userID)
}

// Pending returns the user's in-memory records, oldest first. The returned
// slice is a copy.
func (b *Buffer) Pending(userID string) []record.ChatRecord {
	unlock := b.users.Lock(userID)
	defer unlock()

	recs, _ := b.pending.Load(userID)
	out := make([]record.ChatRecord, len(recs))
	copy(out, recs)
	return out
}

// Flush writes the user's pending records to the store using read-merge-write:
// the stored history is read, pending records are appended, the result is
// truncated to the newest maxRetained records and written back. On failure
// the records return to the front of the pending batch.
func (b *Buffer) Flush(ctx context.Context, userID string) error {
	unlock := b.users.Lock(userID)
	defer unlock()
	return b.flushLocked(ctx, userID)
}

// flushLocked does the flush work. The caller holds the user's lock, which
// serialises the store round trip against other operations on the same user
// without blocking any other user.
func (b *Buffer) flushLocked(ctx context.Context, userID string) error {
	recs, _ := b.pending.Load(userID)
	if len(recs) == 0 {
		return nil
	}
	b.pending.Delete(userID)

	err := b.writeBack(ctx, userID, recs)
	if err != nil {
		// Retain for the next flush attempt. Records appended while the
		// store call was in flight do not exist (the user lock is held),
		// so prepending preserves order.
		current, _ := b.pending.Load(userID)
		b.pending.Store(userID, append(recs, current...))
		return fmt.Errorf("buffer: flush user %s: %w", userID, err)
	}

	logging.FromContext(ctx).Debug("buffer: flushed",
		slog.String("user_id", userID),
		slog.Int("records", len(recs)),
	)
	return nil
}

func (b *Buffer) writeBack(ctx context.Context, userID string, recs []record.ChatRecord) error {
	doc, err := b.store.Get(ctx, record.UsersCollection, userID)
	if err != nil {
		return err
	}

	var history []record.ChatRecord
	if doc != nil {
		history = record.DecodeChats(doc[record.HistoryField])
	}
	history = append(history, recs...)
	if len(history) > b.maxRetained {
		history = history[len(history)-b.maxRetained:]
	}

	return b.store.Set(ctx, record.UsersCollection, userID,
		docstore.Document{record.HistoryField: record.EncodeChats(history)}, true)
}

// Drain flushes every user's pending records. Called at shutdown; errors are
// aggregated so one failing user does not abandon the rest.
func (b *Buffer) Drain(ctx context.Context) error {
	var firstErr error
	for _, userID := range b.pending.Keys() {
		if err := b.Flush(ctx, userID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logging.FromContext(ctx).Error("buffer: drain flush failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return firstErr
}
