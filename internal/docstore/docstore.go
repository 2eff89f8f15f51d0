// Package docstore provides the key-partitioned document store that holds
// all durable bot state: per-user chat history and training data documents,
// plus an append-only training log. The store is the only durable state the
// retrieval core depends on; everything else (buffers, indexes, caches) is a
// rebuildable in-memory derivative.
package docstore

import (
	"context"
	"time"
)

// Document is a single stored document: a mapping of named fields to
// JSON-serialisable values.
type Document map[string]any

// Filter restricts a Query to documents whose named top-level field equals
// the given value.
type Filter struct {
	// Field is the top-level document field name.
	Field string
	// Value is the required value (compared as its JSON representation).
	Value any
}

// Stamp is a server-assigned write timestamp. Seq increases monotonically
// across all writes for the lifetime of the database file, so ordering and
// staleness comparisons never depend on wall-clock sanity. Time is the
// wall-clock time recorded alongside, for display only.
type Stamp struct {
	// Seq is the monotonic sequence number.
	Seq int64 `json:"seq"`
	// Time is the wall-clock time the stamp was issued.
	Time time.Time `json:"time"`
}

// After reports whether s was issued strictly after other.
func (s Stamp) After(other Stamp) bool { return s.Seq > other.Seq }

// IsZero reports whether s is the zero Stamp (never issued).
func (s Stamp) IsZero() bool { return s.Seq == 0 }

// Store persists and retrieves documents grouped into named collections.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document stored under (collection, key), or nil if no
	// such document exists. A missing document is not an error.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set writes the document under (collection, key). When merge is true,
	// fields present in doc are merged into the existing document; otherwise
	// the document is replaced wholesale.
	Set(ctx context.Context, collection, key string, doc Document, merge bool) error

	// Add appends doc to the collection under a generated key and returns
	// that key.
	Add(ctx context.Context, collection string, doc Document) (string, error)

	// Query returns documents in the collection matching all filters,
	// ordered by server-assigned sequence. If descending is true the newest
	// documents come first. limit <= 0 means no limit.
	Query(ctx context.Context, collection string, filters []Filter, descending bool, limit int) ([]Document, error)

	// Stamp issues a new server-assigned write stamp.
	Stamp(ctx context.Context) (Stamp, error)

	// Close releases any resources held by the store.
	Close() error
}
