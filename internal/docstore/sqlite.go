package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a Store backed by a local SQLite database. Documents are
// stored as JSON text; the stamps table provides the server-assigned
// monotonic sequence.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the bot database.
// It resolves to ~/.cotienbot/bot.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("docstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".cotienbot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("docstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "bot.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    collection   TEXT    NOT NULL,
    key          TEXT    NOT NULL,
    doc          TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection_seq
    ON documents (collection, seq);
CREATE TABLE IF NOT EXISTS stamps (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    issued_at    INTEGER NOT NULL  -- Unix timestamp (milliseconds)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// Stamp issues a new server-assigned write stamp by inserting a row into the
// stamps table. The AUTOINCREMENT rowid guarantees monotonicity across
// process restarts.
func (s *SQLiteStore) Stamp(ctx context.Context) (Stamp, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stamps (issued_at) VALUES (?)`, now.UnixMilli())
	if err != nil {
		return Stamp{}, fmt.Errorf("docstore: stamp: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Stamp{}, fmt.Errorf("docstore: stamp id: %w", err)
	}
	return Stamp{Seq: seq, Time: now}, nil
}

// Get returns the document stored under (collection, key), or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (Document, error) {
	const q = `SELECT doc FROM documents WHERE collection = ? AND key = ?`
	var raw string
	err := s.db.QueryRowContext(ctx, q, collection, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", collection, key, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s decode: %w", collection, key, err)
	}
	return doc, nil
}

// Set writes the document under (collection, key), replacing or merging with
// any existing document. Each Set consumes a fresh stamp so readers can order
// writes by sequence.
func (s *SQLiteStore) Set(ctx context.Context, collection, key string, doc Document, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, collection, key)
		if err != nil {
			return err
		}
		if existing != nil {
			for k, v := range doc {
				existing[k] = v
			}
			doc = existing
		}
	}

	stamp, err := s.Stamp(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: set %s/%s encode: %w", collection, key, err)
	}

	const q = `
INSERT INTO documents (collection, key, doc, seq) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, key) DO UPDATE SET doc = excluded.doc, seq = excluded.seq`
	if _, err := s.db.ExecContext(ctx, q, collection, key, string(raw), stamp.Seq); err != nil {
		return fmt.Errorf("docstore: set %s/%s: %w", collection, key, err)
	}
	return nil
}

// Add appends doc to the collection under a generated sequence-based key and
// returns that key.
func (s *SQLiteStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	stamp, err := s.Stamp(ctx)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s-%d", collection, stamp.Seq)

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("docstore: add to %s encode: %w", collection, err)
	}

	const q = `INSERT INTO documents (collection, key, doc, seq) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, collection, key, string(raw), stamp.Seq); err != nil {
		return "", fmt.Errorf("docstore: add to %s: %w", collection, err)
	}
	return key, nil
}

// Query returns documents in the collection matching all filters, ordered by
// server-assigned sequence. Filters compare top-level JSON fields via
// json_extract, so filter values must be strings or numbers.
func (s *SQLiteStore) Query(ctx context.Context, collection string, filters []Filter, descending bool, limit int) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT doc FROM documents WHERE collection = ?`)
	args := []any{collection}

	for _, f := range filters {
		sb.WriteString(` AND json_extract(doc, ?) = ?`)
		args = append(args, "$."+f.Field, f.Value)
	}

	sb.WriteString(` ORDER BY seq`)
	if descending {
		sb.WriteString(` DESC`)
	}
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("docstore: query %s scan: %w", collection, err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("docstore: query %s decode: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: query %s rows: %w", collection, err)
	}
	return docs, nil
}

// Ping verifies the database is reachable. Satisfies the server's readiness
// probe interface.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("docstore: ping: %w", err)
	}
	return nil
}

// Name returns the probe label for readiness responses.
func (s *SQLiteStore) Name() string { return "docstore" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}
