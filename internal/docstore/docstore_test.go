package docstore

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	doc, err := s.Get(context.Background(), "users", "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil document for missing key, got %v", doc)
	}
}

func TestSet_ReplaceAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "users", "u1", Document{"name": "Anh", "age": float64(30)}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "users", "u1", Document{"name": "Binh"}, false); err != nil {
		t.Fatalf("set replace: %v", err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "Binh" {
		t.Errorf("name: got %v, want Binh", doc["name"])
	}
	if _, ok := doc["age"]; ok {
		t.Errorf("replace should drop old fields, still has age: %v", doc["age"])
	}
}

func TestSet_Merge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "users", "u1", Document{"name": "Anh", "city": "Hanoi"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "users", "u1", Document{"city": "Saigon"}, true); err != nil {
		t.Fatalf("set merge: %v", err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "Anh" {
		t.Errorf("merge should keep name, got %v", doc["name"])
	}
	if doc["city"] != "Saigon" {
		t.Errorf("merge should update city, got %v", doc["city"])
	}
}

func TestSet_MergeOnMissingCreates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "users", "fresh", Document{"name": "Chi"}, true); err != nil {
		t.Fatalf("set merge on missing: %v", err)
	}
	doc, err := s.Get(ctx, "users", "fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "Chi" {
		t.Errorf("got %v, want Chi", doc["name"])
	}
}

func TestStamp_Monotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var prev Stamp
	for i := 0; i < 5; i++ {
		st, err := s.Stamp(ctx)
		if err != nil {
			t.Fatalf("stamp: %v", err)
		}
		if !st.After(prev) {
			t.Fatalf("stamp %d (seq %d) not after previous (seq %d)", i, st.Seq, prev.Seq)
		}
		prev = st
	}
	if prev.IsZero() {
		t.Error("issued stamp reported as zero")
	}
}

func TestAdd_And_Query(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, d := range []Document{
		{"user_id": "u1", "info": "ten la Anh"},
		{"user_id": "u2", "info": "song o Hue"},
		{"user_id": "u1", "info": "thich ca phe"},
	} {
		if _, err := s.Add(ctx, "training_log", d); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	docs, err := s.Query(ctx, "training_log", []Filter{{Field: "user_id", Value: "u1"}}, false, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0]["info"] != "ten la Anh" || docs[1]["info"] != "thich ca phe" {
		t.Errorf("ascending order wrong: %v", docs)
	}

	desc, err := s.Query(ctx, "training_log", []Filter{{Field: "user_id", Value: "u1"}}, true, 1)
	if err != nil {
		t.Fatalf("query desc: %v", err)
	}
	if len(desc) != 1 || desc[0]["info"] != "thich ca phe" {
		t.Errorf("descending limit 1 wrong: %v", desc)
	}
}

func TestQuery_EmptyCollection(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	docs, err := s.Query(context.Background(), "nothing", nil, false, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d docs, want 0", len(docs))
	}
}

func TestCollections_Isolated(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "chats", "u1", Document{"message": "hi"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err := s.Get(ctx, "training", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc != nil {
		t.Errorf("key leaked across collections: %v", doc)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	if s.Name() != "docstore" {
		t.Errorf("name: got %q", s.Name())
	}
}
