package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubPinger is a Pinger whose result is fixed at construction.
type stubPinger struct {
	name string
	err  error
}

func (p stubPinger) Ping(context.Context) error { return p.err }
func (p stubPinger) Name() string               { return p.name }

func getReady(t *testing.T, s *Server) (*httptest.ResponseRecorder, readyResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp readyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return w, resp
}

// TestHandleReady_NoPingers verifies liveness-only mode: no probes configured
// means the server reports ready.
func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	w, resp := getReady(t, s)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
	if !resp.Ready {
		t.Error("expected ready=true with no pingers")
	}
}

// TestHandleReady_AllHealthy verifies a 200 with per-dependency checks when
// every probe succeeds.
func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	s.pingers = []Pinger{
		stubPinger{name: "docstore"},
		stubPinger{name: "qdrant"},
	}

	w, resp := getReady(t, s)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks: got %d, want 2", len(resp.Checks))
	}
	if resp.Checks[0].Name != "docstore" || !resp.Checks[0].OK {
		t.Errorf("first check: got %+v", resp.Checks[0])
	}
}

// TestHandleReady_OneFailing verifies a 503 with the failing dependency's
// error included when any probe fails.
func TestHandleReady_OneFailing(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	s.pingers = []Pinger{
		stubPinger{name: "docstore"},
		stubPinger{name: "qdrant", err: errors.New("connection refused")},
	}

	w, resp := getReady(t, s)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks[1].OK || resp.Checks[1].Error == "" {
		t.Errorf("failing check: got %+v", resp.Checks[1])
	}
}

// TestMultiPinger verifies aggregation: first failure wins and is labelled
// with the dependency name.
func TestMultiPinger(t *testing.T) {
	t.Parallel()

	mp := NewMultiPinger(
		stubPinger{name: "a"},
		stubPinger{name: "b", err: errors.New("down")},
		stubPinger{name: "c"},
	)
	err := mp.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error from failing pinger")
	}
	if got := err.Error(); got != "b: down" {
		t.Errorf("error: got %q, want %q", got, "b: down")
	}

	if err := NewMultiPinger(stubPinger{name: "a"}).Ping(context.Background()); err != nil {
		t.Errorf("all-healthy MultiPinger: got %v", err)
	}
}
