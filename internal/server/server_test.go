package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/retrieval"
)

// okHandler is a downstream handler used by middleware tests.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// fakeEngine is a scripted answerer for handler tests.
type fakeEngine struct {
	// answerResult is returned by every Answer call.
	answerResult retrieval.Result
	// trainErr, when set, is returned by RecordFact and TrainFromURL.
	trainErr error
	// facts is returned by Facts.
	facts []record.TrainingRecord
	// factsErr, when set, is returned by Facts.
	factsErr error

	// lastUser and lastMessage capture the most recent Answer arguments.
	lastUser    string
	lastMessage string
	// trainedInfo captures the info passed to RecordFact.
	trainedInfo string
	// trainedURL captures the URL passed to TrainFromURL.
	trainedURL string
}

func (f *fakeEngine) Answer(_ context.Context, userID, message string) retrieval.Result {
	f.lastUser, f.lastMessage = userID, message
	return f.answerResult
}

func (f *fakeEngine) RecordFact(_ context.Context, _, info string) (record.TrainingRecord, error) {
	f.trainedInfo = info
	if f.trainErr != nil {
		return record.TrainingRecord{}, f.trainErr
	}
	return record.TrainingRecord{
		Info:      info,
		Type:      record.Classify(info),
		CreatedAt: docstore.Stamp{Seq: 7, Time: time.Now()},
	}, nil
}

func (f *fakeEngine) TrainFromURL(_ context.Context, _, rawURL string) (record.TrainingRecord, error) {
	f.trainedURL = rawURL
	if f.trainErr != nil {
		return record.TrainingRecord{}, f.trainErr
	}
	return record.TrainingRecord{
		Info:      "extracted page text",
		Type:      record.TypeGeneral,
		CreatedAt: docstore.Stamp{Seq: 8, Time: time.Now()},
	}, nil
}

func (f *fakeEngine) Facts(_ context.Context, _ string) ([]record.TrainingRecord, error) {
	if f.factsErr != nil {
		return nil, f.factsErr
	}
	return f.facts, nil
}

// newTestServer builds a Server over a fakeEngine with a fresh registry and
// a quiet logger. Rate limits are set high so handler tests never trip them.
func newTestServer(t *testing.T, engine *fakeEngine, apiKey string) *Server {
	t.Helper()

	s, err := New(engine, &Config{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		APIKey:    apiKey,
		RateLimit: 1000,
		RateBurst: 1000,
	}, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_NilEngine(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, prometheus.NewRegistry()); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

func TestHandleAnswer(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{answerResult: retrieval.Result{
		Text:    "[Gemini] Chào bạn!",
		Outcome: retrieval.OutcomeGenerated,
	}}
	s := newTestServer(t, engine, "")

	w := postJSON(t, s.Handler(), "/api/answer", answerRequest{UserID: "u1", Message: "xin chào"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp answerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Response != "[Gemini] Chào bạn!" {
		t.Errorf("response: got %q", resp.Response)
	}
	if resp.Outcome != string(retrieval.OutcomeGenerated) {
		t.Errorf("outcome: got %q", resp.Outcome)
	}
	if engine.lastUser != "u1" || engine.lastMessage != "xin chào" {
		t.Errorf("engine saw user=%q message=%q", engine.lastUser, engine.lastMessage)
	}
}

func TestHandleAnswer_MissingUserID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	w := postJSON(t, s.Handler(), "/api/answer", answerRequest{Message: "hi"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleAnswer_InvalidBody(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/answer", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleTrain_Info(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	s := newTestServer(t, engine, "")

	w := postJSON(t, s.Handler(), "/api/train", trainRequest{UserID: "u1", Info: "tên tôi là Minh"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp trainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Info != "tên tôi là Minh" {
		t.Errorf("info: got %q", resp.Info)
	}
	if resp.Type != string(record.TypeName) {
		t.Errorf("type: got %q, want %q", resp.Type, record.TypeName)
	}
	if resp.Seq != 7 {
		t.Errorf("seq: got %d, want 7", resp.Seq)
	}
}

func TestHandleTrain_URL(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	s := newTestServer(t, engine, "")

	w := postJSON(t, s.Handler(), "/api/train", trainRequest{UserID: "u1", URL: "https://example.com/about"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if engine.trainedURL != "https://example.com/about" {
		t.Errorf("engine saw url %q", engine.trainedURL)
	}
}

func TestHandleTrain_ExactlyOneOfInfoURL(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")

	// Neither set.
	w := postJSON(t, s.Handler(), "/api/train", trainRequest{UserID: "u1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("neither: got %d, want 400", w.Code)
	}

	// Both set.
	w = postJSON(t, s.Handler(), "/api/train", trainRequest{UserID: "u1", Info: "x", URL: "https://example.com"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("both: got %d, want 400", w.Code)
	}
}

func TestHandleTrain_ValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", retrieval.ErrDuplicateFact, http.StatusUnprocessableEntity},
		{"too_long", retrieval.ErrFactTooLong, http.StatusUnprocessableEntity},
		{"empty", retrieval.ErrEmptyFact, http.StatusUnprocessableEntity},
		{"backend", errors.New("store offline"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, &fakeEngine{trainErr: tc.err}, "")
			w := postJSON(t, s.Handler(), "/api/train", trainRequest{UserID: "u1", Info: "x"})
			if w.Code != tc.want {
				t.Errorf("status: got %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHandleFacts(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{facts: []record.TrainingRecord{
		{Info: "tôi 30 tuổi", Type: record.TypeAge, CreatedAt: docstore.Stamp{Seq: 2, Time: now}},
		{Info: "tên tôi là Minh", Type: record.TypeName, CreatedAt: docstore.Stamp{Seq: 1, Time: now.Add(-time.Hour)}},
	}}
	s := newTestServer(t, engine, "")

	req := httptest.NewRequest(http.MethodGet, "/api/facts?user_id=u1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp factsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.UserID != "u1" {
		t.Errorf("user_id: got %q", resp.UserID)
	}
	if len(resp.Facts) != 2 {
		t.Fatalf("facts: got %d, want 2", len(resp.Facts))
	}
	if resp.Facts[0].Info != "tôi 30 tuổi" || resp.Facts[0].Type != string(record.TypeAge) {
		t.Errorf("first fact: got %+v", resp.Facts[0])
	}
}

func TestHandleFacts_MissingUserID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/facts", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleFacts_StoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{factsErr: fmt.Errorf("docstore: offline")}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/facts?user_id=u1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
}

func TestAPIKey_ProtectsRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{answerResult: retrieval.Result{
		Text:    "ok",
		Outcome: retrieval.OutcomeGenerated,
	}}, "sekret")

	// Without a token.
	w := postJSON(t, s.Handler(), "/api/answer", answerRequest{UserID: "u1", Message: "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}

	// With the right token.
	buf, _ := json.Marshal(answerRequest{UserID: "u1", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/answer", bytes.NewReader(buf))
	req.Header.Set("Authorization", "Bearer sekret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token: got %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{answerResult: retrieval.Result{
		Text:    "ok",
		Outcome: retrieval.OutcomeCached,
	}}, "")

	postJSON(t, s.Handler(), "/api/answer", answerRequest{UserID: "u1", Message: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("cotienbot_answers_total")) {
		t.Error("answers counter missing from /metrics output")
	}
}
