// Package server implements the HTTP API in front of the retrieval engine:
// answering messages, recording training facts, listing facts, and the usual
// operational endpoints (health, readiness, metrics).
// The server is started by the `cotienbot serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/retrieval"
)

// New constructs a Server over the given engine. reg receives the server's
// Prometheus metrics; pass a fresh registry in tests.
func New(engine answerer, cfg *Config, reg *prometheus.Registry) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Generation plus retries can take a while.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/answer", rl.middleware(http.HandlerFunc(s.handleAnswer)))
	mux.Handle("POST /api/train", rl.middleware(http.HandlerFunc(s.handleTrain)))
	mux.Handle("GET /api/facts", rl.middleware(http.HandlerFunc(s.handleFacts)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: COTIENBOT_API_KEY not set, API authentication disabled")
	}

	handler := requestLogger(cfg.Logger, s.withMetrics(authMiddleware(cfg.APIKey, mux)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler exposes the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAnswer handles POST /api/answer. The engine never fails outward, so
// this endpoint only rejects malformed requests.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res := s.engine.Answer(r.Context(), req.UserID, req.Message)
	s.metrics.answersTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.metrics.answerDurationSeconds.WithLabelValues(string(res.Outcome)).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, answerResponse{
		Response: res.Text,
		Outcome:  string(res.Outcome),
	})
}

// handleTrain handles POST /api/train, accepting either raw fact text or a
// URL to extract.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if (req.Info == "") == (req.URL == "") {
		http.Error(w, "exactly one of info or url is required", http.StatusBadRequest)
		return
	}

	var (
		rec record.TrainingRecord
		err error
	)
	if req.URL != "" {
		rec, err = s.engine.TrainFromURL(r.Context(), req.UserID, req.URL)
	} else {
		rec, err = s.engine.RecordFact(r.Context(), req.UserID, req.Info)
	}
	if err != nil {
		s.metrics.trainTotal.WithLabelValues("rejected").Inc()
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, retrieval.ErrEmptyFact),
			errors.Is(err, retrieval.ErrFactTooLong),
			errors.Is(err, retrieval.ErrDuplicateFact):
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.metrics.trainTotal.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusCreated, trainResponse{
		Info: rec.Info,
		Type: string(rec.Type),
		Seq:  rec.CreatedAt.Seq,
	})
}

// handleFacts handles GET /api/facts?user_id=... for operator inspection.
func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	facts, err := s.engine.Facts(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("facts: listing failed",
			slog.String("error", err.Error()))
		http.Error(w, "facts unavailable", http.StatusInternalServerError)
		return
	}

	resp := factsResponse{UserID: userID, Facts: []factEntry{}}
	for _, f := range facts {
		resp.Facts = append(resp.Facts, factEntry{
			Info: f.Info,
			Type: string(f.Type),
			Time: f.CreatedAt.Time.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
