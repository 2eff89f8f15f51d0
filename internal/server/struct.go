package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// answerer is the interface the handlers call into the retrieval engine.
// *retrieval.Engine satisfies it; tests inject a fake.
type answerer interface {
	// Answer produces the bot's response to a user message.
	Answer(ctx context.Context, userID, message string) retrieval.Result
	// RecordFact stores a user-taught fact.
	RecordFact(ctx context.Context, userID, info string) (record.TrainingRecord, error)
	// TrainFromURL extracts a page's text and stores it as a fact.
	TrainFromURL(ctx context.Context, userID, rawURL string) (record.TrainingRecord, error)
	// Facts lists the user's accepted facts, newest first.
	Facts(ctx context.Context, userID string) ([]record.TrainingRecord, error)
}

// Server is the HTTP server exposing the bot's answer and training API.
type Server struct {
	// engine handles answer and training requests.
	engine answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments for this server instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// answerRequest is the JSON body for POST /api/answer.
type answerRequest struct {
	// UserID identifies the user whose history and facts apply.
	UserID string `json:"user_id"`
	// Message is the user's message text.
	Message string `json:"message"`
}

// answerResponse is the JSON response for POST /api/answer.
type answerResponse struct {
	// Response is the bot's reply text.
	Response string `json:"response"`
	// Outcome labels how the reply was produced (e.g. "generated",
	// "history_exact", "cached", "fallback").
	Outcome string `json:"outcome"`
}

// trainRequest is the JSON body for POST /api/train. Exactly one of Info or
// URL must be set.
type trainRequest struct {
	// UserID identifies the fact's owner.
	UserID string `json:"user_id"`
	// Info is the fact text to record.
	Info string `json:"info,omitempty"`
	// URL is a page whose readable text should be recorded instead.
	URL string `json:"url,omitempty"`
}

// trainResponse is the JSON response for POST /api/train.
type trainResponse struct {
	// Info is the stored fact text (may be extracted page text).
	Info string `json:"info"`
	// Type is the classified fact category.
	Type string `json:"type"`
	// Seq is the fact's write sequence number.
	Seq int64 `json:"seq"`
}

// factEntry is one fact in the GET /api/facts listing.
type factEntry struct {
	// Info is the fact text.
	Info string `json:"info"`
	// Type is the classified fact category.
	Type string `json:"type"`
	// Time is when the fact was recorded (RFC 3339).
	Time string `json:"time"`
}

// factsResponse is the JSON response for GET /api/facts.
type factsResponse struct {
	// UserID is the queried user.
	UserID string `json:"user_id"`
	// Facts lists the user's facts, newest first.
	Facts []factEntry `json:"facts"`
}
