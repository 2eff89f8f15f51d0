package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus instruments for one server instance.
// They are registered on the registry passed to [New], so tests can use a
// fresh registry and avoid duplicate-registration panics.
type serverMetrics struct {
	// httpRequestsTotal counts HTTP requests by method, path and status code.
	httpRequestsTotal *prometheus.CounterVec
	// httpDurationSeconds observes request latency by method and path.
	httpDurationSeconds *prometheus.HistogramVec
	// answersTotal counts answered messages by outcome.
	answersTotal *prometheus.CounterVec
	// answerDurationSeconds observes time spent producing an answer, by outcome.
	answerDurationSeconds *prometheus.HistogramVec
	// trainTotal counts training requests by result (accepted, rejected).
	trainTotal *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		httpRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cotienbot",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled, by method, path and status code.",
		}, []string{"method", "path", "code"}),
		httpDurationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cotienbot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		answersTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cotienbot",
			Name:      "answers_total",
			Help:      "Answered messages, by outcome.",
		}, []string{"outcome"}),
		answerDurationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cotienbot",
			Name:      "answer_duration_seconds",
			Help:      "Time spent producing an answer, by outcome.",
			// Answers range from cache hits (microseconds) to LLM calls (seconds).
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		trainTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cotienbot",
			Name:      "train_requests_total",
			Help:      "Training requests, by result.",
		}, []string{"result"}),
	}
}

// withMetrics records request count and latency for every handled request.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(rw.status),
		).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(
			r.Method, r.URL.Path,
		).Observe(time.Since(start).Seconds())
	})
}
