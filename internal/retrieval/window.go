package retrieval

import (
	"sync"
	"time"
)

const (
	// DefaultWindowLimit is the default number of generator calls allowed
	// per window.
	DefaultWindowLimit = 50
	// DefaultWindowSpan is the default window length.
	DefaultWindowSpan = time.Minute
)

// Window is a fixed-window rate limiter gating generator calls. The counter
// resets when a new window starts; rejected calls do not consume budget, so a
// burst of rejections never extends the lockout.
//
// A fixed window is used instead of a token bucket deliberately: the
// generator quota is an upstream per-minute API limit, and a fixed window
// mirrors how that quota actually resets. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	limit int
	span  time.Duration
	start time.Time
	count int

	// now is stubbed in tests.
	now func() time.Time
}

// NewWindow constructs a limiter allowing limit calls per span.
func NewWindow(limit int, span time.Duration) *Window {
	if limit <= 0 {
		limit = DefaultWindowLimit
	}
	if span <= 0 {
		span = DefaultWindowSpan
	}
	return &Window{
		limit: limit,
		span:  span,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed, consuming one unit of budget if
// so. A rejected call consumes nothing.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.now()
	if w.start.IsZero() || t.Sub(w.start) >= w.span {
		w.start = t
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// Ready reports whether budget remains in the current window without
// consuming any. The gate check: a request that will not reach the model
// (cache hit) must not spend budget.
func (w *Window) Ready() bool { return w.Remaining() > 0 }

// Remaining returns the unused budget in the current window, for metrics.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || w.now().Sub(w.start) >= w.span {
		return w.limit
	}
	return w.limit - w.count
}
