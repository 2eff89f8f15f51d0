package retrieval

import (
	"testing"
	"time"
)

func TestWindow_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	w := NewWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("call %d rejected below limit", i)
		}
	}
	if w.Allow() {
		t.Error("call above limit allowed")
	}
}

func TestWindow_ResetsAfterSpan(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	w := NewWindow(2, time.Minute)
	w.now = func() time.Time { return now }

	if !w.Allow() || !w.Allow() {
		t.Fatal("initial budget rejected")
	}
	if w.Allow() {
		t.Fatal("over-budget call allowed")
	}

	now = now.Add(61 * time.Second)
	if !w.Allow() {
		t.Error("call after window reset rejected")
	}
}

func TestWindow_RejectionsDoNotConsumeBudget(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	w := NewWindow(1, time.Minute)
	w.now = func() time.Time { return now }

	if !w.Allow() {
		t.Fatal("first call rejected")
	}
	// Hammering a full window must not push the reset point or the count.
	for i := 0; i < 100; i++ {
		if w.Allow() {
			t.Fatal("over-budget call allowed")
		}
	}

	now = now.Add(60 * time.Second)
	if !w.Allow() {
		t.Error("new window rejected after rejected burst")
	}
}

func TestWindow_ReadyDoesNotConsume(t *testing.T) {
	t.Parallel()

	w := NewWindow(1, time.Minute)
	for i := 0; i < 10; i++ {
		if !w.Ready() {
			t.Fatalf("probe %d reported exhausted window", i)
		}
	}
	if !w.Allow() {
		t.Fatal("budget consumed by Ready probes")
	}
	if w.Ready() {
		t.Error("exhausted window reported ready")
	}
}

func TestWindow_Remaining(t *testing.T) {
	t.Parallel()

	w := NewWindow(5, time.Minute)
	if got := w.Remaining(); got != 5 {
		t.Errorf("fresh window remaining: got %d, want 5", got)
	}
	w.Allow()
	w.Allow()
	if got := w.Remaining(); got != 3 {
		t.Errorf("remaining after 2 calls: got %d, want 3", got)
	}
}
