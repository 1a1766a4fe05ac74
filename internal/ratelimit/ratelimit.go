// Package ratelimit keeps outbound API calls under a provider's published quota.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrLimited is returned when a call would exceed the window quota.
var ErrLimited = errors.New("rate limit exceeded")

// Window is a sliding-window limiter: at most max calls in any period of length window.
// It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	calls  []time.Time // oldest first
}

// NewWindow returns a limiter. A non-positive max disables limiting.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{max: max, window: window, now: time.Now}
}

// WithClock replaces the time source.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// Acquire records a call, or returns ErrLimited without recording one.
func (w *Window) Acquire() error {
	if w.max <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.calls) >= w.max {
		return ErrLimited
	}
	w.calls = append(w.calls, now)
	return nil
}

// Remaining reports how many calls are still available in the current window.
func (w *Window) Remaining() int {
	if w.max <= 0 {
		return -1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return w.max - len(w.calls)
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
