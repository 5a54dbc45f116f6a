package alerting

import (
	"sync"
	"time"
)

// slidingWindow counts sends inside a rolling time window. A sink whose
// window is full is skipped for the cycle, never disabled.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	sent   []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &slidingWindow{window: window, max: max}
}

// Allow records a send and returns true when the window still has room.
// The window rolls continuously: entries older than the span drop off.
func (w *slidingWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.sent[:0]
	for _, t := range w.sent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.sent = kept

	if w.max > 0 && len(w.sent) >= w.max {
		return false
	}
	w.sent = append(w.sent, now)
	return true
}
