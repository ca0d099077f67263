// Package ratelimit implements the fixed-window request limiter of spec
// §4.7/§6.5: a one-minute sliding window per client key, refusing requests
// once a configured ceiling is reached. This is deliberately NOT built on
// golang.org/x/time/rate — that package implements token-bucket
// semantics, which smooths bursts instead of hard-capping a calendar
// window, and would change the observable behaviour the spec specifies.
// See DESIGN.md for the full justification of this stdlib-based
// implementation.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter keyed by an arbitrary client key
// (spec §4.7: resolved from X-Forwarded-For, then CF-Connecting-IP, then
// "unknown").
type Limiter struct {
	max        int
	windowSize time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// New constructs a Limiter allowing at most max requests per windowSize
// per key.
func New(max int, windowSize time.Duration) *Limiter {
	return &Limiter{
		max:        max,
		windowSize: windowSize,
		windows:    make(map[string]*window),
	}
}

// Allow reports whether a request from key may proceed at time now,
// incrementing the window's counter as a side effect when it does. A new
// window starts the first time a key is seen, or once windowSize has
// elapsed since the current window started.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.windowSize {
		w = &window{start: now, count: 0}
		l.windows[key] = w
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Sweep discards windows that have expired (started windowSize or more
// ago), bounding
// the map's size across long-lived processes with many distinct clients.
// Intended to be called periodically (e.g. from the same gocron scheduler
// that runs the agent-reaper job).
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.windowSize {
			delete(l.windows, key)
		}
	}
}
