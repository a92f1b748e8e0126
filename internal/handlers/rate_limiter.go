package handlers

import (
	"sync"
	"time"
)

// quoteLimiter caps quote requests per terminal in fixed windows.
type quoteLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	terminals map[string]quoteWindow
	lastPrune time.Time
}

type quoteWindow struct {
	count int
	reset time.Time
}

// newQuoteLimiter returns nil when limiting is disabled.
func newQuoteLimiter(limit int, window time.Duration, clock func() time.Time) *quoteLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &quoteLimiter{
		limit:     limit,
		window:    window,
		clock:     clock,
		terminals: make(map[string]quoteWindow),
	}
}

// allow records one request for terminalID and reports whether it fits the current window. When
// it does not, the second value is the time left until the window resets.
func (l *quoteLimiter) allow(terminalID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= l.window {
		for id, w := range l.terminals {
			if !now.Before(w.reset) {
				delete(l.terminals, id)
			}
		}
		l.lastPrune = now
	}

	w, ok := l.terminals[terminalID]
	if !ok || !now.Before(w.reset) {
		l.terminals[terminalID] = quoteWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.reset.Sub(now)
	}
	w.count++
	l.terminals[terminalID] = w
	return true, 0
}
