package handlers

import (
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts calls per key in process memory. Each instance keeps its own counts,
// so the effective limit scales with the number of instances.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	counts    map[string]*windowCount
	nextSweep time.Time
}

type windowCount struct {
	calls   int
	resetAt time.Time
}

// newFixedWindowLimiter returns nil when either bound is not positive, which disables limiting.
func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{limit: limit, window: window, now: clock, counts: make(map[string]*windowCount)}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		for k, c := range l.counts {
			if now.After(c.resetAt) {
				delete(l.counts, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	c, ok := l.counts[key]
	if !ok || now.After(c.resetAt) {
		l.counts[key] = &windowCount{calls: 1, resetAt: now.Add(l.window)}
		return true
	}
	if c.calls >= l.limit {
		return false
	}
	c.calls++
	return true
}
