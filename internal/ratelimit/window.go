// ABOUTME: Per-key sliding-window rate limiter for the QR pairing endpoint.
// ABOUTME: Deterministic reject beyond the limit, never queues excess requests.

package ratelimit

import (
	"sync"
	"time"
)

// sweepInterval controls how often idle keys are purged.
const sweepInterval = time.Minute

// SlidingWindow allows at most limit hits per key within a rolling
// window. Excess hits are rejected immediately rather than queued.
type SlidingWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
	done   chan struct{}
	once   sync.Once
}

// New creates a limiter and starts a background sweep that discards keys
// with no hits inside the window. Call Close to stop the sweep.
func New(limit int, window time.Duration) *SlidingWindow {
	l := &SlidingWindow{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records a hit for key and reports whether it is within the limit.
// Rejected hits are not recorded, so hammering a limited key does not
// extend its penalty.
func (l *SlidingWindow) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}

	l.hits[key] = append(recent, now)
	return true
}

// Close stops the background sweep goroutine.
func (l *SlidingWindow) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *SlidingWindow) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.purgeIdle()
		}
	}
}

func (l *SlidingWindow) purgeIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, times := range l.hits {
		idle := true
		for _, t := range times {
			if t.After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(l.hits, key)
		}
	}
}
