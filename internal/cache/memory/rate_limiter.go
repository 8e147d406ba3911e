package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// RateLimiter is a process-local sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	clock   func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time), clock: time.Now}
}

// Allow records one request for key if fewer than limit were seen within
// window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	cutoff := now.Add(-window)
	ts := rl.windows[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.windows[key] = kept
		return false, nil
	}
	rl.windows[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
