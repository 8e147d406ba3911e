// Package memory provides in-process implementations of the lock manager,
// event bus, and rate limiter for single-node deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// LockManager is a process-local domain.LockManager. Locks expire after
// their TTL like their redis counterparts.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	seq   uint64
	clock func() time.Time
}

type lockEntry struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lockEntry), clock: time.Now}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if e, ok := lm.held[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if e, ok := lm.held[key]; ok && e.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
