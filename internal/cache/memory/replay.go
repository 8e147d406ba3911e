package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// sweepEvery is how many inserts pass between sweeps of expired ids.
const sweepEvery = 1024

// ReplayGuard is a process-local domain.ReplayGuard.
type ReplayGuard struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	inserts int
	clock   func() time.Time
}

// NewReplayGuard creates an empty ReplayGuard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time), clock: time.Now}
}

// Remember stores id until ttl elapses and reports whether it was new.
func (g *ReplayGuard) Remember(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if exp, ok := g.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[id] = now.Add(ttl)

	g.inserts++
	if g.inserts%sweepEvery == 0 {
		for k, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, k)
			}
		}
	}
	return true, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
