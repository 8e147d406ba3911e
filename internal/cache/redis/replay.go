package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX, so every node sees
// the same accepted request ids.
type ReplayGuard struct {
	client *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{client: c}
}

// Remember stores id for ttl and reports whether it was new.
func (g *ReplayGuard) Remember(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	fresh, err := g.client.Underlying().SetNX(ctx, g.client.key("replay", id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: remember request %s: %w", id, err)
	}
	return fresh, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
