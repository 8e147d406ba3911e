package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/bondvault/internal/cache/memory"
	"github.com/alanyoungcy/bondvault/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string, _ domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

var actor = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func purchased(id string) domain.Event {
	return domain.Event{
		ID:         id,
		Type:       domain.EventTokensPurchased,
		ProjectID:  "p1",
		ClaimID:    "c1",
		Actor:      actor,
		Amount:     30,
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNotifyFiltersAndDedupes(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"TokensPurchased", " ClaimRedeemed "}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, purchased("e1")))
	require.NoError(t, n.Notify(ctx, purchased("e1")))
	require.NoError(t, n.Notify(ctx, domain.Event{ID: "e2", Type: domain.EventSalePaused, Actor: actor}))

	assert.Equal(t, []string{"Bond purchase"}, rec.titles)
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	n := NewNotifier(nil, nil, slog.New(slog.DiscardHandler))
	n.ring = make([]string, 2)

	n.markSeen("a")
	n.markSeen("b")
	assert.True(t, n.isSeen("a"))
	n.markSeen("c")
	assert.False(t, n.isSeen("a"), "a fell out of the window")
	assert.True(t, n.isSeen("b"))
	assert.True(t, n.isSeen("c"))
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	rec := &recordingSender{err: errors.New("discord down")}
	n := NewNotifier([]Sender{rec}, nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.Error(t, n.Notify(ctx, purchased("e1")))
	require.Error(t, n.Notify(ctx, purchased("e1")))
	assert.Equal(t, 2, rec.count(), "an undelivered event is not remembered")

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	require.NoError(t, n.Notify(ctx, purchased("e1")))
	require.NoError(t, n.Notify(ctx, purchased("e1")))
	assert.Equal(t, 3, rec.count(), "delivered once, then deduplicated")
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), purchased("e1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, 1, good.count())

	require.NoError(t, n.Notify(context.Background(), purchased("e1")), "partial delivery counts as sent")
	assert.Equal(t, 1, bad.count())
}

func TestRunConsumesBus(t *testing.T) {
	bus := memcache.NewSignalBus(0)
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, bus) }()

	payload, err := json.Marshal(purchased("e1"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.EventChannel("p1"), payload)
		return rec.count() > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, rec.count(), "republished event is delivered once")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSendersPostJSON(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad payload"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	evt := purchased("e1")
	title, msg := Format(evt)

	require.NoError(t, NewDiscordSender(srv.URL+"/discord").Send(ctx, title, msg, evt))
	require.NoError(t, NewTelegramSender(srv.URL+"/", "tok", "42").Send(ctx, title, msg, evt))
	require.NoError(t, NewWebhookSender(srv.URL+"/hook").Send(ctx, title, msg, evt))

	err := NewWebhookSender(srv.URL+"/fail").Send(ctx, title, msg, evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: unexpected status 400: bad payload")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, bodies["/discord"]["content"], "**Bond purchase**")
	assert.Equal(t, "42", bodies["/bottok/sendMessage"]["chat_id"])
	hook := bodies["/hook"]["event"].(map[string]any)
	assert.Equal(t, "30", hook["amount"])
	assert.Equal(t, "TokensPurchased", hook["type"])
}

func TestFormat(t *testing.T) {
	maturity := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	title, msg := Format(domain.Event{
		Type: domain.EventProjectCreated, ProjectID: "p1", Actor: actor,
		Name: "Harbor", Cap: 100, RateBps: 500, Maturity: &maturity,
	})
	assert.Equal(t, "New bond offering", title)
	assert.Contains(t, msg, `"Harbor": 100 units at 500 bps, maturing 2026-01-01`)
	assert.Contains(t, msg, "project p1")

	title, _ = Format(domain.Event{Type: domain.EventClaimRedeemed, Actor: actor})
	assert.Equal(t, "Claim redeemed", title)
}
