package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/config"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Redis.Enabled = false
	cfg.Server.Port = 0
	return &cfg
}

func TestWireMemory(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Projects)
	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Locks)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.RateLimiter)
	assert.NotNil(t, deps.Replays)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)
	assert.Equal(t, config.BackendMemory, deps.StorageName)
	assert.Equal(t, "memory", deps.BusName)
	assert.False(t, deps.Notifier.Enabled())
}

func TestNeedsArchive(t *testing.T) {
	cfg := config.Defaults()
	assert.False(t, needsArchive(&cfg))

	cfg.Archive.Enabled = true
	assert.True(t, needsArchive(&cfg))

	cfg.Mode = config.ModeRelay
	assert.True(t, needsArchive(&cfg), "relay process with server enabled still lists archives")

	cfg.Server.Enabled = false
	assert.False(t, needsArchive(&cfg))
}

func TestRunFullModeStopsOnCancel(t *testing.T) {
	a := New(memoryConfig(), slog.New(slog.DiscardHandler))
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), err.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestRunArchiveModeRequiresArchiver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = config.ModeArchive
	a := New(cfg, slog.New(slog.DiscardHandler))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.enabled")
}
