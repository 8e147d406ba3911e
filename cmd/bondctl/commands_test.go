package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/bondvault/internal/cache/memory"
	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/metrics"
	"github.com/alanyoungcy/bondvault/internal/server"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	"github.com/alanyoungcy/bondvault/internal/service"
	memstore "github.com/alanyoungcy/bondvault/internal/store/memory"
)

func startServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memstore.New()
	m := metrics.New()
	svc := service.NewBondService(service.BondServiceDeps{
		Projects:  store.Projects(),
		Claims:    store.Claims(),
		Events:    store.Events(),
		Ledger:    store,
		Locks:     memcache.NewLockManager(),
		Publisher: service.NewPublisher(memcache.NewSignalBus(0), store.Events(), m, logger),
		Metrics:   m,
		Logger:    logger,
	})
	api := server.NewServer(server.Config{MaxClockSkew: time.Minute}, server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Status:   handler.NewStatusHandler("server", "memory", "memory", time.Now()),
		Projects: handler.NewProjectHandler(svc, logger),
		Claims:   handler.NewClaimHandler(svc, logger),
	}, server.Guards{Replays: memcache.NewReplayGuard()}, m, logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygenWritesDecryptableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuer.key")
	out, err := run(t, "keygen", "--out", path, "--password", "hunter2")
	require.NoError(t, err)

	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s, err := crypto.DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), res["address"])

	_, err = run(t, "keygen", "--out", path)
	assert.ErrorContains(t, err, "--password")
}

func TestProjectFlow(t *testing.T) {
	url := startServer(t)
	keyPath := filepath.Join(t.TempDir(), "issuer.key")
	_, err := run(t, "keygen", "--out", keyPath, "--password", "pw")
	require.NoError(t, err)

	issuer := []string{"--server", url, "--key-file", keyPath, "--password", "pw"}
	maturity := time.Now().AddDate(1, 0, 0).Format(time.DateOnly)
	out, err := run(t, append([]string{"project", "create",
		"--name", "Harbor Bridge", "--total", "1000", "--rate-bps", "500", "--maturity", maturity}, issuer...)...)
	require.NoError(t, err)

	var project struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &project))
	require.NotEmpty(t, project.ID)

	buyer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	buyerArgs := []string{"--server", url, "--key", buyer.PrivateKeyHex()}

	out, err = run(t, append([]string{"project", "purchase", project.ID, "250"}, buyerArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"principal": "250"`)

	out, err = run(t, "--server", url, "project", "summary", project.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"available_capacity": "750"`)

	out, err = run(t, append([]string{"claim", "list"}, buyerArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, project.ID)

	_, err = run(t, append([]string{"project", "pause", project.ID}, buyerArgs...)...)
	assert.ErrorContains(t, err, "NotIssuer")

	_, err = run(t, "--server", url, "project", "purchase", project.ID, "1")
	assert.ErrorContains(t, err, "signing key is required")

	_, err = run(t, "--server", url, "project", "purchase", project.ID, "lots")
	assert.ErrorContains(t, err, "non-negative integer")
}

func TestParseMaturity(t *testing.T) {
	got, err := parseMaturity("2026-06-30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), got)

	got, err = parseMaturity("2026-06-30T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 30, 10, 0, 0, 0, time.UTC), got)

	_, err = parseMaturity("next june")
	assert.Error(t, err)
}
