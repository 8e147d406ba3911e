package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	memcache "github.com/alanyoungcy/bondvault/internal/cache/memory"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

type frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func startHub(t *testing.T) (*memcache.SignalBus, string) {
	t.Helper()
	bus := memcache.NewSignalBus(0)
	hub := NewHub(bus, metrics.New(), slog.New(slog.DiscardHandler), Config{Mode: "Server"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func publish(t *testing.T, bus *memcache.SignalBus, projectID, id string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":         id,
		"project_id": projectID,
		"type":       string(domain.EventTokensPurchased),
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), domain.EventChannel(projectID), payload))
}

func TestHubSendsStatusThenEvents(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url)

	status := readJSON(t, conn)
	assert.Equal(t, "hub_status", status.Type)
	assert.Equal(t, "server", status.Payload["mode"])

	publish(t, bus, "p1", "evt-1")
	evt := readJSON(t, conn)
	assert.Equal(t, "event", evt.Type)
	assert.Equal(t, "evt-1", evt.Payload["id"])
	assert.Equal(t, "p1", evt.Payload["project_id"])
}

func TestHubFiltersByProject(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url+"?project=p2")
	assert.Equal(t, "hub_status", readJSON(t, conn).Type)

	publish(t, bus, "p1", "evt-1")
	publish(t, bus, "p2", "evt-2")

	evt := readJSON(t, conn)
	assert.Equal(t, "evt-2", evt.Payload["id"])
}

func TestHubProtoFrames(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url+"?format=proto")

	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	assert.Equal(t, "hub_status", st.GetFields()["type"].GetStringValue())

	publish(t, bus, "p1", "evt-1")
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	st.Reset()
	require.NoError(t, proto.Unmarshal(data, &st))
	payload := st.GetFields()["payload"].GetStructValue().AsMap()
	assert.Equal(t, "evt-1", payload["id"])
}

func TestHubRejectsUnknownFormat(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubShutdownReleasesClients(t *testing.T) {
	hub := NewHub(memcache.NewSignalBus(0), metrics.New(), slog.New(slog.DiscardHandler), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := dial(t, url)
	assert.Equal(t, "hub_status", readJSON(t, conn).Type)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connected clients are closed on shutdown")

	late := dial(t, url)
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "connections after shutdown are closed")

	left := make(chan struct{})
	go func() {
		hub.leave(&client{hub: hub})
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}
}
