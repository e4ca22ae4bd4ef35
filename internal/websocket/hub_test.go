package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leasecli/pkg/contracts/events"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(NewHandler(hub, nil, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) events.WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg events.WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsLicenseStatus(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	assert.Equal(t, events.MessageTypeConnect, readMessage(t, conn).Type)
	waitForClients(t, hub, 1)

	hub.Broadcast(events.NewMessage(events.MessageTypeLicenseStatus, events.LicenseStatusData{
		State:    "valid",
		Valid:    true,
		DaysLeft: 7,
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, events.MessageTypeLicenseStatus, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "valid", data["state"])
	assert.Equal(t, float64(7), data["days_left"])
}

func TestHubReplaysLastMessageToNewClients(t *testing.T) {
	hub, srv := startHub(t)

	hub.Broadcast(events.NewMessage(events.MessageTypeLicenseStatus, events.LicenseStatusData{State: "expired"}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.last != nil
	}, 5*time.Second, 10*time.Millisecond)

	conn := dial(t, srv)
	assert.Equal(t, events.MessageTypeConnect, readMessage(t, conn).Type)
	assert.Equal(t, events.MessageTypeLicenseStatus, readMessage(t, conn).Type)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
