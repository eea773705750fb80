package alerts

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

func dialTestHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	server := httptest.NewServer(hub)
	defer server.Close()

	first := dialTestHub(t, server)
	defer first.Close()
	second := dialTestHub(t, server)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]string{"type": "toast", "message": "hello"}))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var event map[string]string
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "toast", event["type"])
		assert.Equal(t, "hello", event["message"])
	}
}

func TestHub_DisconnectedClientRemoved(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialTestHub(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestHub_BroadcastWithNoClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	assert.NoError(t, hub.Broadcast(map[string]string{"type": "toast"}))
}

func TestOverlayChannel_EventShape(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialTestHub(t, server)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	ch := NewOverlayChannel(hub)
	require.NoError(t, ch.Notify(context.Background(), Alert{
		Kind:  KindImpairment,
		State: detection.StateDrunk,
		Color: "red",
	}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event map[string]string
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "overlay", event["type"])
	assert.Equal(t, "drunk", event["state"])
	assert.Equal(t, "red", event["color"])
}

func TestNotificationChannel_RequiresGrant(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialTestHub(t, server)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	denied := NewNotificationChannel(hub, false)
	require.NoError(t, denied.Notify(context.Background(), Alert{Tag: TagImpairment, Message: "test"}))

	granted := NewNotificationChannel(hub, true)
	require.NoError(t, granted.Notify(context.Background(), Alert{Tag: TagImpairment, Message: "test"}))

	// Only the granted channel's event arrives.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event map[string]string
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "notification", event["type"])
	assert.Equal(t, TagImpairment, event["tag"])

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	assert.Error(t, conn.ReadJSON(&event), "denied channel must not broadcast")
}
