package alert

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reframe/internal/store"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestNotifyReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(store.NewMemory(), nil, nil)
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	ev := readEvent(t, conn)
	require.Equal(t, "snapshot", ev.Type)
	assert.Empty(t, ev.Alerts)

	hub.Notify(store.UrgentAlert{
		ID:        "a1",
		SessionID: "s1",
		UserID:    "u1",
		RiskLevel: "high",
		Status:    store.AlertPending,
	})

	ev = readEvent(t, conn)
	require.Equal(t, "urgent_alert", ev.Type)
	require.NotNil(t, ev.Alert)
	assert.Equal(t, "a1", ev.Alert.ID)
	assert.Equal(t, "high", ev.Alert.RiskLevel)
}

func TestSnapshotCarriesPendingAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	require.NoError(t, mem.AppendUrgentAlert(ctx, &store.UrgentAlert{
		ID: "a1", SessionID: "s1", UserID: "u1", RiskLevel: "high", Status: store.AlertPending,
	}))
	require.NoError(t, mem.AppendUrgentAlert(ctx, &store.UrgentAlert{
		ID: "a2", SessionID: "s2", UserID: "u2", RiskLevel: "high", Status: store.AlertPending,
	}))
	require.NoError(t, mem.ResolveAlert(ctx, "a2"))

	hub := NewHub(mem, nil, nil)
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	ev := readEvent(t, conn)
	require.Equal(t, "snapshot", ev.Type)
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, "a1", ev.Alerts[0].ID)
}

func TestBroadcastFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(store.NewMemory(), nil, nil)
	go hub.Run(ctx)

	first := dialHub(t, hub)
	second := dialHub(t, hub)
	readEvent(t, first)  // snapshot
	readEvent(t, second) // snapshot

	hub.Notify(store.UrgentAlert{ID: "a1", RiskLevel: "high", Status: store.AlertPending})

	assert.Equal(t, "a1", readEvent(t, first).Alert.ID)
	assert.Equal(t, "a1", readEvent(t, second).Alert.ID)
}
