package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(r.URL.Query().Get("user"), w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubBroadcastToUser(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, "player-1")
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 1 })

	hub.BroadcastToUser("player-1", NewEvent(EventSyncPlatform, "steam", map[string]any{"games": 42}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, EventSyncPlatform, event.Type)
	require.Equal(t, "steam", event.Platform)
	require.False(t, event.TS.IsZero())
}

func TestHubBroadcastScopedToUser(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, "player-1")
	dialHub(t, srv, "player-2")
	waitFor(t, func() bool {
		return hub.ConnectionCount("player-1") == 1 && hub.ConnectionCount("player-2") == 1
	})

	// The frame for player-2 must never reach player-1, so the first frame
	// player-1 reads is the one addressed to them.
	hub.BroadcastToUser("player-2", NewEvent(EventSyncStarted, "", nil))
	hub.BroadcastToUser("player-1", NewEvent(EventSyncCompleted, "", nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, EventSyncCompleted, event.Type)
}

func TestHubFanOutToAllUserConnections(t *testing.T) {
	hub, srv := newHubServer(t)
	first := dialHub(t, srv, "player-1")
	second := dialHub(t, srv, "player-1")
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 2 })

	hub.BroadcastToUser("player-1", NewEvent(EventSyncStarted, "", nil))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var event Event
		require.NoError(t, conn.ReadJSON(&event))
		require.Equal(t, EventSyncStarted, event.Type)
	}
}

func TestHubPingControlMessage(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, "player-1")
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 1 })

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, EventPong, event.Type)
}

func TestHubUnregistersClosedConnections(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, "player-1")
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 1 })

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 0 })
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv, "player-1")
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 1 })

	hub.Close()
	waitFor(t, func() bool { return hub.ConnectionCount("player-1") == 0 })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHubBroadcastDropsStalledConnection(t *testing.T) {
	hub := NewHub()

	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Register a connection without running its write loop. Its buffer fills
	// after defaultBufferSize events, so the next broadcast must drop the
	// connection instead of blocking the broadcaster.
	stuck := newConnection(hub, <-upgraded, "player-1")
	hub.register(stuck)
	require.Equal(t, 1, hub.ConnectionCount("player-1"))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i <= defaultBufferSize; i++ {
			hub.BroadcastToUser("player-1", NewEvent(EventSyncPlatform, "steam", i))
		}
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked behind a stalled connection")
	}

	require.Equal(t, 0, hub.ConnectionCount("player-1"))
	require.Equal(t, int64(0), hub.ActiveConnections())
}

func TestHubRejectsAnonymousUpgrade(t *testing.T) {
	_, srv := newHubServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
