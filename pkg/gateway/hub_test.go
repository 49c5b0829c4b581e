package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/autopilot/pkg/agent"
	"github.com/harun/autopilot/pkg/planner"
)

func TestHub_Broadcast(t *testing.T) {
	t.Run("should assign type and increasing sequence", func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		_, clientConn := hubClient(t, hub, "client-1", true)

		hub.Broadcast(EventMessage{Event: "server.notice", Data: map[string]interface{}{"n": 1}})
		hub.Broadcast(EventMessage{Event: "server.notice", Data: map[string]interface{}{"n": 2}})

		first := readEvent(t, clientConn)
		second := readEvent(t, clientConn)
		assert.Equal(t, "event", first.Type)
		assert.Equal(t, "server.notice", first.Event)
		assert.NotZero(t, first.Seq)
		assert.NotZero(t, first.Timestamp)
		assert.Greater(t, second.Seq, first.Seq)
	})

	t.Run("should skip unauthenticated clients", func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		_, anon := hubClient(t, hub, "anon", false)
		_, trusted := hubClient(t, hub, "trusted", true)

		hub.Broadcast(EventMessage{Event: "server.notice"})
		assert.Equal(t, "server.notice", readEvent(t, trusted).Event)

		require.NoError(t, anon.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, _, err := anon.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("should route session notifications to subscribers", func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		follower, followerConn := hubClient(t, hub, "follower", true)
		_, everyoneConn := hubClient(t, hub, "everyone", true)
		other, otherConn := hubClient(t, hub, "other", true)
		follower.subscribe("sess-1")
		other.subscribe("sess-2")

		hub.Notify(agent.Notification{Kind: agent.NotifyStatus, SessionID: "sess-1", Status: planner.StatusRunning})

		for _, conn := range []*websocket.Conn{followerConn, everyoneConn} {
			ev := readEvent(t, conn)
			assert.Equal(t, "session.status", ev.Event)
			assert.Equal(t, "sess-1", ev.SessionID)
			data, ok := ev.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "running", data["status"])
		}

		require.NoError(t, otherConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, _, err := otherConn.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("should disconnect a client whose queue is full", func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		serverConn, _, cleanup := websocketConnPair(t)
		defer cleanup()

		// No writer drains this client.
		c := newClient("slow", serverConn, "", NewClientRateLimiter(0, 0))
		c.trust()
		hub.add(c)

		for i := 0; i <= sendBuffer; i++ {
			hub.Broadcast(EventMessage{Event: "flood"})
		}
		select {
		case <-c.done:
		default:
			t.Fatal("slow client was not disconnected")
		}
		assert.False(t, c.enqueue([]byte("x")))
	})
}

func TestHub_Clients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	first, _ := hubClient(t, hub, "a", true)
	time.Sleep(5 * time.Millisecond)
	second, _ := hubClient(t, hub, "b", false)
	second.subscribe("sess-9")

	infos := hub.Clients()
	require.Len(t, infos, 2)
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, first.ID, infos[0].ID)
	assert.True(t, infos[0].Authenticated)
	assert.Equal(t, []string{"sess-9"}, infos[1].Subscriptions)

	hub.remove("a")
	assert.Equal(t, 1, hub.Count())
}

// hubClient registers a client with a running writer and returns the
// remote end of its connection.
func hubClient(t *testing.T, hub *Hub, id string, authenticated bool) (*Client, *websocket.Conn) {
	t.Helper()
	serverConn, clientConn, cleanup := websocketConnPair(t)
	c := newClient(id, serverConn, "127.0.0.1", NewClientRateLimiter(0, 0))
	if authenticated {
		c.trust()
	}
	hub.add(c)
	go c.writePump(time.Minute)
	t.Cleanup(func() {
		c.close()
		cleanup()
	})
	return c, clientConn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	var ev EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}
	return serverConn, clientConn, cleanup
}
