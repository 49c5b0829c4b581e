package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBuffer     = 64
	maxMessageSize = 1 << 20
)

// Client is one websocket connection. All writes go through its send
// queue and a single writer goroutine.
type Client struct {
	ID          string
	IPAddress   string
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *ClientRateLimiter

	closeOnce sync.Once

	mu            sync.Mutex
	authenticated bool
	challenge     string
	authAttempts  int
	state         ClientState
	lastActivity  time.Time
	subscriptions map[string]bool
}

func newClient(id string, conn *websocket.Conn, ip string, limiter *ClientRateLimiter) *Client {
	now := time.Now()
	return &Client{
		ID:            id,
		IPAddress:     ip,
		ConnectedAt:   now,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		limiter:       limiter,
		state:         StateConnecting,
		lastActivity:  now,
		subscriptions: make(map[string]bool),
	}
}

// enqueue queues data without blocking. A client whose queue is full is
// too slow to follow the session and is disconnected.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump owns every write to the connection.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setChallenge(challenge string) {
	c.mu.Lock()
	c.challenge = challenge
	c.state = StateAuthenticating
	c.mu.Unlock()
}

func (c *Client) trust() {
	c.mu.Lock()
	c.authenticated = true
	c.state = StateAuthenticated
	c.mu.Unlock()
}

func (c *Client) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authAttempts
}

// subscribe limits pushes to the given sessions. A client without
// subscriptions receives every session.
func (c *Client) subscribe(sessionID string) {
	c.mu.Lock()
	c.subscriptions[sessionID] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.subscriptions, sessionID)
	c.mu.Unlock()
}

func (c *Client) wants(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[sessionID]
}

func (c *Client) info(now time.Time) ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		subs = append(subs, id)
	}
	sort.Strings(subs)
	return ClientInfo{
		ID:            c.ID,
		Authenticated: c.authenticated,
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  c.lastActivity,
		IPAddress:     c.IPAddress,
		Idle:          now.Sub(c.lastActivity) > 5*time.Minute,
		Subscriptions: subs,
	}
}
