package gateway

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/pkg/agent"
)

// Hub tracks connected clients and pushes session notifications to them.
// It is the agent.Observer of a served registry.
type Hub struct {
	logger zerolog.Logger
	seq    uint64

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "gateway_hub").Logger(),
		clients: make(map[string]*Client),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetGatewayClients(n)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetGatewayClients(n)
}

func (h *Hub) all() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients describes every connection, oldest first.
func (h *Hub) Clients() []ClientInfo {
	now := time.Now()
	clients := h.all()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info(now))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// Notify pushes a session notification to every authenticated client
// following that session.
func (h *Hub) Notify(n agent.Notification) {
	h.Broadcast(EventMessage{
		Event:     "session." + string(n.Kind),
		SessionID: n.SessionID,
		Data:      n,
	})
}

// Broadcast sends msg to authenticated clients. Messages with a session id
// only reach clients following it.
func (h *Hub) Broadcast(msg EventMessage) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&h.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return
	}

	sent, dropped := 0, 0
	for _, c := range h.all() {
		if !c.isAuthenticated() || (msg.SessionID != "" && !c.wants(msg.SessionID)) {
			continue
		}
		if c.enqueue(data) {
			sent++
		} else {
			dropped++
			h.logger.Warn().Str("clientId", c.ID).Str("event", msg.Event).Msg("Client too slow, disconnected")
		}
	}

	h.logger.Debug().
		Str("event", msg.Event).
		Str("session_id", msg.SessionID).
		Int64("seq", msg.Seq).
		Int("sent", sent).
		Int("dropped", dropped).
		Msg("Event broadcast")
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	for _, c := range h.all() {
		c.close()
	}
}
