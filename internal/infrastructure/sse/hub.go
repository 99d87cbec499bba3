package sse

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
)

// Hub manages SSE clients and implements notification.Dispatcher on top of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
		logger:  logger.With().Str("component", "sse_hub").Logger(),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

// UnregisterClient removes c only while it is still the client registered
// under its id, so a reconnect is not torn down by the old stream's cleanup.
func (h *Hub) UnregisterClient(c *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ClientID]; ok && cur == c {
		c.Close()
		delete(h.clients, c.ClientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastToAll(message *notification.SSEMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		trySend(c, message)
	}
}

// Dispatch delivers msg to every client that is one of its target users or
// holds one of its target roles, at most once per client. Messages without
// recipients go to everyone. Full client buffers drop the message.
func (h *Hub) Dispatch(msg *notification.Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Msg("failed to encode notification")
		return
	}
	out := notification.NewSSEMessage(msg.Event, data)
	if msg.IsBroadcast() {
		h.BroadcastToAll(out)
		return
	}

	users := make(map[string]struct{}, len(msg.TargetUsers))
	for _, id := range msg.TargetUsers {
		users[id.String()] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !addressed(c, users, msg.TargetRoles) {
			continue
		}
		if !trySend(c, out) {
			h.logger.Warn().Str("client_id", c.ClientID).Str("event", msg.Event).Msg("dropping notification, client buffer full")
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func addressed(c *notification.SSEClient, users map[string]struct{}, roles []string) bool {
	if c.UserID != nil {
		if _, ok := users[*c.UserID]; ok {
			return true
		}
	}
	for _, r := range roles {
		if inGroup(c, r) {
			return true
		}
	}
	return false
}

func inGroup(c *notification.SSEClient, group string) bool {
	for _, g := range c.Groups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

func trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
