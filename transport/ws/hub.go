// Package ws is the websocket transport: it owns the connection registry,
// the wire encoding, and the mapping from abstract destinations to sockets.
// The routing core only ever sees the Deliverer interface.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"chatd/contract"
)

// Ensure *Hub satisfies the delivery contract the core depends on.
var _ contract.Deliverer = (*Hub)(nil)

// Hub tracks every live connection and fans payloads out to them. Clients
// land in byUser only after a successful join, so private delivery to a
// never-joined connection is impossible by construction.
type Hub struct {
	log     *slog.Logger
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
	}
}

// Deliver encodes the payload once and pushes it to every socket behind the
// destination. Slow clients are skipped, not waited for: their send buffer
// overflowing drops the frame (missed traffic is recoverable via history).
func (h *Hub) Deliver(_ context.Context, dest contract.Destination, payload any) error {
	var envelope Outbound
	switch dest {
	case contract.DestBroadcast:
		envelope = Outbound{Channel: channelGroupChat, Data: payload}
	case contract.DestPresence:
		envelope = Outbound{Channel: channelPresence, Data: payload}
	case contract.DestOnlineUsers:
		envelope = Outbound{Channel: channelOnlineUsers, Data: payload}
	default:
		envelope = Outbound{Channel: channelPrivate, Data: payload}
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if username, ok := userDestination(dest); ok {
		for client := range h.byUser[username] {
			h.push(client, frame)
		}
		return nil
	}
	for client := range h.clients {
		h.push(client, frame)
	}
	return nil
}

func userDestination(dest contract.Destination) (string, bool) {
	const prefix = "user:"
	s := string(dest)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

func (h *Hub) push(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.log.Warn("Client send buffer full, dropping frame", "session", client.sessionToken)
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	h.log.Debug("Client registered", "session", client.sessionToken, "total", len(h.clients))
}

// bindUser associates a joined connection with its username so private
// destinations can find it. One user may hold several tabs; each is a
// separate connection under the same name. A connection that re-joins
// under a new name is dropped from its previous entry first.
func (h *Hub) bindUser(client *Client, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev := client.username; prev != "" && prev != username {
		if peers, ok := h.byUser[prev]; ok {
			delete(peers, client)
			if len(peers) == 0 {
				delete(h.byUser, prev)
			}
		}
	}
	if _, ok := h.byUser[username]; !ok {
		h.byUser[username] = make(map[*Client]struct{})
	}
	h.byUser[username][client] = struct{}{}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	if client.username != "" {
		if peers, ok := h.byUser[client.username]; ok {
			delete(peers, client)
			if len(peers) == 0 {
				delete(h.byUser, client.username)
			}
		}
	}
	close(client.send)
	h.log.Debug("Client unregistered", "session", client.sessionToken, "total", len(h.clients))
}
