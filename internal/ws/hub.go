// Package ws streams applied data point changes to presentation consumers.
package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"carbridge/internal/models"
)

// Hub tracks subscriber connections and fans state changes out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub builds the hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Add registers a subscriber.
func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

// Remove drops a subscriber.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

type stateEvent struct {
	Type string                `json:"type"`
	Data models.DataPointState `json:"data"`
}

// Broadcast sends one applied state change to every subscriber. Slow
// subscribers are disconnected rather than allowed to block the writer.
func (h *Hub) Broadcast(state models.DataPointState) {
	payload, err := json.Marshal(stateEvent{Type: "datapoint", Data: state})
	if err != nil {
		h.logger.Warn("failed to encode state event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Send(payload) {
			h.logger.Info("dropping slow state stream subscriber")
			c.Close()
		}
	}
}
