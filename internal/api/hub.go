package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/logging"
)

// Hub fans receiver events out to WebSocket sessions.
type Hub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) add(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket session opened", "subject", s.subject, "sessions", n)
}

// remove drops a session. The goroutine that deletes the map entry owns
// closing the outbound channel.
func (h *Hub) remove(s *wsSession) {
	h.mu.Lock()
	_, present := h.sessions[s]
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()

	if present {
		close(s.out)
		h.logger.Debug("websocket session closed", "subject", s.subject, "sessions", n)
	}
}

// Broadcast sends an event to every session subscribed to channel,
// regardless of receiver filters.
func (h *Hub) Broadcast(channel string, payload any) {
	h.Publish(channel, "", payload)
}

// Publish sends an event about deviceID to sessions subscribed to channel
// whose receiver filter is empty or includes deviceID.
func (h *Hub) Publish(channel, deviceID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	// Snapshot under the hub lock; session locks are taken after release.
	h.mu.RLock()
	targets := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.wants(channel, deviceID) {
			s.enqueue(data)
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("websocket event delivered", "channel", channel, "device_id", deviceID, "sessions", delivered)
	}
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		close(s.out)
		if s.conn != nil {
			s.conn.Close()
		}
		delete(h.sessions, s)
	}
}
