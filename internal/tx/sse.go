package tx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

// BatchEventData is the payload of batch events.
type BatchEventData struct {
	Result  models.ExecutionResult `json:"result"`
	Current int                    `json:"current"` // 1-based batch index within the class
	Total   int                    `json:"total"`
}

// RunErrorData is the payload of run_error events.
type RunErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventHub fans out run events to connected SSE clients.
type EventHub struct {
	clients map[chan models.Event]struct{}
	mu      sync.RWMutex
}

// NewEventHub creates a new run event hub.
func NewEventHub() *EventHub {
	slog.Info("event hub created")
	return &EventHub{
		clients: make(map[chan models.Event]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every client channel.
func (h *EventHub) Run(ctx context.Context) {
	slog.Info("event hub running")
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}

	slog.Info("event hub stopped", "reason", ctx.Err())
}

// Subscribe registers a new client and returns a channel to receive events.
func (h *EventHub) Subscribe() chan models.Event {
	ch := make(chan models.Event, config.EventHubBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client subscribed", "totalClients", clientCount)

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *EventHub) Unsubscribe(ch chan models.Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client unsubscribed", "totalClients", clientCount)
}

// Publish stamps the event and broadcasts it.
func (h *EventHub) Publish(event models.Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	h.Broadcast(event)
}

// Broadcast sends an event to all connected clients.
// Non-blocking: if a client's channel is full, the event is dropped for that client.
func (h *EventHub) Broadcast(event models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("event dropped for slow client",
				"eventType", event.Type,
				"runID", event.RunID,
			)
		}
	}

	slog.Debug("event broadcast",
		"type", event.Type,
		"clients", len(h.clients),
	)
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
