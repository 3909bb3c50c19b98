package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub fans analysis events out to the websocket clients subscribed to
// that analysis. Broadcast never blocks: events are dropped when the hub
// is saturated and slow clients are disconnected.
type Hub struct {
	clients    map[*Client]bool
	topics     map[uuid.UUID]map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	if h.topics[client.analysisID] == nil {
		h.topics[client.analysisID] = make(map[*Client]bool)
	}
	h.topics[client.analysisID][client] = true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(client)
}

// drop must be called with mu held.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	delete(h.topics[client.analysisID], client)
	if len(h.topics[client.analysisID]) == 0 {
		delete(h.topics, client.analysisID)
	}
	close(client.send)
}

func (h *Hub) deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.topics[event.AnalysisID]
	if len(clients) == 0 {
		return
	}

	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode ws event", "type", event.Type, "error", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("ws client too slow, disconnecting", "analysis_id", event.AnalysisID)
			h.drop(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.drop(client)
	}
}

// Broadcast queues an event for the subscribers of analysisID.
func (h *Hub) Broadcast(analysisID uuid.UUID, eventType EventType, data any) {
	event := Event{
		AnalysisID: analysisID,
		Type:       eventType,
		Data:       data,
		Timestamp:  time.Now(),
	}

	select {
	case h.broadcast <- event:
	default:
	}
}

func (h *Hub) Subscribers(analysisID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.topics[analysisID])
}
