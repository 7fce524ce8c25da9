package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/metrics"
)

// Hub manages all active WebSocket clients and routes messages. A user
// may hold several connections; each subscribes to topics on its own.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	done       chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type broadcastMsg struct {
	topic uuid.UUID
	data  []byte
}

func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.metrics.ClientConnected()
			h.logger.Debug("client_connected", "user_id", client.userID, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("client_disconnected", "user_id", client.userID, "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				// Only send to clients subscribed to this topic
				if !client.IsSubscribed(msg.topic) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full - disconnect
					h.drop(client)
					h.metrics.SlowClientDropped()
					h.logger.Warn("slow_client_dropped", "user_id", client.userID)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.close()
	h.metrics.ClientDisconnected()
}

// Register adds client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues event for every connection subscribed to topic. Events
// for one topic are delivered in the order they were published.
func (h *Hub) Publish(topic uuid.UUID, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event_marshal_failed", "type", event.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{topic: topic, data: data}:
		h.metrics.EventPublished(event.Type)
	case <-h.done:
	}
}
