package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	authorizeWait  = 5 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Authorizer decides whether a user may subscribe to a topic.
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID, topic uuid.UUID) (bool, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	userID     uuid.UUID
	authorizer Authorizer
	logger     *slog.Logger

	// topics tracks what this connection listens to. The user's own id
	// is always present.
	topics map[uuid.UUID]struct{}
	closed bool
	mu     sync.RWMutex

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, authorizer Authorizer) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		userID:     userID,
		authorizer: authorizer,
		logger:     hub.logger.With("user_id", userID),
		topics:     map[uuid.UUID]struct{}{userID: {}},
		send:       make(chan []byte, sendBufSize),
		done:       make(chan struct{}),
	}
}

// IsSubscribed checks if this client is subscribed to a topic.
func (c *Client) IsSubscribed(topic uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) Subscribe(topic uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes a topic. The personal topic cannot be removed.
func (c *Client) Unsubscribe(topic uuid.UUID) {
	if topic == c.userID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// close is called by the hub goroutine only.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.send)
	close(c.done)
}

// ReadPump reads messages from the WebSocket until it fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("ws_client_closed")
			} else {
				c.logger.Debug("ws_read_failed", "error", err)
			}
			return
		}

		c.handleEvent(ctx, &event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Debug("ws_write_failed", "error", err)
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("ws_ping_failed", "error", err)
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeSubscribe:
		if event.Topic == nil {
			c.sendError("INVALID_PAYLOAD", "topic required")
			return
		}
		topic := *event.Topic
		if topic != c.userID {
			actx, cancel := context.WithTimeout(ctx, authorizeWait)
			ok, err := c.authorizer.CanSubscribe(actx, c.userID, topic)
			cancel()
			if err != nil {
				c.logger.Error("ws_authorize_failed", "topic", topic, "error", err)
				c.sendError("INTERNAL", "could not subscribe")
				return
			}
			if !ok {
				c.sendError("FORBIDDEN", "not a member of "+topic.String())
				return
			}
		}
		c.Subscribe(topic)
		c.reply(EventTypeSubscribed, &topic)

	case EventTypeUnsubscribe:
		if event.Topic == nil {
			c.sendError("INVALID_PAYLOAD", "topic required")
			return
		}
		c.Unsubscribe(*event.Topic)
		c.reply(EventTypeUnsubscribed, event.Topic)

	case EventTypePing:
		c.reply(EventTypePong, nil)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) reply(eventType string, topic *uuid.UUID) {
	data, _ := json.Marshal(Event{Type: eventType, Topic: topic})
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, nil, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
