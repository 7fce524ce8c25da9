package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeSubscribe   = "subscribe"
	EventTypeUnsubscribe = "unsubscribe"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeMessageNew      = "message:new"
	EventTypeMessageEdited   = "message:edited"
	EventTypeMessageDeleted  = "message:deleted"
	EventTypeReactionChanged = "reaction:changed"
	EventTypeThreadUpdated   = "thread:updated"
	EventTypeUnreadChanged   = "unread:changed"
	EventTypeMentionNew      = "mention:new"
	EventTypeSubscribed      = "subscribed"
	EventTypeUnsubscribed    = "unsubscribed"
	EventTypePong            = "pong"
	EventTypeError           = "error"
)

// Event is the base envelope for all WebSocket messages. Topic is a
// conversation or channel id, or a user id for personal events.
type Event struct {
	Type      string          `json:"type"`
	Topic     *uuid.UUID      `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Server → Client payloads ---

type MessagePayload struct {
	Message domain.Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	// Tombstone is set when the message stays as a deleted thread root.
	Tombstone *domain.Message `json:"tombstone,omitempty"`
}

type ReactionChangedPayload struct {
	MessageID uuid.UUID              `json:"message_id"`
	Reactions map[uuid.UUID]string   `json:"reactions"`
	Summary   []domain.ReactionGroup `json:"summary"`
}

type ThreadUpdatedPayload struct {
	RootID         uuid.UUID `json:"root_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	ReplyCount     int       `json:"reply_count"`
}

type UnreadChangedPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Count          int64     `json:"count"`
}

type MentionPayload struct {
	MessageID    uuid.UUID              `json:"message_id"`
	Conversation domain.ConversationRef `json:"conversation"`
	SenderID     uuid.UUID              `json:"sender_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, topic *uuid.UUID, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return &Event{
		Type:      eventType,
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
