package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	KindChannel       ConversationKind = "channel"
	KindDirectMessage ConversationKind = "direct"
	KindGroupMessage  ConversationKind = "group"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Conversation is either a topic channel or a direct/group message.
// Channels have a name and visibility; DMs and groups have a fixed,
// ordered participant list.
type Conversation struct {
	ID             uuid.UUID        `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Name           string           `json:"name,omitempty"`
	Visibility     Visibility       `json:"visibility,omitempty"`
	ParticipantIDs []uuid.UUID      `json:"participant_ids,omitempty"`
	// DirectKey identifies the unordered user pair of a DM.
	DirectKey     string     `json:"-"`
	LastSeq       uint64     `json:"last_seq"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	// Joined field: unread count of the requesting user
	UnreadCount *int64 `json:"unread_count,omitempty"`
}

func (c *Conversation) IsChannel() bool {
	return c.Kind == KindChannel
}

// LastActivity is the time of the newest message, or creation time for
// an empty conversation.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Ref returns the reference clients use to address this conversation.
func (c *Conversation) Ref() ConversationRef {
	if c.IsChannel() {
		return ChannelRef(c.ID)
	}
	return DirectRef(c.ID)
}

// Member is one user's membership row. For DMs and groups every
// participant is a member; channel members join over time.
type Member struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
	UnreadCount    int64     `json:"unread_count"`
	JoinedAt       time.Time `json:"joined_at"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// ConversationRef addresses a message log either as a channel or as a
// direct/group conversation. The two namespaces are exclusive.
type ConversationRef struct {
	ID        uuid.UUID `json:"id"`
	IsChannel bool      `json:"is_channel"`
}

func ChannelRef(id uuid.UUID) ConversationRef { return ConversationRef{ID: id, IsChannel: true} }
func DirectRef(id uuid.UUID) ConversationRef  { return ConversationRef{ID: id} }

// Matches reports whether conv lives in the namespace the ref points at.
func (r ConversationRef) Matches(conv *Conversation) bool {
	return conv != nil && conv.ID == r.ID && conv.IsChannel() == r.IsChannel
}

func (r ConversationRef) String() string {
	if r.IsChannel {
		return "channel:" + r.ID.String()
	}
	return "conversation:" + r.ID.String()
}
