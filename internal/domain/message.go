package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a stable URL handed out by the upload service.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
}

type Message struct {
	ID uuid.UUID `json:"id"`
	// Exactly one of ConversationID / ChannelID is set.
	ConversationID   *uuid.UUID           `json:"conversation_id,omitempty"`
	ChannelID        *uuid.UUID           `json:"channel_id,omitempty"`
	Seq              uint64               `json:"seq"`
	SenderID         uuid.UUID            `json:"sender_id"`
	Content          string               `json:"content"`
	Attachments      []Attachment         `json:"attachments"`
	ReplyToID        *uuid.UUID           `json:"reply_to_id,omitempty"`
	MentionedUserIDs []uuid.UUID          `json:"mentioned_user_ids"`
	Reactions        map[uuid.UUID]string `json:"reactions"`
	ReplyCount       int                  `json:"reply_count"`
	IsEdited         bool                 `json:"is_edited"`
	IsDeleted        bool                 `json:"is_deleted,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	EditedAt         *time.Time           `json:"edited_at,omitempty"`
}

// TopicID is the id of the conversation or channel the message belongs to.
func (m *Message) TopicID() uuid.UUID {
	if m.ChannelID != nil {
		return *m.ChannelID
	}
	if m.ConversationID != nil {
		return *m.ConversationID
	}
	return uuid.Nil
}

func (m *Message) Ref() ConversationRef {
	if m.ChannelID != nil {
		return ChannelRef(*m.ChannelID)
	}
	return DirectRef(m.TopicID())
}

// SetTopic places the message in the namespace of ref.
func (m *Message) SetTopic(ref ConversationRef) {
	id := ref.ID
	if ref.IsChannel {
		m.ChannelID, m.ConversationID = &id, nil
	} else {
		m.ConversationID, m.ChannelID = &id, nil
	}
}

func (m *Message) IsReply() bool {
	return m.ReplyToID != nil
}

// Tombstone strips a deleted thread root down to the marker readers get.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Content = ""
	m.Attachments = []Attachment{}
	m.MentionedUserIDs = []uuid.UUID{}
	m.Reactions = map[uuid.UUID]string{}
}

// ReactedWith returns the emoji userID currently has on the message.
func (m *Message) ReactedWith(userID uuid.UUID) (string, bool) {
	e, ok := m.Reactions[userID]
	return e, ok
}

type ReactionGroup struct {
	Emoji   string      `json:"emoji"`
	Count   int         `json:"count"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// ReactionSummary groups reactions by emoji. Groups are ordered by
// descending count, then emoji; reactors by id.
func (m *Message) ReactionSummary() []ReactionGroup {
	return SummarizeReactions(m.Reactions)
}

func SummarizeReactions(reactions map[uuid.UUID]string) []ReactionGroup {
	byEmoji := make(map[string][]uuid.UUID)
	for userID, emoji := range reactions {
		byEmoji[emoji] = append(byEmoji[emoji], userID)
	}

	groups := make([]ReactionGroup, 0, len(byEmoji))
	for emoji, users := range byEmoji {
		sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
		groups = append(groups, ReactionGroup{Emoji: emoji, Count: len(users), UserIDs: users})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Emoji < groups[j].Emoji
	})
	return groups
}

// Normalize replaces nil collections so the JSON shape is stable.
func (m *Message) Normalize() {
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.MentionedUserIDs == nil {
		m.MentionedUserIDs = []uuid.UUID{}
	}
	if m.Reactions == nil {
		m.Reactions = map[uuid.UUID]string{}
	}
}
