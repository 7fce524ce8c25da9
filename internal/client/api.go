// Package client is the client side of the messaging protocol: an
// ordered local view of one conversation, optimistic mutations that
// reconcile against the server, a thread poller and the event stream.
package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

// API is the request/response surface the reconciler talks to.
type API interface {
	SendMessage(ctx context.Context, ref domain.ConversationRef, draft Draft) (*domain.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	ToggleReaction(ctx context.Context, messageID uuid.UUID, emoji string) (*ReactionResult, error)
	ListMessages(ctx context.Context, ref domain.ConversationRef, page Page) (*MessagePage, error)
	ListReplies(ctx context.Context, rootID uuid.UUID) ([]domain.Message, error)
	ClearUnread(ctx context.Context, ref domain.ConversationRef) error
}

// Draft is a composed message before it is sent.
type Draft struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ReplyToID   *uuid.UUID          `json:"reply_to_id,omitempty"`
}

// Page selects history by sequence number; see repository.Page.
type Page struct {
	Before uint64
	After  uint64
	Limit  int
}

type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Cursor   string           `json:"cursor,omitempty"`
}

type ReactionResult struct {
	Applied   *string              `json:"applied"`
	Reactions map[uuid.UUID]string `json:"reactions"`
}
