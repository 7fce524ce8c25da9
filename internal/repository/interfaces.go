package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

// Mutation outcomes shared by all storage drivers. Lookups report a
// missing row as (nil, nil) instead.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateName       = errors.New("duplicate channel name")
	ErrDuplicateDirect     = errors.New("direct conversation already exists")
	ErrAlreadyMember       = errors.New("already a member")
	ErrReplyTargetNotFound = errors.New("reply target not found")
	ErrReplyTargetMismatch = errors.New("reply target belongs to another conversation")
	ErrMessageDeleted      = errors.New("message is deleted")
)

type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
}

type ConversationRepository interface {
	// Create stores conv together with its initial members.
	Create(ctx context.Context, conv *domain.Conversation, members []domain.Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetByDirectKey(ctx context.Context, key string) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)

	AddMember(ctx context.Context, member *domain.Member) error
	GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Member, error)
	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]domain.Member, error)

	// IncrementUnread bumps every member's counter except exceptUserID and
	// returns the new counts of the members it touched.
	IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) (map[uuid.UUID]int64, error)
	ClearUnread(ctx context.Context, conversationID, userID uuid.UUID) error
}

type DeleteOutcome int

const (
	// Removed: the message is gone.
	Removed DeleteOutcome = iota + 1
	// Tombstoned: the message had replies and stays as a deleted marker.
	Tombstoned
)

type DeleteResult struct {
	Outcome DeleteOutcome
	// Root is the thread root after the delete, when a reply was deleted.
	// Nil if the root itself was collected.
	Root *domain.Message
	// RootCollected reports that deleting the last reply also removed a
	// tombstoned root.
	RootCollected bool
}

type MessageRepository interface {
	// Append assigns Seq and CreatedAt, stores msg and, for replies,
	// increments the root's reply count, all atomically.
	Append(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	List(ctx context.Context, conversationID uuid.UUID, page Page) ([]domain.Message, error)
	ListReplies(ctx context.Context, rootID uuid.UUID) ([]domain.Message, error)
	UpdateContent(ctx context.Context, msg *domain.Message) error
	Delete(ctx context.Context, id uuid.UUID) (*DeleteResult, error)
}

type ReactionRepository interface {
	// Toggle removes userID's reaction when it equals emoji, otherwise
	// sets it. It returns the applied emoji ("" when removed) and the
	// message's reactions after the change.
	Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (string, map[uuid.UUID]string, error)
	ListByMessage(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error)
}

// Store bundles one driver's repositories.
type Store interface {
	Users() UserRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Reactions() ReactionRepository
	Close() error
}
