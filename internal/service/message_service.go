package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/keylock"
	"github.com/vedran77/pulse/internal/mention"
	"github.com/vedran77/pulse/internal/metrics"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/pkg/validator"
)

var (
	ErrMessageNotFound     = apperr.New(apperr.KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
	ErrNotMessageOwner     = apperr.New(apperr.KindPermission, "NOT_OWNER", "only the message sender can perform this action")
	ErrEmptyContent        = apperr.New(apperr.KindValidation, validator.CodeEmptyContent, "message content is required")
	ErrReplyTargetNotFound = apperr.New(apperr.KindNotFound, "REPLY_TARGET_NOT_FOUND", "the message you are replying to does not exist")
	ErrReplyTargetMismatch = apperr.New(apperr.KindValidation, "REPLY_TARGET_MISMATCH", "reply target belongs to another conversation")
	ErrMessageDeleted      = apperr.New(apperr.KindConflict, "MESSAGE_DELETED", "message was deleted")
	ErrEditConflict        = apperr.New(apperr.KindConflict, "EDIT_CONFLICT", "message changed while editing")
)

// Notifier broadcasts real-time events to connected clients.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	NotifyEditedMessage(msg *domain.Message)
	// tombstone is set when the message stays behind as a thread root marker.
	NotifyDeletedMessage(ref domain.ConversationRef, messageID uuid.UUID, tombstone *domain.Message)
	NotifyReactionChanged(ref domain.ConversationRef, messageID uuid.UUID, reactions map[uuid.UUID]string)
	// NotifyThreadUpdated carries a thread root's new reply count.
	NotifyThreadUpdated(root *domain.Message)
	// Personal notifications, delivered on the user's own topic.
	NotifyUnreadChanged(conversationID, userID uuid.UUID, count int64)
	NotifyMention(userID uuid.UUID, msg *domain.Message)
}

type MessageService struct {
	messageRepo repository.MessageRepository
	convs       *ConversationService
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	// Held across append and publish so events of one conversation leave
	// in sequence order.
	locks *keylock.Map
}

func NewMessageService(messageRepo repository.MessageRepository, convs *ConversationService, m *metrics.Metrics, logger *slog.Logger) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		messageRepo: messageRepo,
		convs:       convs,
		metrics:     m,
		logger:      logger.With("component", "messages"),
		locks:       keylock.New(),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendMessageInput struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ReplyToID   *uuid.UUID          `json:"reply_to_id,omitempty"`
}

type EditMessageInput struct {
	Content string `json:"content"`
}

type MessageListResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	// Cursor continues the listing in the same direction.
	Cursor string `json:"cursor,omitempty"`
}

func (s *MessageService) Append(ctx context.Context, senderID uuid.UUID, ref domain.ConversationRef, input SendMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Content) == "" && len(input.Attachments) == 0 {
		return nil, ErrEmptyContent
	}
	if errs := validator.ValidateMessage(input.Content, input.Attachments); errs.HasErrors() {
		return nil, ValidationError(errs)
	}

	conv, err := s.convs.Access(ctx, senderID, ref)
	if err != nil {
		return nil, err
	}

	replyTo, err := s.threadRoot(ctx, conv, input.ReplyToID)
	if err != nil {
		return nil, err
	}

	var mentioned []uuid.UUID
	if tokens := mention.Extract(input.Content); len(tokens) > 0 {
		members, err := s.convs.MemberProfiles(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("loading members: %w", err)
		}
		mentioned = mention.Resolve(tokens, members)
	}

	msg := &domain.Message{
		ID:               uuid.New(),
		SenderID:         senderID,
		Content:          input.Content,
		Attachments:      input.Attachments,
		ReplyToID:        replyTo,
		MentionedUserIDs: mentioned,
	}
	msg.SetTopic(conv.Ref())

	if err := s.appendAndPublish(ctx, conv, msg); err != nil {
		return nil, err
	}
	s.metrics.MessageAppended()

	// The message is committed; side effects below are best effort.
	if err := s.convs.IncrementUnread(ctx, conv.ID, senderID); err != nil {
		s.logger.Error("unread_increment_failed", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}
	if s.notifier != nil {
		for _, userID := range mention.Recipients(senderID, msg.MentionedUserIDs) {
			s.notifier.NotifyMention(userID, msg)
		}
	}

	return msg, nil
}

func (s *MessageService) appendAndPublish(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	unlock := s.locks.Lock(conv.ID.String())
	defer unlock()

	if err := s.messageRepo.Append(ctx, msg); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrConversationNotFound
		case errors.Is(err, repository.ErrReplyTargetNotFound):
			return ErrReplyTargetNotFound
		case errors.Is(err, repository.ErrReplyTargetMismatch):
			return ErrReplyTargetMismatch
		}
		return fmt.Errorf("appending message: %w", err)
	}

	if s.notifier == nil {
		return nil
	}
	s.notifier.NotifyNewMessage(msg)
	if msg.ReplyToID != nil {
		root, err := s.messageRepo.GetByID(ctx, *msg.ReplyToID)
		if err != nil {
			s.logger.Error("thread_root_load_failed", "root_id", *msg.ReplyToID, "error", err)
		} else if root != nil {
			s.notifier.NotifyThreadUpdated(root)
		}
	}
	return nil
}

// threadRoot resolves the message a reply attaches to. Threads are one
// level deep: a reply to a reply attaches to that reply's root.
func (s *MessageService) threadRoot(ctx context.Context, conv *domain.Conversation, replyToID *uuid.UUID) (*uuid.UUID, error) {
	if replyToID == nil {
		return nil, nil
	}
	target, err := s.messageRepo.GetByID(ctx, *replyToID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrReplyTargetNotFound
	}
	if target.TopicID() != conv.ID {
		return nil, ErrReplyTargetMismatch
	}
	if target.ReplyToID != nil {
		return target.ReplyToID, nil
	}
	if target.IsDeleted {
		return nil, ErrReplyTargetNotFound
	}
	return &target.ID, nil
}

func (s *MessageService) List(ctx context.Context, userID uuid.UUID, ref domain.ConversationRef, page repository.Page) (*MessageListResponse, error) {
	conv, err := s.convs.Access(ctx, userID, ref)
	if err != nil {
		return nil, err
	}

	page = page.Normalized()
	limit := page.Limit
	// Dohvati limit+1 da znamo ima li jos
	page.Limit = limit + 1

	messages, err := s.messageRepo.List(ctx, conv.ID, page)
	if err != nil {
		return nil, err
	}

	resp := &MessageListResponse{HasMore: len(messages) > limit}
	if resp.HasMore {
		if page.After > 0 {
			messages = messages[:limit]
			resp.Cursor = repository.EncodeCursor(messages[len(messages)-1].Seq)
		} else {
			messages = messages[len(messages)-limit:]
			resp.Cursor = repository.EncodeCursor(messages[0].Seq)
		}
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	resp.Messages = messages
	return resp, nil
}

// ListReplies returns the thread under rootID, oldest first. A deleted
// root still lists its surviving replies.
func (s *MessageService) ListReplies(ctx context.Context, userID, rootID uuid.UUID) ([]domain.Message, error) {
	root, err := s.messageRepo.GetByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, ErrMessageNotFound
	}
	if _, err := s.convs.Access(ctx, userID, root.Ref()); err != nil {
		return nil, err
	}

	replies, err := s.messageRepo.ListReplies(ctx, rootID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if replies == nil {
		replies = []domain.Message{}
	}
	return replies, nil
}

// Edit replaces the content. Mentions stay as resolved at creation.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, input EditMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrEmptyContent
	}
	if errs := validator.ValidateMessage(input.Content, nil); errs.HasErrors() {
		return nil, ValidationError(errs)
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, ErrNotMessageOwner
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}

	msg.Content = input.Content
	if err := s.messageRepo.UpdateContent(ctx, msg); err != nil {
		switch {
		case errors.Is(err, repository.ErrMessageDeleted):
			return nil, ErrMessageDeleted
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrEditConflict
		}
		return nil, fmt.Errorf("updating message: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyEditedMessage(msg)
	}
	return msg, nil
}

// Delete removes a message. A root with replies becomes a tombstone;
// deleting the last reply of a tombstone removes the tombstone as well.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return ErrNotMessageOwner
	}
	if msg.IsDeleted {
		return ErrMessageDeleted
	}

	ref := msg.Ref()
	unlock := s.locks.Lock(ref.ID.String())
	defer unlock()

	result, err := s.messageRepo.Delete(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrMessageDeleted) {
			return ErrMessageDeleted
		}
		return fmt.Errorf("deleting message: %w", err)
	}

	if s.notifier == nil {
		return nil
	}
	var tombstone *domain.Message
	if result.Outcome == repository.Tombstoned {
		msg.Tombstone()
		tombstone = msg
	}
	s.notifier.NotifyDeletedMessage(ref, messageID, tombstone)
	switch {
	case result.RootCollected && msg.ReplyToID != nil:
		s.notifier.NotifyDeletedMessage(ref, *msg.ReplyToID, nil)
	case result.Root != nil:
		s.notifier.NotifyThreadUpdated(result.Root)
	}
	return nil
}
