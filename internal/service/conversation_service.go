package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/pkg/validator"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

var (
	ErrConversationNotFound = apperr.New(apperr.KindNotFound, "CONVERSATION_NOT_FOUND", "conversation not found")
	ErrNotMember            = apperr.New(apperr.KindPermission, "NOT_MEMBER", "you are not a member of this conversation")
	ErrChannelNameTaken     = apperr.New(apperr.KindConflict, "DUPLICATE_NAME", "channel name already exists")
	ErrAlreadyMember        = apperr.New(apperr.KindConflict, "ALREADY_MEMBER", "user is already a member")
	ErrPrivateChannel       = apperr.New(apperr.KindPermission, "PRIVATE_CHANNEL", "private channels are invite only")
	ErrNotAChannel          = apperr.New(apperr.KindValidation, "NOT_A_CHANNEL", "conversation is not a channel")
	ErrCannotDMSelf         = apperr.New(apperr.KindValidation, "CANNOT_DM_SELF", "cannot start a conversation with yourself")
	ErrGroupTooSmall        = apperr.New(apperr.KindValidation, "GROUP_TOO_SMALL", "a group needs at least two participants")
)

// Field validation failures, one per validator code.
var (
	ErrInvalidChannelName = apperr.New(apperr.KindValidation, validator.CodeInvalidChannelName, "invalid channel name")
	ErrInvalidVisibility  = apperr.New(apperr.KindValidation, validator.CodeInvalidVisibility, "invalid channel visibility")
	ErrContentTooLong     = apperr.New(apperr.KindValidation, validator.CodeContentTooLong, "message is too long")
	ErrTooManyAttachments = apperr.New(apperr.KindValidation, validator.CodeTooManyAttachments, "too many attachments")
	ErrInvalidAttachment  = apperr.New(apperr.KindValidation, validator.CodeInvalidAttachment, "invalid attachment")
	ErrInvalidEmoji       = apperr.New(apperr.KindValidation, validator.CodeInvalidEmoji, "invalid emoji")
)

// ValidationError turns the first field failure into an error carrying
// that field's code and message.
func ValidationError(errs validator.ValidationErrors) error {
	first := errs.First()
	return apperr.New(apperr.KindValidation, first.Code, first.Message)
}

type ConversationService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	notifier Notifier
	logger   *slog.Logger
	direct   singleflight.Group
}

func NewConversationService(convRepo repository.ConversationRepository, userRepo repository.UserRepository, logger *slog.Logger) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		convRepo: convRepo,
		userRepo: userRepo,
		logger:   logger.With("component", "conversations"),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ConversationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// DirectKey identifies the unordered pair {a, b}.
func DirectKey(a, b uuid.UUID) string {
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	sum := blake2b.Sum256(append(lo[:], hi[:]...))
	return hex.EncodeToString(sum[:])
}

// GetOrCreateDirect returns the DM between userID and otherUserID,
// creating it on first use. Concurrent callers for one pair share a
// single lookup, which does not stop when the caller that started it
// goes away. A lost race against another process falls back to reading
// the winner's row.
func (s *ConversationService) GetOrCreateDirect(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrCannotDMSelf
	}
	key := DirectKey(userID, otherUserID)
	ctx = context.WithoutCancel(ctx)

	v, err, _ := s.direct.Do(key, func() (any, error) {
		conv, err := s.convRepo.GetByDirectKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}

		now := time.Now().UTC()
		conv = &domain.Conversation{
			ID:             uuid.New(),
			Kind:           domain.KindDirectMessage,
			ParticipantIDs: []uuid.UUID{userID, otherUserID},
			DirectKey:      key,
			CreatedBy:      userID,
			CreatedAt:      now,
		}
		members := []domain.Member{
			{ConversationID: conv.ID, UserID: userID, Role: domain.RoleMember, JoinedAt: now},
			{ConversationID: conv.ID, UserID: otherUserID, Role: domain.RoleMember, JoinedAt: now},
		}

		err = s.convRepo.Create(ctx, conv, members)
		if errors.Is(err, repository.ErrDuplicateDirect) {
			return s.convRepo.GetByDirectKey(ctx, key)
		}
		if err != nil {
			return nil, fmt.Errorf("creating direct conversation: %w", err)
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	found, _ := v.(*domain.Conversation)
	if found == nil {
		return nil, ErrConversationNotFound
	}
	conv := *found
	return &conv, nil
}

// CreateGroup always creates a new conversation. The creator is added to
// the participants if missing; duplicates are dropped.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID uuid.UUID, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	seen := map[uuid.UUID]bool{creatorID: true}
	participants := []uuid.UUID{creatorID}
	for _, id := range memberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, ErrGroupTooSmall
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:             uuid.New(),
		Kind:           domain.KindGroupMessage,
		ParticipantIDs: participants,
		CreatedBy:      creatorID,
		CreatedAt:      now,
	}
	members := make([]domain.Member, len(participants))
	for i, id := range participants {
		role := domain.RoleMember
		if id == creatorID {
			role = domain.RoleOwner
		}
		members[i] = domain.Member{ConversationID: conv.ID, UserID: id, Role: role, JoinedAt: now}
	}

	if err := s.convRepo.Create(ctx, conv, members); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	return conv, nil
}

func (s *ConversationService) CreateChannel(ctx context.Context, creatorID uuid.UUID, name string, visibility domain.Visibility) (*domain.Conversation, error) {
	if errs := validator.ValidateChannel(name, string(visibility)); errs.HasErrors() {
		return nil, ValidationError(errs)
	}
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:         uuid.New(),
		Kind:       domain.KindChannel,
		Name:       strings.TrimSpace(name),
		Visibility: visibility,
		CreatedBy:  creatorID,
		CreatedAt:  now,
	}
	owner := domain.Member{ConversationID: conv.ID, UserID: creatorID, Role: domain.RoleOwner, JoinedAt: now}

	if err := s.convRepo.Create(ctx, conv, []domain.Member{owner}); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrChannelNameTaken
		}
		return nil, fmt.Errorf("creating channel: %w", err)
	}
	return conv, nil
}

// JoinChannel adds userID to a public channel. Joining twice is a no-op.
func (s *ConversationService) JoinChannel(ctx context.Context, userID, channelID uuid.UUID) (*domain.Conversation, error) {
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Visibility == domain.VisibilityPrivate {
		member, err := s.convRepo.GetMember(ctx, channelID, userID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, ErrPrivateChannel
		}
		return ch, nil
	}

	err = s.convRepo.AddMember(ctx, &domain.Member{
		ConversationID: channelID, UserID: userID, Role: domain.RoleMember, JoinedAt: time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, repository.ErrAlreadyMember) {
		return nil, fmt.Errorf("joining channel: %w", err)
	}
	return ch, nil
}

// InviteMember lets any member of a channel add another user.
func (s *ConversationService) InviteMember(ctx context.Context, byUserID, channelID, userID uuid.UUID) error {
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, ch.ID, byUserID); err != nil {
		return err
	}

	err = s.convRepo.AddMember(ctx, &domain.Member{
		ConversationID: channelID, UserID: userID, Role: domain.RoleMember, JoinedAt: time.Now().UTC(),
	})
	if errors.Is(err, repository.ErrAlreadyMember) {
		return ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("inviting member: %w", err)
	}
	return nil
}

func (s *ConversationService) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

// Access loads the conversation ref points at and checks that userID is
// a member of it. A ref in the wrong namespace is reported as not found.
func (s *ConversationService) Access(ctx context.Context, userID uuid.UUID, ref domain.ConversationRef) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if !ref.Matches(conv) {
		return nil, ErrConversationNotFound
	}
	if err := s.requireMember(ctx, conv.ID, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// CanSubscribe reports whether userID may receive events of topic.
func (s *ConversationService) CanSubscribe(ctx context.Context, userID, topic uuid.UUID) (bool, error) {
	member, err := s.convRepo.GetMember(ctx, topic, userID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

// MemberProfiles returns the profiles of the conversation's members that
// the directory knows about.
func (s *ConversationService) MemberProfiles(ctx context.Context, conversationID uuid.UUID) ([]domain.User, error) {
	members, err := s.convRepo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return s.userRepo.GetByIDs(ctx, ids)
}

// IncrementUnread bumps every member but the sender and pushes the new
// counts to each member's personal topic.
func (s *ConversationService) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error {
	counts, err := s.convRepo.IncrementUnread(ctx, conversationID, exceptUserID)
	if err != nil {
		return fmt.Errorf("incrementing unread: %w", err)
	}
	if s.notifier != nil {
		for userID, count := range counts {
			s.notifier.NotifyUnreadChanged(conversationID, userID, count)
		}
	}
	return nil
}

func (s *ConversationService) ClearUnread(ctx context.Context, userID uuid.UUID, ref domain.ConversationRef) error {
	conv, err := s.Access(ctx, userID, ref)
	if err != nil {
		return err
	}
	if err := s.convRepo.ClearUnread(ctx, conv.ID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotMember
		}
		return fmt.Errorf("clearing unread: %w", err)
	}
	if s.notifier != nil {
		s.notifier.NotifyUnreadChanged(conv.ID, userID, 0)
	}
	return nil
}

func (s *ConversationService) channel(ctx context.Context, channelID uuid.UUID) (*domain.Conversation, error) {
	ch, err := s.convRepo.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrConversationNotFound
	}
	if !ch.IsChannel() {
		return nil, ErrNotAChannel
	}
	return ch, nil
}

func (s *ConversationService) requireMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	member, err := s.convRepo.GetMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotMember
	}
	return nil
}
