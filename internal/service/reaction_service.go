package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/keylock"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/pkg/validator"
)

type ReactionService struct {
	messageRepo  repository.MessageRepository
	reactionRepo repository.ReactionRepository
	convs        *ConversationService
	notifier     Notifier
	// Events carry the whole reaction map, so toggles on one message
	// publish in commit order.
	locks *keylock.Map
}

func NewReactionService(messageRepo repository.MessageRepository, reactionRepo repository.ReactionRepository, convs *ConversationService) *ReactionService {
	return &ReactionService{
		messageRepo:  messageRepo,
		reactionRepo: reactionRepo,
		convs:        convs,
		locks:        keylock.New(),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ReactionService) SetNotifier(n Notifier) {
	s.notifier = n
}

type ToggleReactionInput struct {
	Emoji string `json:"emoji"`
}

type ToggleResult struct {
	// Applied is the user's emoji after the toggle, nil when removed.
	Applied   *string                `json:"applied"`
	Reactions map[uuid.UUID]string   `json:"reactions"`
	Summary   []domain.ReactionGroup `json:"summary"`
}

// Toggle sets userID's reaction to emoji, or removes it when it already
// is emoji. A user holds at most one reaction per message.
func (s *ReactionService) Toggle(ctx context.Context, userID, messageID uuid.UUID, input ToggleReactionInput) (*ToggleResult, error) {
	if errs := validator.ValidateEmoji(input.Emoji); errs.HasErrors() {
		return nil, ValidationError(errs)
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if _, err := s.convs.Access(ctx, userID, msg.Ref()); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(messageID.String())
	defer unlock()

	applied, reactions, err := s.reactionRepo.Toggle(ctx, messageID, userID, input.Emoji)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrMessageNotFound
		case errors.Is(err, repository.ErrMessageDeleted):
			return nil, ErrMessageDeleted
		}
		return nil, fmt.Errorf("toggling reaction: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyReactionChanged(msg.Ref(), messageID, reactions)
	}

	res := &ToggleResult{Reactions: reactions, Summary: domain.SummarizeReactions(reactions)}
	if applied != "" {
		res.Applied = &applied
	}
	return res, nil
}
