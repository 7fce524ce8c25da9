package kv

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/repository"
)

type ReactionRepo struct {
	s *Store
}

// Toggle runs under the message lock so concurrent toggles on one message
// serialize and a tombstone cannot gain reactions.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (string, map[uuid.UUID]string, error) {
	unlock := r.s.locks.Lock(messageLock(messageID))
	defer unlock()

	msg, err := r.s.messages.loadRecord(messageID)
	if err != nil {
		return "", nil, err
	}
	if msg == nil {
		return "", nil, repository.ErrNotFound
	}
	if msg.IsDeleted {
		return "", nil, repository.ErrMessageDeleted
	}

	key := reactionKey(messageID, userID)
	current, err := r.s.get(key)
	if err != nil {
		return "", nil, err
	}

	applied := emoji
	b := r.s.db.NewBatch()
	if current != nil && string(current) == emoji {
		applied = ""
		err = b.Delete(key, nil)
	} else {
		err = b.Set(key, []byte(emoji), nil)
	}
	if err != nil {
		b.Close()
		return "", nil, err
	}
	if err := r.s.commit(b); err != nil {
		return "", nil, err
	}

	reactions, err := r.ListByMessage(ctx, messageID)
	if err != nil {
		return "", nil, err
	}
	return applied, reactions, nil
}

func (r *ReactionRepo) ListByMessage(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error) {
	reactions := make(map[uuid.UUID]string)
	err := r.s.scan(reactionPrefix(messageID), false, func(key, value []byte) (bool, error) {
		userID, err := parseTrailingID(key)
		if err != nil {
			return false, err
		}
		reactions[userID] = string(value)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
