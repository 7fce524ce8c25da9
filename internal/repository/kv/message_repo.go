package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

type MessageRepo struct {
	s *Store
}

func convLock(id uuid.UUID) string    { return "conv:" + id.String() }
func messageLock(id uuid.UUID) string { return "msg:" + id.String() }

// loadRecord reads a message without its reactions.
func (r *MessageRepo) loadRecord(id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	ok, err := r.s.getJSON(messageKey(id), &msg)
	if err != nil || !ok {
		return nil, err
	}
	return &msg, nil
}

func putRecord(b *pebble.Batch, msg *domain.Message) error {
	rec := *msg
	rec.Reactions = nil
	return setJSON(b, messageKey(msg.ID), &rec)
}

func putConv(b *pebble.Batch, conv *domain.Conversation) error {
	rec := convRecord{Conversation: *conv, DirectKey: conv.DirectKey}
	rec.UnreadCount = nil
	return setJSON(b, convKey(conv.ID), rec)
}

func (r *MessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	topic := msg.TopicID()
	unlock := r.s.locks.Lock(convLock(topic))
	defer unlock()

	conv, err := r.s.conversations.GetByID(ctx, topic)
	if err != nil {
		return err
	}
	if conv == nil {
		return repository.ErrNotFound
	}

	var root *domain.Message
	if msg.ReplyToID != nil {
		unlockRoot := r.s.locks.Lock(messageLock(*msg.ReplyToID))
		defer unlockRoot()

		root, err = r.loadRecord(*msg.ReplyToID)
		if err != nil {
			return err
		}
		if root == nil || root.IsDeleted {
			return repository.ErrReplyTargetNotFound
		}
		if root.TopicID() != topic || root.ReplyToID != nil {
			return repository.ErrReplyTargetMismatch
		}
	}

	// created_at never goes backwards within a conversation, whatever the
	// wall clock does.
	createdAt := r.s.now().UTC().Truncate(time.Microsecond)
	if conv.LastMessageAt != nil && !createdAt.After(*conv.LastMessageAt) {
		createdAt = conv.LastMessageAt.Add(time.Microsecond)
	}
	msg.Seq = conv.LastSeq + 1
	msg.CreatedAt = createdAt
	msg.SetTopic(conv.Ref())
	msg.Normalize()

	conv.LastSeq = msg.Seq
	conv.LastMessageAt = &createdAt

	b := r.s.db.NewBatch()
	if err := putRecord(b, msg); err != nil {
		b.Close()
		return err
	}
	if err := b.Set(logKey(topic, msg.Seq), []byte(msg.ID.String()), nil); err != nil {
		b.Close()
		return err
	}
	if err := putConv(b, conv); err != nil {
		b.Close()
		return err
	}
	if root != nil {
		root.ReplyCount++
		if err := putRecord(b, root); err != nil {
			b.Close()
			return err
		}
		if err := b.Set(threadKey(topic, root.ID, msg.Seq), []byte(msg.ID.String()), nil); err != nil {
			b.Close()
			return err
		}
	}
	return r.s.commit(b)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := r.loadRecord(id)
	if err != nil || msg == nil {
		return nil, err
	}
	msg.Reactions, err = r.s.reactions.ListByMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Normalize()
	return msg, nil
}

func (r *MessageRepo) List(ctx context.Context, conversationID uuid.UUID, page repository.Page) ([]domain.Message, error) {
	page = page.WithDefaultLimit()
	prefix := logPrefix(conversationID)

	opts := &pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)}
	if page.After > 0 {
		opts.LowerBound = logKey(conversationID, page.After+1)
	}
	if page.Before > 0 {
		opts.UpperBound = logKey(conversationID, page.Before)
	}

	iter, err := r.s.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if page.After > 0 {
		for valid := iter.First(); valid && len(ids) < page.Limit; valid = iter.Next() {
			id, err := uuid.ParseBytes(iter.Value())
			if err != nil {
				iter.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
	} else {
		for valid := iter.Last(); valid && len(ids) < page.Limit; valid = iter.Prev() {
			id, err := uuid.ParseBytes(iter.Value())
			if err != nil {
				iter.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return r.loadAll(ctx, ids)
}

func (r *MessageRepo) loadAll(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// A concurrent delete may have removed it between index and record.
		if msg != nil {
			messages = append(messages, *msg)
		}
	}
	return messages, nil
}

func (r *MessageRepo) ListReplies(ctx context.Context, rootID uuid.UUID) ([]domain.Message, error) {
	root, err := r.loadRecord(rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, repository.ErrNotFound
	}

	var ids []uuid.UUID
	err = r.s.scan(threadPrefix(root.TopicID(), rootID), false, func(_, value []byte) (bool, error) {
		id, err := uuid.ParseBytes(value)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return r.loadAll(ctx, ids)
}

func (r *MessageRepo) UpdateContent(ctx context.Context, msg *domain.Message) error {
	unlock := r.s.locks.Lock(messageLock(msg.ID))
	defer unlock()

	stored, err := r.loadRecord(msg.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return repository.ErrNotFound
	}
	if stored.IsDeleted {
		return repository.ErrMessageDeleted
	}

	editedAt := r.s.now().UTC().Truncate(time.Microsecond)
	stored.Content = msg.Content
	stored.IsEdited = true
	stored.EditedAt = &editedAt

	b := r.s.db.NewBatch()
	if err := putRecord(b, stored); err != nil {
		b.Close()
		return err
	}
	if err := r.s.commit(b); err != nil {
		return err
	}
	msg.IsEdited, msg.EditedAt = true, &editedAt
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) (*repository.DeleteResult, error) {
	peek, err := r.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, repository.ErrNotFound
	}
	topic := peek.TopicID()

	unlockConv := r.s.locks.Lock(convLock(topic))
	defer unlockConv()
	unlockMsg := r.s.locks.Lock(messageLock(id))
	defer unlockMsg()

	msg, err := r.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, repository.ErrNotFound
	}
	if msg.IsDeleted {
		return nil, repository.ErrMessageDeleted
	}

	b := r.s.db.NewBatch()
	if err := r.deleteReactions(b, id); err != nil {
		b.Close()
		return nil, err
	}

	if msg.ReplyCount > 0 {
		msg.Tombstone()
		if err := putRecord(b, msg); err != nil {
			b.Close()
			return nil, err
		}
		if err := r.s.commit(b); err != nil {
			return nil, err
		}
		return &repository.DeleteResult{Outcome: repository.Tombstoned}, nil
	}

	if err := b.Delete(messageKey(id), nil); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.Delete(logKey(topic, msg.Seq), nil); err != nil {
		b.Close()
		return nil, err
	}

	result := &repository.DeleteResult{Outcome: repository.Removed}
	if msg.ReplyToID != nil {
		unlockRoot := r.s.locks.Lock(messageLock(*msg.ReplyToID))
		defer unlockRoot()

		if err := b.Delete(threadKey(topic, *msg.ReplyToID, msg.Seq), nil); err != nil {
			b.Close()
			return nil, err
		}
		root, err := r.loadRecord(*msg.ReplyToID)
		if err != nil {
			b.Close()
			return nil, err
		}
		if root != nil {
			if root.ReplyCount > 0 {
				root.ReplyCount--
			}
			if root.IsDeleted && root.ReplyCount == 0 {
				if err := b.Delete(messageKey(root.ID), nil); err != nil {
					b.Close()
					return nil, err
				}
				if err := b.Delete(logKey(topic, root.Seq), nil); err != nil {
					b.Close()
					return nil, err
				}
				result.RootCollected = true
			} else {
				if err := putRecord(b, root); err != nil {
					b.Close()
					return nil, err
				}
				result.Root = root
			}
		}
	}

	if err := r.s.commit(b); err != nil {
		return nil, err
	}
	if result.Root != nil {
		result.Root.Reactions, err = r.s.reactions.ListByMessage(ctx, result.Root.ID)
		if err != nil {
			return nil, fmt.Errorf("loading root reactions: %w", err)
		}
		result.Root.Normalize()
	}
	return result, nil
}

func (r *MessageRepo) deleteReactions(b *pebble.Batch, id uuid.UUID) error {
	prefix := reactionPrefix(id)
	return b.DeleteRange(prefix, prefixEnd(prefix), nil)
}

