package kv

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

type ConversationRepo struct {
	s *Store
}

type convRecord struct {
	domain.Conversation
	DirectKey string `json:"direct_key,omitempty"`
}

func membersLock(conv uuid.UUID) string { return "members:" + conv.String() }

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation, members []domain.Member) error {
	var uniqueKey []byte
	var dupErr error
	switch {
	case conv.Kind == domain.KindChannel:
		uniqueKey, dupErr = channelNameKey(strings.ToLower(conv.Name)), repository.ErrDuplicateName
	case conv.DirectKey != "":
		uniqueKey, dupErr = directKey(conv.DirectKey), repository.ErrDuplicateDirect
	}
	if uniqueKey != nil {
		unlock := r.s.locks.Lock(string(uniqueKey))
		defer unlock()

		existing, err := r.s.get(uniqueKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return dupErr
		}
	}

	b := r.s.db.NewBatch()
	if err := putConv(b, conv); err != nil {
		b.Close()
		return err
	}
	if uniqueKey != nil {
		if err := b.Set(uniqueKey, []byte(conv.ID.String()), nil); err != nil {
			b.Close()
			return err
		}
	}
	for i := range members {
		m := members[i]
		if err := setJSON(b, memberKey(conv.ID, m.UserID), m); err != nil {
			b.Close()
			return err
		}
		if err := b.Set(userConvKey(m.UserID, conv.ID), nil, nil); err != nil {
			b.Close()
			return err
		}
	}
	return r.s.commit(b)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var rec convRecord
	ok, err := r.s.getJSON(convKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	conv := rec.Conversation
	conv.DirectKey = rec.DirectKey
	return &conv, nil
}

func (r *ConversationRepo) GetByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	id, err := r.s.get(directKey(key))
	if err != nil || id == nil {
		return nil, err
	}
	convID, err := uuid.ParseBytes(id)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, convID)
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var ids []uuid.UUID
	err := r.s.scan(userConvPrefix(userID), false, func(key, _ []byte) (bool, error) {
		id, err := parseTrailingID(key)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	convs := make([]domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			continue
		}
		member, err := r.GetMember(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if member != nil {
			unread := member.UnreadCount
			conv.UnreadCount = &unread
		}
		convs = append(convs, *conv)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActivity().After(convs[j].LastActivity())
	})
	return convs, nil
}

func (r *ConversationRepo) AddMember(ctx context.Context, member *domain.Member) error {
	unlock := r.s.locks.Lock(membersLock(member.ConversationID))
	defer unlock()

	conv, err := r.GetByID(ctx, member.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return repository.ErrNotFound
	}
	existing, err := r.GetMember(ctx, member.ConversationID, member.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return repository.ErrAlreadyMember
	}

	b := r.s.db.NewBatch()
	if err := setJSON(b, memberKey(member.ConversationID, member.UserID), member); err != nil {
		b.Close()
		return err
	}
	if err := b.Set(userConvKey(member.UserID, member.ConversationID), nil, nil); err != nil {
		b.Close()
		return err
	}
	return r.s.commit(b)
}

func (r *ConversationRepo) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Member, error) {
	var m domain.Member
	ok, err := r.s.getJSON(memberKey(conversationID, userID), &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (r *ConversationRepo) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]domain.Member, error) {
	var members []domain.Member
	err := r.s.scan(memberPrefix(conversationID), false, func(_, value []byte) (bool, error) {
		var m domain.Member
		if err := json.Unmarshal(value, &m); err != nil {
			return false, err
		}
		members = append(members, m)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (r *ConversationRepo) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) (map[uuid.UUID]int64, error) {
	unlock := r.s.locks.Lock(membersLock(conversationID))
	defer unlock()

	members, err := r.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int64, len(members))
	b := r.s.db.NewBatch()
	for _, m := range members {
		if m.UserID == exceptUserID {
			continue
		}
		m.UnreadCount++
		if err := setJSON(b, memberKey(conversationID, m.UserID), m); err != nil {
			b.Close()
			return nil, err
		}
		counts[m.UserID] = m.UnreadCount
	}
	if err := r.s.commit(b); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *ConversationRepo) ClearUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	unlock := r.s.locks.Lock(membersLock(conversationID))
	defer unlock()

	m, err := r.GetMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return repository.ErrNotFound
	}
	if m.UnreadCount == 0 {
		return nil
	}
	m.UnreadCount = 0

	b := r.s.db.NewBatch()
	if err := setJSON(b, memberKey(conversationID, userID), m); err != nil {
		b.Close()
		return err
	}
	return r.s.commit(b)
}
