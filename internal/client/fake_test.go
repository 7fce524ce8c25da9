package client

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
)

// fakeAPI is an in-memory server for one conversation. Hooks run before
// the fake does its own work; a non-nil hook error fails the call.
type fakeAPI struct {
	mu       sync.Mutex
	ref      domain.ConversationRef
	user     uuid.UUID
	messages []domain.Message
	seq      uint64
	calls    map[string]int

	sendHook   func() error
	listHook   func() error
	repliesErr error
	deleteErr  error
	toggleErr  error
	editErr    error
	clearErr   error
}

func newFakeAPI(ref domain.ConversationRef, user uuid.UUID) *fakeAPI {
	return &fakeAPI{ref: ref, user: user, calls: make(map[string]int)}
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

// store appends a message as the server would, without going through Send.
func (f *fakeAPI) store(sender uuid.UUID, content string, replyTo *uuid.UUID) domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := domain.Message{ID: uuid.New(), Seq: f.seq, SenderID: sender, Content: content, ReplyToID: replyTo, CreatedAt: time.Now()}
	m.SetTopic(f.ref)
	m.Normalize()
	f.messages = append(f.messages, m)
	return m
}

func (f *fakeAPI) SendMessage(_ context.Context, _ domain.ConversationRef, draft Draft) (*domain.Message, error) {
	f.record("send")
	if f.sendHook != nil {
		if err := f.sendHook(); err != nil {
			return nil, err
		}
	}
	m := f.store(f.user, draft.Content, draft.ReplyToID)
	return &m, nil
}

func (f *fakeAPI) EditMessage(_ context.Context, messageID uuid.UUID, content string) (*domain.Message, error) {
	f.record("edit")
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == messageID {
			now := time.Now()
			f.messages[i].Content = content
			f.messages[i].IsEdited = true
			f.messages[i].EditedAt = &now
			m := f.messages[i]
			return &m, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
}

func (f *fakeAPI) DeleteMessage(_ context.Context, messageID uuid.UUID) error {
	f.record("delete")
	return f.deleteErr
}

func (f *fakeAPI) ToggleReaction(_ context.Context, messageID uuid.UUID, emoji string) (*ReactionResult, error) {
	f.record("toggle")
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID != messageID {
			continue
		}
		next := maps.Clone(f.messages[i].Reactions)
		var applied *string
		if next[f.user] == emoji {
			delete(next, f.user)
		} else {
			next[f.user] = emoji
			applied = &emoji
		}
		f.messages[i].Reactions = next
		return &ReactionResult{Applied: applied, Reactions: next}, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
}

func (f *fakeAPI) ListMessages(_ context.Context, _ domain.ConversationRef, page Page) (*MessagePage, error) {
	f.record("list")
	if f.listHook != nil {
		if err := f.listHook(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	var window []domain.Message
	for _, m := range f.messages {
		if page.After > 0 && m.Seq <= page.After {
			continue
		}
		if page.Before > 0 && m.Seq >= page.Before {
			continue
		}
		window = append(window, m)
	}
	out := &MessagePage{}
	if len(window) > limit {
		out.HasMore = true
		if page.After > 0 {
			window = window[:limit]
		} else {
			window = window[len(window)-limit:]
		}
	}
	out.Messages = window
	return out, nil
}

func (f *fakeAPI) ListReplies(_ context.Context, rootID uuid.UUID) ([]domain.Message, error) {
	f.record("replies")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	var out []domain.Message
	for _, m := range f.messages {
		if m.ReplyToID != nil && *m.ReplyToID == rootID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeAPI) ClearUnread(_ context.Context, _ domain.ConversationRef) error {
	f.record("clear")
	return f.clearErr
}

type fakeSubscriber struct {
	mu     sync.Mutex
	topics map[uuid.UUID]bool
	log    []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{topics: make(map[uuid.UUID]bool)}
}

func (s *fakeSubscriber) Subscribe(_ context.Context, topic uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
	s.log = append(s.log, "sub:"+topic.String())
	return nil
}

func (s *fakeSubscriber) Unsubscribe(_ context.Context, topic uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	s.log = append(s.log, "unsub:"+topic.String())
	return nil
}

func (s *fakeSubscriber) subscribed(topic uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}
