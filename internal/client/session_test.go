package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/transport/ws"
)

func TestThreadPollerSkipsFailuresAndStops(t *testing.T) {
	ref := domain.DirectRef(uuid.New())
	api := newFakeAPI(ref, uuid.New())
	root := api.store(uuid.New(), "root", nil)
	api.repliesErr = apperr.Transient("GET replies", errors.New("flaky"))

	var mu sync.Mutex
	var updates [][]domain.Message
	p := StartThreadPoller(context.Background(), api, root.ID, 10*time.Millisecond, func(replies []domain.Message) {
		mu.Lock()
		updates = append(updates, replies)
		mu.Unlock()
	}, nil)

	require.Eventually(t, func() bool { return api.count("replies") >= 2 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Empty(t, updates, "failed polls are skipped")
	mu.Unlock()

	api.mu.Lock()
	api.repliesErr = nil
	api.mu.Unlock()
	api.store(uuid.New(), "reply", &root.ID)

	require.Eventually(t, func() bool { return len(p.Replies()) == 1 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	after := api.count("replies")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, api.count("replies"), "no polling after Stop")
}

func TestSessionSwitchesConversations(t *testing.T) {
	ctx := context.Background()
	user := uuid.New()
	refA := domain.DirectRef(uuid.New())
	refB := domain.ChannelRef(uuid.New())
	api := newFakeAPI(refA, user)
	subs := newFakeSubscriber()
	s := NewSession(api, subs, user, SessionOptions{PollInterval: 10 * time.Millisecond})

	a, err := s.Open(ctx, refA)
	require.NoError(t, err)
	assert.True(t, subs.subscribed(refA.ID))
	assert.Equal(t, 1, api.count("clear"))

	thread := s.OpenThread(ctx, uuid.New(), nil)

	b, err := s.Open(ctx, refB)
	require.NoError(t, err)
	assert.False(t, subs.subscribed(refA.ID))
	assert.True(t, subs.subscribed(refB.ID))
	assert.Same(t, b, s.Current())

	select {
	case <-thread.done:
	default:
		t.Fatal("thread poller still running after switching conversations")
	}

	_, err = a.Send(ctx, Draft{Content: "stale"})
	assert.ErrorIs(t, err, ErrClosed)

	// Events for the old conversation no longer land anywhere.
	stale := domain.Message{ID: uuid.New(), Seq: 1}
	stale.SetTopic(refA)
	s.Dispatch(event(t, ws.EventTypeMessageNew, refA.ID, ws.MessagePayload{Message: stale}))
	fresh := domain.Message{ID: uuid.New(), Seq: 1}
	fresh.SetTopic(refB)
	s.Dispatch(event(t, ws.EventTypeMessageNew, refB.ID, ws.MessagePayload{Message: fresh}))

	assert.Empty(t, a.View().Messages())
	msgs := b.View().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh.ID, msgs[0].ID)

	s.Close(ctx)
	assert.False(t, subs.subscribed(refB.ID))
	assert.Nil(t, s.Current())
}

func TestSessionPersonalEvents(t *testing.T) {
	user := uuid.New()
	convID := uuid.New()
	s := NewSession(newFakeAPI(domain.DirectRef(convID), user), newFakeSubscriber(), user, SessionOptions{})

	s.Dispatch(event(t, ws.EventTypeUnreadChanged, user, ws.UnreadChangedPayload{ConversationID: convID, UserID: user, Count: 3}))
	s.Dispatch(event(t, ws.EventTypeUnreadChanged, user, ws.UnreadChangedPayload{ConversationID: convID, UserID: uuid.New(), Count: 9}))
	assert.Equal(t, int64(3), s.Unread(convID))

	msgID := uuid.New()
	s.Dispatch(event(t, ws.EventTypeMentionNew, user, ws.MentionPayload{MessageID: msgID, Conversation: domain.DirectRef(convID)}))
	select {
	case m := <-s.Mentions():
		assert.Equal(t, msgID, m.MessageID)
	default:
		t.Fatal("expected a mention")
	}
}

func TestSessionRunStopsWhenStreamCloses(t *testing.T) {
	user := uuid.New()
	s := NewSession(newFakeAPI(domain.DirectRef(uuid.New()), user), newFakeSubscriber(), user, SessionOptions{})

	events := make(chan ws.Event, 1)
	events <- ws.Event{Type: ws.EventTypePong}
	close(events)
	assert.NoError(t, s.Run(context.Background(), events))
}
