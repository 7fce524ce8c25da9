package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/transport/ws"
)

// Subscriber is the subscription half of the event stream.
type Subscriber interface {
	Subscribe(ctx context.Context, topic uuid.UUID) error
	Unsubscribe(ctx context.Context, topic uuid.UUID) error
}

type SessionOptions struct {
	PollInterval time.Duration
	PageSize     int
	Logger       *slog.Logger
}

// Session is one signed-in user's client state. At most one conversation
// and one thread are open at a time; opening another detaches the old one.
type Session struct {
	api    API
	subs   Subscriber
	userID uuid.UUID
	opts   SessionOptions
	logger *slog.Logger

	mu       sync.Mutex
	current  *Reconciler
	thread   *ThreadPoller
	unread   map[uuid.UUID]int64
	mentions chan ws.MentionPayload
}

func NewSession(api API, subs Subscriber, userID uuid.UUID, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultThreadPollInterval
	}
	return &Session{
		api:      api,
		subs:     subs,
		userID:   userID,
		opts:     opts,
		logger:   opts.Logger.With("component", "session", "user_id", userID),
		unread:   make(map[uuid.UUID]int64),
		mentions: make(chan ws.MentionPayload, 32),
	}
}

// Open switches to ref. The previous conversation is unsubscribed and its
// pending state discarded before the new one is subscribed and loaded.
func (s *Session) Open(ctx context.Context, ref domain.ConversationRef) (*Reconciler, error) {
	s.mu.Lock()
	prev, thread := s.current, s.thread
	r := NewReconciler(s.api, ref, s.userID, s.opts.Logger)
	s.current, s.thread = r, nil
	s.mu.Unlock()

	if thread != nil {
		thread.Stop()
	}
	if prev != nil {
		prev.Close()
		if prev.Ref().ID != ref.ID {
			if err := s.subs.Unsubscribe(ctx, prev.Ref().ID); err != nil {
				s.logger.Debug("unsubscribe_failed", "topic", prev.Ref().ID, "error", err)
			}
		}
	}

	if err := s.subs.Subscribe(ctx, ref.ID); err != nil {
		return nil, err
	}
	if err := r.Load(ctx, s.opts.PageSize); err != nil {
		return nil, err
	}
	r.ClearUnread(ctx)
	return r, nil
}

func (s *Session) Current() *Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OpenThread starts polling the replies of rootID, replacing any thread
// that was open.
func (s *Session) OpenThread(ctx context.Context, rootID uuid.UUID, onUpdate func([]domain.Message)) *ThreadPoller {
	p := StartThreadPoller(ctx, s.api, rootID, s.opts.PollInterval, onUpdate, s.opts.Logger)

	s.mu.Lock()
	prev := s.thread
	s.thread = p
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return p
}

func (s *Session) CloseThread() {
	s.mu.Lock()
	p := s.thread
	s.thread = nil
	s.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// Unread returns the last pushed unread count for a conversation.
func (s *Session) Unread(conversationID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}

// Mentions delivers mention notifications for this user.
func (s *Session) Mentions() <-chan ws.MentionPayload { return s.mentions }

// Dispatch routes one pushed event. Personal events update session
// state; conversation events go to the open conversation, if it matches.
func (s *Session) Dispatch(evt *ws.Event) {
	switch evt.Type {
	case ws.EventTypeUnreadChanged:
		var p ws.UnreadChangedPayload
		if err := evt.Decode(&p); err != nil || p.UserID != s.userID {
			return
		}
		s.mu.Lock()
		s.unread[p.ConversationID] = p.Count
		s.mu.Unlock()

	case ws.EventTypeMentionNew:
		var p ws.MentionPayload
		if err := evt.Decode(&p); err != nil {
			return
		}
		select {
		case s.mentions <- p:
		default:
		}

	case ws.EventTypeError:
		var p ws.ErrorPayload
		_ = evt.Decode(&p)
		s.logger.Warn("server_event_error", "code", p.Code, "message", p.Message)

	default:
		if r := s.Current(); r != nil {
			if err := r.ApplyEvent(evt); err != nil {
				s.logger.Debug("event_dropped", "type", evt.Type, "error", err)
			}
		}
	}
}

// Run dispatches events until ctx ends or the channel closes.
func (s *Session) Run(ctx context.Context, events <-chan ws.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			s.Dispatch(&evt)
		}
	}
}

// Close detaches the open conversation and thread.
func (s *Session) Close(ctx context.Context) {
	s.CloseThread()

	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r != nil {
		r.Close()
		if err := s.subs.Unsubscribe(ctx, r.Ref().ID); err != nil {
			s.logger.Debug("unsubscribe_failed", "topic", r.Ref().ID, "error", err)
		}
	}
}
