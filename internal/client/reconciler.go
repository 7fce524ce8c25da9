package client

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/transport/ws"
)

var (
	ErrClosed         = errors.New("conversation view closed")
	ErrUnknownMessage = apperr.New(apperr.KindNotFound, "UNKNOWN_MESSAGE", "message is not in the local view")
)

// SendState tracks the outgoing side of a conversation view.
type SendState int

const (
	Idle SendState = iota
	Sending
	Confirmed
	Failed
)

func (s SendState) String() string {
	switch s {
	case Sending:
		return "sending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Failure is reported on the failure channel when an optimistic change
// is rolled back.
type Failure struct {
	Op        string
	MessageID uuid.UUID
	Err       error
}

// Reconciler owns the local view of one conversation. Mutations are
// applied to the view first, sent to the API, then confirmed with the
// server's answer or rolled back.
type Reconciler struct {
	api    API
	ref    domain.ConversationRef
	userID uuid.UUID
	view   *View
	logger *slog.Logger

	mu       sync.Mutex
	state    SendState
	inFlight int
	input    string
	closed   bool
	hasMore  bool

	failures chan Failure
}

func NewReconciler(api API, ref domain.ConversationRef, userID uuid.UUID, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		api:      api,
		ref:      ref,
		userID:   userID,
		view:     NewView(),
		logger:   logger.With("component", "reconciler", "conversation", ref.String()),
		failures: make(chan Failure, 16),
	}
}

func (r *Reconciler) Ref() domain.ConversationRef { return r.ref }
func (r *Reconciler) View() *View                 { return r.view }

// Failures delivers rollback notifications. Notifications are dropped
// when nobody drains the channel.
func (r *Reconciler) Failures() <-chan Failure { return r.failures }

func (r *Reconciler) State() SendState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TakeInput returns the text of the last failed send and clears it.
func (r *Reconciler) TakeInput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := r.input
	r.input = ""
	return in
}

func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reconciler) notify(f Failure) {
	select {
	case r.failures <- f:
	default:
	}
}

// Send shows the draft immediately under a temporary id and replaces it
// with the stored message once the server accepts it. On failure the
// provisional entry is removed and the draft text kept for TakeInput.
// Sends are never retried here.
func (r *Reconciler) Send(ctx context.Context, draft Draft) (*domain.Message, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.inFlight++
	r.state = Sending
	r.mu.Unlock()

	provisional := domain.Message{
		ID:          uuid.New(),
		SenderID:    r.userID,
		Content:     draft.Content,
		Attachments: draft.Attachments,
		ReplyToID:   draft.ReplyToID,
		CreatedAt:   time.Now(),
	}
	provisional.SetTopic(r.ref)
	provisional.Normalize()
	r.view.addPending(provisional)

	msg, err := r.api.SendMessage(ctx, r.ref, draft)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	if r.closed {
		// The view was torn down; the request finished server side anyway.
		return msg, err
	}

	if err != nil {
		r.view.Remove(provisional.ID)
		r.input = draft.Content
		r.state = Failed
		r.notify(Failure{Op: "send", MessageID: provisional.ID, Err: err})
		return nil, err
	}

	if r.view.promote(provisional.ID, *msg) {
		r.adjustReplies(msg.ReplyToID, 1)
	}
	if r.inFlight == 0 {
		r.state = Confirmed
	}
	return msg, nil
}

// ToggleReaction flips the caller's reaction locally, then asks the
// server. A failure silently restores the previous reactions.
func (r *Reconciler) ToggleReaction(ctx context.Context, messageID uuid.UUID, emoji string) (*ReactionResult, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	prev, ok := r.view.Get(messageID)
	if !ok {
		return nil, ErrUnknownMessage
	}

	next := maps.Clone(prev.Reactions)
	if next == nil {
		next = map[uuid.UUID]string{}
	}
	if next[r.userID] == emoji {
		delete(next, r.userID)
	} else {
		next[r.userID] = emoji
	}
	r.view.Update(messageID, func(m *domain.Message) { m.Reactions = next })

	result, err := r.api.ToggleReaction(ctx, messageID, emoji)
	if err != nil {
		r.view.Update(messageID, func(m *domain.Message) { m.Reactions = prev.Reactions })
		r.logger.Debug("reaction_rolled_back", "message_id", messageID, "error", err)
		return nil, err
	}
	r.view.Update(messageID, func(m *domain.Message) { m.Reactions = result.Reactions })
	return result, nil
}

func (r *Reconciler) Edit(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	prev, ok := r.view.Get(messageID)
	if !ok {
		return nil, ErrUnknownMessage
	}

	now := time.Now()
	r.view.Update(messageID, func(m *domain.Message) {
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &now
	})

	msg, err := r.api.EditMessage(ctx, messageID, content)
	if err != nil {
		r.view.Replace(prev)
		r.notify(Failure{Op: "edit", MessageID: messageID, Err: err})
		return nil, err
	}
	r.view.Replace(*msg)
	return msg, nil
}

// Delete removes the message locally and on the server. NotFound and
// Conflict mean another session got there first, which is what the
// caller wanted, so they count as success.
func (r *Reconciler) Delete(ctx context.Context, messageID uuid.UUID) error {
	if r.isClosed() {
		return ErrClosed
	}
	prev, ok := r.view.Remove(messageID)
	if !ok {
		return ErrUnknownMessage
	}
	r.adjustReplies(prev.ReplyToID, -1)

	err := r.api.DeleteMessage(ctx, messageID)
	if kind := apperr.KindOf(err); err != nil && kind != apperr.KindNotFound && kind != apperr.KindConflict {
		r.view.Upsert(prev)
		r.adjustReplies(prev.ReplyToID, 1)
		r.notify(Failure{Op: "delete", MessageID: messageID, Err: err})
		return err
	}
	if prev.ReplyCount > 0 {
		// Roots with replies stay as tombstones.
		prev.Tombstone()
		r.view.Upsert(prev)
	}
	return nil
}

// Load fetches the newest page and merges it into the view.
func (r *Reconciler) Load(ctx context.Context, limit int) error {
	page, err := r.api.ListMessages(ctx, r.ref, Page{Limit: limit})
	if err != nil {
		return err
	}
	r.view.Merge(page.Messages)
	r.mu.Lock()
	r.hasMore = page.HasMore
	r.mu.Unlock()
	return nil
}

// LoadOlder fetches the page before the oldest loaded message.
func (r *Reconciler) LoadOlder(ctx context.Context, limit int) error {
	first, _ := r.view.Bounds()
	if first == 0 {
		return r.Load(ctx, limit)
	}
	page, err := r.api.ListMessages(ctx, r.ref, Page{Before: first, Limit: limit})
	if err != nil {
		return err
	}
	r.view.Merge(page.Messages)
	r.mu.Lock()
	r.hasMore = page.HasMore
	r.mu.Unlock()
	return nil
}

// CatchUp pulls everything after the newest loaded message, e.g. after
// the event stream reconnects.
func (r *Reconciler) CatchUp(ctx context.Context) error {
	_, last := r.view.Bounds()
	if last == 0 {
		return r.Load(ctx, 0)
	}
	for {
		page, err := r.api.ListMessages(ctx, r.ref, Page{After: last})
		if err != nil {
			return err
		}
		r.view.Merge(page.Messages)
		if !page.HasMore || len(page.Messages) == 0 {
			return nil
		}
		last = page.Messages[len(page.Messages)-1].Seq
	}
}

// ClearUnread is best effort; the next successful clear corrects a
// failed one.
func (r *Reconciler) ClearUnread(ctx context.Context) {
	if err := r.api.ClearUnread(ctx, r.ref); err != nil {
		r.logger.Debug("clear_unread_skipped", "error", err)
	}
}

// ApplyEvent merges a pushed event for this conversation. Events for
// other topics are ignored.
func (r *Reconciler) ApplyEvent(evt *ws.Event) error {
	if evt.Topic == nil || *evt.Topic != r.ref.ID || r.isClosed() {
		return nil
	}

	switch evt.Type {
	case ws.EventTypeMessageNew:
		var p ws.MessagePayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if r.view.Upsert(p.Message) {
			r.adjustReplies(p.Message.ReplyToID, 1)
		}

	case ws.EventTypeMessageEdited:
		var p ws.MessagePayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		r.view.Replace(p.Message)

	case ws.EventTypeMessageDeleted:
		var p ws.MessageDeletedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if p.Tombstone != nil {
			r.applyTombstone(*p.Tombstone)
		} else if prev, ok := r.view.Remove(p.MessageID); ok {
			r.adjustReplies(prev.ReplyToID, -1)
		}

	case ws.EventTypeThreadUpdated:
		var p ws.ThreadUpdatedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		r.view.Update(p.RootID, func(m *domain.Message) { m.ReplyCount = p.ReplyCount })

	case ws.EventTypeReactionChanged:
		var p ws.ReactionChangedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		r.view.Update(p.MessageID, func(m *domain.Message) { m.Reactions = p.Reactions })
	}
	return nil
}

// adjustReplies moves the local reply count of rootID by delta until the
// next thread:updated event sets it.
func (r *Reconciler) adjustReplies(rootID *uuid.UUID, delta int) {
	if rootID == nil {
		return
	}
	r.view.Update(*rootID, func(m *domain.Message) {
		m.ReplyCount = max(m.ReplyCount+delta, 0)
	})
}

// applyTombstone keeps a deleted root visible even when this session
// already dropped it. Roots older than the loaded window stay out so
// LoadOlder keeps paging from the right place.
func (r *Reconciler) applyTombstone(tomb domain.Message) {
	if r.view.Replace(tomb) {
		return
	}
	if first, _ := r.view.Bounds(); first == 0 || tomb.Seq >= first {
		r.view.Upsert(tomb)
	}
}

// Close tears the view down. Provisional messages are discarded; sends
// already on the wire complete server side but are no longer tracked.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.view.DropPending()
	r.state = Idle
}
