package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/internal/repository/kv"
	"github.com/vedran77/pulse/pkg/validator"
)

type recordedEvent struct {
	kind      string
	topic     uuid.UUID
	messageID uuid.UUID
	userID    uuid.UUID
	count     int64
	seq       uint64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) add(e recordedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message) {
	n.add(recordedEvent{kind: "message:new", topic: msg.TopicID(), messageID: msg.ID, seq: msg.Seq})
}

func (n *recordingNotifier) NotifyEditedMessage(msg *domain.Message) {
	n.add(recordedEvent{kind: "message:edited", topic: msg.TopicID(), messageID: msg.ID})
}

func (n *recordingNotifier) NotifyDeletedMessage(ref domain.ConversationRef, messageID uuid.UUID, _ *domain.Message) {
	n.add(recordedEvent{kind: "message:deleted", topic: ref.ID, messageID: messageID})
}

func (n *recordingNotifier) NotifyReactionChanged(ref domain.ConversationRef, messageID uuid.UUID, _ map[uuid.UUID]string) {
	n.add(recordedEvent{kind: "reaction:changed", topic: ref.ID, messageID: messageID})
}

func (n *recordingNotifier) NotifyThreadUpdated(root *domain.Message) {
	n.add(recordedEvent{kind: "thread:updated", topic: root.TopicID(), messageID: root.ID, count: int64(root.ReplyCount)})
}

func (n *recordingNotifier) NotifyUnreadChanged(conversationID, userID uuid.UUID, count int64) {
	n.add(recordedEvent{kind: "unread:changed", topic: conversationID, userID: userID, count: count})
}

func (n *recordingNotifier) NotifyMention(userID uuid.UUID, msg *domain.Message) {
	n.add(recordedEvent{kind: "mention:new", userID: userID, messageID: msg.ID})
}

func (n *recordingNotifier) ofKind(kind string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store     *kv.Store
	convs     *ConversationService
	messages  *MessageService
	reactions *ReactionService
	users     *UserService
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kv.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, notifier: &recordingNotifier{}}
	f.convs = NewConversationService(store.Conversations(), store.Users(), nil)
	f.messages = NewMessageService(store.Messages(), f.convs, nil, nil)
	f.reactions = NewReactionService(store.Messages(), store.Reactions(), f.convs)
	f.users = NewUserService(store.Users())
	f.convs.SetNotifier(f.notifier)
	f.messages.SetNotifier(f.notifier)
	f.reactions.SetNotifier(f.notifier)
	return f
}

func (f *fixture) user(t *testing.T, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.users.Touch(context.Background(), domain.User{ID: id, Username: username}))
	return id
}

func (f *fixture) send(t *testing.T, sender uuid.UUID, conv *domain.Conversation, content string, replyTo *uuid.UUID) *domain.Message {
	t.Helper()
	msg, err := f.messages.Append(context.Background(), sender, conv.Ref(), SendMessageInput{Content: content, ReplyToID: replyTo})
	require.NoError(t, err)
	return msg
}

func TestGetOrCreateDirectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conv, err := f.convs.GetOrCreateDirect(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	_, err := f.convs.GetOrCreateDirect(ctx, alice, alice)
	assert.ErrorIs(t, err, ErrCannotDMSelf)
}

func TestCreateGroupAlwaysCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	g1, err := f.convs.CreateGroup(ctx, alice, []uuid.UUID{bob, bob, alice})
	require.NoError(t, err)
	g2, err := f.convs.CreateGroup(ctx, alice, []uuid.UUID{bob})
	require.NoError(t, err)

	assert.NotEqual(t, g1.ID, g2.ID)
	assert.Equal(t, []uuid.UUID{alice, bob}, g1.ParticipantIDs)

	_, err = f.convs.CreateGroup(ctx, alice, nil)
	assert.ErrorIs(t, err, ErrGroupTooSmall)
}

func TestChannelMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	general, err := f.convs.CreateChannel(ctx, alice, "General", domain.VisibilityPublic)
	require.NoError(t, err)
	_, err = f.convs.CreateChannel(ctx, bob, "general", domain.VisibilityPublic)
	assert.ErrorIs(t, err, ErrChannelNameTaken)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.convs.JoinChannel(ctx, bob, general.ID)
	require.NoError(t, err)
	_, err = f.convs.JoinChannel(ctx, bob, general.ID)
	require.NoError(t, err)

	secret, err := f.convs.CreateChannel(ctx, alice, "secret", domain.VisibilityPrivate)
	require.NoError(t, err)
	_, err = f.convs.JoinChannel(ctx, bob, secret.ID)
	assert.ErrorIs(t, err, ErrPrivateChannel)

	assert.ErrorIs(t, f.convs.InviteMember(ctx, carol, secret.ID, bob), ErrNotMember)
	require.NoError(t, f.convs.InviteMember(ctx, alice, secret.ID, bob))
	assert.ErrorIs(t, f.convs.InviteMember(ctx, alice, secret.ID, bob), ErrAlreadyMember)

	convs, err := f.convs.ListForUser(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	_, err = f.messages.Append(ctx, carol, general.Ref(), SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestRefNamespacesAreExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")

	ch, err := f.convs.CreateChannel(ctx, alice, "general", "")
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, alice, domain.DirectRef(ch.ID), SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	msg, err := f.messages.Append(ctx, alice, domain.ChannelRef(ch.ID), SendMessageInput{Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg.ChannelID)
	assert.Nil(t, msg.ConversationID)
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, alice, dm.Ref(), SendMessageInput{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.messages.Append(ctx, alice, domain.DirectRef(uuid.New()), SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	missing := uuid.New()
	_, err = f.messages.Append(ctx, alice, dm.Ref(), SendMessageInput{Content: "hi", ReplyToID: &missing})
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	other, err := f.convs.CreateGroup(ctx, alice, []uuid.UUID{bob})
	require.NoError(t, err)
	elsewhere := f.send(t, alice, other, "elsewhere", nil)
	_, err = f.messages.Append(ctx, alice, dm.Ref(), SendMessageInput{Content: "hi", ReplyToID: &elsewhere.ID})
	assert.ErrorIs(t, err, ErrReplyTargetMismatch)

	_, err = f.messages.Append(ctx, alice, dm.Ref(), SendMessageInput{Content: strings.Repeat("x", validator.MaxContentLength+1)})
	assert.ErrorIs(t, err, ErrContentTooLong)
	assert.NotErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, validator.CodeContentTooLong, apperr.CodeOf(err))

	unread, err := f.store.Conversations().GetMember(ctx, dm.ID, bob)
	require.NoError(t, err)
	assert.Zero(t, unread.UnreadCount)
}

func TestValidationFailuresKeepTheirCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	msg := f.send(t, alice, dm, "hi", nil)

	_, err = f.reactions.Toggle(ctx, bob, msg.ID, ToggleReactionInput{Emoji: "a b"})
	assert.ErrorIs(t, err, ErrInvalidEmoji)
	assert.NotErrorIs(t, err, ErrContentTooLong)

	_, err = f.convs.CreateChannel(ctx, alice, "x", domain.VisibilityPublic)
	assert.ErrorIs(t, err, ErrInvalidChannelName)
	_, err = f.convs.CreateChannel(ctx, alice, "general", "secret")
	assert.ErrorIs(t, err, ErrInvalidVisibility)
	assert.NotErrorIs(t, err, ErrInvalidChannelName)

	_, err = f.messages.Append(ctx, alice, dm.Ref(), SendMessageInput{
		Content:     "see attached",
		Attachments: []domain.Attachment{{URL: "/relative.png", Kind: domain.AttachmentImage}},
	})
	assert.ErrorIs(t, err, ErrInvalidAttachment)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

// cancelAwareConvRepo fails direct-key lookups once ctx is done, like a
// database driver would.
type cancelAwareConvRepo struct {
	repository.ConversationRepository
}

func (r cancelAwareConvRepo) GetByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.ConversationRepository.GetByDirectKey(ctx, key)
}

func TestSharedDirectLookupOutlivesCaller(t *testing.T) {
	f := newFixture(t)
	convs := NewConversationService(cancelAwareConvRepo{f.store.Conversations()}, f.store.Users(), nil)
	alice, bob := uuid.New(), uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conv, err := convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	again, err := convs.GetOrCreateDirect(context.Background(), bob, alice)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestMentionNotifiesOncePerRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	carol := f.user(t, "carol")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	msg := f.send(t, alice, dm, "hello @bob, cc @Bob @carol @alice", nil)

	assert.Equal(t, []uuid.UUID{bob, alice}, msg.MentionedUserIDs)
	mentions := f.notifier.ofKind("mention:new")
	require.Len(t, mentions, 1)
	assert.Equal(t, bob, mentions[0].userID)
	for _, m := range mentions {
		assert.NotEqual(t, carol, m.userID)
	}
}

func TestUnreadIncrementAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	group, err := f.convs.CreateGroup(ctx, alice, []uuid.UUID{bob, carol})
	require.NoError(t, err)

	f.send(t, alice, group, "one", nil)
	f.send(t, alice, group, "two", nil)

	member, err := f.store.Conversations().GetMember(ctx, group.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), member.UnreadCount)
	sender, err := f.store.Conversations().GetMember(ctx, group.ID, alice)
	require.NoError(t, err)
	assert.Zero(t, sender.UnreadCount)

	require.NoError(t, f.convs.ClearUnread(ctx, bob, group.Ref()))
	member, err = f.store.Conversations().GetMember(ctx, group.ID, bob)
	require.NoError(t, err)
	assert.Zero(t, member.UnreadCount)

	var bobCounts []int64
	for _, e := range f.notifier.ofKind("unread:changed") {
		if e.userID == bob {
			bobCounts = append(bobCounts, e.count)
		}
	}
	assert.Equal(t, []int64{1, 2, 0}, bobCounts)
}

func TestConcurrentSendsPublishInSequenceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 0 {
				sender = bob
			}
			_, err := f.messages.Append(ctx, sender, dm.Ref(), SendMessageInput{Content: "hi"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events := f.notifier.ofKind("message:new")
	require.Len(t, events, 30)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.seq)
	}

	page, err := f.messages.List(ctx, alice, dm.Ref(), repository.Page{Limit: 10})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 10)
	assert.Equal(t, uint64(21), page.Messages[0].Seq)

	before, err := repository.DecodeCursor(page.Cursor)
	require.NoError(t, err)
	older, err := f.messages.List(ctx, alice, dm.Ref(), repository.Page{Before: before, Limit: 30})
	require.NoError(t, err)
	assert.False(t, older.HasMore)
	assert.Len(t, older.Messages, 20)
}

func TestThreadsAndTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	root := f.send(t, alice, dm, "root", nil)
	r1 := f.send(t, bob, dm, "r1", &root.ID)
	// A reply to a reply attaches to the root.
	r2 := f.send(t, alice, dm, "r2", &r1.ID)
	require.NotNil(t, r2.ReplyToID)
	assert.Equal(t, root.ID, *r2.ReplyToID)

	replies, err := f.messages.ListReplies(ctx, bob, root.ID)
	require.NoError(t, err)
	assert.Len(t, replies, 2)

	assert.ErrorIs(t, f.messages.Delete(ctx, bob, root.ID), ErrNotMessageOwner)
	require.NoError(t, f.messages.Delete(ctx, alice, root.ID))

	replies, err = f.messages.ListReplies(ctx, bob, root.ID)
	require.NoError(t, err)
	assert.Len(t, replies, 2)

	err = f.messages.Delete(ctx, alice, root.ID)
	assert.ErrorIs(t, err, ErrMessageDeleted)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.messages.Append(ctx, bob, dm.Ref(), SendMessageInput{Content: "late", ReplyToID: &root.ID})
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	require.NoError(t, f.messages.Delete(ctx, bob, r1.ID))
	tomb, err := f.store.Messages().GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tomb.ReplyCount)

	require.NoError(t, f.messages.Delete(ctx, alice, r2.ID))
	_, err = f.messages.ListReplies(ctx, bob, root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	deleted := f.notifier.ofKind("message:deleted")
	require.Len(t, deleted, 4)
	assert.Equal(t, root.ID, deleted[3].messageID)
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	msg := f.send(t, alice, dm, "hello @bob", nil)

	_, err = f.messages.Edit(ctx, bob, msg.ID, EditMessageInput{Content: "x"})
	assert.ErrorIs(t, err, ErrNotMessageOwner)
	_, err = f.messages.Edit(ctx, alice, msg.ID, EditMessageInput{Content: ""})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = f.messages.Edit(ctx, alice, uuid.New(), EditMessageInput{Content: "x"})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	edited, err := f.messages.Edit(ctx, alice, msg.ID, EditMessageInput{Content: "hello everyone"})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, []uuid.UUID{bob}, edited.MentionedUserIDs)
	assert.Len(t, f.notifier.ofKind("message:edited"), 1)
}

func TestToggleReactionPairIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	msg := f.send(t, alice, dm, "hi", nil)

	res, err := f.reactions.Toggle(ctx, bob, msg.ID, ToggleReactionInput{Emoji: "👍"})
	require.NoError(t, err)
	require.NotNil(t, res.Applied)
	assert.Equal(t, "👍", *res.Applied)
	assert.Equal(t, []domain.ReactionGroup{{Emoji: "👍", Count: 1, UserIDs: []uuid.UUID{bob}}}, res.Summary)

	res, err = f.reactions.Toggle(ctx, bob, msg.ID, ToggleReactionInput{Emoji: "👍"})
	require.NoError(t, err)
	assert.Nil(t, res.Applied)
	assert.Empty(t, res.Reactions)

	_, err = f.reactions.Toggle(ctx, bob, msg.ID, ToggleReactionInput{Emoji: ""})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.reactions.Toggle(ctx, bob, uuid.New(), ToggleReactionInput{Emoji: "👍"})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	assert.Len(t, f.notifier.ofKind("reaction:changed"), 2)
}

func TestConcurrentDoubleToggleEndsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	msg := f.send(t, alice, dm, "hi", nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reactions.Toggle(ctx, bob, msg.ID, ToggleReactionInput{Emoji: "👍"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.Messages().GetByID(ctx, msg.ID)
	require.NoError(t, err)
	_, reacted := stored.ReactedWith(bob)
	assert.False(t, reacted)
}

func TestUserTouchSkipsUnchangedProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, f.users.Touch(ctx, domain.User{ID: id, FirstName: "Ana", LastName: "Kovač"}))
	require.NoError(t, f.users.Touch(ctx, domain.User{ID: id, FirstName: "Ana", LastName: "Kovač"}))
	require.NoError(t, f.users.Touch(ctx, domain.User{ID: id, Username: "ana", CreatedAt: time.Now()}))

	users, err := f.store.Users().GetByIDs(ctx, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ana", users[0].Username)
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, DirectKey(a, b), DirectKey(b, a))
	assert.NotEqual(t, DirectKey(a, b), DirectKey(a, uuid.New()))
	assert.Len(t, DirectKey(a, b), 64)
}

func TestReplyCountChangesArePublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	dm, err := f.convs.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	root := f.send(t, alice, dm, "root", nil)
	r1 := f.send(t, bob, dm, "r1", &root.ID)
	f.send(t, alice, dm, "r2", &root.ID)
	require.NoError(t, f.messages.Delete(ctx, bob, r1.ID))

	updates := f.notifier.ofKind("thread:updated")
	require.Len(t, updates, 3)
	for _, u := range updates {
		assert.Equal(t, root.ID, u.messageID)
		assert.Equal(t, dm.ID, u.topic)
	}
	assert.Equal(t, []int64{1, 2, 1}, []int64{updates[0].count, updates[1].count, updates[2].count})
}
