package ws

import (
	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) publish(topic uuid.UUID, eventType string, payload any) {
	evt, err := NewEvent(eventType, &topic, payload)
	if err != nil {
		n.hub.logger.Error("event_marshal_failed", "type", eventType, "error", err)
		return
	}
	n.hub.Publish(topic, evt)
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	n.publish(msg.TopicID(), EventTypeMessageNew, MessagePayload{Message: *msg})
}

func (n *HubNotifier) NotifyEditedMessage(msg *domain.Message) {
	n.publish(msg.TopicID(), EventTypeMessageEdited, MessagePayload{Message: *msg})
}

func (n *HubNotifier) NotifyDeletedMessage(ref domain.ConversationRef, messageID uuid.UUID, tombstone *domain.Message) {
	n.publish(ref.ID, EventTypeMessageDeleted, MessageDeletedPayload{
		MessageID:      messageID,
		ConversationID: ref.ID,
		Tombstone:      tombstone,
	})
}

func (n *HubNotifier) NotifyReactionChanged(ref domain.ConversationRef, messageID uuid.UUID, reactions map[uuid.UUID]string) {
	n.publish(ref.ID, EventTypeReactionChanged, ReactionChangedPayload{
		MessageID: messageID,
		Reactions: reactions,
		Summary:   domain.SummarizeReactions(reactions),
	})
}

func (n *HubNotifier) NotifyThreadUpdated(root *domain.Message) {
	n.publish(root.TopicID(), EventTypeThreadUpdated, ThreadUpdatedPayload{
		RootID:         root.ID,
		ConversationID: root.TopicID(),
		ReplyCount:     root.ReplyCount,
	})
}

func (n *HubNotifier) NotifyUnreadChanged(conversationID, userID uuid.UUID, count int64) {
	n.publish(userID, EventTypeUnreadChanged, UnreadChangedPayload{
		ConversationID: conversationID,
		UserID:         userID,
		Count:          count,
	})
}

func (n *HubNotifier) NotifyMention(userID uuid.UUID, msg *domain.Message) {
	n.publish(userID, EventTypeMentionNew, MentionPayload{
		MessageID:    msg.ID,
		Conversation: msg.Ref(),
		SenderID:     msg.SenderID,
	})
}
