package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
	"github.com/vedran77/pulse/internal/service"
	"github.com/vedran77/pulse/internal/transport/http/middleware"
)

type MessageHandler struct {
	messageService  *service.MessageService
	reactionService *service.ReactionService
	logger          *slog.Logger
}

func NewMessageHandler(messageService *service.MessageService, reactionService *service.ReactionService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{messageService: messageService, reactionService: reactionService, logger: logger}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	ref, ok := topicRef(w, r)
	if !ok {
		return
	}

	var input service.SendMessageInput
	if !decodeBody(w, r, &input) {
		return
	}

	msg, err := h.messageService.Append(r.Context(), userID, ref, input)
	if err != nil {
		respondErr(w, r, h.logger, "send_message", err)
		return
	}
	writeOK(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	ref, ok := topicRef(w, r)
	if !ok {
		return
	}

	// Parse query params
	q := r.URL.Query()
	var page repository.Page
	var err error
	if page.Before, err = repository.DecodeCursor(q.Get("before")); err != nil {
		writeBadRequest(w, "INVALID_CURSOR", "Invalid before cursor")
		return
	}
	if page.After, err = repository.DecodeCursor(q.Get("after")); err != nil {
		writeBadRequest(w, "INVALID_CURSOR", "Invalid after cursor")
		return
	}
	if page.Before > 0 && page.After > 0 {
		writeBadRequest(w, "INVALID_CURSOR", "Use either before or after, not both")
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= repository.MaxPageLimit {
			page.Limit = l
		}
	}

	resp, err := h.messageService.List(r.Context(), userID, ref, page)
	if err != nil {
		respondErr(w, r, h.logger, "list_messages", err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (h *MessageHandler) Replies(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	rootID, ok := pathID(w, r)
	if !ok {
		return
	}

	replies, err := h.messageService.ListReplies(r.Context(), userID, rootID)
	if err != nil {
		respondErr(w, r, h.logger, "list_replies", err)
		return
	}
	if replies == nil {
		replies = []domain.Message{}
	}
	writeOK(w, http.StatusOK, replies)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	var input service.EditMessageInput
	if !decodeBody(w, r, &input) {
		return
	}

	msg, err := h.messageService.Edit(r.Context(), userID, messageID, input)
	if err != nil {
		respondErr(w, r, h.logger, "edit_message", err)
		return
	}
	writeOK(w, http.StatusOK, msg)
}

// Delete succeeds for a message that is already a tombstone, so a
// retried delete of a thread root does not fail.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.messageService.Delete(r.Context(), userID, messageID)
	if err != nil && !errors.Is(err, service.ErrMessageDeleted) {
		respondErr(w, r, h.logger, "delete_message", err)
		return
	}
	writeDone(w)
}

func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	var input service.ToggleReactionInput
	if !decodeBody(w, r, &input) {
		return
	}

	result, err := h.reactionService.Toggle(r.Context(), userID, messageID, input)
	if err != nil {
		respondErr(w, r, h.logger, "toggle_reaction", err)
		return
	}
	writeOK(w, http.StatusOK, result)
}
