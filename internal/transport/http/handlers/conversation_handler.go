package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/service"
	"github.com/vedran77/pulse/internal/transport/http/middleware"
)

type ConversationHandler struct {
	convService *service.ConversationService
	logger      *slog.Logger
}

func NewConversationHandler(convService *service.ConversationService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{convService: convService, logger: logger}
}

type createDirectRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type createGroupRequest struct {
	MemberIDs []uuid.UUID `json:"member_ids"`
}

type createChannelRequest struct {
	Name       string            `json:"name"`
	Visibility domain.Visibility `json:"visibility"`
}

type inviteRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createDirectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		writeBadRequest(w, "MISSING_USER", "user_id is required")
		return
	}

	conv, err := h.convService.GetOrCreateDirect(r.Context(), userID, req.UserID)
	if err != nil {
		respondErr(w, r, h.logger, "create_direct", err)
		return
	}
	writeOK(w, http.StatusOK, conv)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.convService.CreateGroup(r.Context(), userID, req.MemberIDs)
	if err != nil {
		respondErr(w, r, h.logger, "create_group", err)
		return
	}
	writeOK(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.convService.ListForUser(r.Context(), userID)
	if err != nil {
		respondErr(w, r, h.logger, "list_conversations", err)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	writeOK(w, http.StatusOK, convs)
}

func (h *ConversationHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createChannelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.convService.CreateChannel(r.Context(), userID, req.Name, req.Visibility)
	if err != nil {
		respondErr(w, r, h.logger, "create_channel", err)
		return
	}
	writeOK(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID, ok := pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.convService.JoinChannel(r.Context(), userID, channelID)
	if err != nil {
		respondErr(w, r, h.logger, "join_channel", err)
		return
	}
	writeOK(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		writeBadRequest(w, "MISSING_USER", "user_id is required")
		return
	}

	if err := h.convService.InviteMember(r.Context(), userID, channelID, req.UserID); err != nil {
		respondErr(w, r, h.logger, "invite_member", err)
		return
	}
	writeDone(w)
}

// ClearUnread marks the conversation read for the caller.
func (h *ConversationHandler) ClearUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	ref, ok := topicRef(w, r)
	if !ok {
		return
	}

	if err := h.convService.ClearUnread(r.Context(), userID, ref); err != nil {
		respondErr(w, r, h.logger, "clear_unread", err)
		return
	}
	writeDone(w)
}
