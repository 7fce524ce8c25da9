package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
)

// ErrorBody is the error half of every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type dataEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeOK wraps data in the success envelope.
func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Success: true, Data: data})
}

// writeDone answers operations that have nothing to return.
func writeDone(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, dataEnvelope{Success: true})
}

func writeError(w http.ResponseWriter, status int, code string, kind apperr.Kind, message string) {
	writeJSON(w, status, errorEnvelope{
		Error: ErrorBody{Code: code, Kind: kind.String(), Message: message},
	})
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	writeError(w, http.StatusBadRequest, code, apperr.KindValidation, message)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondErr maps a service error onto the wire. Domain errors go out as
// they are; anything else is logged and hidden behind INTERNAL.
func respondErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown || kind == apperr.KindTransient {
		logger.Error(op+"_failed", "error", err, "request_id", chimw.GetReqID(r.Context()))
	}
	if kind == apperr.KindUnknown {
		writeError(w, http.StatusInternalServerError, "INTERNAL", apperr.KindUnknown, "Something went wrong")
		return
	}
	writeError(w, statusFor(kind), apperr.CodeOf(err), kind, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeBadRequest(w, "INVALID_ID", "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

// topicRef reads the {id} path value and decides from the route prefix
// whether it names a channel or a direct/group conversation.
func topicRef(w http.ResponseWriter, r *http.Request) (domain.ConversationRef, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return domain.ConversationRef{}, false
	}
	if strings.HasPrefix(r.URL.Path, channelsPrefix) {
		return domain.ChannelRef(id), true
	}
	return domain.DirectRef(id), true
}
