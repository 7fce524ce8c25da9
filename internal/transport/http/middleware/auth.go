package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/identity"
)

type contextKey string

const IdentityKey contextKey = "identity"

// ProfileSink receives the profile carried by each verified token.
type ProfileSink interface {
	Touch(ctx context.Context, user domain.User) error
}

func Auth(verifier *identity.Verifier, profiles ProfileSink, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "permission", "Missing or invalid token")
				return
			}

			id, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "permission", "Invalid or expired token")
				return
			}

			if profiles != nil {
				if err := profiles.Touch(r.Context(), id.Profile()); err != nil {
					logger.Warn("profile_sync_failed", "user_id", id.UserID, "error", err)
				}
			}

			ctx := context.WithValue(r.Context(), IdentityKey, *id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) uuid.UUID {
	return ctx.Value(IdentityKey).(identity.Identity).UserID
}

func writeError(w http.ResponseWriter, status int, code, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"kind":    kind,
			"message": message,
		},
	})
}
