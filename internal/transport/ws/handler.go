package ws

import (
	"context"
	"net/http"

	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/identity"
	"nhooyr.io/websocket"
)

// ProfileSink receives the profile carried by a connecting user's token.
type ProfileSink interface {
	Touch(ctx context.Context, user domain.User) error
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
// An empty originPatterns accepts any origin.
func ServeWS(hub *Hub, verifier *identity.Verifier, authorizer Authorizer, profiles ProfileSink, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		id, err := verifier.Verify(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if profiles != nil {
			if err := profiles.Touch(r.Context(), id.Profile()); err != nil {
				hub.logger.Warn("profile_sync_failed", "user_id", id.UserID, "error", err)
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     originPatterns,
			InsecureSkipVerify: len(originPatterns) == 0,
		})
		if err != nil {
			hub.logger.Warn("ws_accept_failed", "error", err)
			return
		}

		client := NewClient(hub, conn, id.UserID, authorizer)
		if !hub.Register(client) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go client.WritePump(ctx)
		client.ReadPump(ctx)
	}
}
