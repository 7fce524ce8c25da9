package handlers

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vedran77/pulse/internal/identity"
	"github.com/vedran77/pulse/internal/service"
	"github.com/vedran77/pulse/internal/transport/http/middleware"
	"github.com/vedran77/pulse/internal/transport/ws"
)

const channelsPrefix = "/api/v1/channels/"

type RouterConfig struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Reactions     *service.ReactionService
	Users         *service.UserService
	Hub           *ws.Hub
	Verifier      *identity.Verifier
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger

	CORSOrigins    []string
	SendRatePerSec float64
	SendRateBurst  int
}

// NewRouter builds the full HTTP surface: REST API, websocket endpoint,
// metrics and health.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	convHandler := NewConversationHandler(cfg.Conversations, logger)
	messageHandler := NewMessageHandler(cfg.Messages, cfg.Reactions, logger)

	var profiles middleware.ProfileSink
	if cfg.Users != nil {
		profiles = cfg.Users
	}
	auth := middleware.Auth(cfg.Verifier, profiles, logger)
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.SendRatePerSec > 0 {
		limit = middleware.RateLimit(cfg.SendRatePerSec, cfg.SendRateBurst)
	}
	// Send and reaction routes are rate limited per user.
	limited := func(h http.HandlerFunc) http.Handler { return auth(limit(h)) }

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /ws", ws.ServeWS(cfg.Hub, cfg.Verifier, cfg.Conversations, profiles, cfg.CORSOrigins))

	// Protected - Conversations
	mux.Handle("POST /api/v1/conversations/direct", auth(http.HandlerFunc(convHandler.CreateDirect)))
	mux.Handle("POST /api/v1/conversations/group", auth(http.HandlerFunc(convHandler.CreateGroup)))
	mux.Handle("GET /api/v1/conversations", auth(http.HandlerFunc(convHandler.List)))

	// Protected - Channels
	mux.Handle("POST /api/v1/channels", auth(http.HandlerFunc(convHandler.CreateChannel)))
	mux.Handle("POST /api/v1/channels/{id}/join", auth(http.HandlerFunc(convHandler.Join)))
	mux.Handle("POST /api/v1/channels/{id}/members", auth(http.HandlerFunc(convHandler.Invite)))

	// Protected - Messages, on either kind of topic
	for _, prefix := range []string{"/api/v1/conversations/{id}", "/api/v1/channels/{id}"} {
		mux.Handle("POST "+prefix+"/messages", limited(messageHandler.Send))
		mux.Handle("GET "+prefix+"/messages", auth(http.HandlerFunc(messageHandler.List)))
		mux.Handle("POST "+prefix+"/read", auth(http.HandlerFunc(convHandler.ClearUnread)))
	}
	mux.Handle("PATCH /api/v1/messages/{id}", auth(http.HandlerFunc(messageHandler.Edit)))
	mux.Handle("DELETE /api/v1/messages/{id}", auth(http.HandlerFunc(messageHandler.Delete)))
	mux.Handle("POST /api/v1/messages/{id}/reactions", limited(messageHandler.ToggleReaction))
	mux.Handle("GET /api/v1/messages/{id}/replies", auth(http.HandlerFunc(messageHandler.Replies)))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	var h http.Handler = mux
	h = corsHandler(h)
	h = middleware.RequestLogger(logger)(h)
	h = chimw.Recoverer(h)
	h = chimw.RealIP(h)
	h = chimw.RequestID(h)
	return h
}
