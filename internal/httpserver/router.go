package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"jobbridge/internal/config"
	"jobbridge/internal/domain"
	"jobbridge/internal/security"
	"jobbridge/internal/service"
	"jobbridge/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(
	cfg *config.Config,
	logger *zap.SugaredLogger,
	hub *ws.Hub,
	tokenSvc *security.TokenService,
	userRepo domain.UserRepository,
	chatSvc *service.ChatService,
	userSvc *service.UserService,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": cfg.AppName,
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Query path: history, inbox and read state live here, independent of the
	// real-time channel, so a client can always resync after a reconnect.
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, userRepo))

			r.Route("/chat", func(r chi.Router) {
				r.Get("/messages/{otherUserID}", handleGetHistory(chatSvc))
				r.Delete("/messages/{messageID}", handleDeleteMessage(chatSvc))
				r.Get("/sessions", handleGetSessions(chatSvc))
				r.Post("/mark-read/{otherUserID}", handleMarkRead(chatSvc, hub))
				r.Get("/unread-count", handleUnreadCount(chatSvc))
				r.Get("/online-users", handleOnlineUsers(hub))
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/online", handleListOnlineUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
			})
		})
	})

	// Real-time channel
	r.Get("/ws/chat/{userID}", ws.MakeHandler(hub, tokenSvc, userRepo, chatSvc, logger, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps sentinel errors onto HTTP statuses. Store failures come
// through as 500 and are retryable from the client's point of view.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found or not authorized"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
