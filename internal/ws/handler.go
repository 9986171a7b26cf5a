package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jobbridge/internal/domain"
	"jobbridge/internal/security"
	"jobbridge/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// authenticate resolves the bearer token to a user and checks it against the
// user id claimed in the URL. This runs once per connection; the identity is
// pinned for the connection's lifetime.
func authenticate(r *http.Request, tokens *security.TokenService, users domain.UserRepository, claimedID string) (*domain.User, error) {
	tokenStr, err := extractTokenFromWSRequest(r)
	if err != nil {
		return nil, err
	}
	sub, err := tokens.Subject(tokenStr)
	if err != nil || sub == "" {
		return nil, wsAuthError{status: http.StatusUnauthorized, msg: "invalid token"}
	}
	user, err := users.GetByUsername(r.Context(), sub)
	if err != nil || user == nil || !user.IsActive {
		return nil, wsAuthError{status: http.StatusUnauthorized, msg: "user not found or inactive"}
	}
	if user.ID != claimedID {
		return nil, wsAuthError{status: http.StatusUnauthorized, msg: "token does not match claimed user"}
	}
	return user, nil
}

// MakeHandler returns the HTTP handler for the /ws/chat/{userID} endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol), then dispatches events:
//   - chat_message -> persist + session rollup, push envelope to receiver and sender
//   - typing       -> forward indicator to receiver only, nothing persisted
//   - mark_read    -> stamp read state + zero unread counter, notify the other party
//   - heartbeat    -> refresh liveness, acknowledge
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	chatSvc *service.ChatService,
	logger *zap.SugaredLogger,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		claimedID := chi.URLParam(r, "userID")
		user, err := authenticate(r, tokens, users, claimedID)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// All writes after registration go through ch so they serialize
		// with pushes from other goroutines.
		ch := newLockedChannel(conn)

		if err := hub.Register(user.ID, ch); err != nil {
			// Full registry: refuse with a dedicated close code so the
			// client backs off instead of re-authenticating.
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseCapacity, "connection limit reached"), deadline)
			logger.Warnw("ws connection refused", "user_id", user.ID, "error", err)
			return
		}

		ctx := r.Context()
		if err := users.SetOnlineStatus(ctx, user.ID, true); err != nil {
			logger.Warnw("set online failed", "user_id", user.ID, "error", err)
		}

		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("ws dispatch panic", "user_id", user.ID, "panic", rec)
			}
			hub.Release(user.ID, ch)
			// Only flip the durable flag if no successor connection took over.
			if !hub.IsOnline(user.ID) {
				if err := users.SetOnlineStatus(context.Background(), user.ID, false); err != nil {
					logger.Warnw("set offline failed", "user_id", user.ID, "error", err)
				}
			}
		}()

		logger.Infow("ws connected", "user_id", user.ID)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var ev inboundEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Debugw("malformed ws event ignored", "user_id", user.ID, "error", err)
				continue
			}

			switch ev.Type {

			case EventChatMessage:
				if ev.ReceiverID == "" || ev.Content == "" {
					sendError(ch, "chat_message requires receiver_id and non-empty content")
					continue
				}
				msg, err := chatSvc.SendMessage(ctx, user.ID, ev.ReceiverID, ev.Content, ev.MessageType)
				if err != nil {
					// The sender must not assume delivery without this echo.
					logger.Errorw("ws send message failed", "user_id", user.ID, "error", err)
					sendError(ch, "message not delivered")
					continue
				}
				resp, err := chatSvc.ToResponse(ctx, msg)
				if err != nil {
					logger.Errorw("ws build envelope failed", "message_id", msg.ID, "error", err)
					continue
				}
				env := chatMessageEnvelope(resp)
				hub.Send(ev.ReceiverID, env) // no-op if offline; history catches them up
				hub.Send(user.ID, env)       // echo confirms durability to the sender

			case EventTyping:
				if ev.ReceiverID == "" || ev.ReceiverID == user.ID {
					continue
				}
				// Ephemeral: not persisted, silently dropped when offline.
				hub.Send(ev.ReceiverID, typingEnvelope(user.ID, ev.IsTyping))

			case EventMarkRead:
				if ev.OtherUserID == "" {
					continue
				}
				n, err := chatSvc.MarkRead(ctx, user.ID, ev.OtherUserID)
				if err != nil {
					logger.Errorw("ws mark read failed", "user_id", user.ID, "error", err)
					sendError(ch, "failed to mark messages as read")
					continue
				}
				if n > 0 {
					hub.Send(ev.OtherUserID, messagesReadEnvelope(user.ID))
				}

			case EventHeartbeat:
				hub.Heartbeat(user.ID)
				_ = ch.WriteJSON(heartbeatAckEnvelope())

			default:
				logger.Debugw("unknown ws event type ignored", "type", ev.Type, "user_id", user.ID)
			}
		}
	}
}

func sendError(ch Channel, msg string) {
	_ = ch.WriteJSON(map[string]any{
		"type":    EventError,
		"message": msg,
	})
}
