package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jobbridge/internal/service"
	"jobbridge/internal/ws"
)

func handleGetHistory(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		otherID := chi.URLParam(r, "otherUserID")
		limit := queryInt(r, "limit", 50)
		skip := queryInt(r, "skip", 0)

		// Mirror the service's clamp so has_more compares against the page
		// size actually served, not the raw query value.
		if limit <= 0 {
			limit = 50
		}
		if limit > chatSvc.HistoryMaxLimit {
			limit = chatSvc.HistoryMaxLimit
		}

		messages, err := chatSvc.History(r.Context(), currentUser.ID, otherID, limit, skip)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"messages": messages,
			"has_more": len(messages) == limit,
		})
	}
}

func handleGetSessions(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		sessions, err := chatSvc.Sessions(r.Context(), currentUser.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"sessions": sessions,
		})
	}
}

func handleMarkRead(chatSvc *service.ChatService, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		otherID := chi.URLParam(r, "otherUserID")

		n, err := chatSvc.MarkRead(r.Context(), currentUser.ID, otherID)
		if err != nil {
			respondError(w, err)
			return
		}
		if n > 0 {
			// Best effort, same as the real-time path.
			hub.Send(otherID, map[string]any{
				"type":      ws.EventMessagesRead,
				"reader_id": currentUser.ID,
			})
		}
		msg := "No messages to mark as read"
		if n > 0 {
			msg = "Messages marked as read"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": n > 0,
			"message": msg,
		})
	}
}

func handleUnreadCount(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		count, err := chatSvc.UnreadTotal(r.Context(), currentUser.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"unread_count": count,
		})
	}
}

func handleDeleteMessage(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		messageID := chi.URLParam(r, "messageID")

		if err := chatSvc.DeleteMessage(r.Context(), messageID, currentUser.ID); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Message deleted successfully",
		})
	}
}

func handleOnlineUsers(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"online_users": hub.OnlineUsers(),
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
