package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"jobbridge/internal/service"
)

func handleGetUser(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		user, err := userSvc.Get(r.Context(), userID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleListOnlineUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.ListOnline(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}
