package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"melody-map/internal/auth"
)

// Revoker invalidates a bearer token before it expires. *auth.Auth implements it.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// RegisterRoutes mounts the connection API on an authenticated subrouter
func (h *Handlers) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/connections", h.ListConnections).Methods(http.MethodGet)
	api.HandleFunc("/connections/{platform}", h.LinkConnection).Methods(http.MethodPost)
	api.HandleFunc("/connections/{platform}", h.DeleteConnection).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{platform}/token", h.GetAccessToken).Methods(http.MethodGet)
	api.HandleFunc("/connections/{platform}/refresh", h.RefreshConnection).Methods(http.MethodPost)
	api.HandleFunc("/connections/{platform}/verify", h.VerifyConnection).Methods(http.MethodPost)
	if h.revoker != nil {
		api.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	}
}

// Logout revokes the bearer token the request was authenticated with
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.revoker.Revoke(r.Context(), auth.TokenFromRequest(r)); err != nil {
		h.sendAppError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "token", Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}
