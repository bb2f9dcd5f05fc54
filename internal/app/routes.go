package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"melody-map/internal/common/ratelimit"
	"melody-map/internal/handlers"
	"melody-map/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, rateLimiter ratelimit.Limiter) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Recover)
	router.Use(middleware.LoggingMiddleware)

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	// Everything under /api requires a bearer token
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)
	if rateLimiter != nil {
		api.Use(ratelimit.HTTPMiddleware(rateLimiter, ratelimit.UserKey))
	}

	h.RegisterRoutes(api)
}
