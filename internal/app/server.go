package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"melody-map/internal/common/cache"
	"melody-map/internal/common/logging"
	"melody-map/internal/handlers"
	"melody-map/internal/server"
)

// BuildHandlers wires the HTTP handlers to the app's services
func (app *App) BuildHandlers() *handlers.Handlers {
	opts := []handlers.Option{}

	verifyCache := cache.DefaultConfig()
	verifyCache.KeyPrefix = "melody-map:verify:"
	if app.RedisClient != nil {
		verifyCache.Type = cache.TypeTwoTier
		verifyCache.RedisClient = app.RedisClient.GetGoRedisClient()
		opts = append(opts,
			handlers.WithRedis(app.RedisClient),
			handlers.WithRevoker(app.Auth),
		)
	}
	if c, err := cache.New(verifyCache); err != nil {
		app.Logger.Warn("Verify cache setup failed, falling back to local cache",
			logging.Field{Key: "error", Value: err.Error()})
	} else {
		opts = append(opts, handlers.WithVerifyCache(c, handlers.DefaultVerifyTTL))
	}

	if app.Events != nil {
		opts = append(opts, handlers.WithEvents(app.Events))
	}
	if app.Scheduler != nil {
		opts = append(opts, handlers.WithScheduler(app.Scheduler))
	}

	return handlers.New(app.Tokens, app.Storage, opts...)
}

// RunServer builds the router and an unstarted HTTP server
func (app *App) RunServer() (*server.Server, http.Handler) {
	h := app.BuildHandlers()

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.RequireAuth, app.InitializeRateLimiter())

	srv := server.New(router, app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
	return srv, router
}
