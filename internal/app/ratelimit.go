package app

import (
	"strconv"
	"time"

	"melody-map/internal/common/logging"
	"melody-map/internal/common/ratelimit"
)

// InitializeRateLimiter returns nil when rate limiting is disabled. With Redis the
// limit is shared by all instances, otherwise each instance keeps its own buckets.
func (app *App) InitializeRateLimiter() ratelimit.Limiter {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	limit, _ := strconv.Atoi(app.Config.RateLimitDefault)
	window, _ := time.ParseDuration(app.Config.RateLimitWindow)

	cfg := ratelimit.Config{
		Limit:  limit,
		Window: window,
	}

	var backend ratelimit.RedisInterface
	if app.RedisClient != nil {
		backend = app.RedisClient
		cfg.Backend = ratelimit.BackendDistributed
	} else {
		cfg.Backend = ratelimit.BackendLocal
	}

	limiter, err := ratelimit.New(cfg, backend)
	if err != nil {
		app.Logger.Warn("Rate limiter setup failed, requests will not be limited",
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.Field{Key: "limit", Value: limit},
		logging.Field{Key: "window", Value: window.String()},
		logging.Field{Key: "backend", Value: string(cfg.Backend)},
	)
	return limiter
}
