package app

import (
	"melody-map/internal/auth"
	"melody-map/internal/brokers"
	"melody-map/internal/common/logging"
	"melody-map/internal/config"
	"melody-map/internal/locks"
	"melody-map/internal/providers"
	"melody-map/internal/redis"
	"melody-map/internal/scheduler"
	"melody-map/internal/storage"
	"melody-map/internal/tokens"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.ConnectionStore
	RedisClient *redis.Client
	Locker      locks.Locker
	Events      *brokers.Fanout
	Providers   *providers.Registry
	Tokens      *tokens.Manager
	Scheduler   *scheduler.Scheduler
	Auth        *auth.Auth
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	app.initializeLocks()
	app.initializeBrokers()
	app.initializeProviders()
	app.initializeTokens()

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func (app *App) initializeLocks() {
	if app.RedisClient == nil {
		app.Logger.Info("Distributed Locks: Disabled (single instance mode)")
		return
	}

	manager, err := locks.NewRedsyncManager(app.RedisClient)
	if err != nil {
		app.Logger.Warn("Distributed lock setup failed, refreshes will not be coordinated across instances",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	app.Locker = manager
	app.Logger.Info("Distributed Locks: Enabled")
}

func (app *App) initializeTokens() {
	settings := app.Config.Tokens()

	opts := []tokens.Option{
		tokens.WithExpiryBuffer(settings.ExpiryBuffer),
		tokens.WithRefreshPacing(settings.RefreshPacing),
	}
	if app.Locker != nil {
		opts = append(opts, tokens.WithLocker(app.Locker))
	}
	if app.Events != nil {
		opts = append(opts, tokens.WithEvents(app.Events))
	}
	app.Tokens = tokens.NewManager(app.Storage, app.Providers, opts...)

	if !app.Config.SchedulerEnabled {
		app.Logger.Info("Refresh scheduler: Disabled")
		return
	}

	schedOpts := []scheduler.Option{}
	if app.Locker != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(app.Locker))
	}
	app.Scheduler = scheduler.New(app.Tokens, scheduler.Config{
		Interval:  settings.RefreshInterval,
		Retention: settings.StaleRetention,
	}, schedOpts...)

	app.Logger.Info("Refresh scheduler: Configured",
		logging.Field{Key: "interval", Value: settings.RefreshInterval.String()},
		logging.Field{Key: "retention", Value: settings.StaleRetention.String()},
	)
}

func (app *App) initializeAuth() error {
	var blacklist auth.RedisClient
	if app.RedisClient != nil {
		blacklist = app.RedisClient
	}

	a, err := auth.New(app.Config.JWTSecret, blacklist)
	if err != nil {
		return err
	}
	app.Auth = a
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Events != nil {
		if err := app.Events.Close(); err != nil {
			app.Logger.Warn("Error closing event brokers", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis", logging.Field{Key: "error", Value: err.Error()})
		}
	}
}
