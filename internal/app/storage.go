package app

import (
	"fmt"
	"strconv"

	"melody-map/internal/common/logging"
	"melody-map/internal/crypto"
	"melody-map/internal/storage/memory"
	"melody-map/internal/storage/postgres"
	"melody-map/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	var encryptor *crypto.TokenEncryptor
	if app.Config.EncryptionKey != "" {
		enc, err := crypto.NewTokenEncryptor(app.Config.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize token encryption: %w", err)
		}
		encryptor = enc
		app.Logger.Info("Token encryption: Enabled")
	} else {
		app.Logger.Warn("Token encryption: Disabled, provider tokens are stored in plaintext")
	}

	switch {
	case app.Config.DatabaseType == "memory":
		app.Logger.Warn("Database: in-memory, connections are lost on restart")
		app.Storage = memory.NewStore()
		return nil

	case app.Config.IsPostgres():
		port, _ := strconv.Atoi(app.Config.PostgresPort)
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: port},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
		store, err := postgres.NewStore(&postgres.Config{
			Host:     app.Config.PostgresHost,
			Port:     port,
			Database: app.Config.PostgresDB,
			Username: app.Config.PostgresUser,
			Password: app.Config.PostgresPassword,
			SSLMode:  app.Config.PostgresSSLMode,
		}, encryptor)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.Storage = store
		return nil

	default:
		dbPath := app.Config.DatabasePath
		if dbPath == "" {
			dbPath = sqlite.DefaultConfig().DatabasePath
		}
		app.Logger.Info("Database: SQLite", logging.Field{Key: "path", Value: dbPath})
		store, err := sqlite.NewStore(&sqlite.Config{DatabasePath: dbPath}, encryptor)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.Storage = store
		return nil
	}
}
