// Package postgres opens a PostgreSQL-backed connection store through pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"melody-map/internal/crypto"
	"melody-map/internal/storage/sqlstore"
)

// NewStore connects, migrates and returns the store
func NewStore(config *Config, encryptor *crypto.TokenEncryptor) (*sqlstore.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	pgxConfig, err := pgx.ParseConfig(config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
	}

	db := stdlib.OpenDB(*pgxConfig)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	store, err := sqlstore.New(db, sqlstore.Postgres, encryptor)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
