// Package sqlite opens a SQLite-backed connection store.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"melody-map/internal/crypto"
	"melody-map/internal/storage/sqlstore"
)

// NewStore opens the database file, migrates it and returns the store
func NewStore(config *Config, encryptor *crypto.TokenEncryptor) (*sqlstore.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := sqlstore.New(db, sqlstore.SQLite, encryptor)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
