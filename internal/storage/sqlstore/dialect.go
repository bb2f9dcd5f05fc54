package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines
type Dialect struct {
	Name string
	// Numbered switches ? placeholders to $1, $2, ...
	Numbered bool
	// MaxOpenConns limits the pool; SQLite needs a single writer
	MaxOpenConns int
	Migrations   []string
}

// Rebind rewrites ? placeholders for dialects that number them
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLite is the dialect for github.com/mattn/go-sqlite3
var SQLite = Dialect{
	Name:         "sqlite",
	MaxOpenConns: 1,
	Migrations: []string{
		`CREATE TABLE IF NOT EXISTS platform_connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_expires_at DATETIME NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (user_id, platform)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_platform_connections_expiry
			ON platform_connections (platform, is_active, token_expires_at)`,
	},
}

// Postgres is the dialect for github.com/jackc/pgx/v5/stdlib
var Postgres = Dialect{
	Name:         "postgres",
	Numbered:     true,
	MaxOpenConns: 20,
	Migrations: []string{
		`CREATE TABLE IF NOT EXISTS platform_connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_expires_at TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, platform)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_platform_connections_expiry
			ON platform_connections (platform, is_active, token_expires_at)`,
	},
}
