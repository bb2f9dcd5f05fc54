// Package sqlstore implements storage.ConnectionStore on database/sql.
// The sqlite and postgres packages open the database and pick the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"melody-map/internal/common/errors"
	"melody-map/internal/crypto"
	"melody-map/internal/storage"
)

const connectionColumns = `id, user_id, platform, external_id, access_token, refresh_token,
	token_expires_at, is_active, created_at, updated_at`

// Store is a SQL-backed connection store. Access and refresh tokens are
// encrypted at rest when an encryptor is supplied.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	encryptor *crypto.TokenEncryptor
	now       func() time.Time
}

// New wraps an open database and runs migrations. encryptor may be nil.
func New(db *sql.DB, dialect Dialect, encryptor *crypto.TokenEncryptor) (*Store, error) {
	if dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dialect.MaxOpenConns)
	}

	s := &Store{
		db:        db,
		dialect:   dialect,
		encryptor: encryptor,
		now:       time.Now,
	}

	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate %s database: %w", dialect.Name, err)
	}
	return s, nil
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) migrate(ctx context.Context) error {
	for _, query := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindConnection(ctx context.Context, userID string, platform storage.Platform) (*storage.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = ? AND platform = ?`
	return s.queryOne(ctx, query, userID, string(platform))
}

func (s *Store) FindConnectionByID(ctx context.Context, id string) (*storage.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE id = ?`
	return s.queryOne(ctx, query, id)
}

func (s *Store) ListUserConnections(ctx context.Context, userID string) ([]*storage.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = ? ORDER BY platform`
	return s.queryMany(ctx, query, userID)
}

func (s *Store) InsertConnection(ctx context.Context, conn *storage.PlatformConnection) (*storage.PlatformConnection, error) {
	if conn == nil || conn.UserID == "" || conn.Platform == "" {
		return nil, errors.ValidationError("connection requires user and platform")
	}
	if conn.TokenExpiresAt.IsZero() {
		return nil, errors.ValidationError("connection requires a token expiry")
	}

	accessToken, err := s.encryptor.Encrypt(conn.AccessToken)
	if err != nil {
		return nil, err
	}
	var refreshToken sql.NullString
	if conn.RefreshToken != nil {
		sealed, err := s.encryptor.Encrypt(*conn.RefreshToken)
		if err != nil {
			return nil, err
		}
		refreshToken = sql.NullString{String: sealed, Valid: true}
	}

	id := conn.ID
	if id == "" {
		id = storage.NewConnectionID()
	}
	now := s.now().UTC()

	query := `INSERT INTO platform_connections (` + connectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			external_id = excluded.external_id,
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, platform_connections.refresh_token),
			token_expires_at = excluded.token_expires_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
		id, conn.UserID, string(conn.Platform), conn.ExternalID, accessToken, refreshToken,
		conn.TokenExpiresAt.UTC(), true, now, now,
	)
	if err != nil {
		return nil, errors.InternalError("failed to upsert connection", err)
	}

	stored, err := s.FindConnection(ctx, conn.UserID, conn.Platform)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.InternalError("upserted connection not found", nil)
	}
	return stored, nil
}

func (s *Store) UpdateConnection(ctx context.Context, id string, update storage.ConnectionUpdate) error {
	return s.update(ctx, "id = ?", []interface{}{id}, update, "connection "+id)
}

func (s *Store) UpdateUserConnection(ctx context.Context, userID string, platform storage.Platform, update storage.ConnectionUpdate) error {
	return s.update(ctx, "user_id = ? AND platform = ?", []interface{}{userID, string(platform)}, update, string(platform)+" connection")
}

func (s *Store) update(ctx context.Context, where string, whereArgs []interface{}, update storage.ConnectionUpdate, resource string) error {
	var sets []string
	var args []interface{}

	if update.AccessToken != nil {
		sealed, err := s.encryptor.Encrypt(*update.AccessToken)
		if err != nil {
			return err
		}
		sets = append(sets, "access_token = ?")
		args = append(args, sealed)
	}
	if update.RefreshToken != nil {
		sealed, err := s.encryptor.Encrypt(*update.RefreshToken)
		if err != nil {
			return err
		}
		sets = append(sets, "refresh_token = ?")
		args = append(args, sealed)
	}
	if update.TokenExpiresAt != nil {
		sets = append(sets, "token_expires_at = ?")
		args = append(args, update.TokenExpiresAt.UTC())
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC())
	args = append(args, whereArgs...)

	query := `UPDATE platform_connections SET ` + strings.Join(sets, ", ") + ` WHERE ` + where
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return errors.InternalError("failed to update connection", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to read update result", err)
	}
	if affected == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}

func (s *Store) FindConnectionsExpiringBefore(ctx context.Context, platform storage.Platform, ts time.Time, activeOnly bool) ([]*storage.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections
		WHERE platform = ? AND token_expires_at <= ?`
	args := []interface{}{string(platform), ts.UTC()}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY token_expires_at`

	return s.queryMany(ctx, query, args...)
}

func (s *Store) DeactivateConnectionsOlderThan(ctx context.Context, ts time.Time) (int64, error) {
	query := `UPDATE platform_connections SET is_active = ?, updated_at = ?
		WHERE is_active = ? AND token_expires_at < ?`

	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), false, s.now().UTC(), true, ts.UTC())
	if err != nil {
		return 0, errors.InternalError("failed to deactivate stale connections", err)
	}
	return result.RowsAffected()
}

func (s *Store) queryOne(ctx context.Context, query string, args ...interface{}) (*storage.PlatformConnection, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
	conn, err := s.scan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conn, err
}

func (s *Store) queryMany(ctx context.Context, query string, args ...interface{}) ([]*storage.PlatformConnection, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.InternalError("failed to query connections", err)
	}
	defer rows.Close()

	var result []*storage.PlatformConnection
	for rows.Next() {
		conn, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to iterate connections", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row scanner) (*storage.PlatformConnection, error) {
	var (
		conn         storage.PlatformConnection
		platform     string
		refreshToken sql.NullString
	)

	err := row.Scan(&conn.ID, &conn.UserID, &platform, &conn.ExternalID, &conn.AccessToken, &refreshToken,
		&conn.TokenExpiresAt, &conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.InternalError("failed to scan connection", err)
	}
	conn.Platform = storage.Platform(platform)

	if conn.AccessToken, err = s.encryptor.Decrypt(conn.AccessToken); err != nil {
		return nil, err
	}
	if refreshToken.Valid {
		plain, err := s.encryptor.Decrypt(refreshToken.String)
		if err != nil {
			return nil, err
		}
		conn.RefreshToken = &plain
	}
	return &conn, nil
}

var _ storage.ConnectionStore = (*Store)(nil)
