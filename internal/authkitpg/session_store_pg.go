package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/authd/internal/authkit"
)

// PostgresSessionStore persists sessions in PostgreSQL through a pgx pool.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

var _ authkit.SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore constructs a Postgres store.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Insert writes a new session row.
func (store *PostgresSessionStore) Insert(ctx context.Context, record authkit.SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session_store.insert.postgres: %w", authkit.ErrSessionEmptyID)
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO auth_sessions (session_id, user_id, expires_unix, created_at_unix)
VALUES ($1, $2, $3, $4)
`, record.ID, record.UserID, record.ExpiresAt.UTC().Unix(), record.CreatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("session_store.insert.postgres: %w", err)
	}
	return nil
}

// Find loads a session row by id.
func (store *PostgresSessionStore) Find(ctx context.Context, sessionID string) (authkit.SessionRecord, error) {
	var userID string
	var expiresUnix int64
	var createdAtUnix int64
	row := store.pool.QueryRow(ctx, `
SELECT user_id, expires_unix, created_at_unix
FROM auth_sessions
WHERE session_id = $1
`, sessionID)
	if scanErr := row.Scan(&userID, &expiresUnix, &createdAtUnix); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authkit.SessionRecord{}, fmt.Errorf("session_store.find.postgres: %w", authkit.ErrSessionNotFound)
		}
		return authkit.SessionRecord{}, fmt.Errorf("session_store.find.postgres: %w", scanErr)
	}
	return authkit.SessionRecord{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Unix(expiresUnix, 0).UTC(),
		CreatedAt: time.Unix(createdAtUnix, 0).UTC(),
	}, nil
}

// UpdateExpiry moves the expiry of an existing session.
func (store *PostgresSessionStore) UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	tag, err := store.pool.Exec(ctx, `
UPDATE auth_sessions
SET expires_unix = $1
WHERE session_id = $2
`, expiresAt.UTC().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("session_store.update_expiry.postgres: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session_store.update_expiry.postgres: %w", authkit.ErrSessionNotFound)
	}
	return nil
}

// Delete removes a session row.
func (store *PostgresSessionStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := store.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("session_store.delete.postgres: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session_store.delete.postgres: %w", authkit.ErrSessionNotFound)
	}
	return nil
}

// DeleteExpired purges sessions whose expiry is before now.
func (store *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := store.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_unix < $1`, now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("session_store.delete_expired.postgres: %w", err)
	}
	return tag.RowsAffected(), nil
}
