package authkit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound indicates no session matched the identifier.
	ErrSessionNotFound = errors.New("session_store.not_found")
	// ErrSessionEmptyID indicates that the provided session identifier is empty.
	ErrSessionEmptyID = errors.New("session_store.empty_id")
)

// SessionRecord is the persisted form of a session. ID is the hash of the cookie token.
type SessionRecord struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionStore persists server-side sessions.
type SessionStore interface {
	Insert(ctx context.Context, record SessionRecord) error
	// Find returns ErrSessionNotFound when absent. Expiry is enforced by the manager.
	Find(ctx context.Context, sessionID string) (SessionRecord, error)
	UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error
	// Delete returns ErrSessionNotFound when nothing was removed.
	Delete(ctx context.Context, sessionID string) error
}

// ExpiredSessionPurger is implemented by stores that cannot expire rows on their own.
type ExpiredSessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
