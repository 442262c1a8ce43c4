package authkit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Session is the validated view of a stored session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Fresh is true when validation extended the expiry; callers reissue the cookie.
	Fresh bool `json:"fresh"`
}

// SessionManager creates, validates, and invalidates opaque session tokens.
type SessionManager struct {
	configuration ServerConfig
	sessions      SessionStore
	users         CredentialStore
	clock         Clock
}

// NewSessionManager wires a manager; a nil clock uses the system clock.
func NewSessionManager(configuration ServerConfig, sessions SessionStore, users CredentialStore, clock Clock) *SessionManager {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &SessionManager{
		configuration: configuration.WithDefaults(),
		sessions:      sessions,
		users:         users,
		clock:         clock,
	}
}

// CreateSession mints a token for the user and persists its hash.
func (manager *SessionManager) CreateSession(ctx context.Context, userID string) (Session, string, error) {
	token, sessionID, tokenErr := generateSessionToken()
	if tokenErr != nil {
		return Session{}, "", newAuthError(KindInternal, messageInternal, tokenErr)
	}
	now := manager.clock.Now()
	record := SessionRecord{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(manager.configuration.SessionTTL),
		CreatedAt: now,
	}
	if insertErr := manager.sessions.Insert(ctx, record); insertErr != nil {
		return Session{}, "", newAuthError(KindInternal, messageInternal, insertErr)
	}
	return Session{ID: record.ID, UserID: userID, ExpiresAt: record.ExpiresAt, Fresh: true}, token, nil
}

// ValidateSession resolves a token to its session and user.
// Unknown or expired tokens yield (nil, nil, nil); expired rows are deleted.
// Inside the last half of the lifetime the expiry slides forward and Fresh is set.
func (manager *SessionManager) ValidateSession(ctx context.Context, token string) (*Session, *User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil, nil
	}
	sessionID := HashSessionToken(token)
	record, findErr := manager.sessions.Find(ctx, sessionID)
	if findErr != nil {
		if errors.Is(findErr, ErrSessionNotFound) {
			return nil, nil, nil
		}
		return nil, nil, newAuthError(KindInternal, messageInternal, findErr)
	}

	now := manager.clock.Now()
	if !now.Before(record.ExpiresAt) {
		if deleteErr := manager.sessions.Delete(ctx, sessionID); deleteErr != nil && !errors.Is(deleteErr, ErrSessionNotFound) {
			return nil, nil, newAuthError(KindInternal, messageInternal, deleteErr)
		}
		return nil, nil, nil
	}

	user, userErr := manager.users.FindUserByID(ctx, record.UserID)
	if userErr != nil {
		if errors.Is(userErr, ErrUserNotFound) {
			if deleteErr := manager.sessions.Delete(ctx, sessionID); deleteErr != nil && !errors.Is(deleteErr, ErrSessionNotFound) {
				return nil, nil, newAuthError(KindInternal, messageInternal, deleteErr)
			}
			return nil, nil, nil
		}
		return nil, nil, newAuthError(KindInternal, messageInternal, userErr)
	}

	session := &Session{ID: sessionID, UserID: record.UserID, ExpiresAt: record.ExpiresAt}
	if record.ExpiresAt.Sub(now) < manager.configuration.SessionTTL/2 {
		extendedExpiry := now.Add(manager.configuration.SessionTTL)
		if updateErr := manager.sessions.UpdateExpiry(ctx, sessionID, extendedExpiry); updateErr != nil {
			if errors.Is(updateErr, ErrSessionNotFound) {
				return nil, nil, nil
			}
			return nil, nil, newAuthError(KindInternal, messageInternal, updateErr)
		}
		session.ExpiresAt = extendedExpiry
		session.Fresh = true
	}
	return session, &user, nil
}

// InvalidateSession deletes the session referenced by token.
func (manager *SessionManager) InvalidateSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return newAuthError(KindInvalidSessionID, messageInvalidSession, ErrSessionEmptyID)
	}
	if err := manager.sessions.Delete(ctx, HashSessionToken(token)); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return newAuthError(KindInvalidSessionID, messageInvalidSession, err)
		}
		return newAuthError(KindInternal, messageInternal, err)
	}
	return nil
}

// SessionCookie builds the directive that stores token in the browser.
func (manager *SessionManager) SessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     manager.configuration.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   manager.configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !manager.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: manager.configuration.SameSiteMode,
	}
}

// BlankSessionCookie builds the directive that clears the session cookie.
func (manager *SessionManager) BlankSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     manager.configuration.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   manager.configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !manager.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: manager.configuration.SameSiteMode,
	}
}

// CookieName returns the session cookie name.
func (manager *SessionManager) CookieName() string {
	return manager.configuration.SessionCookieName
}
