package authkit

import (
	"errors"
	"net/http"
)

// ErrorKind tags every failure surfaced by the auth collaborators.
type ErrorKind string

const (
	KindValidation                 ErrorKind = "validation"
	KindEmailTaken                 ErrorKind = "email_taken"
	KindInvalidCredentials         ErrorKind = "invalid_credentials"
	KindNoActiveSession            ErrorKind = "no_active_session"
	KindInvalidSession             ErrorKind = "invalid_session"
	KindInvalidSessionID           ErrorKind = "invalid_session_id"
	KindUnauthorized               ErrorKind = "unauthorized"
	KindInvalidOAuthRequest        ErrorKind = "invalid_oauth_request"
	KindOAuthExchangeFailed        ErrorKind = "oauth_exchange_failed"
	KindProviderProfileFetchFailed ErrorKind = "provider_profile_fetch_failed"
	KindUnverifiedIdentity         ErrorKind = "unverified_identity"
	KindInternal                   ErrorKind = "internal"
)

const (
	messageEmailTaken          = "An account with this email already exists"
	messageInvalidCredentials  = "Invalid email or password"
	messageNoActiveSession     = "No active session"
	messageInvalidSession      = "Invalid session"
	messageUnauthorized        = "Unauthorized"
	messageInvalidOAuthRequest = "Invalid request"
	messageProfileFetchFailed  = "Error getting Google profile"
	messageUnverifiedIdentity  = "Google account email is not verified"
	messageInternal            = "Internal server error"
)

// AuthError carries a kind, a client-safe message, and the underlying cause.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (authError *AuthError) Error() string {
	if authError.Cause != nil {
		return string(authError.Kind) + ": " + authError.Message + ": " + authError.Cause.Error()
	}
	return string(authError.Kind) + ": " + authError.Message
}

func (authError *AuthError) Unwrap() error {
	return authError.Cause
}

func newAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Cause: cause}
}

// KindOf reports the kind of err; untagged errors are internal.
func KindOf(err error) ErrorKind {
	var authError *AuthError
	if errors.As(err, &authError) {
		return authError.Kind
	}
	return KindInternal
}

// statusAndMessage maps an error to the HTTP status and the message the client sees.
// Internal errors use fallbackMessage so each operation keeps its own wording.
func statusAndMessage(err error, fallbackMessage string) (int, string) {
	var authError *AuthError
	if !errors.As(err, &authError) {
		return http.StatusInternalServerError, fallbackMessage
	}
	switch authError.Kind {
	case KindValidation:
		return http.StatusBadRequest, authError.Message
	case KindEmailTaken:
		return http.StatusConflict, messageEmailTaken
	case KindInvalidCredentials:
		return http.StatusUnauthorized, messageInvalidCredentials
	case KindNoActiveSession:
		return http.StatusUnauthorized, messageNoActiveSession
	case KindInvalidSession, KindInvalidSessionID:
		return http.StatusUnauthorized, messageInvalidSession
	case KindUnauthorized:
		return http.StatusUnauthorized, messageUnauthorized
	case KindInvalidOAuthRequest:
		return http.StatusBadRequest, messageInvalidOAuthRequest
	case KindOAuthExchangeFailed:
		return http.StatusBadRequest, authError.Message
	case KindProviderProfileFetchFailed:
		return http.StatusBadGateway, messageProfileFetchFailed
	case KindUnverifiedIdentity:
		return http.StatusForbidden, messageUnverifiedIdentity
	case KindInternal:
		return http.StatusInternalServerError, fallbackMessage
	default:
		return http.StatusInternalServerError, fallbackMessage
	}
}
