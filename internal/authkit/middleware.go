package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ContextKeyUser holds the authenticated *User.
	ContextKeyUser = "auth_user"
	// ContextKeySession holds the validated *Session.
	ContextKeySession = "auth_session"
)

// RequireSession validates the session cookie and injects the user and session.
func RequireSession(sessions *SessionManager, metrics MetricsRecorder, logger *zap.Logger) gin.HandlerFunc {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		sessionCookie, cookieErr := contextGin.Request.Cookie(sessions.CookieName())
		if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
			respondError(contextGin, logger, newAuthError(KindUnauthorized, messageUnauthorized, nil), messageInternal, "auth.middleware.missing_cookie")
			return
		}

		session, user, validateErr := sessions.ValidateSession(contextGin.Request.Context(), sessionCookie.Value)
		if validateErr != nil {
			respondError(contextGin, logger, validateErr, messageInternal, "auth.middleware.validate_failed")
			return
		}
		if session == nil || user == nil {
			metrics.Increment(metricAuthSessionInvalid)
			http.SetCookie(contextGin.Writer, sessions.BlankSessionCookie())
			respondError(contextGin, logger, newAuthError(KindInvalidSession, messageInvalidSession, nil), messageInternal, "auth.middleware.invalid_session")
			return
		}
		if session.Fresh {
			metrics.Increment(metricAuthSessionRefreshed)
			http.SetCookie(contextGin.Writer, sessions.SessionCookie(sessionCookie.Value, session.ExpiresAt))
		}

		contextGin.Set(ContextKeySession, session)
		contextGin.Set(ContextKeyUser, user)
		contextGin.Next()
	}
}
