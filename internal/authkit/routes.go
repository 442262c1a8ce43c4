package authkit

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageRegisterFailed = "An error occurred during registration"
	messageLoginFailed    = "An error occurred during login"
	messageLogoutFailed   = "An error occurred during logout"
	messageCallbackFailed = "Internal Server Error"
)

// Services bundles the collaborators the auth handlers orchestrate.
type Services struct {
	Config   ServerConfig
	Users    CredentialStore
	Sessions *SessionManager
	Hasher   PasswordHasher
	OAuth    OAuthBroker
	Metrics  MetricsRecorder
	Logger   *zap.Logger
}

type authHandlers struct {
	configuration ServerConfig
	users         CredentialStore
	sessions      *SessionManager
	hasher        PasswordHasher
	oauth         OAuthBroker
	metrics       MetricsRecorder
	logger        *zap.Logger

	dummyDigestOnce sync.Once
	dummyDigest     string
}

// MountAuthRoutes registers /register, /login, /logout, /google, /callback/google, and /profile.
func MountAuthRoutes(router gin.IRouter, services Services) {
	if services.Users == nil || services.Sessions == nil || services.Hasher == nil || services.OAuth == nil {
		panic("auth routes require users, sessions, hasher, and oauth broker")
	}
	if services.Metrics == nil {
		services.Metrics = noopMetrics{}
	}
	if services.Logger == nil {
		services.Logger = zap.NewNop()
	}
	handlers := &authHandlers{
		configuration: services.Config.WithDefaults(),
		users:         services.Users,
		sessions:      services.Sessions,
		hasher:        services.Hasher,
		oauth:         services.OAuth,
		metrics:       services.Metrics,
		logger:        services.Logger,
	}

	router.POST("/register", handlers.register)
	router.POST("/login", handlers.login)
	router.POST("/logout", handlers.logout)
	router.GET("/google", handlers.startGoogleAuthorization)
	router.GET("/callback/google", handlers.completeGoogleAuthorization)
	router.GET("/profile", RequireSession(services.Sessions, services.Metrics, services.Logger), handlers.profile)
}

type registeredUserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (handlers *authHandlers) register(contextGin *gin.Context) {
	var inbound registerRequest
	if err := bindJSON(contextGin, &inbound); err != nil {
		handlers.respondError(contextGin, err, messageRegisterFailed, "auth.register.invalid_body")
		return
	}
	if !isComplexPassword(inbound.Password) {
		handlers.respondError(contextGin, newAuthError(KindValidation, messagePasswordTooSimple, nil), messageRegisterFailed, "auth.register.weak_password")
		return
	}

	requestContext := contextGin.Request.Context()
	if _, lookupErr := handlers.users.FindUserByEmail(requestContext, inbound.Email); lookupErr == nil {
		handlers.metrics.Increment(metricAuthRegisterConflict)
		handlers.respondError(contextGin, newAuthError(KindEmailTaken, messageEmailTaken, nil), messageRegisterFailed, "auth.register.email_taken")
		return
	} else if !errors.Is(lookupErr, ErrUserNotFound) {
		handlers.metrics.Increment(metricAuthRegisterFailure)
		handlers.respondError(contextGin, lookupErr, messageRegisterFailed, "auth.register.lookup_failed")
		return
	}

	digest, hashErr := handlers.hasher.Hash(inbound.Password)
	if hashErr != nil {
		handlers.metrics.Increment(metricAuthRegisterFailure)
		handlers.respondError(contextGin, hashErr, messageRegisterFailed, "auth.register.hash_failed")
		return
	}

	user, createErr := handlers.users.CreateUser(requestContext, NewUser{
		Email:          inbound.Email,
		Name:           inbound.Name,
		HashedPassword: digest,
	})
	if createErr != nil {
		if errors.Is(createErr, ErrEmailTaken) {
			handlers.metrics.Increment(metricAuthRegisterConflict)
			handlers.respondError(contextGin, newAuthError(KindEmailTaken, messageEmailTaken, createErr), messageRegisterFailed, "auth.register.email_taken")
			return
		}
		handlers.metrics.Increment(metricAuthRegisterFailure)
		handlers.respondError(contextGin, createErr, messageRegisterFailed, "auth.register.create_failed")
		return
	}

	// The user row stays even if session creation fails below.
	if !handlers.issueSession(contextGin, user.ID, messageRegisterFailed, "auth.register.session_failed") {
		handlers.metrics.Increment(metricAuthRegisterFailure)
		return
	}

	handlers.metrics.Increment(metricAuthRegisterSuccess)
	contextGin.JSON(http.StatusCreated, gin.H{
		"message": "Registration successful",
		"user":    registeredUserView{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (handlers *authHandlers) login(contextGin *gin.Context) {
	var inbound loginRequest
	if err := bindJSON(contextGin, &inbound); err != nil {
		handlers.respondError(contextGin, err, messageLoginFailed, "auth.login.invalid_body")
		return
	}

	requestContext := contextGin.Request.Context()
	user, lookupErr := handlers.users.FindUserByEmail(requestContext, inbound.Email)
	if lookupErr != nil && !errors.Is(lookupErr, ErrUserNotFound) {
		handlers.metrics.Increment(metricAuthLoginFailure)
		handlers.respondError(contextGin, lookupErr, messageLoginFailed, "auth.login.lookup_failed")
		return
	}

	var passwordMatches bool
	if lookupErr == nil && user.HasPassword() {
		passwordMatches = handlers.hasher.Verify(user.HashedPassword, inbound.Password)
	} else {
		// Same hashing cost whether or not the account exists.
		handlers.hasher.Verify(handlers.timingDigest(), inbound.Password)
	}
	if !passwordMatches {
		handlers.metrics.Increment(metricAuthLoginFailure)
		handlers.respondError(contextGin, newAuthError(KindInvalidCredentials, messageInvalidCredentials, nil), messageLoginFailed, "auth.login.invalid_credentials")
		return
	}

	if !handlers.issueSession(contextGin, user.ID, messageLoginFailed, "auth.login.session_failed") {
		handlers.metrics.Increment(metricAuthLoginFailure)
		return
	}

	handlers.metrics.Increment(metricAuthLoginSuccess)
	contextGin.JSON(http.StatusOK, gin.H{"message": "Login successful"})
}

func (handlers *authHandlers) logout(contextGin *gin.Context) {
	sessionCookie, cookieErr := contextGin.Request.Cookie(handlers.sessions.CookieName())
	if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
		handlers.metrics.Increment(metricAuthLogoutFailure)
		handlers.respondError(contextGin, newAuthError(KindNoActiveSession, messageNoActiveSession, nil), messageLogoutFailed, "auth.logout.no_session")
		return
	}

	if err := handlers.sessions.InvalidateSession(contextGin.Request.Context(), sessionCookie.Value); err != nil {
		handlers.metrics.Increment(metricAuthLogoutFailure)
		if KindOf(err) == KindInvalidSessionID {
			http.SetCookie(contextGin.Writer, handlers.sessions.BlankSessionCookie())
		}
		handlers.respondError(contextGin, err, messageLogoutFailed, "auth.logout.invalidate_failed")
		return
	}

	http.SetCookie(contextGin.Writer, handlers.sessions.BlankSessionCookie())
	handlers.metrics.Increment(metricAuthLogoutSuccess)
	contextGin.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (handlers *authHandlers) startGoogleAuthorization(contextGin *gin.Context) {
	authorization, startErr := handlers.oauth.StartAuthorization()
	if startErr != nil {
		handlers.respondError(contextGin, startErr, messageCallbackFailed, "auth.oauth.start_failed")
		return
	}

	http.SetCookie(contextGin.Writer, handlers.transientCookie(handlers.configuration.OAuthStateCookieName, authorization.State))
	http.SetCookie(contextGin.Writer, handlers.transientCookie(handlers.configuration.OAuthVerifierCookieName, authorization.CodeVerifier))

	handlers.metrics.Increment(metricAuthOAuthStart)
	contextGin.JSON(http.StatusOK, gin.H{"url": authorization.URL})
}

func (handlers *authHandlers) completeGoogleAuthorization(contextGin *gin.Context) {
	input := CallbackInput{
		Code:         contextGin.Query("code"),
		State:        contextGin.Query("state"),
		StoredState:  cookieValue(contextGin.Request, handlers.configuration.OAuthStateCookieName),
		CodeVerifier: cookieValue(contextGin.Request, handlers.configuration.OAuthVerifierCookieName),
	}
	http.SetCookie(contextGin.Writer, handlers.expiredTransientCookie(handlers.configuration.OAuthStateCookieName))
	http.SetCookie(contextGin.Writer, handlers.expiredTransientCookie(handlers.configuration.OAuthVerifierCookieName))

	requestContext := contextGin.Request.Context()
	profile, completeErr := handlers.oauth.CompleteAuthorization(requestContext, input)
	if completeErr != nil {
		handlers.metrics.Increment(metricAuthOAuthCallbackFailure)
		handlers.respondError(contextGin, completeErr, messageCallbackFailed, "auth.oauth.callback_rejected")
		return
	}

	user, resolveErr := handlers.resolveOAuthUser(requestContext, profile)
	if errors.Is(resolveErr, ErrEmailTaken) || errors.Is(resolveErr, ErrAccountTaken) {
		// A concurrent first login created the rows; the second pass finds them.
		user, resolveErr = handlers.resolveOAuthUser(requestContext, profile)
	}
	if resolveErr != nil {
		handlers.metrics.Increment(metricAuthOAuthCallbackFailure)
		handlers.respondError(contextGin, resolveErr, messageCallbackFailed, "auth.oauth.resolve_user_failed")
		return
	}

	if !handlers.issueSession(contextGin, user.ID, messageCallbackFailed, "auth.oauth.session_failed") {
		handlers.metrics.Increment(metricAuthOAuthCallbackFailure)
		return
	}

	handlers.metrics.Increment(metricAuthOAuthCallbackSuccess)
	contextGin.Redirect(http.StatusFound, handlers.configuration.FrontendURL)
}

// resolveOAuthUser finds the user by provider link, then by email, creating the
// link or the user as needed.
func (handlers *authHandlers) resolveOAuthUser(ctx context.Context, profile ProviderProfile) (User, error) {
	linkedUser, linkedErr := handlers.users.FindUserByAccount(ctx, ProviderGoogle, profile.ID)
	if linkedErr == nil {
		return linkedUser, nil
	}
	if !errors.Is(linkedErr, ErrUserNotFound) {
		return User{}, linkedErr
	}

	if handlers.configuration.RequireVerifiedEmail && !profile.VerifiedEmail {
		return User{}, newAuthError(KindUnverifiedIdentity, messageUnverifiedIdentity, nil)
	}

	existingUser, emailErr := handlers.users.FindUserByEmail(ctx, profile.Email)
	switch {
	case emailErr == nil:
		_, accountErr := handlers.users.FindAccount(ctx, existingUser.ID, ProviderGoogle)
		if accountErr == nil {
			return existingUser, nil
		}
		if !errors.Is(accountErr, ErrAccountNotFound) {
			return User{}, accountErr
		}
		if _, linkErr := handlers.users.LinkAccount(ctx, existingUser.ID, ProviderGoogle, profile.ID); linkErr != nil && !errors.Is(linkErr, ErrAccountTaken) {
			return User{}, linkErr
		}
		return existingUser, nil
	case errors.Is(emailErr, ErrUserNotFound):
		return handlers.users.CreateUserWithAccount(ctx, NewUser{
			Email: profile.Email,
			Name:  profile.Name,
			Image: profile.Picture,
		}, ProviderGoogle, profile.ID)
	default:
		return User{}, emailErr
	}
}

func (handlers *authHandlers) profile(contextGin *gin.Context) {
	userValue, userFound := contextGin.Get(ContextKeyUser)
	sessionValue, sessionFound := contextGin.Get(ContextKeySession)
	user, userOK := userValue.(*User)
	session, sessionOK := sessionValue.(*Session)
	if !userFound || !sessionFound || !userOK || !sessionOK || user == nil || session == nil {
		handlers.logger.Warn("missing session on context",
			zap.String("code", "auth.profile.missing_session"))
		handlers.respondError(contextGin, newAuthError(KindUnauthorized, messageUnauthorized, nil), messageInternal, "auth.profile.unauthorized")
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"user":    user,
		"session": session,
	})
}

func (handlers *authHandlers) issueSession(contextGin *gin.Context, userID string, fallbackMessage string, code string) bool {
	session, token, err := handlers.sessions.CreateSession(contextGin.Request.Context(), userID)
	if err != nil {
		handlers.respondError(contextGin, err, fallbackMessage, code)
		return false
	}
	http.SetCookie(contextGin.Writer, handlers.sessions.SessionCookie(token, session.ExpiresAt))
	return true
}

func (handlers *authHandlers) respondError(contextGin *gin.Context, err error, fallbackMessage string, code string) {
	respondError(contextGin, handlers.logger, err, fallbackMessage, code)
}

func (handlers *authHandlers) timingDigest() string {
	handlers.dummyDigestOnce.Do(func() {
		digest, err := handlers.hasher.Hash("timing-equalization-placeholder")
		if err != nil {
			handlers.logger.Warn("timing digest unavailable",
				zap.String("code", "auth.login.timing_digest_failed"),
				zap.Error(err))
			return
		}
		handlers.dummyDigest = digest
	})
	return handlers.dummyDigest
}

func (handlers *authHandlers) transientCookie(name string, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   handlers.configuration.CookieDomain,
		MaxAge:   int(handlers.configuration.OAuthStateTTL.Seconds()),
		Secure:   !handlers.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (handlers *authHandlers) expiredTransientCookie(name string) *http.Cookie {
	cookie := handlers.transientCookie(name, "")
	cookie.MaxAge = -1
	return cookie
}

func respondError(contextGin *gin.Context, logger *zap.Logger, err error, fallbackMessage string, code string) {
	status, message := statusAndMessage(err, fallbackMessage)
	fields := []zap.Field{
		zap.String("code", code),
		zap.String("kind", string(KindOf(err))),
		zap.Int("status", status),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("auth request failed", fields...)
	} else {
		logger.Info("auth request rejected", fields...)
	}
	contextGin.AbortWithStatusJSON(status, gin.H{"error": message})
}

func cookieValue(request *http.Request, name string) string {
	cookie, err := request.Cookie(name)
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}
