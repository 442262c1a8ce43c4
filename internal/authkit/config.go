package authkit

import (
	"net/http"
	"time"
)

const (
	// DefaultSessionCookieName is the cookie that carries the opaque session token.
	DefaultSessionCookieName = "session"
	// DefaultOAuthStateCookieName holds the CSRF state between the two OAuth legs.
	DefaultOAuthStateCookieName = "google_oauth_state"
	// DefaultOAuthVerifierCookieName holds the PKCE verifier between the two OAuth legs.
	DefaultOAuthVerifierCookieName = "google_oauth_code_verifier"

	// DefaultSessionTTL is the absolute session lifetime.
	DefaultSessionTTL = 4 * 7 * 24 * time.Hour
	// DefaultOAuthStateTTL bounds how long an authorization attempt may take.
	DefaultOAuthStateTTL = time.Hour
	// DefaultProviderTimeout bounds each outbound call to the identity provider.
	DefaultProviderTimeout = 10 * time.Second
)

// ServerConfig configures cookies, TTLs, and redirects.
type ServerConfig struct {
	CookieDomain            string
	SessionCookieName       string
	OAuthStateCookieName    string
	OAuthVerifierCookieName string
	SessionTTL              time.Duration
	OAuthStateTTL           time.Duration
	ProviderTimeout         time.Duration
	FrontendURL             string
	SameSiteMode            http.SameSite
	AllowInsecureHTTP       bool
	RequireVerifiedEmail    bool
}

// WithDefaults fills zero-valued fields.
func (configuration ServerConfig) WithDefaults() ServerConfig {
	if configuration.SessionCookieName == "" {
		configuration.SessionCookieName = DefaultSessionCookieName
	}
	if configuration.OAuthStateCookieName == "" {
		configuration.OAuthStateCookieName = DefaultOAuthStateCookieName
	}
	if configuration.OAuthVerifierCookieName == "" {
		configuration.OAuthVerifierCookieName = DefaultOAuthVerifierCookieName
	}
	if configuration.SessionTTL <= 0 {
		configuration.SessionTTL = DefaultSessionTTL
	}
	if configuration.OAuthStateTTL <= 0 {
		configuration.OAuthStateTTL = DefaultOAuthStateTTL
	}
	if configuration.ProviderTimeout <= 0 {
		configuration.ProviderTimeout = DefaultProviderTimeout
	}
	if configuration.FrontendURL == "" {
		configuration.FrontendURL = "http://localhost:3000/"
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteLaxMode
	}
	return configuration
}
