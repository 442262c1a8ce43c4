package sessionvalidator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_profile"

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "session"

// DefaultProfilePath is the auth service endpoint that resolves a session cookie.
const DefaultProfilePath = "/api/auth/profile"

const defaultTimeout = 5 * time.Second

// Sentinel errors exposed by the validator.
var (
	ErrMissingBaseURL = errors.New("session.validator.missing_base_url")
	ErrMissingCookie  = errors.New("session.validator.missing_cookie")
	ErrInvalidSession = errors.New("session.validator.invalid_session")
	ErrUpstream       = errors.New("session.validator.upstream")
)

// Config configures the Validator.
type Config struct {
	// BaseURL is the auth service origin, e.g. "https://auth.example.com".
	BaseURL     string
	CookieName  string
	ProfilePath string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// User is the public user shape returned by the auth service.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is the validated session returned by the auth service.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Fresh     bool      `json:"fresh"`
}

// Profile is the authenticated identity behind a request.
type Profile struct {
	User    User    `json:"user"`
	Session Session `json:"session"`
	// RefreshedCookies carries Set-Cookie directives the auth service issued
	// while sliding the session expiry.
	RefreshedCookies []*http.Cookie `json:"-"`
}

// Validator resolves session cookies by asking the auth service.
type Validator struct {
	profileURL string
	cookieName string
	timeout    time.Duration
	httpClient *http.Client
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	baseURL := strings.TrimSpace(configuration.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingBaseURL)
	}
	parsedBase, parseErr := url.Parse(baseURL)
	if parseErr != nil || parsedBase.Scheme == "" || parsedBase.Host == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingBaseURL)
	}
	profilePath := configuration.ProfilePath
	if strings.TrimSpace(profilePath) == "" {
		profilePath = DefaultProfilePath
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Validator{
		profileURL: strings.TrimRight(parsedBase.String(), "/") + "/" + strings.TrimLeft(profilePath, "/"),
		cookieName: cookieName,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// ValidateToken resolves a raw session token into a profile.
func (validator *Validator) ValidateToken(ctx context.Context, token string) (*Profile, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrMissingCookie)
	}
	requestContext, cancel := context.WithTimeout(ctx, validator.timeout)
	defer cancel()

	upstreamRequest, buildErr := http.NewRequestWithContext(requestContext, http.MethodGet, validator.profileURL, nil)
	if buildErr != nil {
		return nil, fmt.Errorf("session.validator.validate_token: %w: %v", ErrUpstream, buildErr)
	}
	upstreamRequest.Header.Set("Accept", "application/json")
	upstreamRequest.AddCookie(&http.Cookie{Name: validator.cookieName, Value: token})

	response, doErr := validator.httpClient.Do(upstreamRequest)
	if doErr != nil {
		return nil, fmt.Errorf("session.validator.validate_token: %w: %v", ErrUpstream, doErr)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidSession)
	case response.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("session.validator.validate_token: %w: status %d", ErrUpstream, response.StatusCode)
	}

	var profile Profile
	if decodeErr := json.NewDecoder(response.Body).Decode(&profile); decodeErr != nil {
		return nil, fmt.Errorf("session.validator.validate_token: %w: %v", ErrUpstream, decodeErr)
	}
	if profile.User.ID == "" || profile.Session.UserID != profile.User.ID {
		return nil, fmt.Errorf("session.validator.validate_token: %w: incomplete profile", ErrUpstream)
	}
	for _, cookie := range response.Cookies() {
		if cookie.Name == validator.cookieName {
			profile.RefreshedCookies = append(profile.RefreshedCookies, cookie)
		}
	}
	return &profile, nil
}

// ValidateRequest reads the configured cookie from the request and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Profile, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingCookie)
	}
	cookie, cookieErr := request.Cookie(validator.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingCookie)
	}
	return validator.ValidateToken(request.Context(), cookie.Value)
}

// GinMiddleware validates the session cookie and injects the profile.
// Invalid sessions abort with 401; an unreachable auth service aborts with 502.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		profile, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			if errors.Is(err, ErrUpstream) {
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Authentication service unavailable"})
				return
			}
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		for _, cookie := range profile.RefreshedCookies {
			http.SetCookie(contextGin.Writer, cookie)
		}
		contextGin.Set(contextKey, profile)
		contextGin.Next()
	}
}
