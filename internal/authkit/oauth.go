package authkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	oauthStateByteLength       = 32
	messageOAuthExchangeFailed = "OAuth token exchange failed"
)

// AuthorizationRequest is the first leg of the OAuth dance. The caller persists
// State and CodeVerifier in short-lived cookies before redirecting to URL.
type AuthorizationRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// CallbackInput gathers what the second leg received from the query string and cookies.
type CallbackInput struct {
	Code         string
	State        string
	StoredState  string
	CodeVerifier string
}

// ProviderProfile is the identity reported by the provider's user-info endpoint.
type ProviderProfile struct {
	ID            string
	Email         string
	VerifiedEmail bool
	Name          string
	Picture       string
}

// OAuthBroker runs the two-phase authorization code flow with PKCE.
type OAuthBroker interface {
	StartAuthorization() (AuthorizationRequest, error)
	CompleteAuthorization(ctx context.Context, input CallbackInput) (ProviderProfile, error)
}

// GoogleOAuthConfig configures GoogleOAuthBroker.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	// Endpoint overrides google.Endpoint when its TokenURL is set.
	Endpoint oauth2.Endpoint
	// UserInfoEndpoint overrides the Google API base URL, e.g. "https://www.googleapis.com/".
	UserInfoEndpoint string
	HTTPClient       *http.Client
}

// GoogleOAuthBroker implements OAuthBroker against Google.
type GoogleOAuthBroker struct {
	oauthConfig      oauth2.Config
	timeout          time.Duration
	userInfoEndpoint string
	httpClient       *http.Client
}

// NewGoogleOAuthBroker constructs a broker requesting the profile and email scopes.
func NewGoogleOAuthBroker(configuration GoogleOAuthConfig) *GoogleOAuthBroker {
	endpoint := google.Endpoint
	if configuration.Endpoint.TokenURL != "" {
		endpoint = configuration.Endpoint
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &GoogleOAuthBroker{
		oauthConfig: oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Scopes:       []string{"profile", "email"},
			Endpoint:     endpoint,
		},
		timeout:          timeout,
		userInfoEndpoint: configuration.UserInfoEndpoint,
		httpClient:       configuration.HTTPClient,
	}
}

// StartAuthorization generates state and a PKCE verifier and builds the consent URL.
func (broker *GoogleOAuthBroker) StartAuthorization() (AuthorizationRequest, error) {
	state, stateErr := randomURLToken(oauthStateByteLength)
	if stateErr != nil {
		return AuthorizationRequest{}, newAuthError(KindInternal, messageInternal, fmt.Errorf("oauth.state: %w", stateErr))
	}
	codeVerifier := oauth2.GenerateVerifier()
	authorizationURL := broker.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
	return AuthorizationRequest{URL: authorizationURL, State: state, CodeVerifier: codeVerifier}, nil
}

// CompleteAuthorization checks the callback, exchanges the code, and fetches the profile.
// Malformed or mismatched callbacks fail before any request reaches the provider.
func (broker *GoogleOAuthBroker) CompleteAuthorization(ctx context.Context, input CallbackInput) (ProviderProfile, error) {
	if err := checkCallbackInput(input); err != nil {
		return ProviderProfile{}, err
	}

	clientContext := ctx
	if broker.httpClient != nil {
		clientContext = context.WithValue(ctx, oauth2.HTTPClient, broker.httpClient)
	}

	exchangeContext, cancelExchange := context.WithTimeout(clientContext, broker.timeout)
	defer cancelExchange()
	token, exchangeErr := broker.oauthConfig.Exchange(exchangeContext, input.Code, oauth2.VerifierOption(input.CodeVerifier))
	if exchangeErr != nil {
		return ProviderProfile{}, newAuthError(KindOAuthExchangeFailed, providerErrorMessage(exchangeErr), exchangeErr)
	}

	profileContext, cancelProfile := context.WithTimeout(clientContext, broker.timeout)
	defer cancelProfile()
	options := []option.ClientOption{option.WithHTTPClient(broker.oauthConfig.Client(clientContext, token))}
	if broker.userInfoEndpoint != "" {
		options = append(options, option.WithEndpoint(broker.userInfoEndpoint))
	}
	service, serviceErr := googleoauth2.NewService(profileContext, options...)
	if serviceErr != nil {
		return ProviderProfile{}, newAuthError(KindProviderProfileFetchFailed, messageProfileFetchFailed, serviceErr)
	}
	userInfo, fetchErr := service.Userinfo.Get().Context(profileContext).Do()
	if fetchErr != nil {
		return ProviderProfile{}, newAuthError(KindProviderProfileFetchFailed, messageProfileFetchFailed, fetchErr)
	}
	if userInfo == nil || strings.TrimSpace(userInfo.Id) == "" || strings.TrimSpace(userInfo.Email) == "" {
		return ProviderProfile{}, newAuthError(KindProviderProfileFetchFailed, messageProfileFetchFailed, errors.New("oauth.profile.incomplete"))
	}

	verifiedEmail := true
	if userInfo.VerifiedEmail != nil {
		verifiedEmail = *userInfo.VerifiedEmail
	}
	return ProviderProfile{
		ID:            userInfo.Id,
		Email:         userInfo.Email,
		VerifiedEmail: verifiedEmail,
		Name:          userInfo.Name,
		Picture:       userInfo.Picture,
	}, nil
}

func checkCallbackInput(input CallbackInput) error {
	if input.Code == "" || input.State == "" || input.StoredState == "" || input.CodeVerifier == "" {
		return newAuthError(KindInvalidOAuthRequest, messageInvalidOAuthRequest, errors.New("oauth.callback.missing_parameter"))
	}
	if subtle.ConstantTimeCompare([]byte(input.State), []byte(input.StoredState)) != 1 {
		return newAuthError(KindInvalidOAuthRequest, messageInvalidOAuthRequest, errors.New("oauth.callback.state_mismatch"))
	}
	return nil
}

func providerErrorMessage(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return messageOAuthExchangeFailed
	}
	if retrieveErr.ErrorDescription != "" {
		return retrieveErr.ErrorDescription
	}
	if retrieveErr.ErrorCode != "" {
		return retrieveErr.ErrorCode
	}
	return messageOAuthExchangeFailed
}
