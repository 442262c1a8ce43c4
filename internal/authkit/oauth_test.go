package authkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeGoogleServer struct {
	server        *httptest.Server
	tokenRequests atomic.Int32
	lastVerifier  atomic.Value
	tokenStatus   int
	tokenBody     map[string]any
	profileStatus int
	profileBody   map[string]any
}

func newFakeGoogleServer(t *testing.T) *fakeGoogleServer {
	t.Helper()
	fake := &fakeGoogleServer{
		tokenStatus:   http.StatusOK,
		tokenBody:     map[string]any{"access_token": "access-token", "token_type": "Bearer", "expires_in": 3600},
		profileStatus: http.StatusOK,
		profileBody: map[string]any{
			"id":             "google-123",
			"email":          "ann@x.com",
			"verified_email": true,
			"name":           "Ann",
			"picture":        "https://img/ann.png",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(writer http.ResponseWriter, request *http.Request) {
		fake.tokenRequests.Add(1)
		_ = request.ParseForm()
		fake.lastVerifier.Store(request.PostForm.Get("code_verifier"))
		writeJSON(writer, fake.tokenStatus, fake.tokenBody)
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer access-token" {
			writeJSON(writer, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 401, "message": "unauthenticated"}})
			return
		}
		writeJSON(writer, fake.profileStatus, fake.profileBody)
	})
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}

func (fake *fakeGoogleServer) broker() *GoogleOAuthBroker {
	return NewGoogleOAuthBroker(GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5000/api/auth/callback/google",
		Endpoint: oauth2.Endpoint{
			AuthURL:   fake.server.URL + "/auth",
			TokenURL:  fake.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoEndpoint: fake.server.URL + "/",
		HTTPClient:       fake.server.Client(),
	})
}

func TestGoogleOAuthBrokerStartAuthorization(t *testing.T) {
	fake := newFakeGoogleServer(t)
	request, err := fake.broker().StartAuthorization()
	require.NoError(t, err)
	require.NotEmpty(t, request.State)
	require.NotEmpty(t, request.CodeVerifier)

	parsed, err := url.Parse(request.URL)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, request.State, query.Get("state"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	require.Equal(t, oauth2.S256ChallengeFromVerifier(request.CodeVerifier), query.Get("code_challenge"))
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "profile email", query.Get("scope"))

	second, err := fake.broker().StartAuthorization()
	require.NoError(t, err)
	require.NotEqual(t, request.State, second.State)
}

func TestGoogleOAuthBrokerCompleteAuthorization(t *testing.T) {
	fake := newFakeGoogleServer(t)
	profile, err := fake.broker().CompleteAuthorization(context.Background(), CallbackInput{
		Code:         "auth-code",
		State:        "state-1",
		StoredState:  "state-1",
		CodeVerifier: "verifier-1",
	})
	require.NoError(t, err)
	require.Equal(t, ProviderProfile{
		ID:            "google-123",
		Email:         "ann@x.com",
		VerifiedEmail: true,
		Name:          "Ann",
		Picture:       "https://img/ann.png",
	}, profile)
	require.Equal(t, "verifier-1", fake.lastVerifier.Load())
}

func TestGoogleOAuthBrokerRejectsBadCallbackWithoutNetwork(t *testing.T) {
	fake := newFakeGoogleServer(t)
	broker := fake.broker()
	testCases := []CallbackInput{
		{Code: "c", State: "a", StoredState: "b", CodeVerifier: "v"},
		{Code: "", State: "a", StoredState: "a", CodeVerifier: "v"},
		{Code: "c", State: "a", StoredState: "", CodeVerifier: "v"},
		{Code: "c", State: "a", StoredState: "a", CodeVerifier: ""},
	}
	for _, input := range testCases {
		_, err := broker.CompleteAuthorization(context.Background(), input)
		require.Equal(t, KindInvalidOAuthRequest, KindOf(err), "input %+v", input)
	}
	require.Equal(t, int32(0), fake.tokenRequests.Load())
}

func TestGoogleOAuthBrokerSurfacesProviderError(t *testing.T) {
	fake := newFakeGoogleServer(t)
	fake.tokenStatus = http.StatusBadRequest
	fake.tokenBody = map[string]any{"error": "invalid_grant", "error_description": "Bad Request"}

	_, err := fake.broker().CompleteAuthorization(context.Background(), CallbackInput{
		Code: "c", State: "s", StoredState: "s", CodeVerifier: "v",
	})
	require.Equal(t, KindOAuthExchangeFailed, KindOf(err))
	status, message := statusAndMessage(err, messageInternal)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Bad Request", message)
}

func TestGoogleOAuthBrokerProfileFailure(t *testing.T) {
	fake := newFakeGoogleServer(t)
	fake.profileStatus = http.StatusInternalServerError
	fake.profileBody = map[string]any{"error": map[string]any{"code": 500, "message": "boom"}}

	_, err := fake.broker().CompleteAuthorization(context.Background(), CallbackInput{
		Code: "c", State: "s", StoredState: "s", CodeVerifier: "v",
	})
	require.Equal(t, KindProviderProfileFetchFailed, KindOf(err))
	status, _ := statusAndMessage(err, messageInternal)
	require.Equal(t, http.StatusBadGateway, status)
}

func TestGoogleOAuthBrokerIncompleteProfile(t *testing.T) {
	fake := newFakeGoogleServer(t)
	fake.profileBody = map[string]any{"id": "google-123", "name": "No Email"}

	_, err := fake.broker().CompleteAuthorization(context.Background(), CallbackInput{
		Code: "c", State: "s", StoredState: "s", CodeVerifier: "v",
	})
	require.Equal(t, KindProviderProfileFetchFailed, KindOf(err))
}

func TestProviderErrorMessageFallbacks(t *testing.T) {
	require.Equal(t, "invalid_grant", providerErrorMessage(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	require.Equal(t, messageOAuthExchangeFailed, providerErrorMessage(&oauth2.RetrieveError{}))
	require.Equal(t, messageOAuthExchangeFailed, providerErrorMessage(context.DeadlineExceeded))
}
