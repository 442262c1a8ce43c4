package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/authd/internal/authkit"
	"go.uber.org/zap"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func setRequiredConfig(t *testing.T) {
	t.Helper()
	viper.Set("google_client_id", "client")
	viper.Set("google_client_secret", "secret")
	viper.Set("session_ttl", time.Hour)
	viper.Set("database_url", "sqlite://"+filepath.Join(t.TempDir(), "auth.db"))
}

func TestLoadServerConfigErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name     string
		override func()
		expected string
	}{
		{
			name:     "missing client id",
			override: func() { viper.Set("google_client_id", "") },
			expected: "config.missing_google_client_id: google_client_id must be provided",
		},
		{
			name:     "missing client secret",
			override: func() { viper.Set("google_client_secret", "") },
			expected: "config.missing_google_client_secret: google_client_secret must be provided",
		},
		{
			name:     "non-positive session ttl",
			override: func() { viper.Set("session_ttl", 0) },
			expected: "config.invalid_session_ttl: session_ttl must be greater than zero",
		},
		{
			name:     "non-positive state ttl",
			override: func() { viper.Set("oauth_state_ttl", -time.Second) },
			expected: "config.invalid_oauth_state_ttl: oauth_state_ttl must be greater than zero",
		},
		{
			name:     "unknown backend",
			override: func() { viper.Set("session_backend", "etcd") },
			expected: `config.invalid_session_backend: session_backend "etcd" is not one of database, memory, redis, postgres`,
		},
		{
			name:     "redis without url",
			override: func() { viper.Set("session_backend", "redis") },
			expected: "config.missing_redis_url: redis_url must be provided when session_backend is redis",
		},
		{
			name:     "postgres backend on sqlite",
			override: func() { viper.Set("session_backend", "postgres") },
			expected: "config.invalid_postgres_url: database_url must be a postgres URL when session_backend is postgres",
		},
		{
			name:     "relative frontend url",
			override: func() { viper.Set("frontend_url", "/dashboard") },
			expected: "config.invalid_frontend_url: frontend_url must be an absolute URL",
		},
		{
			name:     "too many argon2 threads",
			override: func() { viper.Set("argon2_threads", 256) },
			expected: "config.invalid_argon2_threads: argon2_threads must be at most 255",
		},
	}

	for _, testCase := range testCases {
		viper.Reset()
		setRequiredConfig(t)
		testCase.override()
		_, err := LoadServerConfig()
		if err == nil || err.Error() != testCase.expected {
			t.Fatalf("%s: expected error %q, got %v", testCase.name, testCase.expected, err)
		}
	}
	viper.Reset()
}

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setRequiredConfig(t)
	viper.Set("dev_insecure_http", true)
	viper.Set("argon2_memory_kib", 1024)
	viper.Set("argon2_time", 1)
	viper.Set("argon2_threads", 2)

	settings, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.SessionBackend != sessionBackendDatabase {
		t.Fatalf("expected database backend, got %s", settings.SessionBackend)
	}
	if settings.Auth.SessionCookieName != authkit.DefaultSessionCookieName || settings.Auth.OAuthStateTTL != authkit.DefaultOAuthStateTTL {
		t.Fatalf("unexpected auth defaults %+v", settings.Auth)
	}
	if !settings.Auth.AllowInsecureHTTP || !settings.Auth.RequireVerifiedEmail || settings.Auth.SameSiteMode != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie policy %+v", settings.Auth)
	}
	if settings.Google.ClientID != "client" || settings.Google.ClientSecret != "secret" {
		t.Fatalf("unexpected google config %+v", settings.Google)
	}
	if settings.Argon2 != (authkit.Argon2Params{MemoryKiB: 1024, Time: 1, Threads: 2}) {
		t.Fatalf("unexpected argon2 params %+v", settings.Argon2)
	}
}

func TestPrepareServerConfigLoadsEnvFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	envFile := filepath.Join(t.TempDir(), ".env")
	contents := "APP_GOOGLE_CLIENT_ID=from-env-file\nAPP_GOOGLE_CLIENT_SECRET=secret-from-env-file\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("APP_GOOGLE_CLIENT_ID")
		_ = os.Unsetenv("APP_GOOGLE_CLIENT_SECRET")
	})
	viper.Set("env_file", envFile)
	viper.Set("session_ttl", time.Hour)

	command := &cobra.Command{}
	if err := prepareServerConfig(command, nil); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	settings, ok := command.Context().Value(serverConfigContextKey).(ServerSettings)
	if !ok {
		t.Fatalf("expected settings on the command context")
	}
	if settings.Google.ClientID != "from-env-file" {
		t.Fatalf("expected client id from env file, got %q", settings.Google.ClientID)
	}

	viper.Set("env_file", filepath.Join(t.TempDir(), "missing.env"))
	if err := prepareServerConfig(&cobra.Command{}, nil); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

// runWithHandler starts the server with a stubbed listener and exercises the
// wired handler while every store is still open.
func runWithHandler(t *testing.T, exercise func(handler http.Handler)) {
	t.Helper()
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		exercise(server.Handler)
		return http.ErrServerClosed
	})
	defer restoreServe()

	settings, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, settings))
	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}
}

func TestRunServerSessionBackends(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restoreBroker := withOAuthBrokerStub(func(configuration authkit.GoogleOAuthConfig) authkit.OAuthBroker {
		return stubBroker{}
	})
	defer restoreBroker()

	redisServer := miniredis.RunT(t)
	backends := map[string]func(){
		sessionBackendDatabase: func() {},
		sessionBackendMemory:   func() {},
		sessionBackendRedis:    func() { viper.Set("redis_url", "redis://"+redisServer.Addr()) },
	}
	for backend, configure := range backends {
		viper.Reset()
		setRequiredConfig(t)
		viper.Set("listen_addr", ":0")
		viper.Set("session_backend", backend)
		viper.Set("dev_insecure_http", true)
		viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})
		configure()

		runWithHandler(t, func(handler http.Handler) {
			health := httptest.NewRecorder()
			handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
			if health.Code != http.StatusOK {
				t.Fatalf("%s: expected healthy service, got %d", backend, health.Code)
			}
		})
	}
	viper.Reset()
}

func TestRunServerWiresRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restoreBroker := withOAuthBrokerStub(func(configuration authkit.GoogleOAuthConfig) authkit.OAuthBroker {
		if configuration.ClientID != "client" {
			t.Fatalf("unexpected oauth config %+v", configuration)
		}
		return stubBroker{}
	})
	defer restoreBroker()

	viper.Reset()
	defer viper.Reset()
	setRequiredConfig(t)
	viper.Set("session_backend", sessionBackendMemory)
	viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})
	runWithHandler(t, func(handler http.Handler) {
		metrics := httptest.NewRecorder()
		handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if metrics.Code != http.StatusOK {
			t.Fatalf("expected metrics endpoint, got %d", metrics.Code)
		}

		start := httptest.NewRecorder()
		handler.ServeHTTP(start, httptest.NewRequest(http.MethodGet, "/api/auth/google", nil))
		if start.Code != http.StatusOK {
			t.Fatalf("expected oauth start, got %d", start.Code)
		}

		profile := httptest.NewRecorder()
		handler.ServeHTTP(profile, httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil))
		if profile.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for anonymous profile, got %d", profile.Code)
		}

		crossSite := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		crossSite.Header.Set("Sec-Fetch-Site", "cross-site")
		crossSite.Header.Set("Origin", "https://evil.example")
		rejected := httptest.NewRecorder()
		handler.ServeHTTP(rejected, crossSite)
		if rejected.Code != http.StatusForbidden {
			t.Fatalf("expected cross-site logout to be rejected, got %d", rejected.Code)
		}
	})
}

func TestRunServerListenFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	viper.Reset()
	defer viper.Reset()
	setRequiredConfig(t)
	viper.Set("session_backend", sessionBackendMemory)

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return errors.New("address in use")
	})
	defer restoreServe()

	settings, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, settings))
	if err := runServer(command, nil); err == nil || err.Error() != "listen error: address in use" {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

type stubBroker struct{}

func (stubBroker) StartAuthorization() (authkit.AuthorizationRequest, error) {
	return authkit.AuthorizationRequest{URL: "https://accounts.example.com/auth", State: "state", CodeVerifier: "verifier"}, nil
}

func (stubBroker) CompleteAuthorization(ctx context.Context, input authkit.CallbackInput) (authkit.ProviderProfile, error) {
	return authkit.ProviderProfile{}, errors.New("not used")
}

func withOAuthBrokerStub(stub func(configuration authkit.GoogleOAuthConfig) authkit.OAuthBroker) func() {
	previous := buildOAuthBroker
	buildOAuthBroker = stub
	return func() {
		buildOAuthBroker = previous
	}
}
