package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/authd/internal/authkit"
	"github.com/tyemirov/authd/internal/authkitpg"
	"github.com/tyemirov/authd/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildOAuthBroker = func(configuration authkit.GoogleOAuthConfig) authkit.OAuthBroker {
	return authkit.NewGoogleOAuthBroker(configuration)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

const (
	sessionBackendDatabase = "database"
	sessionBackendMemory   = "memory"
	sessionBackendRedis    = "redis"
	sessionBackendPostgres = "postgres"

	redisKeyPrefix = "authd:"
)

var configFlagNames = []string{
	"listen_addr",
	"database_url",
	"session_backend",
	"redis_url",
	"cookie_domain",
	"session_ttl",
	"oauth_state_ttl",
	"session_janitor_interval",
	"dev_insecure_http",
	"cors_allowed_origins",
	"frontend_url",
	"google_client_id",
	"google_client_secret",
	"google_redirect_url",
	"provider_timeout",
	"require_verified_email",
	"argon2_memory_kib",
	"argon2_time",
	"argon2_threads",
	"env_file",
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authd",
		Short:   "Auth service with email/password accounts, Google OAuth, and server-side sessions",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":5000", "HTTP listen address")
	rootCmd.Flags().String("database_url", "sqlite://file::memory:?cache=shared", "Database URL for users and accounts (postgres:// or sqlite://)")
	rootCmd.Flags().String("session_backend", sessionBackendDatabase, "Session store: database, memory, redis, or postgres")
	rootCmd.Flags().String("redis_url", "", "Redis URL when session_backend is redis")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("session_ttl", authkit.DefaultSessionTTL, "Session lifetime")
	rootCmd.Flags().Duration("oauth_state_ttl", authkit.DefaultOAuthStateTTL, "Lifetime of the OAuth state and verifier cookies")
	rootCmd.Flags().Duration("session_janitor_interval", time.Hour, "How often expired sessions are purged")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP cookies for local dev")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{"http://localhost:3000"}, "Origins allowed to make credentialed requests")
	rootCmd.Flags().String("frontend_url", "http://localhost:3000/", "Where the OAuth callback redirects after login")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("google_redirect_url", "http://localhost:5000/api/auth/callback/google", "Registered Google OAuth redirect URL")
	rootCmd.Flags().Duration("provider_timeout", authkit.DefaultProviderTimeout, "Timeout for each call to Google")
	rootCmd.Flags().Bool("require_verified_email", true, "Reject Google identities whose email is not verified")
	rootCmd.Flags().Uint32("argon2_memory_kib", authkit.DefaultArgon2Params.MemoryKiB, "Argon2id memory cost in KiB")
	rootCmd.Flags().Uint32("argon2_time", authkit.DefaultArgon2Params.Time, "Argon2id iterations")
	rootCmd.Flags().Uint("argon2_threads", uint(authkit.DefaultArgon2Params.Threads), "Argon2id parallelism")
	rootCmd.Flags().String("env_file", "", "Optional .env file loaded before reading APP_* variables")

	for _, flagName := range configFlagNames {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeEnvFile                 = "config.env_file"
	configCodeMissingGoogleClientID   = "config.missing_google_client_id"
	configCodeMissingGoogleSecret     = "config.missing_google_client_secret"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidOAuthStateTTL    = "config.invalid_oauth_state_ttl"
	configCodeInvalidSessionBackend   = "config.invalid_session_backend"
	configCodeMissingRedisURL         = "config.missing_redis_url"
	configCodeInvalidPostgresURL      = "config.invalid_postgres_url"
	configCodeInvalidFrontendURL      = "config.invalid_frontend_url"
	configCodeInvalidArgon2Threads    = "config.invalid_argon2_threads"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

// ServerSettings is everything the process needs to start.
type ServerSettings struct {
	ListenAddr             string
	DatabaseURL            string
	SessionBackend         string
	RedisURL               string
	CORSAllowedOrigins     []string
	SessionJanitorInterval time.Duration
	Auth                   authkit.ServerConfig
	Google                 authkit.GoogleOAuthConfig
	Argon2                 authkit.Argon2Params
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if envFile := strings.TrimSpace(viper.GetString("env_file")); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return configError(configCodeEnvFile, fmt.Sprintf("cannot load %s: %v", envFile, err))
		}
	}
	serverSettings, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverSettings))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates settings from viper.
func LoadServerConfig() (ServerSettings, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return ServerSettings{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return ServerSettings{}, configError(configCodeMissingGoogleSecret, "google_client_secret must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return ServerSettings{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}
	oauthStateTTL := authkit.DefaultOAuthStateTTL
	if viper.IsSet("oauth_state_ttl") {
		oauthStateTTL = viper.GetDuration("oauth_state_ttl")
		if oauthStateTTL <= 0 {
			return ServerSettings{}, configError(configCodeInvalidOAuthStateTTL, "oauth_state_ttl must be greater than zero")
		}
	}

	databaseURL := viper.GetString("database_url")
	sessionBackend := strings.ToLower(strings.TrimSpace(viper.GetString("session_backend")))
	if sessionBackend == "" {
		sessionBackend = sessionBackendDatabase
	}
	redisURL := viper.GetString("redis_url")
	switch sessionBackend {
	case sessionBackendDatabase, sessionBackendMemory:
	case sessionBackendRedis:
		if strings.TrimSpace(redisURL) == "" {
			return ServerSettings{}, configError(configCodeMissingRedisURL, "redis_url must be provided when session_backend is redis")
		}
	case sessionBackendPostgres:
		if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
			return ServerSettings{}, configError(configCodeInvalidPostgresURL, "database_url must be a postgres URL when session_backend is postgres")
		}
	default:
		return ServerSettings{}, configError(configCodeInvalidSessionBackend, fmt.Sprintf("session_backend %q is not one of database, memory, redis, postgres", sessionBackend))
	}

	frontendURL := viper.GetString("frontend_url")
	if frontendURL != "" {
		parsedFrontend, parseErr := url.Parse(frontendURL)
		if parseErr != nil || parsedFrontend.Scheme == "" || parsedFrontend.Host == "" {
			return ServerSettings{}, configError(configCodeInvalidFrontendURL, "frontend_url must be an absolute URL")
		}
	}

	argon2Threads := viper.GetUint("argon2_threads")
	if argon2Threads > 255 {
		return ServerSettings{}, configError(configCodeInvalidArgon2Threads, "argon2_threads must be at most 255")
	}

	providerTimeout := viper.GetDuration("provider_timeout")
	requireVerifiedEmail := true
	if viper.IsSet("require_verified_email") {
		requireVerifiedEmail = viper.GetBool("require_verified_email")
	}

	return ServerSettings{
		ListenAddr:             viper.GetString("listen_addr"),
		DatabaseURL:            databaseURL,
		SessionBackend:         sessionBackend,
		RedisURL:               redisURL,
		CORSAllowedOrigins:     viper.GetStringSlice("cors_allowed_origins"),
		SessionJanitorInterval: viper.GetDuration("session_janitor_interval"),
		Auth: authkit.ServerConfig{
			CookieDomain:         viper.GetString("cookie_domain"),
			SessionTTL:           sessionTTL,
			OAuthStateTTL:        oauthStateTTL,
			ProviderTimeout:      providerTimeout,
			FrontendURL:          frontendURL,
			SameSiteMode:         http.SameSiteLaxMode,
			AllowInsecureHTTP:    viper.GetBool("dev_insecure_http"),
			RequireVerifiedEmail: requireVerifiedEmail,
		}.WithDefaults(),
		Google: authkit.GoogleOAuthConfig{
			ClientID:     googleClientID,
			ClientSecret: googleClientSecret,
			RedirectURL:  viper.GetString("google_redirect_url"),
			Timeout:      providerTimeout,
		},
		Argon2: authkit.Argon2Params{
			MemoryKiB: viper.GetUint32("argon2_memory_kib"),
			Time:      viper.GetUint32("argon2_time"),
			Threads:   uint8(argon2Threads),
		},
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	settings, ok := contextValue.(ServerSettings)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	serviceContext, cancelService := context.WithCancel(commandContext)
	defer cancelService()

	database, databaseErr := authkit.OpenDatabase(serviceContext, settings.DatabaseURL)
	if databaseErr != nil {
		return databaseErr
	}
	sqlDB, handleErr := database.DB.DB()
	if handleErr != nil {
		return fmt.Errorf("database.handle: %w", handleErr)
	}
	defer func() { _ = sqlDB.Close() }()

	credentialStore, credentialErr := authkit.NewDatabaseCredentialStore(serviceContext, database)
	if credentialErr != nil {
		return credentialErr
	}

	sessionStore, closeSessionStore, sessionErr := buildSessionStore(serviceContext, settings, database)
	if sessionErr != nil {
		return sessionErr
	}
	defer closeSessionStore()
	logger.Info("session store ready",
		zap.String("backend", settings.SessionBackend),
		zap.String("database_driver", database.Driver))

	if purger, purges := sessionStore.(authkit.ExpiredSessionPurger); purges && settings.SessionJanitorInterval > 0 {
		go authkit.RunSessionJanitor(serviceContext, purger, settings.SessionJanitorInterval, nil, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsRecorder, metricsErr := authkit.NewPrometheusMetrics(registry)
	if metricsErr != nil {
		return fmt.Errorf("metrics.register: %w", metricsErr)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	var trustedOrigins []string
	if len(settings.CORSAllowedOrigins) > 0 {
		sanitizedOrigins, sanitizeErr := web.SanitizeOrigins(logger, settings.CORSAllowedOrigins)
		if sanitizeErr != nil {
			return sanitizeErr
		}
		corsMiddleware, corsErr := web.ConfigureCORS(logger, sanitizedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
		trustedOrigins = sanitizedOrigins
	}
	crossOriginGuard, guardErr := web.CrossOriginGuard(logger, trustedOrigins)
	if guardErr != nil {
		return guardErr
	}
	router.Use(crossOriginGuard)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/api/healthz", web.HandleHealth(logger, map[string]web.HealthCheck{
		"database": sqlDB.PingContext,
	}))

	authkit.MountAuthRoutes(router.Group("/api/auth"), authkit.Services{
		Config:   settings.Auth,
		Users:    credentialStore,
		Sessions: authkit.NewSessionManager(settings.Auth, sessionStore, credentialStore, authkit.NewSystemClock()),
		Hasher:   authkit.NewArgon2Hasher(settings.Argon2),
		OAuth:    buildOAuthBroker(settings.Google),
		Metrics:  metricsRecorder,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-serviceContext.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", settings.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildSessionStore(ctx context.Context, settings ServerSettings, database *authkit.Database) (authkit.SessionStore, func(), error) {
	switch settings.SessionBackend {
	case sessionBackendMemory:
		return authkit.NewMemorySessionStore(), func() {}, nil
	case sessionBackendRedis:
		redisStore, err := authkit.NewRedisSessionStore(ctx, settings.RedisURL, redisKeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return redisStore, func() { _ = redisStore.Close() }, nil
	case sessionBackendPostgres:
		pool, err := authkitpg.BuildPool(ctx, settings.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, schemaErr
		}
		return authkitpg.NewPostgresSessionStore(pool), pool.Close, nil
	default:
		databaseStore, err := authkit.NewDatabaseSessionStore(ctx, database)
		if err != nil {
			return nil, nil, err
		}
		return databaseStore, func() {}, nil
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
