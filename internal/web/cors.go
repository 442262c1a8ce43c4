package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const corsPreflightMaxAge = 10 * time.Minute

var (
	errNoOrigins       = errors.New("cors.no_origins")
	errWildcardOrigin  = errors.New("cors.wildcard_origin")
	errMalformedOrigin = errors.New("cors.malformed_origin")
)

// ConfigureCORS lets the listed front-ends call the auth API with cookies attached.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := SanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           corsPreflightMaxAge,
	}), nil
}

// SanitizeOrigins returns the distinct scheme://host forms of allowed, sorted.
// Credentialed CORS forbids "*", so a wildcard is an error.
func SanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make([]string, 0, len(allowed))
	for _, candidate := range allowed {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		origin, hostname, err := normalizeOrigin(candidate)
		if err != nil {
			return nil, err
		}
		if slices.Contains(origins, origin) {
			continue
		}
		if strings.HasPrefix(origin, "http://") && !isDevelopmentHost(hostname) {
			logger.Warn("plain http origin allowed",
				zap.String("code", "cors.origin.insecure"),
				zap.String("origin", origin))
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errNoOrigins
	}
	slices.Sort(origins)
	return origins, nil
}

func normalizeOrigin(candidate string) (string, string, error) {
	if candidate == "*" {
		return "", "", errWildcardOrigin
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return "", "", fmt.Errorf("%w: %q", errMalformedOrigin, candidate)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return "", "", fmt.Errorf("%w: %q has scheme %q", errMalformedOrigin, candidate, parsed.Scheme)
	case strings.Trim(parsed.Path, "/") != "":
		return "", "", fmt.Errorf("%w: %q has a path", errMalformedOrigin, candidate)
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return "", "", fmt.Errorf("%w: %q has a query or fragment", errMalformedOrigin, candidate)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), parsed.Hostname(), nil
}

func isDevelopmentHost(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
