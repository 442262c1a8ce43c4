package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HandleHealth answers 200 when every named check passes and 503 otherwise.
func HandleHealth(logger *zap.Logger, checks map[string]HealthCheck) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		checkContext, cancel := context.WithTimeout(contextGin.Request.Context(), healthCheckTimeout)
		defer cancel()

		failures := make(map[string]string)
		for name, check := range checks {
			if err := check(checkContext); err != nil {
				logger.Warn("health check failed",
					zap.String("code", "health.check_failed"),
					zap.String("check", name),
					zap.Error(err))
				failures[name] = "unavailable"
			}
		}
		if len(failures) > 0 {
			contextGin.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": failures})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
