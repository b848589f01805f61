package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/winegame-supervisor/internal/logging"
)

// Logger logs each request. Probe endpoints are only logged in debug mode
// since orchestrators poll them every few seconds.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		c.Writer.Header().Set("X-Response-Time", latency.String())

		if isProbe(path) && gin.Mode() != gin.DebugMode {
			return
		}
		logging.L().Info("http_request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// SecurityHeaders marks every response as non-cacheable JSON for machines.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func isProbe(path string) bool {
	return path == "/health" || path == "/metrics"
}
