// Package middleware provides gin middleware for request tracing and logging.
package middleware

import (
	"time"

	"pr-slack-tracker/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logging assigns a trace ID to each request and logs request completion.
// The trace ID is taken from the X-Trace-ID header when present so that
// upstream callers can correlate, otherwise a new one is generated.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)
		c.Request = c.Request.WithContext(log.WithTraceID(c.Request.Context(), traceID))

		startTime := time.Now()
		logger := log.WithContext(c.Request.Context())
		logger.Debug("Request started",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote_addr", c.ClientIP(),
		)

		c.Next()

		logger.Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(startTime).Seconds(),
		)
	}
}
