// Package middleware provides HTTP middleware for the Tycho API surface.
// This file implements structured request logging.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stevencox/tycho/internal/logger"
)

// StructuredLoggerConfig allows customization of structured logging.
type StructuredLoggerConfig struct {
	// SkipPaths is a list of paths to skip logging (e.g. health checks).
	SkipPaths []string

	// SkipHealthCheck if true, skips logging for /health.
	SkipHealthCheck bool

	// LogQuery if false, skips logging query parameters.
	LogQuery bool
}

// DefaultStructuredLoggerConfig returns default configuration.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipHealthCheck: true,
		LogQuery:        true,
	}
}

// StructuredLoggerWithConfigFunc creates a structured logger with custom config.
func StructuredLoggerWithConfigFunc(config StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skip[path] = true
	}
	if config.SkipHealthCheck {
		skip["/health"] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		evt := logger.HTTP().Info()
		if status >= 500 {
			evt = logger.HTTP().Error()
		} else if status >= 400 {
			evt = logger.HTTP().Warn()
		}

		evt = evt.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())

		if config.LogQuery && raw != "" {
			evt = evt.Str("query", raw)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		evt.Msg("request")
	}
}
