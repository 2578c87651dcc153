package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request size limits, applied to every POST /system/* route since Tycho's
// entire surface is JSON bodies (§6 External Interfaces).
const (
	// MaxRequestBodySize is a generic body-size cap; the router does not
	// use it, the system routes are capped at MaxJSONPayloadSize.
	MaxRequestBodySize int64 = 10 * 1024 * 1024 // 10 MB

	// MaxJSONPayloadSize caps the compose/modify JSON bodies the system
	// routes accept; compose documents are text, not binary, so this is
	// tighter than the generic default.
	MaxJSONPayloadSize int64 = 5 * 1024 * 1024 // 5 MB
)

// RequestSizeLimiter rejects requests whose declared Content-Length exceeds
// maxSize, and wraps the body in a MaxBytesReader so a lying or absent
// Content-Length can't be used to smuggle an oversized payload past the
// check.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":       "request entity too large",
				"message":     "request body exceeds maximum allowed size",
				"max_size_mb": float64(maxSize) / (1024 * 1024),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// JSONSizeLimiter applies MaxJSONPayloadSize, the limit Tycho's system
// routes are wired with.
func JSONSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxJSONPayloadSize)
}
