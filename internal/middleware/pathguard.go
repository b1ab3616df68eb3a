package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/sentinel"
	"github.com/gin-gonic/gin"
)

var (
	forbiddenBody = []byte("Forbidden")

	errInspectPanic = errors.New("path inspection panicked")
)

// Blocks requests whose decoded path matches a forbidden pattern. Anything
// that goes wrong while inspecting the path blocks the request too.
func PathSentinel(guard *sentinel.Sentinel, recorder *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := rawPath(c)

		verdict, err := inspect(guard, raw)
		if !verdict.Blocked {
			c.Next()
			return
		}

		logger := securityLogger()
		attrs := []any{
			"method", c.Request.Method,
			"raw_path", raw,
			"decoded_path", verdict.Decoded,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"request_id", c.GetString(ContextRequestID),
		}

		event := newSecurityEvent(c, models.EventBlockedPath)
		event.DecodedPath = verdict.Decoded
		event.Rule = verdict.Pattern

		switch {
		case errors.Is(err, errInspectPanic):
			event.Kind = models.EventGateFailure
			logger.Error("path inspection failed", append(attrs, "error", err)...)
		case errors.Is(err, sentinel.ErrMalformedPath):
			event.Rule = "malformed_encoding"
			logger.Warn("malformed path blocked", append(attrs, "error", err)...)
		default:
			logger.Warn("blocked path", append(attrs, "pattern", verdict.Pattern)...)
		}

		recorder.Record(event)
		forbid(c)
	}
}

// Runs the sentinel, turning a panic into a blocking verdict
func inspect(guard *sentinel.Sentinel, raw string) (verdict sentinel.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = sentinel.Verdict{Blocked: true}
			err = fmt.Errorf("%w: %v", errInspectPanic, r)
		}
	}()
	return guard.Inspect(raw)
}

// Writes the fixed 403 response. The body never echoes the request.
func forbid(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'")
	h.Set("Cache-Control", "no-store, max-age=0")
	c.Data(http.StatusForbidden, "text/plain", forbiddenBody)
	c.Abort()
}
