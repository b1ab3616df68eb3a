package middleware

import (
	"log/slog"
	"strings"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/gin-gonic/gin"
)

// Logger for admission decisions. Resolved per call so it follows slog.SetDefault.
func securityLogger() *slog.Logger {
	return slog.Default().WithGroup("security")
}

// Request path as the client sent it, still percent-encoded, without the query
func rawPath(c *gin.Context) string {
	uri := c.Request.RequestURI
	if uri == "" {
		return c.Request.URL.EscapedPath()
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// Text fields are cleaned and length-capped by the recorder
func newSecurityEvent(c *gin.Context, kind string) models.SecurityEvent {
	return models.SecurityEvent{
		Kind:      kind,
		Method:    c.Request.Method,
		Path:      rawPath(c),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString(ContextRequestID),
	}
}
