package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

var errUnsupportedBody = errors.New("body must be JSON or a URL-encoded form")

// Maps service errors to HTTP responses. Unknown errors are logged and
// answered with a generic 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// Binds a JSON or URL-encoded form body. These are the encodings the rate
// limiter reads usernames and emails from, so nothing else is accepted.
func bindBody(c *gin.Context, obj any) error {
	switch strings.ToLower(c.ContentType()) {
	case binding.MIMEJSON:
		return c.ShouldBindJSON(obj)
	case binding.MIMEPOSTForm:
		return c.ShouldBindWith(obj, binding.FormPost)
	default:
		return errUnsupportedBody
	}
}
