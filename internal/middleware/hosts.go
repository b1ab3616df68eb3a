package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Rejects requests whose Host header is not in hosts. An entry starting with
// "." also matches every subdomain, "*" matches anything. An empty list
// disables the check.
func AllowedHosts(hosts []string) gin.HandlerFunc {
	patterns := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			patterns = append(patterns, h)
		}
	}

	return func(c *gin.Context) {
		if len(patterns) == 0 || hostAllowed(patterns, requestHost(c.Request)) {
			c.Next()
			return
		}

		slog.Warn("invalid host header",
			"host", c.Request.Host,
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(ContextRequestID),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid Host header",
		})
		c.Abort()
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func hostAllowed(patterns []string, host string) bool {
	if host == "" {
		return false
	}
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		case host == p:
			return true
		}
	}
	return false
}
