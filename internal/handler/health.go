package handler

import (
	"net/http"

	"github.com/aman-churiwal/property-listings/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	reporter *healthcheck.Reporter
}

func NewHealthHandler(reporter *healthcheck.Reporter) *HealthHandler {
	return &HealthHandler{reporter: reporter}
}

// Handles GET /health. Always reports every dependency; the status code
// follows the overall result.
func (h *HealthHandler) Check(c *gin.Context) {
	report, _ := h.reporter.Check(c.Request.Context())

	status := http.StatusOK
	if report.Status != healthcheck.Healthy {
		status = http.StatusServiceUnavailable
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(status, report)
}
