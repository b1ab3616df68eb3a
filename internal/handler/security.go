package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/gin-gonic/gin"
)

type SecurityHandler struct {
	service  *service.SecurityService
	recorder *audit.Recorder
}

func NewSecurityHandler(service *service.SecurityService, recorder *audit.Recorder) *SecurityHandler {
	return &SecurityHandler{service: service, recorder: recorder}
}

// Handles GET /admin/security-events/summary
func (h *SecurityHandler) GetSummary(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/security-events
func (h *SecurityHandler) GetEvents(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	// Parse pagination
	limit := service.DefaultPageSize
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = service.PageSize(l)
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	events, total, err := h.service.Events(c.Request.Context(), repository.SecurityEventFilter{
		Kind:   c.Query("kind"),
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Handles DELETE /admin/security-events?older_than=720h
func (h *SecurityHandler) Cleanup(c *gin.Context) {
	retention, err := time.ParseDuration(c.DefaultQuery("older_than", "720h"))
	if err != nil || retention <= 0 {
		badRequest(c, "older_than must be a positive duration")
		return
	}

	deleted, err := h.service.Cleanup(c.Request.Context(), retention)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Handles GET /admin/status
func (h *SecurityHandler) GetStatus(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":                  status.Uptime.Seconds(),
		"users":                   status.Users,
		"properties":              status.Properties,
		"offers":                  status.Offers,
		"security_events_dropped": h.recorder.Dropped(),
		"timestamp":               time.Now().Unix(),
	})
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsedFrom, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsedFrom
	}

	if toStr := c.Query("to"); toStr != "" {
		parsedTo, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsedTo
	}

	return from, to, nil
}

// Accepts RFC 3339 or a Unix timestamp
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if timestamp, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return time.Unix(timestamp, 0), nil
	}
	return time.Time{}, err
}
