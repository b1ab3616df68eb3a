package handler

import (
	"net/http"
	"sort"

	"github.com/aman-churiwal/property-listings/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
)

// Handles system-related endpoints
type SystemHandler struct {
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewSystemHandler(breakers map[string]*circuitbreaker.CircuitBreaker) *SystemHandler {
	return &SystemHandler{
		breakers: breakers,
	}
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	names := make([]string, 0, len(h.breakers))
	for name := range h.breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]circuitbreaker.Metrics, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, h.breakers[name].Metrics())
	}

	c.JSON(http.StatusOK, gin.H{"breakers": statuses})
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	breaker, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Circuit breaker not found",
		})
		return
	}

	breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    name,
		"state":   breaker.State().String(),
	})
}
