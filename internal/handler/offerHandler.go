package handler

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/gin-gonic/gin"
)

type OfferHandler struct {
	service *service.OfferService
}

func NewOfferHandler(service *service.OfferService) *OfferHandler {
	return &OfferHandler{service: service}
}

// Handles POST /api/properties/:id/offers
func (h *OfferHandler) Create(c *gin.Context) {
	var req struct {
		Amount  float64 `json:"amount" binding:"required"`
		Message string  `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}

	offer, err := h.service.Create(c.Request.Context(), c.Param("id"), c.GetString("user_id"), req.Amount, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, offer)
}

// Handles GET /api/properties/:id/offers
func (h *OfferHandler) ListForProperty(c *gin.Context) {
	offers, err := h.service.ListForProperty(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}

	c.JSON(http.StatusOK, gin.H{"items": offers})
}

// Handles GET /api/offers
func (h *OfferHandler) Mine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	offers, err := h.service.ListMine(c.Request.Context(), c.GetString("user_id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}

	c.JSON(http.StatusOK, gin.H{"items": offers})
}

// Handles GET /api/offers/:id
func (h *OfferHandler) Get(c *gin.Context) {
	offer, err := h.service.Get(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

// Handles PATCH /api/offers/:id/status
func (h *OfferHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	offer, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), c.GetString("user_id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}
