package handler

import (
	"net/http"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/schema"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type listQuery struct {
	City     string   `schema:"city"`
	Type     string   `schema:"type"`
	MinPrice *float64 `schema:"min_price"`
	MaxPrice *float64 `schema:"max_price"`
	Limit    int      `schema:"limit"`
	Offset   int      `schema:"offset"`
}

type PropertyHandler struct {
	service *service.PropertyService
}

func NewPropertyHandler(service *service.PropertyService) *PropertyHandler {
	return &PropertyHandler{service: service}
}

// Handles GET /api/properties
func (h *PropertyHandler) List(c *gin.Context) {
	var q listQuery
	if err := queryDecoder.Decode(&q, c.Request.URL.Query()); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	filter := repository.PropertyFilter{
		City:     q.City,
		Type:     q.Type,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Limit:    service.PageSize(q.Limit),
		Offset:   max(q.Offset, 0),
	}

	items, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []models.Property{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Handles GET /api/properties/mine
func (h *PropertyHandler) Mine(c *gin.Context) {
	var q listQuery
	if err := queryDecoder.Decode(&q, c.Request.URL.Query()); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	items, err := h.service.ListMine(c.Request.Context(), c.GetString("user_id"), q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []models.Property{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Handles GET /api/properties/:id
func (h *PropertyHandler) Get(c *gin.Context) {
	property, err := h.service.Get(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, property)
}

// Handles POST /api/properties
func (h *PropertyHandler) Create(c *gin.Context) {
	var req service.PropertyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid property body")
		return
	}

	property, err := h.service.Create(c.Request.Context(), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, property)
}

// Handles PATCH /api/properties/:id
func (h *PropertyHandler) Update(c *gin.Context) {
	var req service.PropertyPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid property body")
		return
	}

	property, err := h.service.Update(c.Request.Context(), c.Param("id"), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, property)
}

// Handles DELETE /api/properties/:id
func (h *PropertyHandler) Delete(c *gin.Context) {
	isAdmin := c.GetString("role") == models.RoleAdmin
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), c.GetString("user_id"), isAdmin); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
