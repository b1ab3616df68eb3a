package handler

import (
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username" binding:"required"`
		Email    string `json:"email" form:"email" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}

	if err := bindBody(c, &req); err != nil {
		badRequest(c, "username, email and password are required")
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}

	if err := bindBody(c, &req); err != nil {
		badRequest(c, "username and password are required")
		return
	}

	token, user, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// Handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.service.GetUserByID(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// Handles POST /api/auth/password-reset. The answer is the same whether or
// not the email belongs to an account, and failures are only logged so they
// do not reveal it either.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" form:"email" binding:"required"`
	}

	if err := bindBody(c, &req); err != nil {
		badRequest(c, "email is required")
		return
	}

	if _, err := h.service.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		slog.Error("password reset request failed",
			"request_id", c.GetString("request_id"),
			"error", err,
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset email sent"})
}

// Handles POST /api/auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req struct {
		Token    string `json:"token" form:"token" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}

	if err := bindBody(c, &req); err != nil {
		badRequest(c, "token and password are required")
		return
	}

	if err := h.service.ConfirmPasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}
