package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/pkg/response"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{authService: services.NewAuthService(cfg)}
}

// Token exchanges a client name and key for a bearer token.
// POST /api/auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req services.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.IssueToken(&req)
	if errors.Is(err, services.ErrInvalidClient) {
		response.Unauthorized(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}
