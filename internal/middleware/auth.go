package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/huangang/trackersync/pkg/response"
)

const (
	ContextClientID   = "client_id"
	ContextClientName = "client" // also read by the request logger
	ContextRole       = "role"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// AuthRequired accepts "Authorization: Bearer <token>" issued by /api/auth/token.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextClientID, claims.ClientID)
		c.Set(ContextClientName, claims.ClientName)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RoleRequired lets through clients holding one of roles. Admin always passes.
func RoleRequired(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient role")
		c.Abort()
	}
}

func GetClientID(c *gin.Context) uint {
	return c.GetUint(ContextClientID)
}

func GetClientName(c *gin.Context) string {
	return c.GetString(ContextClientName)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}
