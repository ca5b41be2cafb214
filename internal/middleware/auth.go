package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const userContextKey = "currentUser"

type AuthMiddleware struct {
	log  *logger.Logger
	auth services.AuthService
}

func NewAuthMiddleware(auth services.AuthService, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), auth: auth}
}

// RequireAuth accepts either a Bearer JWT or an X-API-Key header.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" {
			user, err := m.auth.AuthenticateAPIKey(c.Request.Context(), key)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_invalid", "message": "invalid API key"}})
				return
			}
			c.Set(userContextKey, user)
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_invalid", "message": "missing credentials"}})
			return
		}
		user, err := m.auth.ParseToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_invalid", "message": "invalid or expired token"}})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

// CurrentUser returns the authenticated user set by RequireAuth.
func CurrentUser(c *gin.Context) *types.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*types.User)
	return user
}
