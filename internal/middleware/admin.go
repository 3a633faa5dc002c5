package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware guards operator endpoints (cache clears, stats) with a
// static API key. Separate from client JWT auth: operators are humans with a
// shared key, not integrations with issued tokens.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware creates the middleware, reading the key from the
// ADMIN_API_KEY environment variable. A development default applies when the
// variable is unset.
func NewAdminMiddleware() *AdminMiddleware {
	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" {
		apiKey = "admin-dev-key-change-in-production"
	}

	return &AdminMiddleware{
		apiKey: apiKey,
	}
}

// RequireAdminAuth validates the admin API key. The key is accepted as a
// Bearer token, an X-API-Key header, or an api_key query parameter.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && tokenParts[0] == "Bearer" && tokenParts[1] == am.apiKey {
				c.Next()
				return
			}
		}

		if c.GetHeader("X-API-Key") == am.apiKey {
			c.Next()
			return
		}

		if c.Query("api_key") == am.apiKey {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// ValidateAdminKey reports whether key matches the configured admin key.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	return key == am.apiKey
}
