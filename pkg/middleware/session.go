package middleware

import (
	"github.com/gin-gonic/gin"
)

const userIDKey = "session_user_id"

// Session resolves the authenticated user from the upstream auth proxy.
// Session issuance itself lives outside this service; the proxy forwards
// the verified identity in X-User-ID.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// SessionUserID returns the authenticated user id, or "" when the request
// carries no identity.
func SessionUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
