// Package middlewares holds the gin middlewares shared by all API routes.
package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// IdentityHeader carries the verified subject id set by the identity
	// layer in front of this service. The engine trusts it as-is and
	// never verifies credentials itself.
	IdentityHeader = "sub"

	userIdKey = "userId"
)

// Identity resolves the caller's user id from the verified identity header
// and aborts unauthenticated requests.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.GetHeader(IdentityHeader)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing identity",
			})
			return
		}
		userId, err := strconv.Atoi(sub)
		if err != nil || userId <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid identity",
			})
			return
		}
		c.Set(userIdKey, userId)
		c.Next()
	}
}

// UserId returns the authenticated user id set by Identity.
func UserId(c *gin.Context) int {
	return c.GetInt(userIdKey)
}
