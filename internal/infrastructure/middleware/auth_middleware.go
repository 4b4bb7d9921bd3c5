package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"codecollab/internal/core/services"
)

// JoinAuthMiddleware validates a room join token and stores the admitted
// room and identity in the request context.
func JoinAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateJoinToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("room_id", claims.RoomID)
		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.Name)
		c.Next()
	}
}

// OptionalAuthMiddleware admits anonymous requests but attaches identity when
// a valid token is present.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := authService.ValidateJoinToken(parts[1]); err == nil {
				c.Set("room_id", claims.RoomID)
				c.Set("user_id", claims.UserID)
				c.Set("user_name", claims.Name)
			}
		}

		c.Next()
	}
}
