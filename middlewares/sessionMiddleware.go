package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
)

// SessionMiddleware rejects tokens whose session was revoked by logout.
// Runs after AuthMiddleware; without redis every signed token is accepted.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, _ := utils.GetSessionIdFromContext(c.Request.Context())
		if sessionId == "" || config.GetRedisDB() == nil {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + sessionId)
		if err != nil {
			config.LogWarn(config.GetLogger(), "middlewares", "SessionMiddleware", "session lookup", sessionId, err)
			c.Next()
			return
		}
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), username))
		c.Next()
	}
}
