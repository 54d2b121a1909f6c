package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/utils"
)

// AuthMiddleware decodes a Bearer token into the request context. Requests without
// a token pass through anonymous; a bad token is rejected.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		claim, err := utils.JwtValidate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetSessionIdInContext(ctx, claim.Id)
		ctx = utils.SetUsernameInContext(ctx, claim.Username)
		ctx = utils.SetUserIdInContext(ctx, claim.UserId)
		ctx = utils.SetUserNameInContext(ctx, claim.Name)
		ctx = utils.SetUserRoleInContext(ctx, claim.Role)
		ctx = utils.SetUserPhoneInContext(ctx, claim.Phone)
		ctx = utils.SetUserEmailInContext(ctx, claim.Email)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActor rejects anonymous requests. With roles given, the actor must hold one of them.
func RequireActor(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		if userId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if len(roles) == 0 {
			c.Next()
			return
		}
		role, _ := utils.GetUserRoleFromContext(c.Request.Context())
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
