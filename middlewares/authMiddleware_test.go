package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/middlewares"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.AuthMiddleware(), middlewares.SessionMiddleware())
	handlers := append(extra, func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		role, _ := utils.GetUserRoleFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": userId, "role": role})
	})
	r.GET("/me", handlers...)
	return r
}

func signedToken(t *testing.T, role string) (string, string) {
	t.Helper()
	token, sessionId, err := utils.JwtGenerate(utils.JwtCustomClaim{UserId: "u-1", Username: "aisha", Name: "Aisha", Role: role})
	require.NoError(t, err)
	return token, sessionId
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("JWT_SECRET", "middleware-secret")
	config.UseRedis(nil)
	token, _ := signedToken(t, "tenant")

	w := get(newRouter(), "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u-1","role":"tenant"}`, w.Body.String())

	w = get(newRouter(), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"","role":""}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(newRouter(), "Bearer not-a-token").Code)
	assert.Equal(t, http.StatusUnauthorized, get(newRouter(), "Basic "+token).Code)

	t.Setenv("JWT_SECRET", "rotated-secret")
	assert.Equal(t, http.StatusUnauthorized, get(newRouter(), "Bearer "+token).Code)
}

func TestRequireActor(t *testing.T) {
	t.Setenv("JWT_SECRET", "middleware-secret")
	config.UseRedis(nil)
	tenantToken, _ := signedToken(t, "tenant")
	staffToken, _ := signedToken(t, "accounting")

	r := newRouter(middlewares.RequireActor("accounting", "admin"))
	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusForbidden, get(r, "Bearer "+tenantToken).Code)
	assert.Equal(t, http.StatusOK, get(r, "Bearer "+staffToken).Code)

	anyone := newRouter(middlewares.RequireActor())
	assert.Equal(t, http.StatusOK, get(anyone, "Bearer "+tenantToken).Code)
}

func TestSessionMiddleware(t *testing.T) {
	t.Setenv("JWT_SECRET", "middleware-secret")
	mr := miniredis.RunT(t)
	config.UseRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { config.UseRedis(nil) })

	token, sessionId := signedToken(t, "owner")
	w := get(newRouter(), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "session expired")

	require.NoError(t, mr.Set("Token:"+sessionId, "aisha"))
	assert.Equal(t, http.StatusOK, get(newRouter(), "Bearer "+token).Code)

	mr.Del("Token:" + sessionId)
	assert.Equal(t, http.StatusUnauthorized, get(newRouter(), "Bearer "+token).Code)
}
