package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newAdminRouter(t *testing.T, key string) *gin.Engine {
	t.Helper()
	t.Setenv("ADMIN_API_KEY", key)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewAdminMiddleware().RequireAdminAuth())
	router.POST("/admin/cache/clear", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func TestAdminAuth_AcceptedCredentials(t *testing.T) {
	router := newAdminRouter(t, "test-admin-key")

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/cache/clear", nil)
		req.Header.Set("Authorization", "Bearer test-admin-key")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("x-api-key header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/cache/clear", nil)
		req.Header.Set("X-API-Key", "test-admin-key")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/cache/clear?api_key=test-admin-key", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdminAuth_RejectedCredentials(t *testing.T) {
	router := newAdminRouter(t, "test-admin-key")

	cases := []struct {
		name    string
		prepare func(*http.Request)
	}{
		{"missing key", func(*http.Request) {}},
		{"wrong bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{"missing bearer prefix", func(r *http.Request) { r.Header.Set("Authorization", "test-admin-key") }},
		{"basic auth scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic test-admin-key") }},
		{"wrong x-api-key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/admin/cache/clear", nil)
			tc.prepare(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "Unauthorized")
		})
	}
}

func TestAdminMiddleware_Defaults(t *testing.T) {
	t.Setenv("ADMIN_API_KEY", "")

	am := NewAdminMiddleware()
	assert.True(t, am.ValidateAdminKey("admin-dev-key-change-in-production"))
	assert.False(t, am.ValidateAdminKey("nope"))
	assert.False(t, am.ValidateAdminKey(""))
}
