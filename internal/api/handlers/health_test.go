package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(nil, nil, "test")
	router := gin.New()
	router.GET("/health", handler.Health)
	router.GET("/live", handler.Liveness)
	return router
}

func TestHealth_UnhealthyWithoutDatabase(t *testing.T) {
	router := newHealthRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Contains(t, resp.Services["database"], "unhealthy")
	assert.NotEmpty(t, resp.Uptime)
}

func TestLiveness_AlwaysAlive(t *testing.T) {
	router := newHealthRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}
