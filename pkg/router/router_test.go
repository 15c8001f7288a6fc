package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/di"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T, schema string) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Env = "test"
	cfg.Server.Version = "test-version"
	cfg.Feed.Driver = "memory"
	cfg.Feed.BufferSize = 16
	cfg.Inference.BaseURL = "http://inference.test/api"
	cfg.Chat.RecentLimit = 100
	cfg.Security.RateLimit = 100
	cfg.Security.RateLimitBurst = 100
	cfg.Security.AllowedOrigins = []string{"http://chat.test"}
	cfg.Observability.OpenAPISchema = schema

	container, err := di.New(db, cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	_, metrics, err := observability.SetupMetrics("router-test", prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := New(container, metrics)
	r.SetupRoutes(ctx)
	container.Health.RunChecks(ctx)
	return r
}

func do(r *Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Origin", "http://chat.test")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthRoutes(t *testing.T) {
	r := newTestRouter(t, "")

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := do(r, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "test-version", body["version"])
	}
}

func TestMessageRoutes(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/api/v1/messages", `{"text":"hello","source":"customer"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/v1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(r, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assistant/bruvi")
	assert.NotContains(t, w.Body.String(), "assistant/openai")
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodOptions, "/api/v1/messages", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://chat.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(t, "")

	do(r, http.MethodPost, "/api/v1/messages", `{"text":"count me","source":"customer"}`)

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_messages_inserted")
}

func TestOpenAPIValidation(t *testing.T) {
	r := newTestRouter(t, "../../docs/openapi.yaml")

	w := do(r, http.MethodPost, "/api/v1/messages", `{"text":"hi","source":"robot"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_REQUEST")

	w = do(r, http.MethodGet, "/api/docs/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Realtime Chat API")
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
