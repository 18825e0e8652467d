package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(providers ...*fakeProvider) (*Handler, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	router, monitor := newTestRouter(RouterConfig{
		PrimaryProvider:  "fal",
		FallbackProvider: "leonardo",
		FallbackEnabled:  true,
	}, providers...)

	h := NewHandler(router, monitor, zap.NewNop())
	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1"))
	return h, engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandler_Generate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"}, &fakeProvider{name: "leonardo"})

		w := doJSON(t, engine, http.MethodPost, "/api/v1/generate", Request{Prompt: "headshot"})
		require.Equal(t, http.StatusOK, w.Code)

		var result Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "fal", result.Metadata.Provider)
		assert.NotEmpty(t, result.Images)
	})

	t.Run("Empty prompt", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodPost, "/api/v1/generate", Request{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("All providers failing", func(t *testing.T) {
		_, engine := newTestHandler(
			&fakeProvider{name: "fal", err: errors.New("down")},
			&fakeProvider{name: "leonardo", err: errors.New("down")},
		)

		w := doJSON(t, engine, http.MethodPost, "/api/v1/generate", Request{Prompt: "headshot"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "PROVIDER_ERROR")
	})
}

func TestHandler_ProvidersHealth(t *testing.T) {
	t.Run("System view", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"}, &fakeProvider{name: "leonardo"})

		w := doJSON(t, engine, http.MethodGet, "/api/v1/ai/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var sys SystemHealth
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sys))
		assert.Equal(t, SystemHealthy, sys.Status)
		assert.Len(t, sys.Providers, 2)
	})

	t.Run("Single provider view", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodGet, "/api/v1/ai/health?provider=fal", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var health ProviderHealth
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
		assert.Equal(t, "fal", health.Provider)
	})

	t.Run("Unknown provider", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodGet, "/api/v1/ai/health?provider=nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_HealthAction(t *testing.T) {
	t.Run("Force check", func(t *testing.T) {
		h, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodPost, "/api/v1/ai/health",
			healthActionRequest{Action: "force-check", Provider: "fal"})
		require.Equal(t, http.StatusOK, w.Code)

		health, err := h.monitor.ProviderHealth("fal")
		require.NoError(t, err)
		assert.Equal(t, 1, health.SampleCount)
	})

	t.Run("Reset metrics", func(t *testing.T) {
		h, engine := newTestHandler(&fakeProvider{name: "fal"})
		h.monitor.RecordOutcome("fal", false, 0)
		h.monitor.RecordOutcome("fal", false, 0)
		h.monitor.RecordOutcome("fal", false, 0)
		require.Equal(t, StatusOffline, h.monitor.Status("fal"))

		w := doJSON(t, engine, http.MethodPost, "/api/v1/ai/health",
			healthActionRequest{Action: "reset-metrics"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, StatusOnline, h.monitor.Status("fal"))
	})

	t.Run("Monitoring lifecycle", func(t *testing.T) {
		h, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodPost, "/api/v1/ai/health",
			healthActionRequest{Action: "start-monitoring"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, h.monitor.Monitoring())

		w = doJSON(t, engine, http.MethodPost, "/api/v1/ai/health",
			healthActionRequest{Action: "stop-monitoring"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, h.monitor.Monitoring())
	})

	t.Run("Unknown action", func(t *testing.T) {
		_, engine := newTestHandler(&fakeProvider{name: "fal"})

		w := doJSON(t, engine, http.MethodPost, "/api/v1/ai/health",
			healthActionRequest{Action: "reboot"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
