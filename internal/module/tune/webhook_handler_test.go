package tune

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/coolpix/server/internal/module/user"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newWebhookEngine(repo *memoryUserRepo, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewWebhookHandler(repo, secret, nil, nil, nil, zap.NewNop())
	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1/webhooks"))
	return engine
}

func postTrainingWebhook(engine *gin.Engine, query url.Values, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/webhooks/training?"+query.Encode(),
		bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_HandleTrainingWebhook(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		u := readyUser()
		repo := newMemoryUserRepo(u)
		engine := newWebhookEngine(repo, "shh")

		q := url.Values{"user_id": {u.ID.String()}, "webhook_secret": {"shh"}}
		w := postTrainingWebhook(engine, q, `{"id":1,"status":"finished"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "webhook processed")

		stored, err := repo.GetByID(context.Background(), u.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.TuneStatus)
		assert.Equal(t, user.TuneStatusCompleted, *stored.TuneStatus)
		assert.Equal(t, user.WorkStatusCompleted, stored.WorkStatus)
		require.Len(t, stored.PromptHistory, 1)
		assert.Contains(t, stored.PromptHistory[0].Payload, "finished")
		assert.False(t, stored.PromptHistory[0].Timestamp.IsZero())
	})

	t.Run("Secret is case-insensitive", func(t *testing.T) {
		u := readyUser()
		engine := newWebhookEngine(newMemoryUserRepo(u), "Secret-Value")

		q := url.Values{"user_id": {u.ID.String()}, "webhook_secret": {"sEcReT-vAlUe"}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		u := readyUser()
		engine := newWebhookEngine(newMemoryUserRepo(u), "shh")

		q := url.Values{"user_id": {u.ID.String()}, "webhook_secret": {"nope"}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Missing secret", func(t *testing.T) {
		u := readyUser()
		engine := newWebhookEngine(newMemoryUserRepo(u), "shh")

		q := url.Values{"user_id": {u.ID.String()}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Missing user_id", func(t *testing.T) {
		engine := newWebhookEngine(newMemoryUserRepo(), "shh")

		q := url.Values{"webhook_secret": {"shh"}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Malformed user_id", func(t *testing.T) {
		engine := newWebhookEngine(newMemoryUserRepo(), "shh")

		q := url.Values{"user_id": {"not-a-uuid"}, "webhook_secret": {"shh"}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown user", func(t *testing.T) {
		engine := newWebhookEngine(newMemoryUserRepo(), "shh")

		q := url.Values{"user_id": {readyUser().ID.String()}, "webhook_secret": {"shh"}}
		w := postTrainingWebhook(engine, q, `{}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
