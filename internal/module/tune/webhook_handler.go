package tune

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coolpix/server/internal/module/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookMetrics receives webhook event counts.
type WebhookMetrics interface {
	RecordWebhookEvent(source, eventType, status string)
}

// Notifier tells the user their headshots are ready.
type Notifier interface {
	SendHeadshotsReady(ctx context.Context, email, name string) error
}

// WebhookHandler receives training completion callbacks from the
// provider. The callback URL carries user_id and webhook_secret as
// query parameters; the body is an opaque provider payload recorded
// against the user.
type WebhookHandler struct {
	users    user.Repository
	secret   string
	notifier Notifier
	ingestor *HeadshotIngestor
	metrics  WebhookMetrics
	logger   *zap.Logger
}

// NewWebhookHandler creates a new training webhook handler. The
// notifier and ingestor are optional.
func NewWebhookHandler(users user.Repository, secret string, notifier Notifier, ingestor *HeadshotIngestor, metrics WebhookMetrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		users:    users,
		secret:   secret,
		notifier: notifier,
		ingestor: ingestor,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/training", h.HandleTrainingWebhook)
}

// HandleTrainingWebhook handles a training completion callback.
func (h *WebhookHandler) HandleTrainingWebhook(c *gin.Context) {
	secret := c.Query("webhook_secret")
	if !h.secretMatches(secret) {
		h.logger.Warn("training webhook with invalid secret",
			zap.String("remote_addr", c.ClientIP()),
		)
		h.recordEvent("rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	rawID := c.Query("user_id")
	if rawID == "" {
		h.recordEvent("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		h.recordEvent("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.recordEvent("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	entry := user.PromptHistoryEntry{
		Timestamp: time.Now(),
		Payload:   string(payload),
	}
	if err := h.users.CompleteTune(c.Request.Context(), userID, entry); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			h.recordEvent("unknown_user")
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("failed to record training completion",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		h.recordEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}

	if h.ingestor != nil {
		if stored := h.ingestor.Ingest(c.Request.Context(), userID.String(), payload); stored > 0 {
			h.logger.Info("headshots stored",
				zap.String("user_id", userID.String()),
				zap.Int("count", stored),
			)
		}
	}

	if h.notifier != nil {
		u, err := h.users.GetByID(c.Request.Context(), userID)
		if err == nil {
			if err := h.notifier.SendHeadshotsReady(c.Request.Context(), u.Email, u.Name); err != nil {
				// Email is best-effort; the state change is durable.
				h.logger.Warn("failed to send headshots ready email",
					zap.String("user_id", userID.String()),
					zap.Error(err),
				)
			}
		}
	}

	h.logger.Info("training completed", zap.String("user_id", userID.String()))
	h.recordEvent("processed")
	c.JSON(http.StatusOK, gin.H{"message": "webhook processed"})
}

// secretMatches compares the received secret case-insensitively in
// constant time.
func (h *WebhookHandler) secretMatches(got string) bool {
	if h.secret == "" || got == "" {
		return false
	}
	a := []byte(strings.ToLower(got))
	b := []byte(strings.ToLower(h.secret))
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func (h *WebhookHandler) recordEvent(status string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent("training", "tune.completed", status)
	}
}
