package payment

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// WebhookMetrics receives webhook event counts.
type WebhookMetrics interface {
	RecordWebhookEvent(source, eventType, status string)
}

// WebhookHandler receives payment provider webhook events. Polar is the
// current provider; the Stripe route remains for accounts created
// before the migration.
type WebhookHandler struct {
	service      *Service
	polarSecret  string
	stripeSecret string
	metrics      WebhookMetrics
	logger       *zap.Logger
}

// NewWebhookHandler creates a new payment webhook handler.
func NewWebhookHandler(service *Service, polarSecret, stripeSecret string, metrics WebhookMetrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:      service,
		polarSecret:  polarSecret,
		stripeSecret: stripeSecret,
		metrics:      metrics,
		logger:       logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/polar", h.HandlePolarWebhook)
	r.POST("/stripe", h.HandleStripeWebhook)
}

// HandlePolarWebhook handles incoming Polar webhook events.
func (h *WebhookHandler) HandlePolarWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	signature := c.GetHeader("polar-signature")
	if err := VerifyPolarSignature(payload, signature, h.polarSecret); err != nil {
		h.logger.Warn("invalid polar webhook signature",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err),
		)
		h.recordEvent("polar", "unknown", "rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	ctx := c.Request.Context()

	if envelope.ID != "" {
		exists, err := h.service.WebhookEventExists(ctx, envelope.ID)
		if err != nil {
			h.logger.Error("failed to check event existence", zap.Error(err))
			// Continue processing. Better to process twice than miss.
		}
		if exists {
			h.logger.Info("polar event already processed", zap.String("event_id", envelope.ID))
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
	}

	eventType, err := h.service.ProcessPolarEvent(ctx, payload)
	if err != nil {
		h.logger.Error("failed to process polar event",
			zap.String("event_id", envelope.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		h.recordEvent("polar", eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	if envelope.ID != "" {
		if err := h.service.RecordWebhookEvent(ctx, envelope.ID, "polar", eventType, string(payload)); err != nil {
			h.logger.Error("failed to store webhook event", zap.Error(err))
		}
	}

	h.recordEvent("polar", eventType, "processed")
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// HandleStripeWebhook handles incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		h.logger.Warn("invalid stripe webhook signature", zap.Error(err))
		h.recordEvent("stripe", "unknown", "rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	ctx := c.Request.Context()

	exists, err := h.service.WebhookEventExists(ctx, event.ID)
	if err != nil {
		h.logger.Error("failed to check event existence", zap.Error(err))
	}
	if exists {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
			return
		}

		email := session.CustomerEmail
		if email == "" && session.CustomerDetails != nil {
			email = session.CustomerDetails.Email
		}
		planType := session.Metadata["plan_type"]

		if err := h.service.ProcessStripeOrder(ctx, session.ID, email, planType, session.AmountTotal, string(session.Currency)); err != nil {
			h.logger.Error("failed to process stripe order",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
			h.recordEvent("stripe", string(event.Type), "error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
	default:
		h.logger.Info("ignoring unhandled stripe event", zap.String("type", string(event.Type)))
	}

	if err := h.service.RecordWebhookEvent(ctx, event.ID, "stripe", string(event.Type), string(payload)); err != nil {
		h.logger.Error("failed to store webhook event", zap.Error(err))
	}

	h.recordEvent("stripe", string(event.Type), "processed")
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *WebhookHandler) recordEvent(source, eventType, status string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(source, eventType, status)
	}
}
