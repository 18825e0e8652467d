package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coolpix/server/internal/module/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// polarEvent is the envelope of a Polar webhook event.
type polarEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data polarEventData `json:"data"`
}

type polarEventData struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Product struct {
		Name string `json:"name"`
	} `json:"product"`
	Metadata map[string]string `json:"metadata"`
}

// Notifier sends transactional email after a successful purchase.
type Notifier interface {
	SendPurchaseConfirmation(ctx context.Context, email, name, planType string) error
}

// Service folds payment provider events into order and user state.
type Service struct {
	orders   Repository
	users    user.Repository
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a new payment service.
func NewService(orders Repository, users user.Repository, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// WebhookEventExists reports whether an event was already processed.
func (s *Service) WebhookEventExists(ctx context.Context, eventID string) (bool, error) {
	return s.orders.WebhookEventExists(ctx, eventID)
}

// RecordWebhookEvent stores a processed event id for replay protection.
func (s *Service) RecordWebhookEvent(ctx context.Context, eventID, source, eventType, payload string) error {
	return s.orders.CreateWebhookEvent(ctx, &WebhookEvent{
		EventID: eventID,
		Source:  source,
		Type:    eventType,
		Payload: payload,
	})
}

// ProcessPolarEvent dispatches one verified Polar event. Unknown event
// types are logged and ignored, never failed: Polar retries on non-2xx
// and a retry storm for an event we will never handle helps nobody.
func (s *Service) ProcessPolarEvent(ctx context.Context, payload []byte) (string, error) {
	var event polarEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("parse polar event: %w", err)
	}

	switch {
	case event.Type == "order.created":
		return event.Type, s.handleOrderCreated(ctx, &event)
	case event.Type == "subscription.created", event.Type == "subscription.updated":
		return event.Type, s.handleSubscriptionChange(ctx, &event)
	case strings.HasPrefix(event.Type, "checkout."):
		s.logger.Info("polar checkout event received", zap.String("type", event.Type))
		return event.Type, nil
	default:
		s.logger.Info("ignoring unhandled polar event", zap.String("type", event.Type))
		return event.Type, nil
	}
}

func (s *Service) handleOrderCreated(ctx context.Context, event *polarEvent) error {
	u, err := s.resolveUser(ctx, &event.Data)
	if err != nil {
		return err
	}

	planType := event.Data.Metadata["plan_type"]
	if planType == "" {
		planType = event.Data.Product.Name
	}

	order := &Order{
		UserID:          u.ID,
		ProviderOrderID: event.Data.ID,
		Source:          "polar",
		Type:            OrderTypeOneTime,
		PlanType:        planType,
		Amount:          event.Data.Amount,
		Currency:        event.Data.Currency,
		Status:          OrderStatusPaid,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	if err := s.users.SetPlan(ctx, u.ID, planType); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendPurchaseConfirmation(ctx, u.Email, u.Name, planType); err != nil {
			// Email is best-effort; the order is already durable.
			s.logger.Warn("failed to send purchase confirmation",
				zap.String("user_id", u.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("order processed",
		zap.String("user_id", u.ID.String()),
		zap.String("order_id", event.Data.ID),
		zap.String("plan_type", planType),
	)
	return nil
}

func (s *Service) handleSubscriptionChange(ctx context.Context, event *polarEvent) error {
	u, err := s.resolveUser(ctx, &event.Data)
	if err != nil {
		return err
	}

	planType := event.Data.Metadata["plan_type"]
	if planType == "" {
		planType = event.Data.Product.Name
	}
	if err := s.users.SetPlan(ctx, u.ID, planType); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}

	s.logger.Info("subscription updated",
		zap.String("user_id", u.ID.String()),
		zap.String("plan_type", planType),
	)
	return nil
}

// resolveUser finds the paying user via the metadata user_id, falling
// back to the customer email.
func (s *Service) resolveUser(ctx context.Context, data *polarEventData) (*user.User, error) {
	if raw := data.Metadata["user_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			if u, err := s.users.GetByID(ctx, id); err == nil {
				return u, nil
			}
		}
	}
	if data.Customer.Email != "" {
		return s.users.GetByEmail(ctx, data.Customer.Email)
	}
	return nil, user.ErrUserNotFound
}

// ProcessStripeOrder applies a legacy Stripe checkout completion.
func (s *Service) ProcessStripeOrder(ctx context.Context, sessionID, customerEmail, planType string, amount int64, currency string) error {
	u, err := s.users.GetByEmail(ctx, customerEmail)
	if err != nil {
		return err
	}

	order := &Order{
		UserID:          u.ID,
		ProviderOrderID: sessionID,
		Source:          "stripe",
		Type:            OrderTypeOneTime,
		PlanType:        planType,
		Amount:          amount,
		Currency:        currency,
		Status:          OrderStatusPaid,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return s.users.SetPlan(ctx, u.ID, planType)
}
