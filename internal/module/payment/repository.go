package payment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOrderNotFound indicates the referenced order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// Repository defines the interface for payment data access.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrderByProviderID(ctx context.Context, providerOrderID string) (*Order, error)

	// WebhookEventExists reports whether an event id was already
	// processed. Used for replay protection.
	WebhookEventExists(ctx context.Context, eventID string) (bool, error)
	CreateWebhookEvent(ctx context.Context, e *WebhookEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateOrder(ctx context.Context, o *Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *repository) GetOrderByProviderID(ctx context.Context, providerOrderID string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) WebhookEventExists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(e).Error
}
