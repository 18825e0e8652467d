package payment

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses.
const (
	OrderStatusPaid     = "paid"
	OrderStatusRefunded = "refunded"
)

// Order types.
const (
	OrderTypeOneTime      = "one_time"
	OrderTypeSubscription = "subscription"
)

// Order records a completed purchase reported by the payment provider.
type Order struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID          uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null"`
	ProviderOrderID string    `json:"provider_order_id" gorm:"uniqueIndex;not null"`
	Source          string    `json:"source" gorm:"not null"` // polar, stripe
	Type            string    `json:"type" gorm:"default:'one_time'"`
	PlanType        string    `json:"plan_type" gorm:"column:plan_type"`
	Amount          int64     `json:"amount"` // smallest currency unit
	Currency        string    `json:"currency"`
	Status          string    `json:"status" gorm:"default:'paid'"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the database table name.
func (Order) TableName() string {
	return "orders"
}

// WebhookEvent stores a processed webhook event id for idempotency.
// Replayed deliveries are detected by the unique event id and skipped.
type WebhookEvent struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID    string    `json:"event_id" gorm:"uniqueIndex;not null"`
	Source     string    `json:"source" gorm:"not null"`
	Type       string    `json:"type" gorm:"not null"`
	Payload    string    `json:"-" gorm:"type:text"`
	ReceivedAt time.Time `json:"received_at" gorm:"column:received_at"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
