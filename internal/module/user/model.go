package user

import (
	"time"

	"github.com/google/uuid"
)

// WorkStatus tracks where a user is in the headshot pipeline.
type WorkStatus string

const (
	WorkStatusNone      WorkStatus = ""
	WorkStatusOngoing   WorkStatus = "ongoing"
	WorkStatusCompleted WorkStatus = "completed"
)

// TuneStatus values. Stored as a nullable column: NULL means no training
// has been claimed yet, which is what the claim guard's conditional
// update keys on.
const (
	TuneStatusOngoing   = "ongoing"
	TuneStatusCompleted = "completed"
)

// User represents a registered user with headshot workflow state.
type User struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email string    `json:"email" gorm:"uniqueIndex;not null"`
	Name  string    `json:"name" gorm:"not null"`

	// Billing
	Paid     bool   `json:"paid" gorm:"default:false"`
	PlanType string `json:"plan_type,omitempty" gorm:"column:plan_type"`

	// Workflow state. APIStatus holds the opaque training-provider
	// response; its presence is the durable proof that the one-shot
	// training call was issued for this user.
	WorkStatus     WorkStatus `json:"work_status" gorm:"column:work_status;default:''"`
	TuneStatus     *string    `json:"tune_status,omitempty" gorm:"column:tune_status"`
	APIStatus      *string    `json:"-" gorm:"column:api_status"`
	SubmissionDate *time.Time `json:"submission_date,omitempty" gorm:"column:submission_date"`

	// Profile attributes required before training may start
	Age       string `json:"age,omitempty"`
	BodyType  string `json:"body_type,omitempty" gorm:"column:body_type"`
	Height    string `json:"height,omitempty"`
	Ethnicity string `json:"ethnicity,omitempty"`
	Gender    string `json:"gender,omitempty"`
	EyeColor  string `json:"eye_color,omitempty" gorm:"column:eye_color"`

	// Uploaded selfie URLs and selected styles
	Photos []string `json:"photos,omitempty" gorm:"serializer:json"`
	Styles []Style  `json:"styles,omitempty" gorm:"serializer:json"`

	// History of provider callbacks, appended by the training webhook
	PromptHistory []PromptHistoryEntry `json:"-" gorm:"column:prompt_history;serializer:json"`

	CreatedAt time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"column:updated_at"`
	DeletedAt *time.Time `json:"-" gorm:"column:deleted_at;index"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "users"
}

// Style is a headshot style selection (background + clothing).
type Style struct {
	Name       string `json:"name"`
	Background string `json:"background,omitempty"`
	Clothing   string `json:"clothing,omitempty"`
}

// PromptHistoryEntry records one provider callback against the user.
type PromptHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload"`
}

// HasClaimedTune reports whether a training claim is held or finished.
func (u *User) HasClaimedTune() bool {
	return u.TuneStatus != nil && *u.TuneStatus != ""
}

// APICallIssued reports whether the paid training call was ever made.
func (u *User) APICallIssued() bool {
	return u.APIStatus != nil && *u.APIStatus != ""
}

// MissingProfileFields returns the names of required profile fields that
// are empty. All must be present before the training call is allowed.
func (u *User) MissingProfileFields() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"name", u.Name},
		{"age", u.Age},
		{"bodyType", u.BodyType},
		{"height", u.Height},
		{"ethnicity", u.Ethnicity},
		{"gender", u.Gender},
		{"eyeColor", u.EyeColor},
	}
	for _, f := range required {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
