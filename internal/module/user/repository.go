package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUserNotFound indicates the referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// Repository defines the interface for user data access.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error

	// ClaimTune performs the atomic claim transition. It succeeds for
	// exactly one concurrent caller; all others observe claimed=false.
	ClaimTune(ctx context.Context, id uuid.UUID, at time.Time) (claimed bool, err error)

	// ReleaseTuneClaim resets tune_status and submission_date to NULL so
	// a later attempt can re-enter the guard without tripping the
	// resubmission window. Compensating action, only valid while
	// api_status is still unset.
	ReleaseTuneClaim(ctx context.Context, id uuid.UUID) error

	// SetAPIStatus persists the opaque provider response, marking the
	// one-shot call as issued.
	SetAPIStatus(ctx context.Context, id uuid.UUID, payload string) error

	// CompleteTune marks training finished and appends the provider
	// callback payload to the prompt history.
	CompleteTune(ctx context.Context, id uuid.UUID, entry PromptHistoryEntry) error

	// SetPlan records a successful payment.
	SetPlan(ctx context.Context, id uuid.UUID, planType string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new user repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("email = ? AND deleted_at IS NULL", email).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) Update(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *repository) ClaimTune(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	// Row-level atomicity of the conditional UPDATE is the concurrency
	// primitive here. The predicate covers both tune_status and
	// api_status so a claim can never be granted after the paid call
	// was issued, closing the window the old read-then-claim flow left.
	res := r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND tune_status IS NULL AND api_status IS NULL", id).
		Updates(map[string]interface{}{
			"tune_status":     TuneStatusOngoing,
			"work_status":     WorkStatusOngoing,
			"submission_date": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseTuneClaim(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND api_status IS NULL", id).
		Updates(map[string]interface{}{
			"tune_status":     nil,
			"work_status":     WorkStatusNone,
			"submission_date": nil,
		}).Error
}

func (r *repository) SetAPIStatus(ctx context.Context, id uuid.UUID, payload string) error {
	return r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND api_status IS NULL", id).
		Update("api_status", payload).Error
}

func (r *repository) CompleteTune(ctx context.Context, id uuid.UUID, entry PromptHistoryEntry) error {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.PromptHistory = append(u.PromptHistory, entry)
	completed := TuneStatusCompleted
	u.TuneStatus = &completed
	u.WorkStatus = WorkStatusCompleted
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *repository) SetPlan(ctx context.Context, id uuid.UUID, planType string) error {
	return r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"paid":       true,
			"plan_type":  planType,
			"updated_at": time.Now(),
		}).Error
}
