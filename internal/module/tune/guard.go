package tune

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coolpix/server/internal/module/user"
	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GuardMetrics receives claim outcome counts.
type GuardMetrics interface {
	RecordTuneClaim(outcome string)
}

// GuardConfig configures the claim guard.
type GuardConfig struct {
	// RequiredPhotos is the minimum uploaded selfie count before
	// training may start.
	RequiredPhotos int

	// ResubmitWindow rejects a new submission while a previous one is
	// younger than this. Zero disables the window (development).
	ResubmitWindow time.Duration

	// TrainingSteps is passed through to the provider.
	TrainingSteps int

	// TriggerWordPrefix builds the per-user trigger word.
	TriggerWordPrefix string

	// BaseURL is this service's public URL, used to build the
	// training completion callback.
	BaseURL string

	// WebhookSecret is embedded in the callback URL and verified by
	// the training webhook handler.
	WebhookSecret string
}

// StartResult reports an accepted training job.
type StartResult struct {
	JobID    string `json:"job_id"`
	Provider string `json:"provider"`
}

// Guard ensures the costly, irreversible training call is issued at
// most once per user, even under concurrent invocation. The atomic
// conditional update in the user repository is the sole concurrency
// primitive; everything before it is a cheap pre-filter and everything
// after it is compensation.
type Guard struct {
	users   user.Repository
	trainer Trainer
	cfg     GuardConfig
	metrics GuardMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewGuard creates a new claim guard.
func NewGuard(users user.Repository, trainer Trainer, cfg GuardConfig, metrics GuardMetrics, logger *zap.Logger) *Guard {
	return &Guard{
		users:   users,
		trainer: trainer,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Start runs the full guarded workflow for one user: precondition
// checks, atomic claim, training call, and durable proof-of-call.
// The ordering of the checks is safety-critical: any reordering can
// reopen the double-spend window.
func (g *Guard) Start(ctx context.Context, userID uuid.UUID) (*StartResult, error) {
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, apperrors.NotFound("user")
		}
		return nil, apperrors.Internal("load user", err)
	}

	// Strongest guard first: if the paid call was ever issued, refuse
	// unconditionally.
	if u.APICallIssued() {
		g.recordClaim("rejected")
		return nil, apperrors.StateConflict("training call already issued")
	}

	if g.cfg.ResubmitWindow > 0 && u.SubmissionDate != nil {
		if age := g.now().Sub(*u.SubmissionDate); age < g.cfg.ResubmitWindow {
			g.recordClaim("rejected")
			return nil, apperrors.StateConflict(
				fmt.Sprintf("previous submission is %s old, resubmission window is %s", age.Round(time.Minute), g.cfg.ResubmitWindow))
		}
	}

	if missing := u.MissingProfileFields(); len(missing) > 0 {
		return nil, apperrors.Validation("missing profile fields: " + strings.Join(missing, ", "))
	}
	if len(u.Photos) < g.cfg.RequiredPhotos {
		return nil, apperrors.Validation(
			fmt.Sprintf("at least %d photos required, got %d", g.cfg.RequiredPhotos, len(u.Photos)))
	}
	if len(u.Styles) == 0 {
		return nil, apperrors.Validation("at least one style selection required")
	}

	claimed, err := g.users.ClaimTune(ctx, userID, g.now())
	if err != nil {
		return nil, apperrors.Internal("claim tune", err)
	}
	if !claimed {
		// Another process holds or completed the claim. Silent no-op.
		g.recordClaim("conflict")
		g.logger.Info("tune claim lost race", zap.String("user_id", userID.String()))
		return nil, apperrors.StateConflict("tune creation already in progress")
	}

	// Sanity re-read. The claim predicate already excludes rows with
	// api_status set, so finding it here means something outside this
	// service wrote the column. Compensate and abort rather than spend
	// a second paid call.
	fresh, err := g.users.GetByID(ctx, userID)
	if err == nil && fresh.APICallIssued() {
		g.release(ctx, userID)
		g.recordClaim("rejected")
		g.logger.Error("api_status appeared after claim, aborting", zap.String("user_id", userID.String()))
		return nil, apperrors.StateConflict("training call already issued")
	}

	handle, err := g.trainer.Train(ctx, g.buildJob(u))
	if err != nil {
		// Release so the next human-driven attempt re-enters from
		// scratch. The call itself is never retried automatically.
		g.release(ctx, userID)
		g.recordClaim("released")
		g.logger.Error("training call failed",
			zap.String("user_id", userID.String()),
			zap.String("provider", g.trainer.Name()),
			zap.Error(err),
		)
		return nil, apperrors.Provider("training call failed", err)
	}

	if err := g.users.SetAPIStatus(ctx, userID, handle.Raw); err != nil {
		// The paid call went out but the proof write failed. Never
		// release here: releasing would allow a second paid call.
		g.logger.Error("failed to persist api status after training call",
			zap.String("user_id", userID.String()),
			zap.String("job_id", handle.ID),
			zap.Error(err),
		)
		return nil, apperrors.Internal("persist training response", err)
	}

	g.recordClaim("claimed")
	g.logger.Info("training started",
		zap.String("user_id", userID.String()),
		zap.String("provider", handle.Provider),
		zap.String("job_id", handle.ID),
	)
	return &StartResult{JobID: handle.ID, Provider: handle.Provider}, nil
}

func (g *Guard) buildJob(u *user.User) *TrainingJob {
	return &TrainingJob{
		UserID:      u.ID.String(),
		TriggerWord: g.cfg.TriggerWordPrefix + strings.ReplaceAll(u.ID.String(), "-", "")[:12],
		ClassName:   className(u.Gender),
		ImageURLs:   u.Photos,
		WebhookURL:  g.webhookURL(u.ID),
		Steps:       g.cfg.TrainingSteps,
	}
}

// webhookURL builds the training completion callback with the user id
// and shared secret as query parameters.
func (g *Guard) webhookURL(userID uuid.UUID) string {
	q := url.Values{}
	q.Set("user_id", userID.String())
	q.Set("webhook_secret", g.cfg.WebhookSecret)
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/api/v1/webhooks/training?" + q.Encode()
}

func (g *Guard) release(ctx context.Context, userID uuid.UUID) {
	if err := g.users.ReleaseTuneClaim(ctx, userID); err != nil {
		g.logger.Error("failed to release tune claim",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func (g *Guard) recordClaim(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordTuneClaim(outcome)
	}
}

func className(gender string) string {
	switch strings.ToLower(gender) {
	case "male", "man":
		return "man"
	case "female", "woman":
		return "woman"
	default:
		return "person"
	}
}
