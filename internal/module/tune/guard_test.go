package tune

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coolpix/server/internal/module/user"
	apperrors "github.com/coolpix/server/internal/shared/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryUserRepo implements user.Repository with mutex-guarded state,
// mirroring the row-level atomicity of the real conditional update.
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User

	claimErr error
}

func newMemoryUserRepo(users ...*user.User) *memoryUserRepo {
	repo := &memoryUserRepo{users: make(map[uuid.UUID]*user.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r *memoryUserRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memoryUserRepo) ClaimTune(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	u, ok := r.users[id]
	if !ok || u.TuneStatus != nil || u.APIStatus != nil {
		return false, nil
	}
	ongoing := user.TuneStatusOngoing
	u.TuneStatus = &ongoing
	u.WorkStatus = user.WorkStatusOngoing
	u.SubmissionDate = &at
	return true, nil
}

func (r *memoryUserRepo) ReleaseTuneClaim(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.APIStatus != nil {
		return nil
	}
	u.TuneStatus = nil
	u.WorkStatus = user.WorkStatusNone
	u.SubmissionDate = nil
	return nil
}

func (r *memoryUserRepo) SetAPIStatus(_ context.Context, id uuid.UUID, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	if u.APIStatus == nil {
		u.APIStatus = &payload
	}
	return nil
}

func (r *memoryUserRepo) CompleteTune(_ context.Context, id uuid.UUID, entry user.PromptHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.PromptHistory = append(u.PromptHistory, entry)
	completed := user.TuneStatusCompleted
	u.TuneStatus = &completed
	u.WorkStatus = user.WorkStatusCompleted
	return nil
}

func (r *memoryUserRepo) SetPlan(_ context.Context, id uuid.UUID, planType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.Paid = true
	u.PlanType = planType
	return nil
}

var _ user.Repository = (*memoryUserRepo)(nil)

// fakeTrainer counts issued training calls.
type fakeTrainer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTrainer) Name() string { return "astria" }

func (f *fakeTrainer) Train(_ context.Context, job *TrainingJob) (*JobHandle, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &JobHandle{ID: "tune-1", Provider: "astria", Raw: `{"id":1}`}, nil
}

func readyUser() *user.User {
	return &user.User{
		ID:        uuid.New(),
		Email:     "jo@example.com",
		Name:      "Jo",
		Age:       "30",
		BodyType:  "average",
		Height:    "175cm",
		Ethnicity: "mixed",
		Gender:    "woman",
		EyeColor:  "brown",
		Photos:    []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"},
		Styles:    []user.Style{{Name: "studio"}},
	}
}

func testGuardConfig() GuardConfig {
	return GuardConfig{
		RequiredPhotos:    4,
		TrainingSteps:     1000,
		TriggerWordPrefix: "cpx",
		BaseURL:           "https://coolpix.example",
		WebhookSecret:     "shh",
	}
}

func newTestGuard(repo *memoryUserRepo, trainer Trainer, cfg GuardConfig) *Guard {
	return NewGuard(repo, trainer, cfg, nil, zap.NewNop())
}

func TestGuard_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy path", func(t *testing.T) {
		u := readyUser()
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		result, err := guard.Start(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "tune-1", result.JobID)
		assert.Equal(t, int32(1), trainer.calls.Load())

		stored, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, stored.APICallIssued())
		require.NotNil(t, stored.TuneStatus)
		assert.Equal(t, user.TuneStatusOngoing, *stored.TuneStatus)
		assert.NotNil(t, stored.SubmissionDate)
	})

	t.Run("Unknown user", func(t *testing.T) {
		guard := newTestGuard(newMemoryUserRepo(), &fakeTrainer{}, testGuardConfig())

		_, err := guard.Start(ctx, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("Refuses when api status already set", func(t *testing.T) {
		u := readyUser()
		raw := `{"id":99}`
		u.APIStatus = &raw
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
		assert.Zero(t, trainer.calls.Load())
	})

	t.Run("Missing profile fields", func(t *testing.T) {
		fields := []func(u *user.User){
			func(u *user.User) { u.Name = "" },
			func(u *user.User) { u.Age = "" },
			func(u *user.User) { u.BodyType = "" },
			func(u *user.User) { u.Height = "" },
			func(u *user.User) { u.Ethnicity = "" },
			func(u *user.User) { u.Gender = "" },
			func(u *user.User) { u.EyeColor = "" },
		}
		for _, clear := range fields {
			u := readyUser()
			clear(u)
			repo := newMemoryUserRepo(u)
			trainer := &fakeTrainer{}
			guard := newTestGuard(repo, trainer, testGuardConfig())

			_, err := guard.Start(ctx, u.ID)
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
			assert.Zero(t, trainer.calls.Load())

			stored, _ := repo.GetByID(ctx, u.ID)
			assert.Nil(t, stored.TuneStatus)
		}
	})

	t.Run("Not enough photos", func(t *testing.T) {
		u := readyUser()
		u.Photos = u.Photos[:2]
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.Zero(t, trainer.calls.Load())
	})

	t.Run("No style selected", func(t *testing.T) {
		u := readyUser()
		u.Styles = nil
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.Zero(t, trainer.calls.Load())
	})

	t.Run("Resubmit window blocks fresh submission", func(t *testing.T) {
		u := readyUser()
		recent := time.Now().Add(-time.Hour)
		u.SubmissionDate = &recent
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		cfg := testGuardConfig()
		cfg.ResubmitWindow = 24 * time.Hour
		guard := newTestGuard(repo, trainer, cfg)

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
		assert.Zero(t, trainer.calls.Load())
	})

	t.Run("Resubmit window expired allows submission", func(t *testing.T) {
		u := readyUser()
		old := time.Now().Add(-48 * time.Hour)
		u.SubmissionDate = &old
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		cfg := testGuardConfig()
		cfg.ResubmitWindow = 24 * time.Hour
		guard := newTestGuard(repo, trainer, cfg)

		_, err := guard.Start(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(1), trainer.calls.Load())
	})

	t.Run("Zero window disables the check", func(t *testing.T) {
		u := readyUser()
		recent := time.Now().Add(-time.Minute)
		u.SubmissionDate = &recent
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		require.NoError(t, err)
	})

	t.Run("Releases claim on training failure", func(t *testing.T) {
		u := readyUser()
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{err: errors.New("astria 500")}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrProvider)

		stored, _ := repo.GetByID(ctx, u.ID)
		assert.Nil(t, stored.TuneStatus)
		assert.False(t, stored.APICallIssued())

		// A later attempt re-enters the guard from scratch.
		trainer.err = nil
		_, err = guard.Start(ctx, u.ID)
		require.NoError(t, err)
	})

	t.Run("Release clears submission date so retry beats the window", func(t *testing.T) {
		u := readyUser()
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{err: errors.New("astria 500")}
		cfg := testGuardConfig()
		cfg.ResubmitWindow = 24 * time.Hour
		guard := newTestGuard(repo, trainer, cfg)

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrProvider)

		stored, _ := repo.GetByID(ctx, u.ID)
		assert.Nil(t, stored.SubmissionDate)

		// A transient provider failure must not lock the user out
		// until the resubmission window expires.
		trainer.err = nil
		_, err = guard.Start(ctx, u.ID)
		require.NoError(t, err)
	})

	t.Run("Claim lost race", func(t *testing.T) {
		u := readyUser()
		ongoing := user.TuneStatusOngoing
		u.TuneStatus = &ongoing
		repo := newMemoryUserRepo(u)
		trainer := &fakeTrainer{}
		guard := newTestGuard(repo, trainer, testGuardConfig())

		_, err := guard.Start(ctx, u.ID)
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
		assert.Zero(t, trainer.calls.Load())
	})
}

func TestGuard_ConcurrentClaims(t *testing.T) {
	const callers = 32

	u := readyUser()
	repo := newMemoryUserRepo(u)
	trainer := &fakeTrainer{}
	guard := newTestGuard(repo, trainer, testGuardConfig())

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Start(context.Background(), u.ID); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), trainer.calls.Load(), "at most one paid call may be issued")
}

func TestGuard_WebhookURL(t *testing.T) {
	u := readyUser()
	guard := newTestGuard(newMemoryUserRepo(u), &fakeTrainer{}, testGuardConfig())

	job := guard.buildJob(u)
	assert.Contains(t, job.WebhookURL, "https://coolpix.example/api/v1/webhooks/training?")
	assert.Contains(t, job.WebhookURL, "user_id="+u.ID.String())
	assert.Contains(t, job.WebhookURL, "webhook_secret=shh")
	assert.Equal(t, "woman", job.ClassName)
	assert.Contains(t, job.TriggerWord, "cpx")
}
