package tune

import (
	"context"
)

// TrainingJob is everything a provider needs to start training a
// per-user model from the uploaded selfies.
type TrainingJob struct {
	UserID      string
	TriggerWord string
	ClassName   string // e.g. "man", "woman"
	ImageURLs   []string
	WebhookURL  string
	Steps       int
}

// JobHandle identifies a training job accepted by a provider. Raw is
// the provider's response body as received; it is persisted verbatim as
// the durable proof that the paid call was issued.
type JobHandle struct {
	ID       string
	Provider string
	Raw      string
}

// Trainer starts a model training job with one external provider. The
// guard calls Train at most once per user.
type Trainer interface {
	Name() string
	Train(ctx context.Context, job *TrainingJob) (*JobHandle, error)
}
