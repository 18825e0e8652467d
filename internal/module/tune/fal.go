package tune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	falQueueBaseURL  = "https://queue.fal.run"
	falTrainingModel = "fal-ai/flux-lora-fast-training"
)

// FalTrainer implements Trainer against fal.ai's queued LoRA training
// endpoint.
type FalTrainer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewFalTrainer creates a new fal.ai trainer.
func NewFalTrainer(apiKey string) *FalTrainer {
	return &FalTrainer{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: falQueueBaseURL,
		apiKey:  apiKey,
	}
}

// Name returns the provider identifier.
func (t *FalTrainer) Name() string {
	return "fal"
}

type falTrainingRequest struct {
	ImageURLs   []string `json:"image_urls"`
	TriggerWord string   `json:"trigger_word"`
	Steps       int      `json:"steps,omitempty"`
	WebhookURL  string   `json:"webhook_url,omitempty"`
}

type falTrainingResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Train submits a LoRA training job to the fal queue.
func (t *FalTrainer) Train(ctx context.Context, job *TrainingJob) (*JobHandle, error) {
	payload := falTrainingRequest{
		ImageURLs:   job.ImageURLs,
		TriggerWord: job.TriggerWord,
		Steps:       job.Steps,
		WebhookURL:  job.WebhookURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := t.baseURL + "/" + falTrainingModel
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("fal returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var falResp falTrainingResponse
	if err := json.Unmarshal(respBody, &falResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &JobHandle{
		ID:       falResp.RequestID,
		Provider: t.Name(),
		Raw:      string(respBody),
	}, nil
}

// Compile-time interface assertion
var _ Trainer = (*FalTrainer)(nil)
