package tune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const astriaDefaultBaseURL = "https://api.astria.ai"

// AstriaTrainer implements Trainer against the Astria fine-tune API.
type AstriaTrainer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewAstriaTrainer creates a new Astria trainer.
func NewAstriaTrainer(apiKey string) *AstriaTrainer {
	return &AstriaTrainer{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: astriaDefaultBaseURL,
		apiKey:  apiKey,
	}
}

// Name returns the provider identifier.
func (t *AstriaTrainer) Name() string {
	return "astria"
}

type astriaTuneRequest struct {
	Tune astriaTune `json:"tune"`
}

type astriaTune struct {
	Title       string   `json:"title"`
	Name        string   `json:"name"` // class name, e.g. "man"
	Token       string   `json:"token,omitempty"`
	ImageURLs   []string `json:"image_urls"`
	CallbackURL string   `json:"callback,omitempty"`
	Steps       int      `json:"steps,omitempty"`
	BaseTuneID  int      `json:"base_tune_id,omitempty"`
}

type astriaTuneResponse struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Train starts an Astria fine-tune job.
func (t *AstriaTrainer) Train(ctx context.Context, job *TrainingJob) (*JobHandle, error) {
	payload := astriaTuneRequest{
		Tune: astriaTune{
			Title:       job.UserID,
			Name:        job.ClassName,
			Token:       job.TriggerWord,
			ImageURLs:   job.ImageURLs,
			CallbackURL: job.WebhookURL,
			Steps:       job.Steps,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tunes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("astria returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var tuneResp astriaTuneResponse
	if err := json.Unmarshal(respBody, &tuneResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &JobHandle{
		ID:       strconv.FormatInt(tuneResp.ID, 10),
		Provider: t.Name(),
		Raw:      string(respBody),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time interface assertion
var _ Trainer = (*AstriaTrainer)(nil)
