package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	leonardoDefaultBaseURL = "https://cloud.leonardo.ai/api/rest/v1"
	leonardoDefaultModel   = "b24e16ff-06e3-43eb-8d33-4416c2d75876" // Leonardo Phoenix
	leonardoCostPerImage   = 0.04
	leonardoPollInterval   = 2 * time.Second
)

// LeonardoProvider implements Provider for the Leonardo AI REST API.
// Leonardo generations are asynchronous: the create call returns a
// generation id which is polled until the images are ready.
type LeonardoProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	model        string
	pollInterval time.Duration
}

// NewLeonardoProvider creates a new Leonardo provider.
func NewLeonardoProvider(apiKey string) *LeonardoProvider {
	return &LeonardoProvider{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      leonardoDefaultBaseURL,
		apiKey:       apiKey,
		model:        leonardoDefaultModel,
		pollInterval: leonardoPollInterval,
	}
}

// Name returns the provider identifier.
func (p *LeonardoProvider) Name() string {
	return "leonardo"
}

// CostPerImage returns the advertised per-image cost.
func (p *LeonardoProvider) CostPerImage() float64 {
	return leonardoCostPerImage
}

type leonardoCreateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	ModelID        string  `json:"modelId,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	NumImages      int     `json:"num_images,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
}

type leonardoCreateResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
	Error string `json:"error,omitempty"`
}

type leonardoStatusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"` // PENDING, COMPLETE, FAILED
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

// Generate executes one generation; it blocks polling until the images
// are ready or ctx expires.
func (p *LeonardoProvider) Generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Options.Model
	if model == "" {
		model = p.model
	}

	width, height := parseSize(req.Options.Size)
	leoReq := &leonardoCreateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.Options.NegativePrompt,
		ModelID:        model,
		Width:          width,
		Height:         height,
		NumImages:      req.Options.Count,
		Seed:           req.Options.Seed,
		GuidanceScale:  req.Options.GuidanceScale,
	}
	if leoReq.NumImages == 0 {
		leoReq.NumImages = 1
	}

	generationID, err := p.createGeneration(ctx, leoReq)
	if err != nil {
		return nil, err
	}

	images, err := p.pollGeneration(ctx, generationID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Images: images,
		Metadata: Metadata{
			Provider:      p.Name(),
			Model:         model,
			EstimatedCost: float64(len(images)) * p.CostPerImage(),
		},
	}, nil
}

func (p *LeonardoProvider) createGeneration(ctx context.Context, req *leonardoCreateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("leonardo returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var createResp leonardoCreateResponse
	if err := json.Unmarshal(respBody, &createResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if createResp.SDGenerationJob.GenerationID == "" {
		return "", fmt.Errorf("leonardo returned no generation id")
	}

	return createResp.SDGenerationJob.GenerationID, nil
}

func (p *LeonardoProvider) pollGeneration(ctx context.Context, generationID string) ([]Image, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := p.getGeneration(ctx, generationID)
		if err != nil {
			return nil, err
		}

		switch status.GenerationsByPK.Status {
		case "COMPLETE":
			if len(status.GenerationsByPK.GeneratedImages) == 0 {
				return nil, fmt.Errorf("leonardo completed with no images")
			}
			images := make([]Image, len(status.GenerationsByPK.GeneratedImages))
			for i, img := range status.GenerationsByPK.GeneratedImages {
				images[i] = Image{URL: img.URL}
			}
			return images, nil
		case "FAILED":
			return nil, fmt.Errorf("leonardo generation %s failed", generationID)
		}
	}
}

func (p *LeonardoProvider) getGeneration(ctx context.Context, generationID string) (*leonardoStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/generations/"+generationID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("leonardo returned status %d", resp.StatusCode)
	}

	var status leonardoStatusResponse
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &status, nil
}

// HealthCheck probes the Leonardo API with a cheap authenticated call.
func (p *LeonardoProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/me", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("leonardo health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// parseSize parses "WxH"; zero values let the API apply its defaults.
func parseSize(size string) (int, int) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return w, h
}

// Compile-time interface assertion
var _ Provider = (*LeonardoProvider)(nil)
