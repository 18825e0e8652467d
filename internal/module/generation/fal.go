package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	falDefaultBaseURL = "https://fal.run"
	falDefaultModel   = "fal-ai/flux/dev"
	falCostPerImage   = 0.025
)

// FalProvider implements Provider for fal.ai's synchronous run endpoint.
type FalProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewFalProvider creates a new fal.ai provider.
func NewFalProvider(apiKey string) *FalProvider {
	return &FalProvider{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: falDefaultBaseURL,
		apiKey:  apiKey,
		model:   falDefaultModel,
	}
}

// Name returns the provider identifier.
func (p *FalProvider) Name() string {
	return "fal"
}

// CostPerImage returns the advertised per-image cost.
func (p *FalProvider) CostPerImage() float64 {
	return falCostPerImage
}

// falImageRequest is the fal.ai request payload.
type falImageRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	ImageSize         string  `json:"image_size,omitempty"`
	NumImages         int     `json:"num_images,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
}

// falImageResponse is the fal.ai response payload.
type falImageResponse struct {
	Images []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"images"`
	Seed   int64 `json:"seed"`
	Detail any   `json:"detail,omitempty"` // error detail on non-2xx
}

// Generate executes one generation call against fal.ai.
func (p *FalProvider) Generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Options.Model
	if model == "" {
		model = p.model
	}

	falReq := &falImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.Options.NegativePrompt,
		ImageSize:      falImageSize(req.Options.Size),
		NumImages:      req.Options.Count,
		Seed:           req.Options.Seed,
		GuidanceScale:  req.Options.GuidanceScale,
	}
	if falReq.NumImages == 0 {
		falReq.NumImages = 1
	}

	body, err := json.Marshal(falReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/" + model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+p.apiKey)

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
		return nil, fmt.Errorf("fal returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var falResp falImageResponse
	if err := json.Unmarshal(respBody, &falResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(falResp.Images) == 0 {
		return nil, fmt.Errorf("fal returned no images")
	}

	images := make([]Image, len(falResp.Images))
	for i, img := range falResp.Images {
		images[i] = Image{URL: img.URL, Width: img.Width, Height: img.Height}
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

// HealthCheck issues a lightweight probe against the fal API.
func (p *FalProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Key "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("fal health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// falImageSize maps a "WxH" size to fal's named presets.
func falImageSize(size string) string {
	switch size {
	case "", "1024x1024":
		return "square_hd"
	case "512x512":
		return "square"
	case "768x1024", "896x1152":
		return "portrait_4_3"
	case "1024x768", "1152x896":
		return "landscape_4_3"
	default:
		if strings.Contains(size, "x") {
			return "square_hd"
		}
		return size
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time interface assertion
var _ Provider = (*FalProvider)(nil)
