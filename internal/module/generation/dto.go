package generation

import (
	"fmt"
	"time"
)

// Quality preference for a generation request.
type Quality string

const (
	QualityBasic    Quality = "basic"
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
)

// Speed preference for a generation request.
type Speed string

const (
	SpeedFast     Speed = "fast"
	SpeedStandard Speed = "standard"
	SpeedSlow     Speed = "slow"
)

// Budget preference for a generation request.
type Budget string

const (
	BudgetLow    Budget = "low"
	BudgetMedium Budget = "medium"
	BudgetHigh   Budget = "high"
)

// Requirements bias provider selection. All fields are optional.
type Requirements struct {
	Quality  Quality  `json:"quality,omitempty"`
	Speed    Speed    `json:"speed,omitempty"`
	Budget   Budget   `json:"budget,omitempty"`
	Features []string `json:"features,omitempty"`
}

// ImageOptions are the provider-facing knobs for a generation.
type ImageOptions struct {
	Count          int     `json:"count,omitempty"`
	Size           string  `json:"size,omitempty"` // e.g. "1024x1024"
	Seed           int64   `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model,omitempty"`
}

// Request is a transient generation request. It lives only for the
// duration of one router call and is never persisted.
type Request struct {
	Prompt       string        `json:"prompt"`
	Provider     string        `json:"provider,omitempty"` // explicit hint, wins over scoring
	Requirements *Requirements `json:"requirements,omitempty"`
	Options      ImageOptions  `json:"options"`
	UseCache     bool          `json:"use_cache"`
}

// Image is a single generated image.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model,omitempty"`
	LatencyMS     int64   `json:"latency_ms"`
	EstimatedCost float64 `json:"estimated_cost"`
	FallbackUsed  bool    `json:"fallback_used"`
	FromCache     bool    `json:"from_cache"`
}

// Result is the uniform output of the router regardless of backend.
type Result struct {
	Images   []Image  `json:"images"`
	Metadata Metadata `json:"metadata"`
}

// FailedError is returned when both the selected provider and the
// fallback fail. It carries the last underlying error; the router does
// not retry further.
type FailedError struct {
	Provider string
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("generation failed (last provider %s): %v", e.Provider, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// Outcome is what the router reports to the health monitor after each
// provider attempt.
type Outcome struct {
	Provider string
	Success  bool
	Latency  time.Duration
}
