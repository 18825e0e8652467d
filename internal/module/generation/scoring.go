package generation

import (
	"sort"
	"time"
)

// capabilityProfile is the advertised profile of a provider. Scores are
// 1-3 (higher is better for quality/speed, lower cost means cheaper).
// The table is data-driven so adding a provider is additive.
type capabilityProfile struct {
	Quality  int
	Speed    int
	Cost     int
	Features map[string]bool
}

var capabilityProfiles = map[string]capabilityProfile{
	"fal": {
		Quality: 2,
		Speed:   3,
		Cost:    1,
		Features: map[string]bool{
			"lora":    true,
			"img2img": true,
			"fast":    true,
		},
	},
	"leonardo": {
		Quality: 3,
		Speed:   2,
		Cost:    2,
		Features: map[string]bool{
			"alchemy":   true,
			"photoreal": true,
			"styles":    true,
		},
	},
}

// scoredProvider pairs a provider name with its requirement score.
type scoredProvider struct {
	Name  string
	Score float64
}

// rankProviders scores the candidate providers against the requirements
// and returns them best-first. Offline providers must already be
// filtered out by the caller; ties prefer the configured primary.
func rankProviders(req *Requirements, candidates []string, latency func(string) time.Duration, primary string) []string {
	scored := make([]scoredProvider, 0, len(candidates))
	for _, name := range candidates {
		scored = append(scored, scoredProvider{
			Name:  name,
			Score: scoreProvider(name, req, latency),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		// Tie-break: prefer the configured primary provider.
		return scored[i].Name == primary
	})

	ranked := make([]string, len(scored))
	for i, s := range scored {
		ranked[i] = s.Name
	}
	return ranked
}

func scoreProvider(name string, req *Requirements, latency func(string) time.Duration) float64 {
	profile, ok := capabilityProfiles[name]
	if !ok {
		return 0
	}

	var score float64
	if req == nil {
		return score
	}

	switch req.Quality {
	case QualityPremium:
		score += float64(profile.Quality) * 3
	case QualityStandard:
		score += float64(profile.Quality)
	case QualityBasic:
		// Any provider satisfies basic quality; cheaper wins.
		score += float64(4-profile.Cost)
	}

	switch req.Speed {
	case SpeedFast:
		score += float64(profile.Speed) * 2
		if latency != nil {
			// Bias toward the provider with lower observed latency.
			if l := latency(name); l > 0 {
				score += 10.0 / (1.0 + l.Seconds())
			}
		}
	case SpeedStandard:
		score += float64(profile.Speed)
	}

	switch req.Budget {
	case BudgetLow:
		score += float64(4-profile.Cost) * 2
	case BudgetMedium:
		score += float64(4 - profile.Cost)
	case BudgetHigh:
		// Budget is no constraint; favor quality.
		score += float64(profile.Quality)
	}

	for _, f := range req.Features {
		if profile.Features[f] {
			score += 5
		}
	}

	return score
}
