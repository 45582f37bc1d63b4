package config

import (
	"github.com/redactai/redactai/internal/safety"
)

// Thresholds returns the configured tier boundaries.
func (s ScoringConfig) Thresholds() safety.Thresholds {
	return safety.Thresholds{Warn: s.WarnThreshold, Block: s.BlockThreshold}
}

// DefaultCategoryWeights is the YAML form of safety.WeightsFor, used when
// category_weights is omitted so custom thresholds still validate.
func DefaultCategoryWeights(warn, block int) map[string]float64 {
	w := safety.WeightsFor(safety.Thresholds{Warn: warn, Block: block})
	out := make(map[string]float64, len(w))
	for c, v := range w {
		out[string(c)] = v
	}
	return out
}

// Weights converts the YAML map into the closed category set.
func (s ScoringConfig) Weights() (safety.CategoryWeights, error) {
	out := make(safety.CategoryWeights, len(s.CategoryWeights))
	for name, w := range s.CategoryWeights {
		c, err := safety.ParseContentCategory(name)
		if err != nil {
			return nil, err
		}
		out[c] = w
	}
	return out, nil
}
