package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/redactai/redactai/internal/safety"
)

// Explain renders a deterministic summary of an assessment: detected pattern
// categories by descending weight, the semantic category, then the decision.
func Explain(a *safety.RiskAssessment) string {
	var parts []string

	type kindWeight struct {
		kind   safety.SecretCategory
		weight int
	}
	seen := map[safety.SecretCategory]bool{}
	var kinds []kindWeight
	for _, d := range a.Detections {
		if seen[d.Kind] {
			continue
		}
		seen[d.Kind] = true
		kinds = append(kinds, kindWeight{d.Kind, d.Weight})
	}
	sort.SliceStable(kinds, func(i, j int) bool {
		if kinds[i].weight != kinds[j].weight {
			return kinds[i].weight > kinds[j].weight
		}
		return kinds[i].kind < kinds[j].kind
	})
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.kind.Title()
		}
		parts = append(parts, "Detected: "+strings.Join(names, ", "))
	} else {
		parts = append(parts, "No sensitive patterns detected")
	}

	if a.ClassifierAvailable {
		parts = append(parts, fmt.Sprintf("AI classification: %s (%.0f%% confidence)", a.AICategory.Title(), a.AIConfidence*100))
	} else {
		parts = append(parts, "AI classification unavailable; pattern detection only")
	}

	parts = append(parts, decisionSuffix(a.Decision, a.OverallScore))
	return strings.Join(parts, " | ")
}

func decisionSuffix(d safety.Decision, score int) string {
	switch d {
	case safety.DecisionBlock:
		return fmt.Sprintf("BLOCK: high risk (score %d/100)", score)
	case safety.DecisionWarn:
		return fmt.Sprintf("WARN: review before sending (score %d/100)", score)
	default:
		return fmt.Sprintf("SAFE: low risk (score %d/100)", score)
	}
}
