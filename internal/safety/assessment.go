package safety

import (
	"fmt"
	"strings"
	"time"
)

// ContentCategory is the closed set of semantic classes.
type ContentCategory string

const (
	ContentCredentials  ContentCategory = "credentials"
	ContentPersonalData ContentCategory = "personal_data"
	ContentProprietary  ContentCategory = "proprietary_info"
	ContentSafe         ContentCategory = "safe"
)

// ContentCategories lists every ContentCategory in label order.
var ContentCategories = []ContentCategory{
	ContentCredentials,
	ContentPersonalData,
	ContentProprietary,
	ContentSafe,
}

// ParseContentCategory accepts the canonical names plus a few common aliases.
func ParseContentCategory(s string) (ContentCategory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credentials", "credential":
		return ContentCredentials, nil
	case "personal_data", "personaldata", "pii":
		return ContentPersonalData, nil
	case "proprietary_info", "proprietary":
		return ContentProprietary, nil
	case "safe":
		return ContentSafe, nil
	}
	return "", fmt.Errorf("unknown content category %q", s)
}

// Title is the human label used in explanations.
func (c ContentCategory) Title() string {
	switch c {
	case ContentCredentials:
		return "Credentials"
	case ContentPersonalData:
		return "Personal Data"
	case ContentProprietary:
		return "Proprietary Info"
	case ContentSafe:
		return "Safe"
	}
	return string(c)
}

// ClassificationResult is the classifier's arg-max answer.
type ClassificationResult struct {
	Category      ContentCategory             `json:"category"`
	Confidence    float64                     `json:"confidence"`
	Probabilities map[ContentCategory]float64 `json:"probabilities,omitempty"`
}

// Decision is the ordered tier derived from a score.
type Decision string

const (
	DecisionSafe  Decision = "SAFE"
	DecisionWarn  Decision = "WARN"
	DecisionBlock Decision = "BLOCK"
)

// Rank orders decisions by severity.
func (d Decision) Rank() int {
	switch d {
	case DecisionWarn:
		return 1
	case DecisionBlock:
		return 2
	}
	return 0
}

// Thresholds are the inclusive lower bounds of WARN and BLOCK.
type Thresholds struct {
	Warn  int
	Block int
}

// DefaultThresholds gives SAFE 0-39, WARN 40-69, BLOCK 70-100.
var DefaultThresholds = Thresholds{Warn: 40, Block: 70}

// Validate checks 0 < warn < block <= 100.
func (t Thresholds) Validate() error {
	if t.Warn <= 0 || t.Block > 100 || t.Warn >= t.Block {
		return fmt.Errorf("thresholds must satisfy 0 < warn < block <= 100, got warn=%d block=%d", t.Warn, t.Block)
	}
	return nil
}

// DecisionFor maps a score onto a tier.
func DecisionFor(score int, t Thresholds) Decision {
	switch {
	case score >= t.Block:
		return DecisionBlock
	case score >= t.Warn:
		return DecisionWarn
	default:
		return DecisionSafe
	}
}

// CategoryWeights scales a classification's confidence into score points.
type CategoryWeights map[ContentCategory]float64

// DefaultCategoryWeights lets a confident classification alone reach WARN but
// never BLOCK under DefaultThresholds.
var DefaultCategoryWeights = CategoryWeights{
	ContentCredentials:  60,
	ContentPersonalData: 50,
	ContentProprietary:  45,
	ContentSafe:         0,
}

// WeightsFor derives weights for custom thresholds: the strongest category
// sits two thirds of the way from warn to block and the others keep their
// DefaultCategoryWeights ratio to it. WeightsFor(DefaultThresholds) equals
// DefaultCategoryWeights.
func WeightsFor(t Thresholds) CategoryWeights {
	cred := float64(t.Warn) + float64(t.Block-t.Warn)*2/3
	return CategoryWeights{
		ContentCredentials:  cred,
		ContentPersonalData: cred * 5 / 6,
		ContentProprietary:  cred * 3 / 4,
		ContentSafe:         0,
	}
}

// Validate requires every category, a zero Safe weight, and a maximum weight
// in [warn, block).
func (w CategoryWeights) Validate(t Thresholds) error {
	maxW := 0.0
	for _, c := range ContentCategories {
		v, ok := w[c]
		if !ok {
			return fmt.Errorf("missing weight for category %s", c)
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("weight for %s must be within [0,100], got %v", c, v)
		}
		if v > maxW {
			maxW = v
		}
	}
	for c := range w {
		if _, err := ParseContentCategory(string(c)); err != nil {
			return err
		}
	}
	if w[ContentSafe] != 0 {
		return fmt.Errorf("weight for %s must be 0", ContentSafe)
	}
	if maxW < float64(t.Warn) || maxW >= float64(t.Block) {
		return fmt.Errorf("largest category weight %v must be >= warn (%d) and < block (%d)", maxW, t.Warn, t.Block)
	}
	return nil
}

// RiskAssessment is the engine's answer for one text.
type RiskAssessment struct {
	OverallScore        int                         `json:"overall_risk_score"`
	PatternScore        int                         `json:"regex_risk_score"`
	Decision            Decision                    `json:"decision"`
	Detections          []DetectionMatch            `json:"regex_detections"`
	AICategory          ContentCategory             `json:"ai_category"`
	AIConfidence        float64                     `json:"ai_confidence"`
	AIProbabilities     map[ContentCategory]float64 `json:"ai_probabilities,omitempty"`
	Explanation         string                      `json:"explanation"`
	ClassifierAvailable bool                        `json:"classifier_available"`
	Timestamp           time.Time                   `json:"timestamp"`
}

// DetectionKinds returns the distinct categories in detection order.
func (a *RiskAssessment) DetectionKinds() []SecretCategory {
	if a == nil {
		return nil
	}
	seen := make(map[SecretCategory]struct{}, len(a.Detections))
	out := make([]SecretCategory, 0, len(a.Detections))
	for _, d := range a.Detections {
		if _, ok := seen[d.Kind]; ok {
			continue
		}
		seen[d.Kind] = struct{}{}
		out = append(out, d.Kind)
	}
	return out
}
