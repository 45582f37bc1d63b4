package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/redactai/redactai/internal/safety"
)

// UserAction is what the user did after seeing a decision.
type UserAction string

const (
	ActionPending   UserAction = "pending"
	ActionProceeded UserAction = "proceeded"
	ActionCancelled UserAction = "cancelled"
)

// ParseAction accepts only the two terminal actions a caller may report.
func ParseAction(s string) (UserAction, error) {
	switch UserAction(strings.ToLower(strings.TrimSpace(s))) {
	case ActionProceeded:
		return ActionProceeded, nil
	case ActionCancelled:
		return ActionCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// ScanRecord is one persisted analyze call. Only UserAction and ActionAt ever
// change after insert, and only once.
type ScanRecord struct {
	ID               string  `gorm:"primaryKey;type:text" json:"id"`
	UserID           string  `gorm:"not null;index:idx_scan_user_created,priority:1;uniqueIndex:idx_scan_user_token,priority:1" json:"user_id"`
	CorrelationToken *string `gorm:"uniqueIndex:idx_scan_user_token,priority:2" json:"-"`
	Platform         string  `gorm:"not null" json:"platform"`
	Excerpt          string  `gorm:"not null" json:"excerpt"`

	OverallScore        int                                `json:"overall_risk_score"`
	PatternScore        int                                `json:"regex_risk_score"`
	Decision            safety.Decision                    `gorm:"index" json:"decision"`
	Detections          []safety.DetectionMatch            `gorm:"serializer:json" json:"regex_detections"`
	AICategory          safety.ContentCategory             `json:"ai_category"`
	AIConfidence        float64                            `json:"ai_confidence"`
	AIProbabilities     map[safety.ContentCategory]float64 `gorm:"serializer:json" json:"ai_probabilities,omitempty"`
	Explanation         string                             `json:"explanation"`
	ClassifierAvailable bool                               `json:"classifier_available"`
	AssessedAt          time.Time                          `json:"assessed_at"`

	UserAction UserAction `gorm:"not null;default:pending;index" json:"user_action"`
	ActionAt   *time.Time `json:"action_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index:idx_scan_user_created,priority:2" json:"created_at"`
}

func (ScanRecord) TableName() string { return "scan_records" }

// Assessment rebuilds the RiskAssessment stored on the record.
func (r *ScanRecord) Assessment() *safety.RiskAssessment {
	return &safety.RiskAssessment{
		OverallScore:        r.OverallScore,
		PatternScore:        r.PatternScore,
		Decision:            r.Decision,
		Detections:          r.Detections,
		AICategory:          r.AICategory,
		AIConfidence:        r.AIConfidence,
		AIProbabilities:     r.AIProbabilities,
		Explanation:         r.Explanation,
		ClassifierAvailable: r.ClassifierAvailable,
		Timestamp:           r.AssessedAt,
	}
}

// DetectionTags returns the distinct detected categories in record order.
func (r *ScanRecord) DetectionTags() []string {
	kinds := r.Assessment().DetectionKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
