// Package notify builds incident payloads for proceeded non-safe scans and
// delivers them asynchronously to configured sinks.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/redactai/redactai/internal/audit"
)

const incidentVersion = "1"

// Recipient identifies who the incident concerns and who should hear about it.
type Recipient struct {
	UserEmail         string
	NotificationEmail string
}

// Incident is the category-only summary of a proceeded scan. It never carries
// raw text, only the masked excerpt stored on the record.
type Incident struct {
	Version       string     `json:"version"`
	IncidentID    string     `json:"incident_id"`
	RecordID      string     `json:"record_id"`
	UserID        string     `json:"user_id"`
	UserEmail     string     `json:"user_email,omitempty"`
	Recipient     string     `json:"recipient,omitempty"`
	Platform      string     `json:"platform"`
	Timestamp     time.Time  `json:"timestamp"`
	ProceededAt   *time.Time `json:"proceeded_at,omitempty"`
	OverallScore  int        `json:"overall_risk_score"`
	Decision      string     `json:"decision"`
	AICategory    string     `json:"ai_category"`
	AIConfidence  float64    `json:"ai_confidence"`
	AIAvailable   bool       `json:"classifier_available"`
	DetectionTags []string   `json:"detection_types"`
	Excerpt       string     `json:"masked_excerpt"`
	Explanation   string     `json:"explanation"`
}

// NewIncident derives the payload from a stored record.
func NewIncident(rec *audit.ScanRecord, to Recipient) *Incident {
	return &Incident{
		Version:       incidentVersion,
		IncidentID:    uuid.NewString(),
		RecordID:      rec.ID,
		UserID:        rec.UserID,
		UserEmail:     to.UserEmail,
		Recipient:     to.NotificationEmail,
		Platform:      rec.Platform,
		Timestamp:     rec.CreatedAt,
		ProceededAt:   rec.ActionAt,
		OverallScore:  rec.OverallScore,
		Decision:      string(rec.Decision),
		AICategory:    string(rec.AICategory),
		AIConfidence:  rec.AIConfidence,
		AIAvailable:   rec.ClassifierAvailable,
		DetectionTags: rec.DetectionTags(),
		Excerpt:       rec.Excerpt,
		Explanation:   rec.Explanation,
	}
}
