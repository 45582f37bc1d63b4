package notify

import (
	"context"
	"strings"

	"github.com/redactai/redactai/internal/redact"
)

// LogSink writes a one-line summary of each incident to the process log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, inc *Incident) error {
	if inc == nil {
		return nil
	}
	redact.Logf("notify: incident=%s record=%s user=%s platform=%q decision=%s score=%d category=%s classifier=%t types=[%s]",
		inc.IncidentID, inc.RecordID, inc.UserID, inc.Platform, inc.Decision, inc.OverallScore,
		inc.AICategory, inc.AIAvailable, strings.Join(inc.DetectionTags, ","))
	return nil
}

func (LogSink) Close(context.Context) error { return nil }
