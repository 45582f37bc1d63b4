package notify

import (
	"context"

	"github.com/redactai/redactai/internal/audit"
	"github.com/redactai/redactai/internal/safety"
)

// Notifier accepts one incident for best-effort delivery.
type Notifier interface {
	Notify(ctx context.Context, inc *Incident) error
}

// Outcome reports what Fire did.
type Outcome string

const (
	OutcomeQueued  Outcome = "queued"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Trigger turns a successful proceeded transition into one incident.
type Trigger struct {
	notifier Notifier
}

func NewTrigger(n Notifier) *Trigger {
	return &Trigger{notifier: n}
}

// Fire hands an incident to the notifier only for the transition call that
// moved a non-safe record to proceeded. At-most-once rests on Changed being
// true for exactly one caller.
func (t *Trigger) Fire(ctx context.Context, tr audit.TransitionResult, to Recipient) (Outcome, error) {
	rec := tr.Record
	if t == nil || t.notifier == nil || rec == nil {
		return OutcomeSkipped, nil
	}
	if !tr.Changed || rec.UserAction != audit.ActionProceeded || rec.Decision == safety.DecisionSafe {
		return OutcomeSkipped, nil
	}
	if err := t.notifier.Notify(ctx, NewIncident(rec, to)); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeQueued, nil
}
