// Package notify delivers one message per newly published evaluation.
//
// Sinks are fire-and-forget from the orchestrator's point of view: a failed
// delivery is logged and counted but never blocks saving the snapshot.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

// Event is the serialized form of a notification used by the queue and
// database sinks. Credentials and webhook targets never appear in it.
type Event struct {
	CycleID       string    `json:"cycle_id,omitempty"`
	Instance      string    `json:"instance"`
	ResourceCode  string    `json:"resource_code"`
	ResourceTitle string    `json:"resource_title"`
	Term          *int      `json:"term,omitempty"`
	EvaluationID  int64     `json:"evaluation_id"`
	Description   string    `json:"description,omitempty"`
	Coef          string    `json:"coef"`
	Max           string    `json:"max"`
	Min           string    `json:"min"`
	Mean          string    `json:"mean"`
	Value         string    `json:"value"`
	Affectation   string    `json:"affectation"`
	DetectedAt    time.Time `json:"detected_at"`
}

// NewEvent flattens a notification.
func NewEvent(n grades.Notification) Event {
	ev := n.Evaluation
	return Event{
		CycleID:       n.CycleID,
		Instance:      n.Instance,
		ResourceCode:  n.ResourceCode,
		ResourceTitle: n.Resource.Title,
		Term:          n.Resource.Term,
		EvaluationID:  ev.ID,
		Description:   ev.Description,
		Coef:          ev.Coef,
		Max:           ev.Grade.Max,
		Min:           ev.Grade.Min,
		Mean:          ev.Grade.Mean,
		Value:         ev.Grade.Value,
		Affectation:   n.Affectation,
		DetectedAt:    n.DetectedAt,
	}
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []grades.NotificationSink

var _ grades.NotificationSink = Multi(nil)

// Notify implements grades.NotificationSink.
func (m Multi) Notify(ctx context.Context, n grades.Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
