// Package notify delivers completed-job events to a messaging channel.
// Delivery failures are reported to the caller for logging only; they never
// feed back into job outcomes.
package notify

import (
	"context"
	"fmt"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// Event describes a finished job for delivery.
type Event struct {
	JobID   string
	Kind    storage.JobKind
	Target  string
	Outcome storage.Outcome
	Summary string
}

// Notifier receives completed-job events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// FormatEvent renders an event as the HTML message body the channel shows.
func FormatEvent(ev Event) string {
	var status string
	switch ev.Outcome {
	case storage.OutcomeSuccess:
		status = "succeeded"
	case storage.OutcomeRetryable:
		status = "failed (will retry)"
	default:
		status = "failed"
	}

	msg := fmt.Sprintf("<b>%s</b> @%s %s", ev.Kind, ev.Target, status)
	if ev.Summary != "" {
		msg += "\n" + ev.Summary
	}
	return msg
}
