package automation

import (
	"context"

	"github.com/credops/credops/internal/model"
)

// FailureTuple is one failed host of a run, reported in the summary event.
type FailureTuple struct {
	Asset    string `json:"asset"`
	Username string `json:"username"`
	Error    string `json:"error"`
}

// SummaryEvent is the structured end-of-run report handed to the external
// notification collaborator.
type SummaryEvent struct {
	ExecutionID string                 `json:"execution_id"`
	OrgID       string                 `json:"org_id"`
	Type        model.AutomationType   `json:"type"`
	Status      model.ExecutionStatus  `json:"status"`
	Summary     model.ExecutionSummary `json:"summary"`
	Failures    []FailureTuple         `json:"failures,omitempty"`
}

// Notifier delivers summary events. Delivery is fire-and-forget: this core
// never sends mail or IM itself and never blocks or fails a run on delivery.
type Notifier interface {
	NotifySummary(ctx context.Context, event SummaryEvent)
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) NotifySummary(context.Context, SummaryEvent) {}
