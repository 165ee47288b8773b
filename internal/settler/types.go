package settler

import (
	"context"

	"github.com/0gfoundation/0g-vault/internal/order"
)

// Settler applies one signed submission. Errors carrying a vaulterr sentinel
// are terminal rejections; any other error is treated as transient.
type Settler interface {
	Settle(ctx context.Context, sub order.Submission) error
}

// Envelope is the queued form of a submission.
type Envelope struct {
	order.Submission
	Attempts int `json:"attempts,omitempty"`
}

// Outcome is what the handler decided for one processed envelope.
type Outcome int

const (
	OutcomeSettled Outcome = iota
	OutcomeRejected
	OutcomeDeadLettered
	OutcomeDiscarded
	OutcomeRequeued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeRequeued:
		return "requeued"
	default:
		return "unknown"
	}
}
