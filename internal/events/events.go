package events

import (
	"context"
	"time"
)

const (
	ExchangeName       = "ex.leadline"
	KeyLeadCompleted   = "lead.completed"
	KeyAttemptFinished = "attempt.finished"
)

type LeadCompleted struct {
	LeadID     string    `json:"lead_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	CampaignID string    `json:"campaign_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AttemptFinished struct {
	AttemptID    string    `json:"attempt_id"`
	LeadID       string    `json:"lead_id"`
	WorkerID     string    `json:"worker_id"`
	NumberID     string    `json:"number_id"`
	Channel      string    `json:"channel"`
	Status       string    `json:"status"`
	FailureClass string    `json:"failure_class,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher fans lifecycle events out to downstream reporting.
type Publisher interface {
	PublishLeadCompleted(ctx context.Context, e LeadCompleted) error
	PublishAttemptFinished(ctx context.Context, e AttemptFinished) error
}

type Nop struct{}

var _ Publisher = Nop{}

func (Nop) PublishLeadCompleted(context.Context, LeadCompleted) error     { return nil }
func (Nop) PublishAttemptFinished(context.Context, AttemptFinished) error { return nil }
