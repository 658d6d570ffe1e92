package model

import (
	"errors"
	"time"
)

type AttemptStatus string

const (
	AttemptInitiated AttemptStatus = "initiated"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

var ErrInvalidAttemptStatus = errors.New("invalid attempt status")

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Attempt is one contact try. Rows are inserted once and finished once.
type Attempt struct {
	ID           string        `json:"id"`
	LeadID       string        `json:"leadId"`
	WorkerID     string        `json:"workerId"`
	NumberID     string        `json:"numberId"`
	FromNumber   string        `json:"fromNumber"`
	ToNumber     string        `json:"toNumber"`
	Channel      Channel       `json:"channel"`
	Direction    Direction     `json:"direction"`
	Status       AttemptStatus `json:"status"`
	Outcome      *Outcome      `json:"outcome,omitempty"`
	FailureClass *FailureClass `json:"failureClass,omitempty"`
	CarrierRef   string        `json:"carrierRef,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (a *Attempt) Open() bool {
	return a.Status == AttemptInitiated
}
