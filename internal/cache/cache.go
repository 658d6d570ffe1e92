package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

// AttemptRef resolves a carrier reference back to the attempt and the
// caller number it used, so status callbacks avoid a store lookup.
type AttemptRef struct {
	AttemptID string    `json:"attemptId"`
	LeadID    string    `json:"leadId"`
	NumberID  string    `json:"numberId"`
	PlacedAt  time.Time `json:"placedAt"`
}

type AttemptCache interface {
	StoreAttempt(ctx context.Context, carrierRef string, ref AttemptRef) error
	LoadAttempt(ctx context.Context, carrierRef string) (*AttemptRef, error)
}

// Nop never stores anything; every load is a miss.
type Nop struct{}

func (Nop) StoreAttempt(context.Context, string, AttemptRef) error { return nil }

func (Nop) LoadAttempt(context.Context, string) (*AttemptRef, error) { return nil, ErrMiss }
