package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

type AttemptRepository interface {
	Insert(ctx context.Context, a *model.Attempt) error
	Get(ctx context.Context, attemptID string) (*model.Attempt, error)
	// Finish moves an initiated attempt to a final carrier status. Returns
	// ErrTerminal when the attempt was already finished.
	Finish(ctx context.Context, attemptID string, status model.AttemptStatus, failure *model.FailureClass, carrierRef string, now time.Time) (*model.Attempt, error)
	// RecordOutcome stamps outcome on the lead's latest attempt when that
	// attempt has none yet. Reports false otherwise, so a repeated call is a
	// no-op rather than reaching back to an older attempt.
	RecordOutcome(ctx context.Context, leadID string, outcome model.Outcome, now time.Time) (bool, error)
	ListByLead(ctx context.Context, leadID string) ([]model.Attempt, error)
	// SetCarrierRef records the carrier's identifier for a placed attempt so
	// status callbacks can be matched without the cache.
	SetCarrierRef(ctx context.Context, attemptID, carrierRef string, now time.Time) error
	// FindByCarrierRef returns the newest attempt carrying carrierRef, or
	// ErrNotFound.
	FindByCarrierRef(ctx context.Context, carrierRef string) (*model.Attempt, error)
}
