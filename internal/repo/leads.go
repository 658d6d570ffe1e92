package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

// LeadRepository performs every lead transition as one atomic store
// operation. Implementations must never hand the same lead to two callers.
type LeadRepository interface {
	// ClaimNext locks the first eligible lead for workerID, skipping rows a
	// concurrent transaction holds. Returns ErrNotFound when nothing is eligible.
	ClaimNext(ctx context.Context, workerID, campaignID string, now time.Time) (*model.Lead, error)
	// ClaimByID locks a specific lead regardless of status. Returns ErrLockHeld
	// when another worker holds it.
	ClaimByID(ctx context.Context, leadID, workerID string, now time.Time) (*model.Lead, error)
	// Release returns a lead locked by workerID to READY. Reports false when
	// the lead was not locked by workerID.
	Release(ctx context.Context, leadID, workerID string, now time.Time) (bool, error)
	// Complete applies c to a non-terminal lead and returns the updated lead
	// plus the lock owner it had before the transition. Returns ErrDuplicate
	// when the lead's last completion carried the same non-empty c.Token.
	Complete(ctx context.Context, leadID string, c model.Completion, now time.Time) (*model.Lead, *string, error)
	// FindClaim returns the lead workerID locked at exactly lockedAt, or
	// ErrNotFound. It lets a retried claim recover a lock whose commit
	// succeeded but whose reply was lost.
	FindClaim(ctx context.Context, workerID string, lockedAt time.Time) (*model.Lead, error)
	// ReleaseStale returns every lead locked before cutoff to READY.
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	Get(ctx context.Context, leadID string) (*model.Lead, error)
	Insert(ctx context.Context, lead *model.Lead) error
}
