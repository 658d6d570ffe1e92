package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

// OwnerScope narrows a reservation to one ownership tier.
type OwnerScope int

const (
	ScopeOwner OwnerScope = iota
	ScopeShared
	ScopeAny
)

func (s OwnerScope) String() string {
	switch s {
	case ScopeOwner:
		return "owner"
	case ScopeShared:
		return "shared"
	default:
		return "any"
	}
}

type ReserveQuery struct {
	Scope     OwnerScope
	OwnerID   string
	RegionTag string
	DailyCap  int
	Now       time.Time
}

type NumberRepository interface {
	// Reserve picks the least used eligible entry in scope and increments
	// its daily count in the same atomic operation. Returns ErrNoneAvailable
	// when no entry passes the filter.
	Reserve(ctx context.Context, q ReserveQuery) (*model.NumberPoolEntry, error)
	// SetCooldown withholds the entry until the later of until and any
	// cooldown already in place.
	SetCooldown(ctx context.Context, numberID string, until time.Time) error
	SetActive(ctx context.Context, numberID string, active bool) error
	ResetDaily(ctx context.Context) (int64, error)
	ClearExpiredCooldowns(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, numberID string) (*model.NumberPoolEntry, error)
	Insert(ctx context.Context, n *model.NumberPoolEntry) error
}
