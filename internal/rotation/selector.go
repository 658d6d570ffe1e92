// Package rotation picks the caller identity for each outbound attempt and
// keeps per-number usage inside the daily cap.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/retry"
)

// ErrNoNumber means no caller identity is usable. Callers abort the attempt.
var ErrNoNumber = errors.New("no number available")

const (
	DefaultDailyCap = 100
	// DefaultCooldown is how long a number is withheld after a throttling signal.
	DefaultCooldown = 12 * time.Hour
)

type Policy struct {
	DailyCap int
	Cooldown time.Duration
	// OwnerFallback allows any owner's number once the preferred owner and
	// the shared pool are exhausted.
	OwnerFallback bool
}

func DefaultPolicy() Policy {
	return Policy{DailyCap: DefaultDailyCap, Cooldown: DefaultCooldown, OwnerFallback: true}
}

type Selector struct {
	numbers repo.NumberRepository
	policy  Policy
	retry   retry.Policy
	metrics metrics.Collector
	now     func() time.Time
}

type Option func(*Selector)

func WithRetry(p retry.Policy) Option {
	return func(s *Selector) { s.retry = p }
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Selector) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

func NewSelector(numbers repo.NumberRepository, policy Policy, opts ...Option) *Selector {
	if policy.DailyCap <= 0 {
		policy.DailyCap = DefaultDailyCap
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = DefaultCooldown
	}
	s := &Selector{
		numbers: numbers,
		policy:  policy,
		retry:   retry.DefaultPolicy(),
		metrics: metrics.Nop{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SelectRequest struct {
	TargetNumber     string
	PreferredOwnerID string
	Channel          model.Channel
	RegionTag        string
}

type Selection struct {
	Entry       *model.NumberPoolEntry `json:"entry"`
	PhoneNumber string                 `json:"phoneNumber"`
	Method      string                 `json:"method"`
	Tier        string                 `json:"tier"`
}

// Select reserves one eligible number, preferring the owner's numbers, then
// shared ones, then (if the policy allows) anyone's. The reservation counts
// against the daily cap before the attempt is made.
func (s *Selector) Select(ctx context.Context, req SelectRequest) (*Selection, error) {
	if req.TargetNumber == "" {
		return nil, fmt.Errorf("%w: target_number", model.ErrMissingField)
	}
	ch, err := model.ParseChannel(string(req.Channel))
	if err != nil {
		return nil, err
	}

	for _, scope := range s.tiers(req.PreferredOwnerID) {
		q := repo.ReserveQuery{
			Scope:     scope,
			OwnerID:   req.PreferredOwnerID,
			RegionTag: req.RegionTag,
			DailyCap:  s.policy.DailyCap,
			Now:       s.now(),
		}

		var entry *model.NumberPoolEntry
		err := retry.Do(ctx, s.retry, "rotation.reserve", repo.IsTransient, func(ctx context.Context) error {
			var err error
			entry, err = s.numbers.Reserve(ctx, q)
			return err
		})
		if errors.Is(err, repo.ErrNoneAvailable) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve number (%s): %w", scope, err)
		}

		s.metrics.NumberSelected(scope.String())
		slog.Debug("number selected",
			"number_id", entry.ID,
			"tier", scope.String(),
			"daily_count", entry.DailyCount,
			"channel", ch,
		)
		return &Selection{
			Entry:       entry,
			PhoneNumber: entry.PhoneNumber,
			Method:      ch.Method(),
			Tier:        scope.String(),
		}, nil
	}

	s.metrics.NumberUnavailable()
	slog.Debug("no number available", "preferred_owner", req.PreferredOwnerID, "region", req.RegionTag)
	return nil, ErrNoNumber
}

func (s *Selector) tiers(ownerID string) []repo.OwnerScope {
	tiers := make([]repo.OwnerScope, 0, 3)
	if ownerID != "" {
		tiers = append(tiers, repo.ScopeOwner)
	}
	tiers = append(tiers, repo.ScopeShared)
	if s.policy.OwnerFallback {
		tiers = append(tiers, repo.ScopeAny)
	}
	return tiers
}

// ReportFailure feeds a classified carrier failure back into the pool.
// Throttling classes put the number on cooldown; others leave it alone.
// Reports whether a cooldown was applied.
func (s *Selector) ReportFailure(ctx context.Context, numberID string, class model.FailureClass) (bool, error) {
	if numberID == "" {
		return false, fmt.Errorf("%w: number_id", model.ErrMissingField)
	}
	if _, err := model.ParseFailureClass(string(class)); err != nil {
		return false, err
	}
	s.metrics.NumberFailure(string(class))

	if !class.Throttling() {
		slog.Debug("carrier failure does not affect pool", "number_id", numberID, "class", class)
		return false, nil
	}

	until := s.now().Add(s.policy.Cooldown)
	err := retry.Do(ctx, s.retry, "rotation.cooldown", repo.IsTransient, func(ctx context.Context) error {
		return s.numbers.SetCooldown(ctx, numberID, until)
	})
	if err != nil {
		return false, fmt.Errorf("cool down number %s: %w", numberID, err)
	}

	slog.Warn("number cooled down after carrier throttling", "number_id", numberID, "class", class, "until", until)
	return true, nil
}

func (s *Selector) SetActive(ctx context.Context, numberID string, active bool) error {
	if err := s.numbers.SetActive(ctx, numberID, active); err != nil {
		return fmt.Errorf("set number %s active=%t: %w", numberID, active, err)
	}
	slog.Info("number activation changed", "number_id", numberID, "active", active)
	return nil
}
