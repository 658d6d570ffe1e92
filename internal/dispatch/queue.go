// Package dispatch hands leads to workers one at a time and moves them
// through their lifecycle. All mutual exclusion lives in the store; the
// queue adds retries, logging, metrics and events around each transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/leadline/internal/events"
	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/retry"
)

// ErrNoLead means no lead is eligible right now. It is an expected result.
var ErrNoLead = errors.New("no lead available")

const (
	DefaultCallbackDelay = 24 * time.Hour
	DefaultStaleAfter    = 30 * time.Minute
)

type Options struct {
	CallbackDelay time.Duration
	StaleAfter    time.Duration
	Retry         retry.Policy
	Metrics       metrics.Collector
	Events        events.Publisher
	Now           func() time.Time
}

type Queue struct {
	leads    repo.LeadRepository
	attempts repo.AttemptRepository
	opts     Options
}

func NewQueue(leads repo.LeadRepository, attempts repo.AttemptRepository, opts Options) *Queue {
	if opts.CallbackDelay <= 0 {
		opts.CallbackDelay = DefaultCallbackDelay
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{leads: leads, attempts: attempts, opts: opts}
}

type ClaimRequest struct {
	WorkerID   string
	LeadID     string // forces a specific lead, bypassing the eligibility scan
	CampaignID string
}

// Claim locks one lead for the worker. Without a LeadID it takes the first
// eligible lead and returns ErrNoLead when there is none.
func (q *Queue) Claim(ctx context.Context, req ClaimRequest) (*model.Lead, error) {
	if req.WorkerID == "" {
		return nil, fmt.Errorf("%w: worker_id", model.ErrMissingField)
	}

	var (
		lead  *model.Lead
		tries int
	)
	// millisecond precision survives both stores, so FindClaim can match it
	now := q.opts.Now().Truncate(time.Millisecond)
	err := q.do(ctx, "claim", func(ctx context.Context) error {
		tries++
		var err error
		if req.LeadID != "" {
			// already idempotent for the holder
			lead, err = q.leads.ClaimByID(ctx, req.LeadID, req.WorkerID, now)
			return err
		}
		if tries > 1 {
			lead, err = q.leads.FindClaim(ctx, req.WorkerID, now)
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		lead, err = q.leads.ClaimNext(ctx, req.WorkerID, req.CampaignID, now)
		return err
	})

	switch {
	case err == nil:
		q.opts.Metrics.LeadClaimed("claimed")
		slog.Info("lead claimed", "lead_id", lead.ID, "worker_id", req.WorkerID, "forced", req.LeadID != "")
		return lead, nil
	case errors.Is(err, repo.ErrNotFound) && req.LeadID == "":
		q.opts.Metrics.LeadClaimed("empty")
		slog.Debug("no eligible lead", "worker_id", req.WorkerID, "campaign_id", req.CampaignID)
		return nil, ErrNoLead
	case errors.Is(err, repo.ErrNotFound):
		q.opts.Metrics.LeadClaimed("empty")
		return nil, fmt.Errorf("lead %s: %w", req.LeadID, err)
	case errors.Is(err, repo.ErrLockHeld):
		q.opts.Metrics.LeadClaimed("conflict")
		return nil, fmt.Errorf("lead %s: %w", req.LeadID, err)
	default:
		q.opts.Metrics.LeadClaimed("error")
		return nil, fmt.Errorf("claim lead: %w", err)
	}
}

// Release returns the worker's lead to READY without recording an attempt.
// Releasing a lead the worker does not hold is a successful no-op.
func (q *Queue) Release(ctx context.Context, leadID, workerID string) (bool, error) {
	if leadID == "" || workerID == "" {
		return false, fmt.Errorf("%w: lead_id and worker_id", model.ErrMissingField)
	}

	var released bool
	err := q.do(ctx, "release", func(ctx context.Context) error {
		var err error
		released, err = q.leads.Release(ctx, leadID, workerID, q.opts.Now())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("release lead %s: %w", leadID, err)
	}

	q.opts.Metrics.LeadReleased(released)
	if released {
		slog.Info("lead released", "lead_id", leadID, "worker_id", workerID)
	} else {
		slog.Debug("release ignored, lead not held by worker", "lead_id", leadID, "worker_id", workerID)
	}
	return released, nil
}

type CompleteRequest struct {
	LeadID   string
	WorkerID string // optional; only used to detect lock-owner mismatches
	Outcome  model.Outcome
	Notes    string
	// Token makes the call safe to repeat. A fresh one is generated when
	// empty, which still covers retries inside a single call.
	Token string
}

// Complete applies the outcome transition. A lock owned by someone else (or
// no lock at all) does not block the transition; the mismatch is logged.
// Repeating a request with the same Token returns the lead unchanged.
func (q *Queue) Complete(ctx context.Context, req CompleteRequest) (*model.Lead, error) {
	if req.LeadID == "" {
		return nil, fmt.Errorf("%w: lead_id", model.ErrMissingField)
	}
	if _, err := model.ParseOutcome(string(req.Outcome)); err != nil {
		return nil, err
	}

	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}

	var (
		lead      *model.Lead
		prevOwner *string
		tries     int
	)
	now := q.opts.Now()
	c := model.CompletionFor(req.Outcome, req.Notes, now, q.opts.CallbackDelay)
	c.Token = token
	err := q.do(ctx, "complete", func(ctx context.Context) error {
		tries++
		var err error
		lead, prevOwner, err = q.leads.Complete(ctx, req.LeadID, c, now)
		return err
	})

	// A duplicate on a later try means an earlier try committed but its
	// reply was lost. The previous lock owner is unknown in that case.
	replayed := errors.Is(err, repo.ErrDuplicate)
	if replayed {
		err = q.do(ctx, "get", func(ctx context.Context) error {
			var err error
			lead, err = q.leads.Get(ctx, req.LeadID)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("complete lead %s: %w", req.LeadID, err)
	}
	if replayed && tries == 1 {
		slog.Info("completion already applied", "lead_id", req.LeadID, "token", token)
		return lead, nil
	}
	q.opts.Metrics.LeadCompleted(string(req.Outcome))

	var openAttempt bool
	err = q.do(ctx, "record_outcome", func(ctx context.Context) error {
		var err error
		openAttempt, err = q.attempts.RecordOutcome(ctx, req.LeadID, req.Outcome, now)
		return err
	})
	if err != nil {
		// The lead transition is already durable.
		slog.Error("record attempt outcome", "lead_id", req.LeadID, "error", err)
	}

	if !replayed && ownerMismatch(prevOwner, req.WorkerID) {
		slog.Warn("lead completed without matching lock owner",
			"lead_id", req.LeadID,
			"worker_id", req.WorkerID,
			"locked_by", derefOr(prevOwner, ""),
			"open_attempt", openAttempt,
		)
	}

	slog.Info("lead completed", "lead_id", lead.ID, "outcome", req.Outcome, "status", lead.Status, "attempts", lead.Attempts)

	ev := events.LeadCompleted{
		LeadID:     lead.ID,
		WorkerID:   req.WorkerID,
		Outcome:    string(req.Outcome),
		Status:     string(lead.Status),
		Attempts:   lead.Attempts,
		CampaignID: lead.CampaignID,
		OccurredAt: now,
	}
	if err := q.opts.Events.PublishLeadCompleted(ctx, ev); err != nil {
		slog.Warn("publish lead completed", "lead_id", lead.ID, "error", err)
	}
	return lead, nil
}

// SweepStale releases every lock taken more than StaleAfter ago.
func (q *Queue) SweepStale(ctx context.Context) (int64, error) {
	now := q.opts.Now()
	cutoff := now.Add(-q.opts.StaleAfter)

	var n int64
	err := q.do(ctx, "sweep_stale", func(ctx context.Context) error {
		var err error
		n, err = q.leads.ReleaseStale(ctx, cutoff, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks: %w", err)
	}

	q.opts.Metrics.StaleLocksReleased(n)
	if n > 0 {
		slog.Info("released stale lead locks", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (q *Queue) Get(ctx context.Context, leadID string) (*model.Lead, error) {
	return q.leads.Get(ctx, leadID)
}

func (q *Queue) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, q.opts.Retry, "dispatch."+op, repo.IsTransient, fn)
}

func ownerMismatch(prevOwner *string, workerID string) bool {
	if prevOwner == nil {
		return true
	}
	return workerID != "" && *prevOwner != workerID
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
