package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/leadline/internal/cache"
	"github.com/LeventeLantos/leadline/internal/client"
	"github.com/LeventeLantos/leadline/internal/events"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/rotation"
)

type CarrierClient interface {
	Place(ctx context.Context, from, to string, channel model.Channel, clientRef string) (carrierRef string, err error)
}

type NumberSelector interface {
	Select(ctx context.Context, req rotation.SelectRequest) (*rotation.Selection, error)
	ReportFailure(ctx context.Context, numberID string, class model.FailureClass) (bool, error)
}

type LeadReader interface {
	Get(ctx context.Context, leadID string) (*model.Lead, error)
}

// Dialer runs one outbound attempt: pick a caller number, record the
// attempt, then hand it to the carrier. Every store write commits before
// the carrier is contacted.
type Dialer struct {
	leads    LeadReader
	attempts repo.AttemptRepository
	selector NumberSelector
	carrier  CarrierClient
	cache    cache.AttemptCache
	events   events.Publisher
	now      func() time.Time
}

// NewDialer builds a dialer. A nil carrier records attempts without placing
// them, for reps dialing from their own handset.
func NewDialer(leads LeadReader, attempts repo.AttemptRepository, selector NumberSelector, carrier CarrierClient) *Dialer {
	return &Dialer{
		leads:    leads,
		attempts: attempts,
		selector: selector,
		carrier:  carrier,
		cache:    cache.Nop{},
		events:   events.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dialer) WithCache(c cache.AttemptCache) *Dialer {
	d.cache = c
	return d
}

func (d *Dialer) WithEvents(p events.Publisher) *Dialer {
	d.events = p
	return d
}

func (d *Dialer) WithClock(now func() time.Time) *Dialer {
	d.now = now
	return d
}

type DialRequest struct {
	WorkerID  string
	LeadID    string
	Channel   model.Channel
	RegionTag string
}

type DialResult struct {
	Attempt    *model.Attempt      `json:"attempt"`
	Selection  *rotation.Selection `json:"selection"`
	Placed     bool                `json:"placed"`
	CooledDown bool                `json:"cooledDown"`
}

// Dial places one attempt for a lead the worker holds. When the carrier
// rejects the attempt the result is still returned alongside the error.
func (d *Dialer) Dial(ctx context.Context, req DialRequest) (*DialResult, error) {
	if req.WorkerID == "" || req.LeadID == "" {
		return nil, fmt.Errorf("%w: worker_id and lead_id", model.ErrMissingField)
	}
	channel, err := model.ParseChannel(string(req.Channel))
	if err != nil {
		return nil, err
	}

	lead, err := d.leads.Get(ctx, req.LeadID)
	if err != nil {
		return nil, fmt.Errorf("load lead %s: %w", req.LeadID, err)
	}
	if !lead.LockedByWorker(req.WorkerID) {
		return nil, fmt.Errorf("lead %s not held by %s: %w", req.LeadID, req.WorkerID, repo.ErrLockHeld)
	}

	sel, err := d.selector.Select(ctx, rotation.SelectRequest{
		TargetNumber:     lead.Phone,
		PreferredOwnerID: req.WorkerID,
		Channel:          channel,
		RegionTag:        req.RegionTag,
	})
	if err != nil {
		return nil, err
	}

	now := d.now()
	attempt := &model.Attempt{
		ID:         uuid.NewString(),
		LeadID:     lead.ID,
		WorkerID:   req.WorkerID,
		NumberID:   sel.Entry.ID,
		FromNumber: sel.PhoneNumber,
		ToNumber:   lead.Phone,
		Channel:    channel,
		Direction:  model.Outbound,
		Status:     model.AttemptInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.attempts.Insert(ctx, attempt); err != nil {
		return nil, err
	}

	res := &DialResult{Attempt: attempt, Selection: sel}
	if d.carrier == nil {
		slog.Info("attempt recorded for manual dialing", "attempt_id", attempt.ID, "lead_id", lead.ID, "number_id", sel.Entry.ID)
		return res, nil
	}

	ref, placeErr := d.carrier.Place(ctx, sel.PhoneNumber, lead.Phone, channel, attempt.ID)
	if placeErr != nil {
		class := client.ClassOf(placeErr)
		slog.Warn("carrier rejected attempt", "attempt_id", attempt.ID, "number_id", sel.Entry.ID, "class", class, "error", placeErr)

		finished, cooled, err := d.finish(ctx, attempt.ID, model.AttemptFailed, &class, "")
		if err != nil {
			return nil, errors.Join(placeErr, err)
		}
		res.Attempt = finished
		res.CooledDown = cooled
		return res, fmt.Errorf("place %s: %w", channel.Method(), placeErr)
	}

	res.Placed = true
	attempt.CarrierRef = ref
	if err := d.attempts.SetCarrierRef(ctx, attempt.ID, ref, now); err != nil {
		slog.Error("store carrier ref", "attempt_id", attempt.ID, "carrier_ref", ref, "error", err)
	}
	if err := d.cache.StoreAttempt(ctx, ref, cache.AttemptRef{
		AttemptID: attempt.ID,
		LeadID:    lead.ID,
		NumberID:  sel.Entry.ID,
		PlacedAt:  now,
	}); err != nil {
		slog.Warn("cache attempt", "attempt_id", attempt.ID, "carrier_ref", ref, "error", err)
	}

	slog.Info("attempt placed", "attempt_id", attempt.ID, "lead_id", lead.ID, "number_id", sel.Entry.ID, "carrier_ref", ref)
	return res, nil
}

type StatusReport struct {
	CarrierRef   string `json:"ref"`
	AttemptID    string `json:"clientRef"`
	Status       string `json:"status"`
	FailureClass string `json:"failureClass,omitempty"`
}

// HandleStatus applies an asynchronous carrier report. Repeated reports for
// a finished attempt are accepted and change nothing.
func (d *Dialer) HandleStatus(ctx context.Context, r StatusReport) (*model.Attempt, error) {
	attemptID, err := d.resolveAttempt(ctx, r)
	if err != nil {
		return nil, err
	}

	var (
		status model.AttemptStatus
		class  *model.FailureClass
	)
	switch model.AttemptStatus(r.Status) {
	case model.AttemptCompleted:
		status = model.AttemptCompleted
	case model.AttemptFailed:
		status = model.AttemptFailed
		fc := model.FailureTransient
		if r.FailureClass != "" {
			if fc, err = model.ParseFailureClass(r.FailureClass); err != nil {
				return nil, err
			}
		}
		class = &fc
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidAttemptStatus, r.Status)
	}

	a, _, err := d.finish(ctx, attemptID, status, class, r.CarrierRef)
	if errors.Is(err, repo.ErrTerminal) {
		slog.Debug("duplicate carrier status ignored", "attempt_id", attemptID, "status", r.Status)
		return d.attempts.Get(ctx, attemptID)
	}
	return a, err
}

func (d *Dialer) resolveAttempt(ctx context.Context, r StatusReport) (string, error) {
	if r.AttemptID != "" {
		return r.AttemptID, nil
	}
	if r.CarrierRef == "" {
		return "", fmt.Errorf("%w: ref or clientRef", model.ErrMissingField)
	}

	ref, err := d.cache.LoadAttempt(ctx, r.CarrierRef)
	if err == nil {
		return ref.AttemptID, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("load cached attempt", "carrier_ref", r.CarrierRef, "error", err)
	}

	// the cache is optional and expires; the attempt row is authoritative
	a, err := d.attempts.FindByCarrierRef(ctx, r.CarrierRef)
	if err != nil {
		return "", fmt.Errorf("attempt for carrier ref %s: %w", r.CarrierRef, err)
	}
	return a.ID, nil
}

// finish closes the attempt, feeds throttling back into the pool and
// publishes the result.
func (d *Dialer) finish(ctx context.Context, attemptID string, status model.AttemptStatus, class *model.FailureClass, carrierRef string) (*model.Attempt, bool, error) {
	now := d.now()
	a, err := d.attempts.Finish(ctx, attemptID, status, class, carrierRef, now)
	if err != nil {
		return nil, false, err
	}

	var cooled bool
	if class != nil {
		cooled, err = d.selector.ReportFailure(ctx, a.NumberID, *class)
		if err != nil {
			slog.Error("report number failure", "number_id", a.NumberID, "class", *class, "error", err)
		}
	}

	ev := events.AttemptFinished{
		AttemptID:  a.ID,
		LeadID:     a.LeadID,
		WorkerID:   a.WorkerID,
		NumberID:   a.NumberID,
		Channel:    string(a.Channel),
		Status:     string(a.Status),
		OccurredAt: now,
	}
	if class != nil {
		ev.FailureClass = string(*class)
	}
	if err := d.events.PublishAttemptFinished(ctx, ev); err != nil {
		slog.Warn("publish attempt finished", "attempt_id", a.ID, "error", err)
	}
	return a, cooled, nil
}
