package model

import (
	"errors"
	"fmt"
	"time"
)

type LeadStatus string

const (
	Ready     LeadStatus = "READY"
	Locked    LeadStatus = "LOCKED"
	Callback  LeadStatus = "CALLBACK"
	Done      LeadStatus = "DONE"
	BadNumber LeadStatus = "BAD_NUMBER"
)

// Terminal reports whether no further transition leaves the status.
func (s LeadStatus) Terminal() bool {
	return s == Done || s == BadNumber
}

func (s LeadStatus) Valid() bool {
	switch s {
	case Ready, Locked, Callback, Done, BadNumber:
		return true
	}
	return false
}

type Outcome string

const (
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeInterested    Outcome = "interested"
	OutcomeBookedDemo    Outcome = "booked_demo"
	OutcomeCallback      Outcome = "callback"
	OutcomeBadNumber     Outcome = "bad_number"
)

var (
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrMissingField   = errors.New("missing required field")
)

func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(raw)
	switch o {
	case OutcomeNoAnswer, OutcomeVoicemail, OutcomeNotInterested, OutcomeInterested,
		OutcomeBookedDemo, OutcomeCallback, OutcomeBadNumber:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
}

// NextStatus is the status a locked lead moves to when completed with o.
func (o Outcome) NextStatus() LeadStatus {
	switch o {
	case OutcomeBadNumber:
		return BadNumber
	case OutcomeCallback:
		return Callback
	default:
		return Done
	}
}

type Lead struct {
	ID           string     `json:"id"`
	Phone        string     `json:"phone"`
	Name         string     `json:"name,omitempty"`
	Organization string     `json:"organization,omitempty"`
	CampaignID   string     `json:"campaignId,omitempty"`
	Status       LeadStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	Priority     int        `json:"priority"`
	LockedBy     *string    `json:"lockedBy,omitempty"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	NextCallAt   *time.Time `json:"nextCallAt,omitempty"`
	LastOutcome  *Outcome   `json:"lastOutcome,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Claimable reports whether the lead may be handed out by a scan at now.
func (l *Lead) Claimable(now time.Time) bool {
	if l.LockedBy != nil {
		return false
	}
	if l.Status != Ready && l.Status != Callback {
		return false
	}
	return l.NextCallAt == nil || !l.NextCallAt.After(now)
}

// LockedByWorker reports whether workerID currently holds the lead.
func (l *Lead) LockedByWorker(workerID string) bool {
	return l.Status == Locked && l.LockedBy != nil && *l.LockedBy == workerID
}

// Completion is the set of column values a complete transition writes.
type Completion struct {
	Status     LeadStatus
	Outcome    Outcome
	Notes      string
	NextCallAt *time.Time
	// Token identifies one logical completion. Applying the same token twice
	// is detected by the store instead of counting a second attempt.
	Token string
}

// CompletionFor builds the transition for outcome o decided at now.
// callbackDelay only applies to the callback outcome.
func CompletionFor(o Outcome, notes string, now time.Time, callbackDelay time.Duration) Completion {
	c := Completion{Status: o.NextStatus(), Outcome: o, Notes: notes}
	if c.Status == Callback {
		next := now.Add(callbackDelay)
		c.NextCallAt = &next
	}
	return c
}
