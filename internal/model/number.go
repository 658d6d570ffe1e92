package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelCall Channel = "CALL"
	ChannelSMS  Channel = "SMS"
)

var ErrInvalidChannel = errors.New("invalid channel")

func ParseChannel(raw string) (Channel, error) {
	switch Channel(strings.ToUpper(raw)) {
	case ChannelCall:
		return ChannelCall, nil
	case ChannelSMS:
		return ChannelSMS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
}

// Method is the carrier operation used for the channel.
func (c Channel) Method() string {
	if c == ChannelSMS {
		return "sms"
	}
	return "call"
}

// FailureClass is the carrier's classification of a failed attempt.
type FailureClass string

const (
	FailureThrottled   FailureClass = "throttled"
	FailureBlocked     FailureClass = "blocked"
	FailureUnreachable FailureClass = "unreachable"
	FailureTransient   FailureClass = "transient"
)

var ErrInvalidFailureClass = errors.New("invalid failure class")

func ParseFailureClass(raw string) (FailureClass, error) {
	fc := FailureClass(strings.ToLower(raw))
	switch fc {
	case FailureThrottled, FailureBlocked, FailureUnreachable, FailureTransient:
		return fc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFailureClass, raw)
}

// Throttling reports whether the carrier is flagging the caller identity
// itself rather than the recipient.
func (f FailureClass) Throttling() bool {
	return f == FailureThrottled || f == FailureBlocked
}

type NumberPoolEntry struct {
	ID            string     `json:"id"`
	PhoneNumber   string     `json:"phoneNumber"`
	OwnerID       *string    `json:"ownerId,omitempty"`
	IsActive      bool       `json:"isActive"`
	DailyCount    int        `json:"dailyCount"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	RegionTag     string     `json:"regionTag,omitempty"`
	Type          string     `json:"type,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Eligible re-evaluates selectability at now against dailyCap.
func (n *NumberPoolEntry) Eligible(now time.Time, dailyCap int) bool {
	if !n.IsActive {
		return false
	}
	if n.CooldownUntil != nil && n.CooldownUntil.After(now) {
		return false
	}
	return n.DailyCount < dailyCap
}

func (n *NumberPoolEntry) Shared() bool {
	return n.OwnerID == nil
}
