// Package events publishes domain events to the message bus. Publishing
// happens after the database commit and a failure never undoes a committed
// transition.
package events

import (
	"context"
	"time"
)

const (
	SubjectListingActivated  = "listings.activated"
	SubjectListingsExpired   = "listings.expired"
	SubjectRenewalCandidates = "listings.renewal_candidates"
	SubjectCreditsPurchased  = "credits.purchased"
	SubjectSMSInbound        = "sms.inbound"
)

// Publisher sends JSON-encoded messages to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, message any) error
	Close() error
}

type ListingActivated struct {
	ListingID   string    `json:"listing_id"`
	UserID      string    `json:"user_id"`
	PricingTier string    `json:"pricing_tier"`
	Method      string    `json:"method"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ListingsExpired struct {
	Count int64     `json:"count"`
	At    time.Time `json:"at"`
}

type RenewalCandidate struct {
	ListingID   string    `json:"listing_id"`
	UserID      string    `json:"user_id"`
	PricingTier string    `json:"pricing_tier"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type RenewalCandidates struct {
	HorizonDays int                `json:"horizon_days"`
	Listings    []RenewalCandidate `json:"listings"`
	At          time.Time          `json:"at"`
}

type CreditsPurchased struct {
	UserID    string `json:"user_id"`
	Credits   int64  `json:"credits"`
	Balance   int64  `json:"balance"`
	SessionID string `json:"session_id"`
}

type SMSInbound struct {
	MessageSID string `json:"message_sid"`
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	Intent     string `json:"intent"`
}

type noop struct{}

// NewNoop is used when no bus is configured.
func NewNoop() Publisher { return noop{} }

func (noop) Publish(context.Context, string, any) error { return nil }

func (noop) Close() error { return nil }
