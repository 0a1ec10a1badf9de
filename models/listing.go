package models

import (
	"context"
	"time"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusDraft   ListingStatus = "draft"
	ListingStatusActive  ListingStatus = "active"
	ListingStatusExpired ListingStatus = "expired"
)

// Valid reports whether s is a known status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusDraft, ListingStatusActive, ListingStatusExpired:
		return true
	}

	return false
}

// CanTransitionTo reports whether s -> to is an allowed edge.
// Only draft -> active and active -> expired exist; expired is terminal.
func (s ListingStatus) CanTransitionTo(to ListingStatus) bool {
	switch s {
	case ListingStatusDraft:
		return to == ListingStatusActive
	case ListingStatusActive:
		return to == ListingStatusExpired
	default:
		return false
	}
}

// PaymentStatus tracks the payment side of a listing.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PostType distinguishes job postings from salon-for-sale postings.
type PostType string

const (
	PostTypeJob   PostType = "job"
	PostTypeSalon PostType = "salon"
)

// Valid reports whether p is a listing post type.
func (p PostType) Valid() bool {
	return p == PostTypeJob || p == PostTypeSalon
}

// PricingTier selects listing visibility, duration and price.
type PricingTier string

const (
	TierFree    PricingTier = "free"
	TierGold    PricingTier = "gold"
	TierPremium PricingTier = "premium"
	TierDiamond PricingTier = "diamond"
)

// TierPolicy holds the fixed terms of a pricing tier.
type TierPolicy struct {
	Duration          time.Duration
	CreditCost        int64
	AutoRenewEligible bool
}

const day = 24 * time.Hour

var tierPolicies = map[PricingTier]TierPolicy{
	TierFree:    {Duration: 30 * day, CreditCost: 0, AutoRenewEligible: false},
	TierGold:    {Duration: 30 * day, CreditCost: 1, AutoRenewEligible: true},
	TierPremium: {Duration: 90 * day, CreditCost: 3, AutoRenewEligible: true},
	TierDiamond: {Duration: 365 * day, CreditCost: 10, AutoRenewEligible: true},
}

// Policy returns the terms for t. ok is false for unknown tiers.
func (t PricingTier) Policy() (TierPolicy, bool) {
	p, ok := tierPolicies[t]
	return p, ok
}

// Valid reports whether t is a known tier.
func (t PricingTier) Valid() bool {
	_, ok := tierPolicies[t]
	return ok
}

// IsPaid reports whether activating a listing on t requires payment.
func (t PricingTier) IsPaid() bool {
	p, ok := tierPolicies[t]
	return ok && p.CreditCost > 0
}

// Listing is a job posting or a salon-for-sale posting.
type Listing struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	PostType        PostType      `json:"post_type"`
	Title           string        `json:"title"`
	Status          ListingStatus `json:"status"`
	PricingTier     PricingTier   `json:"pricing_tier"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	AutoRenew       bool          `json:"auto_renew"`
	StripeSessionID string        `json:"stripe_session_id,omitempty"`
	ActivatedAt     *time.Time    `json:"activated_at,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ExpiryFrom returns the expiry of l if it were activated at activatedAt.
func (l Listing) ExpiryFrom(activatedAt time.Time) time.Time {
	p, _ := l.PricingTier.Policy()
	return activatedAt.Add(p.Duration)
}

// ListingRepository persists listings. Status changes are predicate updates
// so concurrent writers cannot move a listing along an invalid edge.
type ListingRepository interface {
	Create(ctx context.Context, listing *Listing) error
	Get(ctx context.Context, id string) (Listing, error)
	// Activate moves a draft listing to active. It reports false when the
	// listing is not a draft anymore.
	Activate(ctx context.Context, id string, activatedAt, expiresAt time.Time) (bool, error)
	// MarkPaymentFailed flags the payment of a pending draft as failed. It
	// applies only while sessionID is still the listing's current checkout.
	MarkPaymentFailed(ctx context.Context, id, sessionID string) (bool, error)
	SetCheckoutSession(ctx context.Context, id, sessionID string) error
	// ExpireBefore flips every active listing with expires_at < now to expired.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	// ExpiringBetween lists active auto-renew listings expiring in [from, to].
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]Listing, error)
}
