package models

import "time"

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// CheckoutSession is the part of a Stripe checkout session callers need.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// request for creating a listing draft
type CreateListingRequest struct {
	PostType    PostType    `json:"post_type"`
	Title       string      `json:"title"`
	PricingTier PricingTier `json:"pricing_tier"`
	AutoRenew   bool        `json:"auto_renew"`
}

// request for publishing a draft
type PublishListingRequest struct {
	Method string `json:"method"`
}

type PublishListingResponse struct {
	Listing     Listing `json:"listing"`
	CheckoutURL string  `json:"checkout_url,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	Balance     *int64  `json:"balance,omitempty"`
}

// response for credits balance
type CreditBalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type CreditCheckoutRequest struct {
	PackageID string `json:"package_id"`
}

// request for reconciling a session
type ReconcileRequest struct {
	SessionID string `json:"session_id"`
}

type ReconcileResponse struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

// response for the lifecycle sweep
type SweepResponse struct {
	Expired      int64     `json:"expired"`
	ExpiringSoon int       `json:"expiring_soon"`
	RanAt        time.Time `json:"ran_at"`
}
