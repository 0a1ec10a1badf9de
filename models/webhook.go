package models

import (
	"context"
	"time"
)

// WebhookProvider namespaces idempotency keys.
type WebhookProvider string

const (
	ProviderStripe WebhookProvider = "stripe"
	ProviderTwilio WebhookProvider = "twilio"
	// ProviderStripeSession keys fulfillment by checkout session, shared by
	// the webhook and the reconcile endpoint.
	ProviderStripeSession WebhookProvider = "stripe-session"
)

// WebhookEvent records that a provider event was applied.
type WebhookEvent struct {
	Provider    WebhookProvider
	EventID     string
	EventType   string
	Payload     []byte
	ProcessedAt time.Time
}

// WebhookRepository holds the idempotency claims.
type WebhookRepository interface {
	// Claim inserts the event key. It reports false when the key exists.
	Claim(ctx context.Context, event *WebhookEvent) (bool, error)
	IsProcessed(ctx context.Context, provider WebhookProvider, eventID string) (bool, error)
}

// Store groups the repositories and gives them a shared transaction.
type Store interface {
	Listings() ListingRepository
	Ledger() LedgerRepository
	Webhooks() WebhookRepository
	// WithinTx runs fn with a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
