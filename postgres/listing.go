package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/emviapp/emviapp-backend/models"
)

type listingRepository struct {
	q querier
}

const listingColumns = `id, user_id, post_type, title, status, pricing_tier, payment_status, auto_renew,
	COALESCE(stripe_session_id, ''), activated_at, expires_at, created_at, updated_at`

func scanListing(row pgx.Row) (models.Listing, error) {
	var l models.Listing

	err := row.Scan(
		&l.ID, &l.UserID, &l.PostType, &l.Title, &l.Status, &l.PricingTier, &l.PaymentStatus, &l.AutoRenew,
		&l.StripeSessionID, &l.ActivatedAt, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt,
	)

	return l, err
}

func (r *listingRepository) Create(ctx context.Context, l *models.Listing) error {
	const q = `INSERT INTO listings
		(id, user_id, post_type, title, status, pricing_tier, payment_status, auto_renew, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}

	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}

	_, err := r.q.Exec(ctx, q,
		l.ID, l.UserID, l.PostType, l.Title, l.Status, l.PricingTier, l.PaymentStatus, l.AutoRenew,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}

	return nil
}

func (r *listingRepository) Get(ctx context.Context, id string) (models.Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Listing{}, models.ErrNotFound
		}

		return models.Listing{}, fmt.Errorf("failed to get listing: %w", err)
	}

	return l, nil
}

func (r *listingRepository) Activate(ctx context.Context, id string, activatedAt, expiresAt time.Time) (bool, error) {
	const q = `UPDATE listings
		SET status = 'active', payment_status = 'completed', activated_at = $2, expires_at = $3, updated_at = $2
		WHERE id = $1 AND status = 'draft'`

	tag, err := r.q.Exec(ctx, q, id, activatedAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to activate listing: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *listingRepository) MarkPaymentFailed(ctx context.Context, id, sessionID string) (bool, error) {
	const q = `UPDATE listings
		SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND stripe_session_id = $2 AND status = 'draft' AND payment_status = 'pending'`

	tag, err := r.q.Exec(ctx, q, id, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SetCheckoutSession also resets a failed payment back to pending.
func (r *listingRepository) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	const q = `UPDATE listings
		SET stripe_session_id = $2, payment_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'draft'`

	tag, err := r.q.Exec(ctx, q, id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to store checkout session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

func (r *listingRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE listings
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at < $1`

	tag, err := r.q.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire listings: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *listingRepository) ExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM listings
		WHERE status = 'active' AND auto_renew AND expires_at BETWEEN $1 AND $2
		ORDER BY expires_at`

	rows, err := r.q.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query renewal candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Listing

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, l)
	}

	return out, rows.Err()
}
