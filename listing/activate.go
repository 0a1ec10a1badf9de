package listing

import (
	"context"
	"time"

	"github.com/emviapp/emviapp-backend/models"
)

// ActivateDraft moves listing id from draft to active at now, with expiry
// now + tier duration. applied is false when the listing was no longer a
// draft; the returned listing is then the current row.
func ActivateDraft(ctx context.Context, repo models.ListingRepository, id string, now time.Time) (l models.Listing, applied bool, err error) {
	l, err = repo.Get(ctx, id)
	if err != nil {
		return models.Listing{}, false, err
	}

	if l.Status != models.ListingStatusDraft {
		return l, false, nil
	}

	expiresAt := l.ExpiryFrom(now)

	applied, err = repo.Activate(ctx, id, now, expiresAt)
	if err != nil || !applied {
		return l, false, err
	}

	l.Status = models.ListingStatusActive
	l.PaymentStatus = models.PaymentStatusCompleted
	l.ActivatedAt = &now
	l.ExpiresAt = &expiresAt
	l.UpdatedAt = now

	return l, true, nil
}
