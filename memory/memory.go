// Package memory is an in-process models.Store. It serialises all access
// behind one mutex and implements WithinTx by snapshotting state, which is
// enough for tests and local runs but not for multiple processes.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/emviapp/emviapp-backend/models"
)

type eventKey struct {
	provider models.WebhookProvider
	id       string
}

type state struct {
	listings map[string]models.Listing
	balances map[string]int64
	journal  []models.CreditTransaction
	events   map[eventKey]models.WebhookEvent
}

func (s *state) clone() *state {
	return &state{
		listings: maps.Clone(s.listings),
		balances: maps.Clone(s.balances),
		journal:  append([]models.CreditTransaction(nil), s.journal...),
		events:   maps.Clone(s.events),
	}
}

// Store implements models.Store.
type Store struct {
	mu     *sync.Mutex
	st     *state
	locked bool
	now    func() time.Time
}

var _ models.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		st: &state{
			listings: make(map[string]models.Listing),
			balances: make(map[string]int64),
			events:   make(map[eventKey]models.WebhookEvent),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Listings() models.ListingRepository { return &listingRepo{s: s} }

func (s *Store) Ledger() models.LedgerRepository { return &ledgerRepo{s: s} }

func (s *Store) Webhooks() models.WebhookRepository { return &webhookRepo{s: s} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	if s.locked {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, locked: true, now: s.now}

	if err := fn(ctx, tx); err != nil {
		*s.st = *snapshot
		return err
	}

	return nil
}

func (s *Store) run(fn func(st *state) error) error {
	if s.locked {
		return fn(s.st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.st)
}

type listingRepo struct{ s *Store }

func (r *listingRepo) Create(_ context.Context, l *models.Listing) error {
	return r.s.run(func(st *state) error {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = r.s.now()
		}

		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = l.CreatedAt
		}

		st.listings[l.ID] = *l

		return nil
	})
}

func (r *listingRepo) Get(_ context.Context, id string) (models.Listing, error) {
	var l models.Listing

	err := r.s.run(func(st *state) error {
		var ok bool
		if l, ok = st.listings[id]; !ok {
			return models.ErrNotFound
		}

		return nil
	})

	return l, err
}

func (r *listingRepo) Activate(_ context.Context, id string, activatedAt, expiresAt time.Time) (bool, error) {
	var applied bool

	err := r.s.run(func(st *state) error {
		l, ok := st.listings[id]
		if !ok || l.Status != models.ListingStatusDraft {
			return nil
		}

		l.Status = models.ListingStatusActive
		l.PaymentStatus = models.PaymentStatusCompleted
		l.ActivatedAt = &activatedAt
		l.ExpiresAt = &expiresAt
		l.UpdatedAt = activatedAt
		st.listings[id] = l
		applied = true

		return nil
	})

	return applied, err
}

func (r *listingRepo) MarkPaymentFailed(_ context.Context, id, sessionID string) (bool, error) {
	var applied bool

	err := r.s.run(func(st *state) error {
		l, ok := st.listings[id]
		if !ok || l.StripeSessionID != sessionID {
			return nil
		}

		if l.Status != models.ListingStatusDraft || l.PaymentStatus != models.PaymentStatusPending {
			return nil
		}

		l.PaymentStatus = models.PaymentStatusFailed
		l.UpdatedAt = r.s.now()
		st.listings[id] = l
		applied = true

		return nil
	})

	return applied, err
}

func (r *listingRepo) SetCheckoutSession(_ context.Context, id, sessionID string) error {
	return r.s.run(func(st *state) error {
		l, ok := st.listings[id]
		if !ok || l.Status != models.ListingStatusDraft {
			return models.ErrInvalidTransition
		}

		l.StripeSessionID = sessionID
		l.PaymentStatus = models.PaymentStatusPending
		l.UpdatedAt = r.s.now()
		st.listings[id] = l

		return nil
	})
}

func (r *listingRepo) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	var n int64

	err := r.s.run(func(st *state) error {
		for id, l := range st.listings {
			if l.Status == models.ListingStatusActive && l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
				l.Status = models.ListingStatusExpired
				l.UpdatedAt = now
				st.listings[id] = l
				n++
			}
		}

		return nil
	})

	return n, err
}

func (r *listingRepo) ExpiringBetween(_ context.Context, from, to time.Time) ([]models.Listing, error) {
	var out []models.Listing

	err := r.s.run(func(st *state) error {
		for _, l := range st.listings {
			if l.Status != models.ListingStatusActive || !l.AutoRenew || l.ExpiresAt == nil {
				continue
			}

			if l.ExpiresAt.Before(from) || l.ExpiresAt.After(to) {
				continue
			}

			out = append(out, l)
		}

		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })

	return out, err
}

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Credit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	var balance int64

	err := r.s.run(func(st *state) error {
		st.balances[userID] += amount
		balance = st.balances[userID]
		st.journal = append(st.journal, models.CreditTransaction{
			ID: int64(len(st.journal) + 1), UserID: userID, Kind: models.TransactionPurchase,
			Amount: amount, BalanceAfter: balance, Reference: reference, CreatedAt: r.s.now(),
		})

		return nil
	})

	return balance, err
}

func (r *ledgerRepo) Debit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	var balance int64

	err := r.s.run(func(st *state) error {
		if st.balances[userID] < amount {
			return models.ErrInsufficientCredits
		}

		st.balances[userID] -= amount
		balance = st.balances[userID]
		st.journal = append(st.journal, models.CreditTransaction{
			ID: int64(len(st.journal) + 1), UserID: userID, Kind: models.TransactionDebit,
			Amount: amount, BalanceAfter: balance, Reference: reference, CreatedAt: r.s.now(),
		})

		return nil
	})

	return balance, err
}

func (r *ledgerRepo) Balance(_ context.Context, userID string) (int64, error) {
	var balance int64

	err := r.s.run(func(st *state) error {
		balance = st.balances[userID]
		return nil
	})

	return balance, err
}

func (r *ledgerRepo) Transactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	var out []models.CreditTransaction

	err := r.s.run(func(st *state) error {
		for i := len(st.journal) - 1; i >= 0; i-- {
			if st.journal[i].UserID != userID {
				continue
			}

			out = append(out, st.journal[i])

			if limit > 0 && len(out) == limit {
				break
			}
		}

		return nil
	})

	return out, err
}

type webhookRepo struct{ s *Store }

func (r *webhookRepo) Claim(_ context.Context, ev *models.WebhookEvent) (bool, error) {
	var claimed bool

	err := r.s.run(func(st *state) error {
		key := eventKey{provider: ev.Provider, id: ev.EventID}
		if _, ok := st.events[key]; ok {
			return nil
		}

		if ev.ProcessedAt.IsZero() {
			ev.ProcessedAt = r.s.now()
		}

		st.events[key] = *ev
		claimed = true

		return nil
	})

	return claimed, err
}

func (r *webhookRepo) IsProcessed(_ context.Context, provider models.WebhookProvider, eventID string) (bool, error) {
	var ok bool

	err := r.s.run(func(st *state) error {
		_, ok = st.events[eventKey{provider: provider, id: eventID}]
		return nil
	})

	return ok, err
}
