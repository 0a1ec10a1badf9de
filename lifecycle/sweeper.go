// Package lifecycle expires listings past their expiry and reports the ones
// due for auto-renewal.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/tlmt"
)

const DefaultHorizonDays = 3

// MaxHorizonDays bounds the renewal window; larger values overflow
// time.Duration.
const MaxHorizonDays = 3650

// Settings is satisfied by *config.Service.
type Settings interface {
	GetInt(ctx context.Context, key string, defaultValue int) (int, error)
}

type Result struct {
	Expired      int64            `json:"expired"`
	ExpiringSoon int              `json:"expiring_soon"`
	Candidates   []models.Listing `json:"-"`
	RanAt        time.Time        `json:"ran_at"`
}

type Sweeper struct {
	store     models.Store
	settings  Settings
	publisher events.Publisher
	telemetry tlmt.Telemetry
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewSweeper(
	store models.Store,
	settings Settings,
	publisher events.Publisher,
	telemetry tlmt.Telemetry,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		store:     store,
		settings:  settings,
		publisher: publisher,
		telemetry: telemetry,
		metrics:   m,
		logger:    logger.Named("sweeper"),
	}
}

// SweepExpired flips active listings with expires_at < now to expired.
// Running it twice with the same now changes nothing the second time.
func (s *Sweeper) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.Listings().ExpireBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}

	return n, nil
}

// FindRenewalCandidates lists active auto-renew listings expiring within
// horizonDays of now. Tiers without auto-renew are left out. Read-only.
func (s *Sweeper) FindRenewalCandidates(ctx context.Context, now time.Time, horizonDays int) ([]models.Listing, error) {
	if horizonDays < 0 {
		return nil, fmt.Errorf("%w: horizon must not be negative", models.ErrInvalidInput)
	}

	horizonDays = min(horizonDays, MaxHorizonDays)

	listings, err := s.store.Listings().ExpiringBetween(ctx, now, now.Add(time.Duration(horizonDays)*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("find renewal candidates: %w", err)
	}

	out := listings[:0]

	for _, l := range listings {
		if p, ok := l.PricingTier.Policy(); ok && p.AutoRenewEligible {
			out = append(out, l)
		}
	}

	return out, nil
}

// Run expires overdue listings, collects renewal candidates and publishes
// both. A failure aborts the run; the next run repeats it safely.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	horizon := DefaultHorizonDays
	if s.settings != nil {
		h, err := s.settings.GetInt(ctx, "renewal_horizon_days", DefaultHorizonDays)
		if err != nil {
			s.logger.Warn("falling back to default renewal horizon", zap.Error(err))
		} else {
			horizon = h
		}

		if horizon < 0 || horizon > MaxHorizonDays {
			s.logger.Warn("renewal horizon out of range, clamping", zap.Int("configured", horizon))
			horizon = max(0, min(horizon, MaxHorizonDays))
		}
	}

	expired, err := s.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return Result{}, err
	}

	candidates, err := s.FindRenewalCandidates(ctx, now, horizon)
	if err != nil {
		s.logger.Error("renewal scan failed", zap.Int64("expired", expired), zap.Error(err))
		return Result{}, err
	}

	res := Result{Expired: expired, ExpiringSoon: len(candidates), Candidates: candidates, RanAt: now}

	s.metrics.ListingsExpired.Add(float64(expired))
	s.metrics.RenewalCandidates.Set(float64(len(candidates)))

	s.publish(ctx, res, horizon)

	s.logger.Info("sweep finished",
		zap.Int64("expired", res.Expired),
		zap.Int("expiring_soon", res.ExpiringSoon),
		zap.Int("horizon_days", horizon),
	)

	return res, nil
}

// Loop runs the sweep every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			_, _ = s.Run(runCtx, time.Now().UTC())
			cancel()
		}
	}
}

func (s *Sweeper) publish(ctx context.Context, res Result, horizon int) {
	if res.Expired > 0 {
		if err := s.publisher.Publish(ctx, events.SubjectListingsExpired, events.ListingsExpired{Count: res.Expired, At: res.RanAt}); err != nil {
			s.logger.Warn("failed to publish expired count", zap.Error(err))
		}
	}

	if len(res.Candidates) > 0 {
		msg := events.RenewalCandidates{HorizonDays: horizon, At: res.RanAt}

		for _, l := range res.Candidates {
			c := events.RenewalCandidate{ListingID: l.ID, UserID: l.UserID, PricingTier: string(l.PricingTier)}
			if l.ExpiresAt != nil {
				c.ExpiresAt = *l.ExpiresAt
			}

			msg.Listings = append(msg.Listings, c)
		}

		if err := s.publisher.Publish(ctx, events.SubjectRenewalCandidates, msg); err != nil {
			s.logger.Warn("failed to publish renewal candidates", zap.Error(err))
		}
	}

	ev := tlmt.NewEvent("listing_sweep", map[string]any{
		"expired":       res.Expired,
		"expiring_soon": res.ExpiringSoon,
	})
	if err := s.telemetry.Send(ctx, ev); err != nil {
		s.logger.Debug("telemetry send failed", zap.Error(err))
	}
}
