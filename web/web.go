// Package web exposes the webhooks, the admin sweep and the listing API
// over HTTP.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/web/auth"
	"github.com/emviapp/emviapp-backend/web/handlers"
	"github.com/emviapp/emviapp-backend/web/middleware"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr           string
	RequestTimeout time.Duration
	// APIKey guards /api/v1; empty disables the API.
	APIKey string
	// AdminAPIKey guards /listing-sweep; empty disables the endpoint.
	AdminAPIKey string
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func New(cfg Config, deps handlers.Dependencies, m *metrics.Metrics) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg, deps, m),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: deps.Logger.Named("http"),
	}
}

// NewRouter wires every route. It is separate from New for tests.
func NewRouter(cfg Config, deps handlers.Dependencies, m *metrics.Metrics) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := handlers.NewHandlerGroup(deps)

	r := mux.NewRouter()
	r.Use(
		middleware.Recover(logger),
		middleware.RequestLogger(logger, m),
		middleware.SecurityHeaders,
		middleware.Timeout(cfg.RequestTimeout),
	)

	r.HandleFunc("/health", h.Ops.Health).Methods(http.MethodGet)

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/stripe-webhook", h.Webhooks.StripeWebhook).Methods(http.MethodPost)
	r.HandleFunc("/twilio-sms", h.Webhooks.TwilioSMS).Methods(http.MethodPost)
	r.Handle("/listing-sweep", middleware.Chain(
		http.HandlerFunc(h.Ops.Sweep),
		auth.BearerToken(cfg.AdminAPIKey, logger),
	)).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(
		auth.BearerToken(cfg.APIKey, logger),
		auth.RequireUser,
		middleware.MaxBody(1<<20),
	)

	api.HandleFunc("/listings", h.API.CreateListing).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id}", h.API.GetListing).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id}/publish", h.API.PublishListing).Methods(http.MethodPost)
	api.HandleFunc("/credits/balance", h.Billing.GetCreditBalance).Methods(http.MethodGet)
	api.HandleFunc("/credits/checkout", h.Billing.CreateCreditCheckout).Methods(http.MethodPost)
	api.HandleFunc("/billing/reconcile", h.Billing.Reconcile).Methods(http.MethodPost)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)

	go func() {
		s.logger.Info("listening", zap.String("addr", s.srv.Addr))

		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}

		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.logger.Info("server stopped")

	return nil
}
