// Package server exposes the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"ybcstore/auth"
	"ybcstore/ledger"
	"ybcstore/middleware"
	"ybcstore/observability"
	"ybcstore/referral"
	"ybcstore/storage"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB          *gorm.DB
	Store       *storage.Store
	Auth        *auth.Middleware
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Tracing     bool
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	DB      *gorm.DB
	Store   *storage.Store
	Auth    *auth.Middleware
	Limiter *middleware.RateLimiter
	Logger  *slog.Logger
	Metrics *observability.StoreMetrics

	tracing bool
	router  http.Handler
}

// New constructs a configured HTTP router with authentication, rate
// limiting, and idempotency support.
func New(cfg Config) *Server {
	srv := &Server{
		DB:      cfg.DB,
		Store:   cfg.Store,
		Auth:    cfg.Auth,
		Limiter: cfg.RateLimiter,
		Logger:  cfg.Logger,
		Metrics: observability.Metrics(),
		tracing: cfg.Tracing,
	}
	if srv.Logger == nil {
		srv.Logger = slog.Default()
	}
	if srv.Auth == nil {
		srv.Auth = auth.NewMiddleware(auth.Options{})
	}
	if srv.Limiter == nil {
		srv.Limiter = middleware.NewRateLimiter(nil, srv.Logger)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	if s.tracing {
		return otelhttp.NewHandler(s.router, "ybcstore.http")
	}
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	reads := s.Limiter.Middleware("reads")
	writes := s.Limiter.Middleware("writes")

	r.Route("/api/v1", func(api chi.Router) {
		// Registration is open; everything else needs a bearer token.
		api.With(writes).Post("/users", s.CreateUser)

		api.Group(func(protected chi.Router) {
			protected.Use(s.Auth.Authenticate)
			protected.Use(func(next http.Handler) http.Handler {
				return middleware.WithIdempotency(s.DB, next)
			})

			protected.With(reads).Get("/users/{id}", s.GetUser)
			protected.With(reads).Get("/users/{id}/referrals", s.GetReferrals)
			protected.With(reads).Get("/users/{id}/purchases", s.GetPurchases)
			protected.With(reads).Get("/users/{id}/rewards", s.GetRewards)
			protected.With(reads).Get("/users/{id}/transfers", s.GetTransfers)

			protected.With(writes).Post("/conversions", s.CreateConversion)
			protected.With(writes).Post("/transfers", s.CreateTransfer)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.Auth.Authenticate)
		admin.Use(auth.RequireRole(auth.RoleAdmin))
		admin.Get("/tiers", s.GetTiers)
		admin.Put("/tiers", s.UpdateTiers)
		admin.Post("/credits", s.TopUpCredits)
		admin.Get("/users/{id}/events", s.GetEvents)
	})

	return r
}

// Run serves the API until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	s.Logger.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Healthz reports liveness plus database reachability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("encode response", "error", err)
	}
}

// handleStoreError maps domain errors onto HTTP statuses.
func (s *Server) handleStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, ledger.ErrPurchaserNotFound):
		http.Error(w, "user not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientCredit), errors.Is(err, storage.ErrInsufficientBalance):
		http.Error(w, "insufficient funds", http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrAmountNotPositive), errors.Is(err, storage.ErrSelfTransfer):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, referral.ErrCodeNotFound):
		http.Error(w, "referral code not found", http.StatusBadRequest)
	case errors.Is(err, referral.ErrLinkCycle), errors.Is(err, storage.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrConversionAborted), errors.Is(err, storage.ErrTransferAborted):
		// Safe to retry: nothing was written.
		w.Header().Set("Retry-After", "1")
		http.Error(w, "aborted, retry", http.StatusServiceUnavailable)
	case errors.Is(err, gorm.ErrRecordNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.Logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
