// Package apiv1 is the member and admin JSON API.
package apiv1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gym-membership/internal/config"
	"gym-membership/internal/infra/api"
	"gym-membership/internal/usecase"
)

// Pinger reports storage health; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Subscriptions usecase.SubscriptionUseCase
	Payments      usecase.PaymentUseCase
	Plans         usecase.PlanUseCase
	Users         usecase.UserUseCase
	Ledger        usecase.LedgerUseCase
	Stats         usecase.StatsUseCase

	Auth    *api.AuthManager
	Limiter api.Allower // optional
	DB      Pinger      // optional
}

type Server struct {
	subs   usecase.SubscriptionUseCase
	pay    usecase.PaymentUseCase
	plans  usecase.PlanUseCase
	users  usecase.UserUseCase
	ledger usecase.LedgerUseCase
	stats  usecase.StatsUseCase

	auth     *api.AuthManager
	limiter  api.Allower
	db       Pinger
	cfg      config.HTTPConfig
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(d Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{
		subs:     d.Subscriptions,
		pay:      d.Payments,
		plans:    d.Plans,
		users:    d.Users,
		ledger:   d.Ledger,
		stats:    d.Stats,
		auth:     d.Auth,
		limiter:  d.Limiter,
		db:       d.DB,
		cfg:      cfg,
		validate: newValidator(),
		log:      &l,
	}
}

// Routes returns the complete handler with the shared middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(s.cfg.RequestTimeout),
	)
	s.Register(r)
	return r
}

// Register mounts every endpoint on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", s.listPlans)
		// Authenticated by signature, not by token.
		r.Post("/payments/webhook", s.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(api.Authenticate(s.auth))

			r.Get("/users/me", s.me)

			r.Post("/subscriptions", s.createSubscription)
			r.Get("/subscriptions", s.listMySubscriptions)
			r.Get("/subscriptions/{id}", s.getMySubscription)

			r.Group(func(r chi.Router) {
				r.Use(api.RateLimit(s.limiter, "payments", s.cfg.PaymentRateLimit, s.log))
				r.Post("/payments/initialize", s.initializePayment)
				r.Get("/payments/verify/{reference}", s.verifyPayment)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(api.RequireAdmin())

				r.Get("/plans", s.adminListPlans)
				r.Post("/plans", s.adminCreatePlan)
				r.Get("/plans/{id}", s.adminGetPlan)
				r.Put("/plans/{id}", s.adminUpdatePlan)
				r.Patch("/plans/{id}/active", s.adminSetPlanActive)
				r.Delete("/plans/{id}", s.adminDeletePlan)

				r.Get("/subscriptions", s.adminListSubscriptions)
				r.Get("/subscriptions/{id}", s.adminGetSubscription)
				r.Patch("/subscriptions/{id}/status", s.adminUpdateSubscriptionStatus)

				r.Get("/transactions", s.adminListTransactions)
				r.Post("/payments/verify/{reference}", s.adminVerifyPayment)

				r.Post("/users", s.adminRegisterUser)
				r.Get("/users/{id}", s.adminGetUser)

				r.Get("/stats", s.adminStats)
			})
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Message: "database unavailable"})
			return
		}
	}
	ok(w, http.StatusOK, map[string]string{"status": "ok"})
}
