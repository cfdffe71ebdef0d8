// File: cmd/app/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gym-membership/internal/config"
	"gym-membership/internal/domain/fee"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/api"
	"gym-membership/internal/infra/api/apiv1"
	pg "gym-membership/internal/infra/db/postgres"
	httpserver "gym-membership/internal/infra/http"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
	"gym-membership/internal/infra/payment"
	red "gym-membership/internal/infra/redis"
	"gym-membership/internal/infra/sched"
	"gym-membership/internal/infra/scheduler"
	"gym-membership/internal/usecase"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exit")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("development mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Database.AutoMigrate {
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		locker      red.Locker
		limiter     api.Allower
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis not configured: plan cache, rate limiting and job leases disabled")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	txRepo := pg.NewTransactionRepo(pool)
	var planRepo repository.PlanRepository = pg.NewPlanRepo(pool)
	if redisClient != nil {
		planRepo = pg.NewPlanRepoCacheDecorator(planRepo, redisClient, cfg.Redis.TTL, logger)
	}

	// ---- Payment gateway ----
	gateway, err := newGateway(cfg.Payment, logger)
	if err != nil {
		return err
	}
	fees := fee.NewCalculator(fee.Config{
		FeePct:    cfg.Payment.Fees.FeePct,
		FlatFee:   cfg.Payment.Fees.FlatFee,
		MarkupPct: cfg.Payment.Fees.MarkupPct,
	}, logger)

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(txRepo, logger)
	userUC := usecase.NewUserUseCase(userRepo, tm, logger)
	planUC := usecase.NewPlanUseCase(planRepo, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, userRepo, ledgerUC, tm, logger)
	payUC := usecase.NewPaymentUseCase(txRepo, subRepo, planRepo, ledgerUC, subUC, gateway, fees, tm, usecase.PaymentOptions{
		Currency:         cfg.Payment.Currency,
		CallbackURL:      cfg.Payment.CallbackURL,
		Subaccount:       cfg.Payment.Subaccount,
		PaymentTimeout:   cfg.Scheduler.PaymentTimeout,
		CleanupBatchSize: cfg.Scheduler.CleanupBatchSize,
	}, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, subRepo, txRepo, logger)

	// ---- Scheduler ----
	sch := scheduler.NewScheduler(locker, cfg.Scheduler.LockTTL, logger)
	if err := sch.Register("subscription-expiry", cfg.Scheduler.ExpiryCron, sched.NewExpiryWorker(subUC, logger)); err != nil {
		return err
	}
	if err := sch.Register("payment-cleanup", cfg.Scheduler.CleanupCron, sched.NewPaymentCleanupWorker(payUC, logger)); err != nil {
		return err
	}

	// ---- HTTP ----
	apiServer := apiv1.NewServer(apiv1.Deps{
		Subscriptions: subUC,
		Payments:      payUC,
		Plans:         planUC,
		Users:         userUC,
		Ledger:        ledgerUC,
		Stats:         statsUC,
		Auth:          api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TTL),
		Limiter:       limiter,
		DB:            pool,
	}, cfg.HTTP, logger)
	srv := httpserver.NewServer(cfg.HTTP, apiServer.Routes(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		sch.Start(gctx)
		<-gctx.Done()
		sch.Stop()
		return nil
	})
	g.Go(func() error {
		reportPoolStats(gctx, pool)
		return nil
	})

	logger.Info().Str("version", version).Str("gateway", gateway.Name()).Int("port", cfg.HTTP.Port).Msg("gym membership service started")
	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}

func newGateway(cfg config.PaymentConfig, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	if cfg.Provider == "noop" {
		logger.Warn().Msg("using noop payment gateway; payments are simulated")
		return payment.NewNoopPaymentGateway(cfg.SecretKey), nil
	}
	return payment.NewPaystackGateway(cfg, logger)
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		st := pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
