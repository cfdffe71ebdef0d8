// Command seed loads sample plans and an admin account into a fresh
// database and prints a bearer token for that admin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gym-membership/internal/config"
	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/api"
	pg "gym-membership/internal/infra/db/postgres"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/usecase"
)

const adminEmail = "admin@gym.local"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	userRepo := pg.NewUserRepo(pool)
	planUC := usecase.NewPlanUseCase(pg.NewPlanRepo(pool), logger)
	userUC := usecase.NewUserUseCase(userRepo, pg.NewTxManager(pool), logger)

	// If plans already exist, do nothing
	plans, err := planUC.List(ctx, repository.PlanFilter{})
	if err != nil {
		logger.Fatal().Err(err).Msg("list plans")
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
	} else {
		seed := []usecase.PlanInput{
			{Name: "Student Monthly", Price: decimal.RequireFromString("50.00"), DurationDays: 30, TargetRole: model.RoleStudent, Features: []string{"gym floor", "group classes"}},
			{Name: "Student Semester", Price: decimal.RequireFromString("220.00"), DurationDays: 120, TargetRole: model.RoleStudent, Features: []string{"gym floor", "group classes", "pool"}},
			{Name: "Staff Monthly", Price: decimal.RequireFromString("80.00"), DurationDays: 30, TargetRole: model.RoleStaff, Features: []string{"gym floor", "pool"}},
			{Name: "Public Monthly", Price: decimal.RequireFromString("150.00"), DurationDays: 30, TargetRole: model.RolePublic, Features: []string{"gym floor"}},
		}
		for _, in := range seed {
			p, err := planUC.Create(ctx, in)
			if err != nil {
				logger.Fatal().Err(err).Str("plan", in.Name).Msg("create plan")
			}
			fmt.Printf("seeded: %s (id=%s, days=%d, price=%s %s)\n", p.Name, p.ID, p.DurationDays, p.Price.StringFixed(2), cfg.Payment.Currency)
		}
	}

	admin, err := userRepo.FindByEmail(ctx, repository.NoTX, adminEmail)
	if errors.Is(err, domain.ErrNotFound) {
		admin, err = userUC.Register(ctx, adminEmail, "Gym Administrator", model.RoleAdmin, "")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("admin account")
	}

	tok, err := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TTL).Mint(admin)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}
	fmt.Printf("admin %s (id=%s)\nbearer token: %s\n", admin.Email, admin.ID, tok)
}
