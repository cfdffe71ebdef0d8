package usecase

import (
	"context"
	"time"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// Stats is the admin dashboard summary.
type Stats struct {
	Users               int                              `json:"users"`
	Subscriptions       map[model.SubscriptionStatus]int `json:"subscriptions"`
	Transactions        map[model.PaymentStatus]int      `json:"transactions"`
	RevenueTotal        decimal.Decimal                  `json:"revenueTotal"`
	RevenueLast30Days   decimal.Decimal                  `json:"revenueLast30Days"`
	ActiveSubscriptions int                              `json:"activeSubscriptions"`
}

type StatsUseCase interface {
	Overview(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	txs   repository.TransactionRepository
	now   func() time.Time

	log *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, txs repository.TransactionRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, subs: subs, txs: txs, now: time.Now, log: logger}
}

func (s *statsUC) Overview(ctx context.Context) (*Stats, error) {
	users, err := s.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	txs, err := s.txs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	total, err := s.txs.SumCompleted(ctx, repository.NoTX, nil)
	if err != nil {
		return nil, err
	}
	since := s.now().AddDate(0, 0, -30)
	recent, err := s.txs.SumCompleted(ctx, repository.NoTX, &since)
	if err != nil {
		return nil, err
	}

	metrics.SetSubscriptionsTotal(subs)
	return &Stats{
		Users:              users,
		Subscriptions:      subs,
		Transactions:       txs,
		RevenueTotal:       total,
		RevenueLast30Days:  recent,
		ActiveSubscriptions: subs[model.SubscriptionStatusActive],
	}, nil
}
