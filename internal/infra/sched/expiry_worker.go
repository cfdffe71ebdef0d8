package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/ports/usecase"
)

// ExpiryWorker moves ACTIVE subscriptions whose window ended to EXPIRED.
type ExpiryWorker struct {
	uc  usecase.SubscriptionExpirer
	now func() time.Time
	log *zerolog.Logger
}

func NewExpiryWorker(uc usecase.SubscriptionExpirer, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		uc:  uc,
		now: time.Now,
		log: &exprLog,
	}
}

// WithClock replaces the time source. Used by tests.
func (w *ExpiryWorker) WithClock(now func() time.Time) *ExpiryWorker {
	w.now = now
	return w
}

func (w *ExpiryWorker) RunOnce(ctx context.Context) error {
	n, err := w.uc.ExpireByDate(ctx, w.now())
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("expired subscriptions finished")
	}
	return nil
}
