package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/ports/usecase"
)

// PaymentCleanupWorker fails PENDING payments nobody completed within the
// payment timeout, releasing their subscriptions.
type PaymentCleanupWorker struct {
	uc  usecase.PaymentCleaner
	now func() time.Time
	log *zerolog.Logger
}

func NewPaymentCleanupWorker(uc usecase.PaymentCleaner, logger *zerolog.Logger) *PaymentCleanupWorker {
	l := logger.With().Str("component", "PaymentCleanupWorker").Logger()
	return &PaymentCleanupWorker{uc: uc, now: time.Now, log: &l}
}

// WithClock replaces the time source. Used by tests.
func (w *PaymentCleanupWorker) WithClock(now func() time.Time) *PaymentCleanupWorker {
	w.now = now
	return w
}

func (w *PaymentCleanupWorker) RunOnce(ctx context.Context) error {
	n, err := w.uc.CleanupAbandoned(ctx, w.now())
	if n > 0 {
		w.log.Info().Int("count", n).Msg("abandoned payments failed")
	}
	return err
}
