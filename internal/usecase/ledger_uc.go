package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase owns the Transaction records. Every state change is a
// conditional update keyed on PENDING, so concurrent callers cannot move a
// transaction twice.
type LedgerUseCase interface {
	CreatePending(ctx context.Context, tx repository.Tx, subscriptionID string, amount decimal.Decimal, method model.PaymentMethod) (*model.Transaction, error)
	// MarkCompleted reports changed=false when the transaction was already COMPLETED.
	MarkCompleted(ctx context.Context, tx repository.Tx, reference, externalRef string, paidAt time.Time, metadata map[string]any) (*model.Transaction, bool, error)
	// MarkFailed reports changed=false when the transaction was already FAILED.
	MarkFailed(ctx context.Context, tx repository.Tx, transactionID, reason string) (*model.Transaction, bool, error)
	FindByReference(ctx context.Context, reference string) (*model.Transaction, error)
	FindByID(ctx context.Context, id string) (*model.Transaction, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*model.Transaction, error)
	List(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int, error)
}

type ledgerUC struct {
	txs repository.TransactionRepository
	now func() time.Time
	log *zerolog.Logger
}

func NewLedgerUseCase(txs repository.TransactionRepository, logger *zerolog.Logger) *ledgerUC {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &ledgerUC{txs: txs, now: time.Now, log: &l}
}

func (l *ledgerUC) CreatePending(ctx context.Context, tx repository.Tx, subscriptionID string, amount decimal.Decimal, method model.PaymentMethod) (*model.Transaction, error) {
	defer logging.TraceDuration(l.log, "LedgerUC.CreatePending")()

	existing, err := l.txs.FindPendingBySubscription(ctx, tx, subscriptionID)
	switch {
	case err == nil && existing != nil:
		return nil, fmt.Errorf("subscription %s already has pending transaction %s: %w", subscriptionID, existing.PaymentReference, domain.ErrConflict)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	t, err := model.NewPendingTransaction(subscriptionID, amount, method, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.txs.Save(ctx, tx, t); err != nil {
		return nil, err
	}
	metrics.IncPayment("initiated")
	return t, nil
}

func (l *ledgerUC) MarkCompleted(ctx context.Context, tx repository.Tx, reference, externalRef string, paidAt time.Time, metadata map[string]any) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(l.log, "LedgerUC.MarkCompleted")()

	t, err := l.txs.FindByReference(ctx, tx, reference)
	if err != nil {
		return nil, false, err
	}
	changed, err := t.Complete(externalRef, paidAt, metadata)
	if err != nil {
		logging.With(ctx, l.log).Error().
			Str("transaction_id", t.ID).
			Str("status", string(t.PaymentStatus)).
			Msg("confirmed payment for a transaction that already failed")
		metrics.IncReconcileAnomaly("completed_after_failed")
		return t, false, fmt.Errorf("complete transaction %s (%s): %w", t.ID, t.PaymentStatus, err)
	}
	if !changed {
		return t, false, nil
	}

	ok, err := l.txs.UpdateStatusIfPending(ctx, tx, t)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return l.classifyLost(ctx, tx, t.ID, model.PaymentStatusCompleted)
	}
	metrics.IncPayment("completed")
	return t, true, nil
}

func (l *ledgerUC) MarkFailed(ctx context.Context, tx repository.Tx, transactionID, reason string) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(l.log, "LedgerUC.MarkFailed")()

	t, err := l.txs.FindByID(ctx, tx, transactionID)
	if err != nil {
		return nil, false, err
	}
	changed, err := t.Fail(reason, l.now())
	if err != nil {
		return t, false, fmt.Errorf("fail transaction %s (%s): %w", t.ID, t.PaymentStatus, err)
	}
	if !changed {
		return t, false, nil
	}

	ok, err := l.txs.UpdateStatusIfPending(ctx, tx, t)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return l.classifyLost(ctx, tx, t.ID, model.PaymentStatusFailed)
	}
	metrics.IncPayment("failed")
	return t, true, nil
}

// classifyLost re-reads a transaction whose conditional update matched no row.
// Finding it already in want is a benign race; any other state is a conflict.
func (l *ledgerUC) classifyLost(ctx context.Context, tx repository.Tx, id string, want model.PaymentStatus) (*model.Transaction, bool, error) {
	cur, err := l.txs.FindByID(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if cur.PaymentStatus == want {
		return cur, false, nil
	}
	return cur, false, fmt.Errorf("transaction %s moved to %s concurrently: %w", id, cur.PaymentStatus, domain.ErrInvalidState)
}

func (l *ledgerUC) FindByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	return l.txs.FindByReference(ctx, repository.NoTX, reference)
}

func (l *ledgerUC) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	return l.txs.FindByID(ctx, repository.NoTX, id)
}

func (l *ledgerUC) ListBySubscription(ctx context.Context, subscriptionID string) ([]*model.Transaction, error) {
	return l.txs.ListBySubscription(ctx, repository.NoTX, subscriptionID)
}

func (l *ledgerUC) List(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int, error) {
	defer logging.TraceDuration(l.log, "LedgerUC.List")()
	f.Limit, f.Offset = pageBounds(f.Limit, f.Offset)
	return l.txs.List(ctx, repository.NoTX, f)
}
