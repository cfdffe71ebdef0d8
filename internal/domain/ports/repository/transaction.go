package repository

import (
	"context"
	"time"

	"gym-membership/internal/domain/model"

	"github.com/shopspring/decimal"
)

// TransactionFilter narrows admin listings. Zero values mean "no constraint".
type TransactionFilter struct {
	Status         model.PaymentStatus
	Method         model.PaymentMethod
	SubscriptionID string
	Limit          int
	Offset         int
}

// TransactionRepository is the port for payment transactions (the ledger).
type TransactionRepository interface {
	// Save inserts a new transaction. A second PENDING transaction for the same
	// subscription returns domain.ErrConflict.
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	// FindByID and FindByReference lock the row when tx is non-nil.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)
	FindByReference(ctx context.Context, tx Tx, reference string) (*model.Transaction, error)
	FindPendingBySubscription(ctx context.Context, tx Tx, subscriptionID string) (*model.Transaction, error)
	ListBySubscription(ctx context.Context, tx Tx, subscriptionID string) ([]*model.Transaction, error)
	List(ctx context.Context, tx Tx, f TransactionFilter) ([]*model.Transaction, int, error)

	// UpdateStatusIfPending persists t's terminal state only while the stored
	// row is still PENDING. It reports whether a row was updated.
	UpdateStatusIfPending(ctx context.Context, tx Tx, t *model.Transaction) (bool, error)
	UpdateMethodIfPending(ctx context.Context, tx Tx, id string, method model.PaymentMethod) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Transaction, error)

	// --- Statistics read-only methods ---
	CountByStatus(ctx context.Context, tx Tx) (map[model.PaymentStatus]int, error)
	SumCompleted(ctx context.Context, tx Tx, since *time.Time) (decimal.Decimal, error)
}
