package usecase

import (
	"context"
	"time"
)

// SubscriptionExpirer is what the expiry job needs from the lifecycle manager.
type SubscriptionExpirer interface {
	ExpireByDate(ctx context.Context, now time.Time) (int, error)
}

// PaymentCleaner is what the cleanup job needs from the reconciliation coordinator.
type PaymentCleaner interface {
	CleanupAbandoned(ctx context.Context, now time.Time) (int, error)
}
