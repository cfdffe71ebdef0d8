package repository

import (
	"context"
	"time"

	"gym-membership/internal/domain/model"
)

// SubscriptionFilter narrows admin listings. Zero values mean "no constraint".
type SubscriptionFilter struct {
	Status        model.SubscriptionStatus
	PaymentStatus model.PaymentStatus
	UserID        string
	PlanID        string
	Limit         int
	Offset        int
}

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	// FindByID locks the row when tx is non-nil.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	List(ctx context.Context, tx Tx, f SubscriptionFilter) ([]*model.Subscription, int, error)

	// UpdateStatusIf writes s's status, payment status and dates only while the
	// stored status is one of from. It reports whether a row was updated.
	UpdateStatusIf(ctx context.Context, tx Tx, s *model.Subscription, from ...model.SubscriptionStatus) (bool, error)
	// ExpireEnded moves every ACTIVE subscription whose end date is before now
	// to EXPIRED and returns how many rows changed.
	ExpireEnded(ctx context.Context, tx Tx, now time.Time) (int, error)

	// LockUser serializes subscription creation for one user until tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error

	// --- Statistics read-only methods ---
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
