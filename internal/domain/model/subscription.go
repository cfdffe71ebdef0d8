package model

import (
	"time"

	"gym-membership/internal/domain"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

// IsTerminal reports whether no transition can leave s.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is shared by Subscription (mirror) and Transaction (authoritative).
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// Subscription is one membership period of one user on one plan.
//
// Lifecycle:
//
//	PENDING --activate--> ACTIVE --expire--> EXPIRED
//	PENDING --payment fails--> EXPIRED
//	PENDING|ACTIVE --cancel--> CANCELLED
//
// StartDate/EndDate stay nil until activation and are never recomputed.
type Subscription struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	PlanID        string             `json:"planId"`
	Status        SubscriptionStatus `json:"subscriptionStatus"`
	PaymentStatus PaymentStatus      `json:"paymentStatus"`
	StartDate     *time.Time         `json:"startDate"`
	EndDate       *time.Time         `json:"endDate"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// NewPendingSubscription creates a subscription awaiting payment.
func NewPendingSubscription(userID, planID string, now time.Time) (*Subscription, error) {
	if userID == "" || planID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:            uuid.NewString(),
		UserID:        userID,
		PlanID:        planID,
		Status:        SubscriptionStatusPending,
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ActivationWindow returns the membership window for a plan of durationDays
// activated at now.
func ActivationWindow(durationDays int, now time.Time) (time.Time, time.Time) {
	return now, now.Add(time.Duration(durationDays) * 24 * time.Hour)
}

// Activate moves PENDING to ACTIVE and fixes the membership window.
// Re-activating an already ACTIVE, paid subscription is a no-op (changed=false).
func (s *Subscription) Activate(durationDays int, now time.Time) (bool, error) {
	switch {
	case s.Status == SubscriptionStatusPending:
		start, end := ActivationWindow(durationDays, now)
		s.StartDate = &start
		s.EndDate = &end
		s.Status = SubscriptionStatusActive
		s.PaymentStatus = PaymentStatusCompleted
		s.UpdatedAt = now
		return true, nil
	case s.Status == SubscriptionStatusActive && s.PaymentStatus == PaymentStatusCompleted:
		return false, nil
	default:
		return false, domain.ErrInvalidState
	}
}

// FailPayment moves PENDING to EXPIRED with a FAILED payment. Subscriptions that
// already reached a terminal state are left untouched (changed=false).
func (s *Subscription) FailPayment(now time.Time) (bool, error) {
	switch {
	case s.Status == SubscriptionStatusPending:
		s.Status = SubscriptionStatusExpired
		s.PaymentStatus = PaymentStatusFailed
		s.UpdatedAt = now
		return true, nil
	case s.Status.IsTerminal():
		return false, nil
	default:
		return false, domain.ErrInvalidState
	}
}

// Cancel moves PENDING or ACTIVE to CANCELLED. Payment status is untouched.
func (s *Subscription) Cancel(now time.Time) error {
	if s.Status.IsTerminal() {
		return domain.ErrInvalidState
	}
	s.Status = SubscriptionStatusCancelled
	s.UpdatedAt = now
	return nil
}

// ExpireIfEnded moves ACTIVE to EXPIRED when the window ended strictly before now.
func (s *Subscription) ExpireIfEnded(now time.Time) bool {
	if s.Status != SubscriptionStatusActive || s.EndDate == nil || !s.EndDate.Before(now) {
		return false
	}
	s.Status = SubscriptionStatusExpired
	s.UpdatedAt = now
	return true
}
