package model

import (
	"fmt"
	"time"

	"gym-membership/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "CARD"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodMobileMoney
}

// Transaction is one payment attempt for a subscription. It is the
// authoritative record of payment state: PENDING moves to COMPLETED or
// FAILED exactly once.
type Transaction struct {
	ID                string          `json:"id"`
	SubscriptionID    string          `json:"subscriptionId"`
	Amount            decimal.Decimal `json:"amount"` // plan price, before gateway fees
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	PaymentReference  string          `json:"paymentReference"`
	ExternalReference *string         `json:"externalReference,omitempty"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	FailureReason     *string         `json:"failureReason,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// NewPendingTransaction creates a PENDING transaction with a fresh reference.
func NewPendingTransaction(subscriptionID string, amount decimal.Decimal, method PaymentMethod, now time.Time) (*Transaction, error) {
	if subscriptionID == "" || amount.IsNegative() || !method.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	return &Transaction{
		ID:               uuid.NewString(),
		SubscriptionID:   subscriptionID,
		Amount:           amount,
		PaymentMethod:    method,
		PaymentReference: NewPaymentReference(now),
		PaymentStatus:    PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// NewPaymentReference returns PAY-<unix millis>-<8 char id>. The shape is
// echoed back by the gateway and must stay stable.
func NewPaymentReference(now time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("PAY-%d-%s", now.UnixMilli(), id[len(id)-8:])
}

// Complete records a confirmed payment. Completing an already COMPLETED
// transaction is a no-op (changed=false); completing a FAILED one is rejected.
func (t *Transaction) Complete(externalRef string, paidAt time.Time, metadata map[string]any) (bool, error) {
	switch t.PaymentStatus {
	case PaymentStatusCompleted:
		return false, nil
	case PaymentStatusFailed:
		return false, domain.ErrInvalidState
	}
	if externalRef != "" {
		t.ExternalReference = &externalRef
	}
	t.PaymentStatus = PaymentStatusCompleted
	t.PaidAt = &paidAt
	if metadata != nil {
		t.Metadata = metadata
	}
	t.UpdatedAt = paidAt
	return true, nil
}

// Fail records an unsuccessful or abandoned payment. Failing an already FAILED
// transaction is a no-op; failing a COMPLETED one is rejected.
func (t *Transaction) Fail(reason string, now time.Time) (bool, error) {
	switch t.PaymentStatus {
	case PaymentStatusFailed:
		return false, nil
	case PaymentStatusCompleted:
		return false, domain.ErrInvalidState
	}
	t.PaymentStatus = PaymentStatusFailed
	if reason != "" {
		t.FailureReason = &reason
	}
	t.UpdatedAt = now
	return true, nil
}
