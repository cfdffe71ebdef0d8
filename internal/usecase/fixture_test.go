//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"gym-membership/internal/domain/fee"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fixture wires the real use cases over the in-memory repositories.
type fixture struct {
	store   *memStore
	tm      *MockTxManager
	users   *MockUserRepo
	plans   *MockPlanRepo
	subs    *MockSubscriptionRepo
	txs     *MockTransactionRepo
	gateway *MockGateway
	clock   *fixedClock

	ledger usecase.LedgerUseCase
	subUC  usecase.SubscriptionUseCase
	payUC  usecase.PaymentUseCase
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newFixture(t *testing.T, opts ...func(*usecase.PaymentOptions)) *fixture {
	t.Helper()
	logger := newTestLogger()
	store := newMemStore()
	f := &fixture{
		store:   store,
		tm:      NewMockTxManager(store),
		users:   &MockUserRepo{s: store},
		plans:   &MockPlanRepo{s: store},
		subs:    &MockSubscriptionRepo{s: store},
		txs:     &MockTransactionRepo{s: store},
		gateway: NewMockGateway(),
		clock:   newFixedClock(t0),
	}

	po := usecase.PaymentOptions{
		Currency:         "GHS",
		CallbackURL:      "https://gym.example/payment/verify",
		PaymentTimeout:   30 * time.Minute,
		CleanupBatchSize: 10,
	}
	for _, o := range opts {
		o(&po)
	}
	calc := fee.NewCalculator(fee.Config{FeePct: dec("1.95"), FlatFee: dec("0"), MarkupPct: dec("5")}, logger)

	f.ledger = usecase.NewLedgerUseCase(f.txs, logger)
	f.subUC = usecase.NewSubscriptionUseCase(f.subs, f.plans, f.users, f.ledger, f.tm, logger)
	f.payUC = usecase.NewPaymentUseCase(f.txs, f.subs, f.plans, f.ledger, f.subUC, f.gateway, calc, f.tm, po, logger)

	usecase.SetLedgerClock(f.ledger, f.clock.Now)
	usecase.SetSubscriptionClock(f.subUC, f.clock.Now)
	usecase.SetPaymentClock(f.payUC, f.clock.Now)
	return f
}

func (f *fixture) seedUser(t *testing.T, id string, role model.Role) *model.User {
	t.Helper()
	ref := ""
	if role == model.RoleStudent || role == model.RoleStaff {
		ref = "REF-" + id
	}
	u, err := model.NewUser(id, id+"@gym.example", "Member "+id, role, ref)
	require.NoError(t, err)
	require.NoError(t, f.users.Save(context.Background(), nil, u))
	return u
}

func (f *fixture) seedPlan(t *testing.T, name, price string, days int, role model.Role) *model.Plan {
	t.Helper()
	p, err := model.NewPlan(name, "", decimal.RequireFromString(price), days, role, []string{"gym floor"})
	require.NoError(t, err)
	require.NoError(t, f.plans.Save(context.Background(), nil, p))
	return p
}

// pending creates a user, a plan and a pending subscription for them.
func (f *fixture) pending(t *testing.T, userID string) (*model.Subscription, *model.Transaction) {
	t.Helper()
	f.seedUser(t, userID, model.RolePublic)
	plan := f.seedPlan(t, "Monthly-"+userID, "100", 30, model.RolePublic)
	sub, txn, err := f.subUC.CreatePending(context.Background(), userID, plan.ID)
	require.NoError(t, err)
	return sub, txn
}

func (f *fixture) sub(t *testing.T, id string) *model.Subscription {
	t.Helper()
	s, err := f.subs.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return s
}

func (f *fixture) txn(t *testing.T, id string) *model.Transaction {
	t.Helper()
	x, err := f.txs.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return x
}
