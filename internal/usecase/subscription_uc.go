// File: internal/usecase/subscription_uc.go
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

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// DefaultPaymentMethod is recorded on new transactions until the member picks
// one at checkout.
const DefaultPaymentMethod = model.PaymentMethodMobileMoney

// SubscriptionDetails is a subscription with its plan and payment attempts.
type SubscriptionDetails struct {
	Subscription *model.Subscription  `json:"subscription"`
	Plan         *model.Plan          `json:"plan,omitempty"`
	Transactions []*model.Transaction `json:"transactions"`
}

// SubscriptionUseCase is the lifecycle manager. It is the only writer of
// Subscription state.
type SubscriptionUseCase interface {
	// CreatePending opens a PENDING subscription and its PENDING transaction atomically.
	CreatePending(ctx context.Context, userID, planID string) (*model.Subscription, *model.Transaction, error)
	// Activate reports changed=false when the subscription is already ACTIVE and paid.
	// A nil plan is loaded from the subscription.
	Activate(ctx context.Context, tx repository.Tx, subscriptionID string, plan *model.Plan, now time.Time) (*model.Subscription, bool, error)
	// FailPending reports changed=false when the subscription is already terminal.
	FailPending(ctx context.Context, tx repository.Tx, subscriptionID string, now time.Time) (*model.Subscription, bool, error)
	ExpireByDate(ctx context.Context, now time.Time) (int, error)
	Cancel(ctx context.Context, subscriptionID string) (*model.Subscription, error)

	Get(ctx context.Context, id string) (*model.Subscription, error)
	GetForUser(ctx context.Context, userID, id string) (*SubscriptionDetails, error)
	ListByUser(ctx context.Context, userID string) ([]*SubscriptionDetails, error)
	List(ctx context.Context, f repository.SubscriptionFilter) ([]*model.Subscription, int, error)
}

type subscriptionUC struct {
	subs   repository.SubscriptionRepository
	plans  repository.PlanRepository
	users  repository.UserRepository
	ledger LedgerUseCase
	tm     repository.TransactionManager
	now    func() time.Time
	log    *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	users repository.UserRepository,
	ledger LedgerUseCase,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		subs:   subs,
		plans:  plans,
		users:  users,
		ledger: ledger,
		tm:     tm,
		now:    time.Now,
		log:    &l,
	}
}

func (uc *subscriptionUC) CreatePending(ctx context.Context, userID, planID string) (*model.Subscription, *model.Transaction, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.CreatePending")()

	if userID == "" || planID == "" {
		return nil, nil, domain.ErrInvalidArgument
	}

	var (
		sub *model.Subscription
		txn *model.Transaction
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Held until commit: a second request for the same user waits here and
		// then observes the first one's rows.
		if err := uc.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}

		user, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", userID, err)
		}
		plan, err := uc.plans.FindByID(ctx, tx, planID)
		if err != nil {
			return fmt.Errorf("load plan %s: %w", planID, err)
		}
		if !plan.IsActive {
			return fmt.Errorf("plan %s: %w", plan.Name, domain.ErrPlanInactive)
		}
		if plan.TargetRole != user.Role {
			return fmt.Errorf("plan %s targets %s, user is %s: %w", plan.Name, plan.TargetRole, user.Role, domain.ErrRoleMismatch)
		}

		now := uc.now()
		if err := uc.ensureNoActive(ctx, tx, userID, now); err != nil {
			return err
		}

		s, err := model.NewPendingSubscription(userID, planID, now)
		if err != nil {
			return err
		}
		if err := uc.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		t, err := uc.ledger.CreatePending(ctx, tx, s.ID, plan.Price, DefaultPaymentMethod)
		if err != nil {
			return err
		}
		sub, txn = s, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.With(ctx, uc.log).Info().
		Str("subscription_id", sub.ID).
		Str("reference", txn.PaymentReference).
		Msg("pending subscription created")
	return sub, txn, nil
}

// ensureNoActive rejects a new subscription while the user has an ACTIVE one.
// An ACTIVE row whose window already ended is expired on the spot instead of
// waiting for the next expiry run.
func (uc *subscriptionUC) ensureNoActive(ctx context.Context, tx repository.Tx, userID string, now time.Time) error {
	active, err := uc.subs.FindActiveByUser(ctx, tx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !active.ExpireIfEnded(now) {
		return domain.ErrActiveSubscriptionExists
	}
	if _, err := uc.subs.UpdateStatusIf(ctx, tx, active, model.SubscriptionStatusActive); err != nil {
		return err
	}
	metrics.IncSubscriptionsExpired(1)
	return nil
}

func (uc *subscriptionUC) Activate(ctx context.Context, tx repository.Tx, subscriptionID string, plan *model.Plan, now time.Time) (*model.Subscription, bool, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Activate")()

	s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, false, err
	}
	if plan == nil || plan.ID != s.PlanID {
		if plan, err = uc.plans.FindByID(ctx, tx, s.PlanID); err != nil {
			return nil, false, fmt.Errorf("load plan %s: %w", s.PlanID, err)
		}
	}

	changed, err := s.Activate(plan.DurationDays, now)
	if err != nil {
		return s, false, fmt.Errorf("activate subscription %s (%s/%s): %w", s.ID, s.Status, s.PaymentStatus, err)
	}
	if !changed {
		return s, false, nil
	}

	ok, err := uc.subs.UpdateStatusIf(ctx, tx, s, model.SubscriptionStatusPending)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		cur, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return nil, false, err
		}
		if cur.Status == model.SubscriptionStatusActive && cur.PaymentStatus == model.PaymentStatusCompleted {
			return cur, false, nil
		}
		return cur, false, fmt.Errorf("activate subscription %s (%s): %w", cur.ID, cur.Status, domain.ErrInvalidState)
	}

	metrics.IncSubscriptionsActivated()
	logging.With(ctx, uc.log).Info().
		Str("subscription_id", s.ID).
		Time("end_date", *s.EndDate).
		Msg("subscription activated")
	return s, true, nil
}

func (uc *subscriptionUC) FailPending(ctx context.Context, tx repository.Tx, subscriptionID string, now time.Time) (*model.Subscription, bool, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.FailPending")()

	s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, false, err
	}
	changed, err := s.FailPayment(now)
	if err != nil {
		return s, false, fmt.Errorf("fail subscription %s (%s): %w", s.ID, s.Status, err)
	}
	if !changed {
		return s, false, nil
	}

	ok, err := uc.subs.UpdateStatusIf(ctx, tx, s, model.SubscriptionStatusPending)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		cur, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return nil, false, err
		}
		if cur.Status.IsTerminal() {
			return cur, false, nil
		}
		return cur, false, fmt.Errorf("fail subscription %s (%s): %w", cur.ID, cur.Status, domain.ErrInvalidState)
	}
	return s, true, nil
}

func (uc *subscriptionUC) ExpireByDate(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.ExpireByDate")()

	n, err := uc.subs.ExpireEnded(ctx, repository.NoTX, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.IncSubscriptionsExpired(n)
		uc.log.Info().Int("count", n).Time("now", now).Msg("subscriptions expired")
	}
	return n, nil
}

func (uc *subscriptionUC) Cancel(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Cancel")()

	var out *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		from := s.Status
		if err := s.Cancel(uc.now()); err != nil {
			return fmt.Errorf("cancel subscription %s (%s): %w", s.ID, s.Status, err)
		}
		ok, err := uc.subs.UpdateStatusIf(ctx, tx, s, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cancel subscription %s: state changed concurrently: %w", s.ID, domain.ErrInvalidState)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.With(ctx, uc.log).Info().Str("subscription_id", out.ID).Msg("subscription cancelled")
	return out, nil
}

func (uc *subscriptionUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return uc.subs.FindByID(ctx, repository.NoTX, id)
}

func (uc *subscriptionUC) GetForUser(ctx context.Context, userID, id string) (*SubscriptionDetails, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.GetForUser")()

	s, err := uc.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return uc.details(ctx, s)
}

func (uc *subscriptionUC) ListByUser(ctx context.Context, userID string) ([]*SubscriptionDetails, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.ListByUser")()

	subs, err := uc.subs.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*SubscriptionDetails, 0, len(subs))
	for _, s := range subs {
		d, err := uc.details(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (uc *subscriptionUC) List(ctx context.Context, f repository.SubscriptionFilter) ([]*model.Subscription, int, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.List")()
	f.Limit, f.Offset = pageBounds(f.Limit, f.Offset)
	return uc.subs.List(ctx, repository.NoTX, f)
}

func (uc *subscriptionUC) details(ctx context.Context, s *model.Subscription) (*SubscriptionDetails, error) {
	d := &SubscriptionDetails{Subscription: s}
	plan, err := uc.plans.FindByID(ctx, repository.NoTX, s.PlanID)
	switch {
	case err == nil:
		d.Plan = plan
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	txs, err := uc.ledger.ListBySubscription(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	d.Transactions = txs
	return d, nil
}
