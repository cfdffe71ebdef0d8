// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/fee"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// Reconciliation triggers, used for logs and metrics.
const (
	TriggerVerify  = "verify"
	TriggerWebhook = "webhook"
	TriggerCleanup = "cleanup"
)

const abandonedReason = "payment timed out"

// PaymentUseCase is the reconciliation coordinator. It is the only path that
// moves a Transaction out of PENDING together with its Subscription.
type PaymentUseCase interface {
	// Initialize opens a hosted checkout for one of the caller's pending transactions.
	Initialize(ctx context.Context, userID, email, transactionID string, method model.PaymentMethod) (*PaymentSession, error)
	// Verify confirms reference with the gateway and settles it. An empty userID
	// skips the ownership check.
	Verify(ctx context.Context, userID, reference string) (*Settlement, error)
	// HandleWebhook authenticates and applies one gateway notification.
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
	// CleanupAbandoned fails PENDING transactions older than the payment timeout.
	CleanupAbandoned(ctx context.Context, now time.Time) (int, error)
}

// PaymentOptions configures the coordinator.
type PaymentOptions struct {
	Currency         string
	CallbackURL      string
	Subaccount       string // merchant sub-account; empty disables split routing
	PaymentTimeout   time.Duration
	CleanupBatchSize int
}

// PaymentSession is returned by Initialize.
type PaymentSession struct {
	adapter.CheckoutSession
	TransactionID  string          `json:"transactionId"`
	Amount         decimal.Decimal `json:"amount"`
	GatewayFee     decimal.Decimal `json:"gatewayFee"`
	CheckoutAmount decimal.Decimal `json:"checkoutAmount"`
}

// Settlement is the outcome of a reconciliation. Changed is false when another
// trigger had already applied the same payment.
type Settlement struct {
	Transaction  *model.Transaction  `json:"transaction"`
	Subscription *model.Subscription `json:"subscription"`
	Changed      bool                `json:"-"`
}

type paymentUC struct {
	txs     repository.TransactionRepository
	subs    repository.SubscriptionRepository
	plans   repository.PlanRepository
	ledger  LedgerUseCase
	subUC   SubscriptionUseCase
	gateway adapter.PaymentGateway
	fees    *fee.Calculator
	tm      repository.TransactionManager
	opts    PaymentOptions
	now     func() time.Time
	log     *zerolog.Logger
}

func NewPaymentUseCase(
	txs repository.TransactionRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	ledger LedgerUseCase,
	subUC SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	fees *fee.Calculator,
	tm repository.TransactionManager,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 30 * time.Minute
	}
	if opts.CleanupBatchSize <= 0 {
		opts.CleanupBatchSize = 100
	}
	l := logger.With().Str("component", "PaymentUC").Str("gateway", gateway.Name()).Logger()
	return &paymentUC{
		txs:     txs,
		subs:    subs,
		plans:   plans,
		ledger:  ledger,
		subUC:   subUC,
		gateway: gateway,
		fees:    fees,
		tm:      tm,
		opts:    opts,
		now:     time.Now,
		log:     &l,
	}
}

func (u *paymentUC) Initialize(ctx context.Context, userID, email, transactionID string, method model.PaymentMethod) (*PaymentSession, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initialize")()

	if !method.Valid() || email == "" {
		return nil, domain.ErrInvalidArgument
	}
	t, err := u.txs.FindByID(ctx, repository.NoTX, transactionID)
	if err != nil {
		return nil, err
	}
	sub, err := u.subs.FindByID(ctx, repository.NoTX, t.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if t.PaymentStatus != model.PaymentStatusPending || sub.Status != model.SubscriptionStatusPending {
		return nil, fmt.Errorf("transaction %s is %s, subscription is %s: %w", t.ID, t.PaymentStatus, sub.Status, domain.ErrInvalidState)
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return nil, err
	}

	if method != t.PaymentMethod {
		ok, err := u.txs.UpdateMethodIfPending(ctx, repository.NoTX, t.ID, method)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("transaction %s left PENDING: %w", t.ID, domain.ErrInvalidState)
		}
		t.PaymentMethod = method
	}

	gatewayFee := fee.Round(u.fees.GatewayFee(t.Amount))
	checkout := u.fees.CheckoutAmount(t.Amount)
	req := adapter.CheckoutRequest{
		Email:       email,
		AmountMinor: fee.ToMinorUnits(checkout),
		Currency:    u.opts.Currency,
		Reference:   t.PaymentReference,
		CallbackURL: u.opts.CallbackURL,
		Channels:    channelsFor(method),
		Metadata: map[string]any{
			"transactionId":  t.ID,
			"subscriptionId": sub.ID,
			"userId":         userID,
			"planName":       plan.Name,
		},
	}
	if u.opts.Subaccount != "" {
		req.Split = &adapter.Split{
			Subaccount:         u.opts.Subaccount,
			PlatformShareMinor: fee.ToMinorUnits(u.fees.PlatformShare(t.Amount)),
			Bearer:             "account",
		}
	}

	session, err := u.gateway.Initialize(ctx, req)
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("reference", t.PaymentReference).Msg("checkout initialization failed")
		return nil, err
	}
	return &PaymentSession{
		CheckoutSession: *session,
		TransactionID:   t.ID,
		Amount:          t.Amount,
		GatewayFee:      gatewayFee,
		CheckoutAmount:  checkout,
	}, nil
}

func channelsFor(m model.PaymentMethod) []adapter.Channel {
	if m == model.PaymentMethodCard {
		return []adapter.Channel{adapter.ChannelCard}
	}
	return []adapter.Channel{adapter.ChannelMobileMoney}
}

func (u *paymentUC) Verify(ctx context.Context, userID, reference string) (*Settlement, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Verify")()
	ctx = logging.WithReference(logging.WithTrigger(ctx, TriggerVerify), reference)

	t, err := u.txs.FindByReference(ctx, repository.NoTX, reference)
	if err != nil {
		return nil, err
	}
	sub, err := u.subs.FindByID(ctx, repository.NoTX, t.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if userID != "" && sub.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if t.PaymentStatus == model.PaymentStatusCompleted {
		metrics.IncReconcile(TriggerVerify, "noop")
		return &Settlement{Transaction: t, Subscription: sub}, nil
	}

	res, err := u.gateway.Verify(ctx, reference)
	if err != nil {
		metrics.IncReconcile(TriggerVerify, "error")
		return nil, err
	}
	if !res.Paid {
		metrics.IncReconcile(TriggerVerify, "not_paid")
		return nil, fmt.Errorf("payment %s is %q: %w", reference, res.Status, domain.ErrPaymentNotPaid)
	}
	return u.settle(ctx, TriggerVerify, reference, res.ExternalReference, res.Raw)
}

// settle applies a confirmed payment: the transaction moves to COMPLETED and,
// only if that changed anything, the subscription is activated, all in one
// database transaction.
//
// A payment confirmed for a subscription that was cancelled meanwhile, or for
// a user who already holds another ACTIVE subscription, is still recorded as
// COMPLETED. The activation is skipped and reported as ErrInvalidState or
// ErrActiveSubscriptionExists alongside the committed settlement.
func (u *paymentUC) settle(ctx context.Context, trigger, reference, externalRef string, raw map[string]any) (*Settlement, error) {
	start := time.Now()
	defer func() { metrics.ObserveReconcile(trigger, time.Since(start).Seconds()) }()
	log := logging.With(ctx, u.log)

	out := &Settlement{}
	var skipped error
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := u.now()
		t, changed, err := u.ledger.MarkCompleted(ctx, tx, reference, externalRef, now, raw)
		if err != nil {
			return err
		}
		out.Transaction, out.Changed = t, changed

		if !changed {
			sub, err := u.subs.FindByID(ctx, tx, t.SubscriptionID)
			if err != nil {
				return err
			}
			out.Subscription = sub
			return nil
		}

		owner, err := u.subs.FindByID(ctx, repository.NoTX, t.SubscriptionID)
		if err != nil {
			return err
		}
		// Same lock as CreatePending: settlements of two pending subscriptions
		// of one user are applied one after the other.
		if err := u.subs.LockUser(ctx, tx, owner.UserID); err != nil {
			return err
		}
		if err := u.ensureNoActiveSibling(ctx, tx, owner, now); err != nil {
			if !errors.Is(err, domain.ErrActiveSubscriptionExists) {
				return err
			}
			cur, ferr := u.subs.FindByID(ctx, tx, owner.ID)
			if ferr != nil {
				return ferr
			}
			out.Subscription = cur
			skipped = err
			return nil
		}

		sub, _, err := u.subUC.Activate(ctx, tx, t.SubscriptionID, nil, now)
		if errors.Is(err, domain.ErrInvalidState) && sub != nil {
			out.Subscription = sub
			skipped = err
			return nil
		}
		if err != nil {
			return err
		}
		out.Subscription = sub
		return nil
	})
	if err != nil {
		metrics.IncReconcile(trigger, "error")
		return nil, err
	}

	switch {
	case skipped != nil:
		metrics.IncReconcileAnomaly("paid_not_activated")
		log.Error().Err(skipped).Str("subscription_id", out.Subscription.ID).
			Msg("payment recorded but subscription could not be activated")
		metrics.IncReconcile(trigger, "anomaly")
		return out, skipped
	case out.Changed:
		metrics.IncReconcile(trigger, "settled")
		metrics.AddPaymentRevenue(u.opts.Currency, out.Transaction.Amount.InexactFloat64())
		log.Info().Str("subscription_id", out.Subscription.ID).Msg("payment settled")
	default:
		metrics.IncReconcile(trigger, "noop")
		log.Debug().Msg("payment already settled")
	}
	return out, nil
}

// ensureNoActiveSibling keeps a user at one ACTIVE subscription. A sibling
// whose window already ended is expired on the way.
func (u *paymentUC) ensureNoActiveSibling(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) error {
	active, err := u.subs.FindActiveByUser(ctx, tx, sub.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	case active.ID == sub.ID:
		return nil
	}
	if !active.ExpireIfEnded(now) {
		return fmt.Errorf("subscription %s already active for user %s: %w", active.ID, sub.UserID, domain.ErrActiveSubscriptionExists)
	}
	if _, err := u.subs.UpdateStatusIf(ctx, tx, active, model.SubscriptionStatusActive); err != nil {
		return err
	}
	metrics.IncSubscriptionsExpired(1)
	return nil
}

func (u *paymentUC) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleWebhook")()
	ctx = logging.WithTrigger(ctx, TriggerWebhook)

	ev, err := u.gateway.ParseWebhook(rawBody, signature)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			metrics.IncWebhookRejected("bad_signature")
			logging.With(ctx, u.log).Warn().Msg("webhook rejected: signature mismatch")
			return err
		}
		metrics.IncWebhookRejected("bad_payload")
		return fmt.Errorf("decode webhook: %v: %w", err, domain.ErrInvalidArgument)
	}
	ctx = logging.WithReference(ctx, ev.Reference)
	log := logging.With(ctx, u.log)

	switch ev.Type {
	case adapter.EventChargeSuccess:
		_, err = u.settle(ctx, TriggerWebhook, ev.Reference, ev.ExternalReference, ev.Raw)
	case adapter.EventChargeFailed:
		err = u.failByReference(ctx, TriggerWebhook, ev.Reference, gatewayReason(ev.Raw))
	default:
		log.Debug().Str("event", ev.Type).Msg("webhook event ignored")
		metrics.IncReconcile(TriggerWebhook, "ignored")
		return nil
	}

	// The gateway retries anything but 2xx, so outcomes that no retry can change
	// are acknowledged.
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Str("event", ev.Type).Msg("webhook for unknown reference ignored")
		metrics.IncReconcile(TriggerWebhook, "ignored")
		return nil
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrActiveSubscriptionExists):
		log.Warn().Err(err).Str("event", ev.Type).Msg("webhook conflicts with local state; acknowledged")
		return nil
	}
	return err
}

func gatewayReason(raw map[string]any) string {
	for _, k := range []string{"gateway_response", "message"} {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return "payment failed at gateway"
}

// failByReference fails a PENDING transaction and its PENDING subscription.
// A COMPLETED transaction is never downgraded.
func (u *paymentUC) failByReference(ctx context.Context, trigger, reference, reason string) error {
	changed := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := u.txs.FindByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		if t.PaymentStatus == model.PaymentStatusCompleted {
			return nil
		}
		t, changed, err = u.ledger.MarkFailed(ctx, tx, t.ID, reason)
		if err != nil || !changed {
			return err
		}
		_, _, err = u.subUC.FailPending(ctx, tx, t.SubscriptionID, u.now())
		return err
	})
	if err != nil {
		metrics.IncReconcile(trigger, "error")
		return err
	}
	if changed {
		metrics.IncReconcile(trigger, "failed")
		logging.With(ctx, u.log).Info().Str("reason", reason).Msg("payment failed")
	} else {
		metrics.IncReconcile(trigger, "noop")
	}
	return nil
}

func (u *paymentUC) CleanupAbandoned(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CleanupAbandoned")()
	ctx = logging.WithTrigger(ctx, TriggerCleanup)
	log := logging.With(ctx, u.log)

	cutoff := now.Add(-u.opts.PaymentTimeout)
	total := 0
	for {
		n, listed, err := u.failBatch(ctx, cutoff, now)
		if err != nil {
			metrics.IncReconcile(TriggerCleanup, "error")
			log.Error().Err(err).Int("batch", listed).Int("failed_so_far", total).Msg("cleanup batch rolled back")
			return total, err
		}
		total += n
		if listed < u.opts.CleanupBatchSize || n == 0 {
			break
		}
	}

	if total > 0 {
		metrics.IncAbandonedPayments(total)
		log.Info().Int("count", total).Time("cutoff", cutoff).Msg("abandoned payments failed")
	}
	return total, nil
}

// failBatch lists and fails one batch inside a single database transaction.
// The listed rows stay locked until commit, and rows another worker holds are
// skipped. It returns how many rows were failed and how many were listed.
func (u *paymentUC) failBatch(ctx context.Context, cutoff, now time.Time) (int, int, error) {
	n, listed := 0, 0
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		n, listed = 0, 0
		batch, err := u.txs.ListPendingOlderThan(ctx, tx, cutoff, u.opts.CleanupBatchSize)
		if err != nil {
			return err
		}
		listed = len(batch)
		for _, t := range batch {
			_, changed, err := u.ledger.MarkFailed(ctx, tx, t.ID, abandonedReason)
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			if err != nil {
				return fmt.Errorf("fail transaction %s: %w", t.ID, err)
			}
			if !changed {
				continue
			}
			if _, _, err := u.subUC.FailPending(ctx, tx, t.SubscriptionID, now); err != nil {
				return fmt.Errorf("fail subscription %s: %w", t.SubscriptionID, err)
			}
			metrics.IncReconcile(TriggerCleanup, "failed")
			n++
		}
		return nil
	})
	return n, listed, err
}
