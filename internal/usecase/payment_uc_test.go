//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentUseCase_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("should open a checkout for the fee-inclusive amount", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")

		sess, err := f.payUC.Initialize(ctx, "u1", "u1@gym.example", txn.ID, model.PaymentMethodCard)
		require.NoError(t, err)

		assert.Equal(t, txn.PaymentReference, sess.Reference)
		assert.Equal(t, "101.95", sess.CheckoutAmount.StringFixed(2))
		assert.Equal(t, "1.95", sess.GatewayFee.StringFixed(2))

		require.Len(t, f.gateway.Initialized, 1)
		req := f.gateway.Initialized[0]
		assert.Equal(t, int64(10195), req.AmountMinor)
		assert.Equal(t, []adapter.Channel{adapter.ChannelCard}, req.Channels)
		assert.Equal(t, txn.ID, req.Metadata["transactionId"])
		assert.Equal(t, "u1", req.Metadata["userId"])
		assert.Nil(t, req.Split)
		assert.Equal(t, model.PaymentMethodCard, f.txn(t, txn.ID).PaymentMethod)
	})

	t.Run("should route the platform share when a subaccount is configured", func(t *testing.T) {
		f := newFixture(t, func(o *usecase.PaymentOptions) { o.Subaccount = "ACCT_merchant" })
		_, txn := f.pending(t, "u1")

		_, err := f.payUC.Initialize(ctx, "u1", "u1@gym.example", txn.ID, model.PaymentMethodMobileMoney)
		require.NoError(t, err)

		req := f.gateway.Initialized[0]
		require.NotNil(t, req.Split)
		assert.Equal(t, "ACCT_merchant", req.Split.Subaccount)
		// 100 at 5% markup: base 95.238..., platform share 4.76.
		assert.Equal(t, int64(476), req.Split.PlatformShareMinor)
		assert.Equal(t, []adapter.Channel{adapter.ChannelMobileMoney}, req.Channels)
	})

	t.Run("should refuse other members and settled transactions", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")

		_, err := f.payUC.Initialize(ctx, "intruder", "x@gym.example", txn.ID, model.PaymentMethodCard)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		f.gateway.Paid[txn.PaymentReference] = true
		_, err = f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		require.NoError(t, err)

		_, err = f.payUC.Initialize(ctx, "u1", "u1@gym.example", txn.ID, model.PaymentMethodCard)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("should validate the method", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")
		_, err := f.payUC.Initialize(ctx, "u1", "u1@gym.example", txn.ID, model.PaymentMethod("CASH"))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestPaymentUseCase_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("should settle the transaction and activate for exactly the plan duration", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		f.gateway.Paid[txn.PaymentReference] = true
		f.clock.Set(t0.Add(5 * time.Minute))

		// --- Act ---
		res, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)

		// --- Assert ---
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, model.PaymentStatusCompleted, res.Transaction.PaymentStatus)
		assert.Equal(t, "ext-"+txn.PaymentReference, *res.Transaction.ExternalReference)
		assert.True(t, res.Transaction.Amount.Equal(f.store.plans[sub.PlanID].Price))

		got := f.sub(t, sub.ID)
		assert.Equal(t, model.SubscriptionStatusActive, got.Status)
		assert.Equal(t, model.PaymentStatusCompleted, got.PaymentStatus)
		assert.Equal(t, 30*24*time.Hour, got.EndDate.Sub(*got.StartDate))
	})

	t.Run("should return the same settled state on repeat without calling the gateway", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		f.gateway.Paid[txn.PaymentReference] = true

		first, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		require.NoError(t, err)
		end := *f.sub(t, sub.ID).EndDate

		f.clock.Set(t0.Add(time.Hour))
		second, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		require.NoError(t, err)
		assert.False(t, second.Changed)
		assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
		assert.Equal(t, end, *second.Subscription.EndDate)
		assert.Equal(t, 1, f.gateway.VerifyCalls)
	})

	t.Run("should leave state untouched when the gateway reports no payment", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")

		_, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		assert.ErrorIs(t, err, domain.ErrPaymentNotPaid)
		assert.Equal(t, model.PaymentStatusPending, f.txn(t, txn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, sub.ID).Status)
	})

	t.Run("should surface gateway errors and keep the transaction pending", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")
		f.gateway.VerifyFunc = func(ctx context.Context, reference string) (*adapter.VerifyResult, error) {
			return nil, errors.Join(domain.ErrGateway, errors.New("connection reset"))
		}

		_, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		assert.ErrorIs(t, err, domain.ErrGateway)
		assert.Equal(t, model.PaymentStatusPending, f.txn(t, txn.ID).PaymentStatus)
	})

	t.Run("should refuse to verify another member's reference", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")
		_, err := f.payUC.Verify(ctx, "u2", txn.PaymentReference)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("should record the payment but not activate a cancelled subscription", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		_, err := f.subUC.Cancel(ctx, sub.ID)
		require.NoError(t, err)
		f.gateway.Paid[txn.PaymentReference] = true

		res, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		require.NotNil(t, res)
		assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, txn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusCancelled, f.sub(t, sub.ID).Status)
	})

	t.Run("should record a second payment but keep one active subscription per user", func(t *testing.T) {
		f := newFixture(t)
		first, firstTxn := f.pending(t, "u1")
		second, secondTxn, err := f.subUC.CreatePending(ctx, "u1", first.PlanID)
		require.NoError(t, err)
		f.gateway.Paid[firstTxn.PaymentReference] = true
		f.gateway.Paid[secondTxn.PaymentReference] = true

		_, err = f.payUC.Verify(ctx, "u1", firstTxn.PaymentReference)
		require.NoError(t, err)
		res, err := f.payUC.Verify(ctx, "u1", secondTxn.PaymentReference)
		assert.ErrorIs(t, err, domain.ErrActiveSubscriptionExists)
		require.NotNil(t, res)

		assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, secondTxn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, second.ID).Status)
		assert.Equal(t, model.SubscriptionStatusActive, f.sub(t, first.ID).Status)
		assert.Equal(t, 1, countActive(t, f, "u1"))
	})

	t.Run("should activate a second payment once the first subscription has ended", func(t *testing.T) {
		f := newFixture(t)
		first, firstTxn := f.pending(t, "u1")
		second, secondTxn, err := f.subUC.CreatePending(ctx, "u1", first.PlanID)
		require.NoError(t, err)
		f.gateway.Paid[firstTxn.PaymentReference] = true
		f.gateway.Paid[secondTxn.PaymentReference] = true
		_, err = f.payUC.Verify(ctx, "u1", firstTxn.PaymentReference)
		require.NoError(t, err)

		f.clock.Set(t0.Add(31 * 24 * time.Hour))
		_, err = f.payUC.Verify(ctx, "u1", secondTxn.PaymentReference)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusExpired, f.sub(t, first.ID).Status)
		assert.Equal(t, model.SubscriptionStatusActive, f.sub(t, second.ID).Status)
		assert.Equal(t, 1, countActive(t, f, "u1"))
	})
}

func countActive(t *testing.T, f *fixture, userID string) int {
	t.Helper()
	subs, err := f.subs.ListByUser(context.Background(), nil, userID)
	require.NoError(t, err)
	n := 0
	for _, s := range subs {
		if s.Status == model.SubscriptionStatusActive {
			n++
		}
	}
	return n
}

func TestPaymentUseCase_Webhook(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a bad signature with no state change", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		commits := f.tm.Commits

		err := f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, txn.PaymentReference), "forged")
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
		assert.Equal(t, model.PaymentStatusPending, f.txn(t, txn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, sub.ID).Status)
		assert.Equal(t, commits, f.tm.Commits, "no database transaction was opened")
	})

	t.Run("should acknowledge a charge for a member who already holds an active subscription", func(t *testing.T) {
		f := newFixture(t)
		first, firstTxn := f.pending(t, "u1")
		second, secondTxn, err := f.subUC.CreatePending(ctx, "u1", first.PlanID)
		require.NoError(t, err)

		require.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, firstTxn.PaymentReference), goodSignature))
		assert.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, secondTxn.PaymentReference), goodSignature))

		assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, secondTxn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, second.ID).Status)
		assert.Equal(t, 1, countActive(t, f, "u1"))
	})

	t.Run("should settle on charge.success and ignore duplicates", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		body := webhookBody(adapter.EventChargeSuccess, txn.PaymentReference)

		require.NoError(t, f.payUC.HandleWebhook(ctx, body, goodSignature))
		end := *f.sub(t, sub.ID).EndDate

		f.clock.Set(t0.Add(2 * time.Hour))
		require.NoError(t, f.payUC.HandleWebhook(ctx, body, goodSignature))
		assert.Equal(t, end, *f.sub(t, sub.ID).EndDate)
		assert.Equal(t, model.SubscriptionStatusActive, f.sub(t, sub.ID).Status)
	})

	t.Run("should fail a pending payment on charge.failed", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")

		require.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeFailed, txn.PaymentReference), goodSignature))
		got := f.txn(t, txn.ID)
		assert.Equal(t, model.PaymentStatusFailed, got.PaymentStatus)
		assert.Equal(t, "Declined", *got.FailureReason)
		assert.Equal(t, model.SubscriptionStatusExpired, f.sub(t, sub.ID).Status)
	})

	t.Run("should never downgrade a completed payment on a late failure event", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		require.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, txn.PaymentReference), goodSignature))

		require.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeFailed, txn.PaymentReference), goodSignature))
		assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, txn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusActive, f.sub(t, sub.ID).Status)
	})

	t.Run("should acknowledge unknown references and events", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, "PAY-1-UNKNOWN0"), goodSignature))
		assert.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody("transfer.success", "PAY-1-UNKNOWN0"), goodSignature))
	})

	t.Run("should acknowledge a success for an already failed transaction", func(t *testing.T) {
		f := newFixture(t)
		_, txn := f.pending(t, "u1")
		_, _, err := f.ledger.MarkFailed(ctx, nil, txn.ID, "timeout")
		require.NoError(t, err)

		assert.NoError(t, f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, txn.PaymentReference), goodSignature))
		assert.Equal(t, model.PaymentStatusFailed, f.txn(t, txn.ID).PaymentStatus)
	})

	t.Run("should reject an undecodable payload", func(t *testing.T) {
		f := newFixture(t)
		err := f.payUC.HandleWebhook(ctx, []byte("{not json"), goodSignature)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestPaymentUseCase_ConcurrentVerifyAndWebhook(t *testing.T) {
	ctx := context.Background()

	// Serialized transactions model row locks: every caller must observe the
	// settled state. Interleaved transactions leave only the conditional
	// updates in place: the transition must still happen exactly once.
	for _, parallel := range []bool{false, true} {
		name := "serialized transactions"
		if parallel {
			name = "interleaved transactions"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.tm.Parallel = parallel
			sub, txn := f.pending(t, "u1")
			f.gateway.Paid[txn.PaymentReference] = true

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				settled []*usecase.Settlement
				errs    []error
			)
			const rounds = 8
			for i := 0; i < rounds; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					res, err := f.payUC.Verify(ctx, "u1", txn.PaymentReference)
					mu.Lock()
					defer mu.Unlock()
					settled = append(settled, res)
					errs = append(errs, err)
				}()
				go func() {
					defer wg.Done()
					err := f.payUC.HandleWebhook(ctx, webhookBody(adapter.EventChargeSuccess, txn.PaymentReference), goodSignature)
					mu.Lock()
					defer mu.Unlock()
					errs = append(errs, err)
				}()
			}
			wg.Wait()

			for _, err := range errs {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, f.txs.Transitions(), "transaction completed exactly once")
			assert.Equal(t, 1, f.subs.Transitions(), "subscription activated exactly once")

			got := f.sub(t, sub.ID)
			assert.Equal(t, model.SubscriptionStatusActive, got.Status)
			assert.Equal(t, 30*24*time.Hour, got.EndDate.Sub(*got.StartDate))
			assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, txn.ID).PaymentStatus)

			if parallel {
				return
			}
			for _, s := range settled {
				assert.Equal(t, model.PaymentStatusCompleted, s.Transaction.PaymentStatus)
				assert.Equal(t, model.SubscriptionStatusActive, s.Subscription.Status)
				assert.Equal(t, *got.EndDate, *s.Subscription.EndDate)
			}
		})
	}
}

func TestPaymentUseCase_CleanupAbandoned(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail stale payments and leave recent ones", func(t *testing.T) {
		f := newFixture(t)
		staleSub, stale := f.pending(t, "old")
		f.clock.Set(t0.Add(21 * time.Minute))
		freshSub, fresh := f.pending(t, "new")

		n, err := f.payUC.CleanupAbandoned(ctx, t0.Add(31*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.Equal(t, model.PaymentStatusFailed, f.txn(t, stale.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusExpired, f.sub(t, staleSub.ID).Status)
		assert.Equal(t, model.PaymentStatusFailed, f.sub(t, staleSub.ID).PaymentStatus)

		assert.Equal(t, model.PaymentStatusPending, f.txn(t, fresh.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, freshSub.ID).Status)
	})

	t.Run("should walk every batch", func(t *testing.T) {
		f := newFixture(t, func(o *usecase.PaymentOptions) { o.CleanupBatchSize = 3 })
		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
			f.pending(t, id)
		}

		n, err := f.payUC.CleanupAbandoned(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.Equal(t, 3, f.tm.Commits-7, "three batch transactions after the seven creations")
		require.Len(t, f.txs.ListedIn, 3)
		for _, tx := range f.txs.ListedIn {
			assert.NotNil(t, tx, "each batch is listed inside its transaction")
		}
	})

	t.Run("should skip a payment completed after the scan", func(t *testing.T) {
		f := newFixture(t)
		sub, txn := f.pending(t, "u1")
		// The webhook wins between the cleanup scan and its conditional update.
		f.txs.UpdateStatusIfPendingFunc = func(ctx context.Context, tx repository.Tx, x *model.Transaction) (bool, error) {
			f.store.mu.Lock()
			cur := f.store.txs[x.ID]
			cur.PaymentStatus = model.PaymentStatusCompleted
			f.store.txs[x.ID] = cur
			f.store.mu.Unlock()
			return false, nil
		}

		n, err := f.payUC.CleanupAbandoned(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, model.PaymentStatusCompleted, f.txn(t, txn.ID).PaymentStatus)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, sub.ID).Status)
	})

	t.Run("should roll back the whole batch when one row fails", func(t *testing.T) {
		f := newFixture(t)
		subA, a := f.pending(t, "a")
		subB, b := f.pending(t, "b")
		boom := errors.New("disk on fire")
		f.subs.UpdateStatusIfFunc = func(ctx context.Context, tx repository.Tx, s *model.Subscription, from ...model.SubscriptionStatus) (bool, error) {
			if s.ID == subB.ID {
				return false, boom
			}
			f.store.mu.Lock()
			f.store.subs[s.ID] = *s
			f.store.mu.Unlock()
			return true, nil
		}

		n, err := f.payUC.CleanupAbandoned(ctx, t0.Add(time.Hour))
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, n)
		for _, id := range []string{a.ID, b.ID} {
			assert.Equal(t, model.PaymentStatusPending, f.txn(t, id).PaymentStatus)
		}
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, subA.ID).Status)
		assert.Equal(t, model.SubscriptionStatusPending, f.sub(t, subB.ID).Status)
	})
}
