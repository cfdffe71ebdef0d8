package usecase

import "time"

// Clock hooks for the black-box tests in usecase_test.

func SetLedgerClock(uc LedgerUseCase, now func() time.Time) { uc.(*ledgerUC).now = now }

func SetSubscriptionClock(uc SubscriptionUseCase, now func() time.Time) {
	uc.(*subscriptionUC).now = now
}

func SetPaymentClock(uc PaymentUseCase, now func() time.Time) { uc.(*paymentUC).now = now }

func SetStatsClock(uc StatsUseCase, now func() time.Time) { uc.(*statsUC).now = now }
