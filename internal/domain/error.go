package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("access denied")

	// Business-rule violations: the operation is rejected and state is unchanged.
	ErrRoleMismatch             = errors.New("plan is not available for this user role")
	ErrActiveSubscriptionExists = errors.New("user already has an active subscription")
	ErrInvalidState             = errors.New("invalid state transition")
	ErrConflict                 = errors.New("conflicting payment attempt")
	ErrPlanInactive             = errors.New("plan is no longer active")
	ErrPlanInUse                = errors.New("plan is referenced by subscriptions")

	// Payment provider
	ErrGateway          = errors.New("payment gateway error")
	ErrPaymentNotPaid   = errors.New("payment not confirmed by gateway")
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// Storage
	ErrOperationFailed    = errors.New("database operation failed")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
