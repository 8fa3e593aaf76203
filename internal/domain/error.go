package domain

import "errors"

var (
	// Payment reconciliation taxonomy
	ErrInvalidRequest        = errors.New("invalid request")
	ErrAuthenticationFailure = errors.New("notification authentication failed")
	ErrDuplicateEvent        = errors.New("duplicate notification event")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrFulfillmentFailure    = errors.New("fulfillment failed")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrUnknownSession        = errors.New("no payment session for reference")
	ErrAmountMismatch        = errors.New("reported amount does not match session")
	ErrIgnoredEvent          = errors.New("notification type not handled")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrRateLimited           = errors.New("too many requests")
	ErrLockBusy              = errors.New("session is locked by another worker")

	// Storage
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
