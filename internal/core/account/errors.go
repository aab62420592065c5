package account

import "errors"

// Precondition errors. None of these record an operation or change state.
var (
	// ErrInvalidAmount is returned when a mutation is requested with a
	// non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNoRecipients is returned for a split transfer with an empty
	// recipient list.
	ErrNoRecipients = errors.New("transfer requires at least one recipient")

	// ErrInvalidPercentage is returned for a split share with a
	// non-positive percentage.
	ErrInvalidPercentage = errors.New("percentage must be positive")

	// ErrOperationNotFound is returned by refund when the target
	// operation id is not on the ledger.
	ErrOperationNotFound = errors.New("operation does not exist")

	// ErrNotRefundable is returned by refund when the target exists but
	// is not a card transaction in status done.
	ErrNotRefundable = errors.New("unrefundable operation")
)
