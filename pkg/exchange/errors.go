package exchange

import "errors"

// Every failed operation aborts with no partial state. The sentinels below
// are wrapped with call context via fmt.Errorf("...: %w", ...) so callers can
// branch with errors.Is while the front end shows the full reason verbatim.
var (
	// ErrInvalidAsset is returned when the native-currency sentinel is used
	// where a token address is required.
	ErrInvalidAsset = errors.New("ether sentinel is not a token asset")

	// ErrInsufficientFunds is returned when a custodial balance cannot cover
	// the requested debit.
	ErrInsufficientFunds = errors.New("insufficient custodial balance")

	// ErrInsufficientAllowance is returned when the token ledger allowance
	// cannot cover the requested deposit.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")

	// ErrOrderNotFound is returned for order ids that were never assigned.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotAuthorized is returned when a non-creator tries to cancel.
	ErrNotAuthorized = errors.New("caller is not the order creator")

	// ErrOrderClosed is returned when cancelling or filling an order that is
	// no longer open.
	ErrOrderClosed = errors.New("order is not open")

	// ErrSelfFill is returned when the creator fills their own order and the
	// deployment policy forbids it.
	ErrSelfFill = errors.New("self-fill is disabled")

	// ErrUnknownAsset is returned when an asset resolves to no registered
	// token ledger.
	ErrUnknownAsset = errors.New("unknown token asset")

	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)
