package engine

import "errors"

// Rejection and failure taxonomy for the matching core. Callers classify
// with errors.Is; the wrapped message carries required/available amounts
// where they apply.
var (
	// ErrNotFound covers unknown tickers and unknown or foreign orders.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds rejects an order whose reservation the caller's
	// available balance cannot cover.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientLiquidity rejects a MARKET order the opposing side of
	// the book cannot fill.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvalidState rejects operations illegal for the current order or
	// instrument state, e.g. cancelling a terminal order.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvariantViolation marks internal inconsistencies. It aborts the
	// current critical section only and indicates a bug, not user error.
	ErrInvariantViolation = errors.New("invariant violation")
)

func isErr(err, target error) bool { return errors.Is(err, target) }
