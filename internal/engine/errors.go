package engine

import "errors"

// The error taxonomy returned by the engine. All are detected before (or
// atomically with) any mutation — a failed call never leaves partial state.
// ErrNumericalFailure and ErrConflict are safe for the caller to retry;
// the rest are permanent for the given input.
var (
	// ErrInvalidInput covers non-positive amounts and unknown
	// sides/actions/resolutions.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrMarketNotFound is returned when the market does not exist.
	ErrMarketNotFound = errors.New("engine: market not found")

	// ErrMarketNotOpen is returned when trading against a closed or
	// resolved market.
	ErrMarketNotOpen = errors.New("engine: market is not open for trading")

	// ErrInsufficientBalance is returned when a buy exceeds the user's
	// cash balance.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrInsufficientShares is returned when a sell asks for more
	// proceeds than the user's held shares on that side can produce.
	ErrInsufficientShares = errors.New("engine: insufficient shares")

	// ErrNumericalFailure is returned when the share solver cannot
	// bracket or converge. No state was changed; the caller may retry.
	ErrNumericalFailure = errors.New("engine: share solver failed to converge")

	// ErrAlreadyResolved is returned when resolving a resolved market.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrConflict is returned when optimistic-concurrency retries are
	// exhausted. The caller may retry the whole operation.
	ErrConflict = errors.New("engine: trade conflicted with concurrent updates")
)
