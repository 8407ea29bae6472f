// Package exposure implements position limits that cap a user's directional
// risk per market and in aggregate per category.
//
// A user buying YES across every market in one category carries correlated
// risk (one news event can move all of them). The limiter caps the absolute
// net share exposure in any single market and the aggregate absolute
// exposure across a category.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a trade would push the
	// user's net position in one market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("exposure: per-market position limit exceeded")

	// ErrCategoryLimitExceeded is returned when a trade would push the
	// user's aggregate exposure across a category beyond the maximum.
	ErrCategoryLimitExceeded = errors.New("exposure: category exposure limit exceeded")
)

// Limiter enforces per-market and per-category exposure limits.
// Exposure is measured in net shares: yes - no, so YES buys and NO sells
// add, NO buys and YES sells subtract.
type Limiter struct {
	// MaxPerMarket is the maximum absolute net position in one market.
	MaxPerMarket decimal.Decimal

	// MaxPerCategory is the maximum aggregate absolute exposure across
	// all of a user's markets sharing one category.
	MaxPerCategory decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPerMarket, maxPerCategory decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerMarket:   maxPerMarket,
		MaxPerCategory: maxPerCategory,
	}
}

// Check validates whether a trade respects the limits.
//
// Parameters:
//   - marketNet: the user's current net exposure in the target market
//   - categoryNet: the user's current aggregate net exposure in the
//     target market's category, including the target market
//   - delta: signed exposure change of the proposed trade
//
// Returns nil if the trade is within limits.
func (l *Limiter) Check(marketNet, categoryNet, delta decimal.Decimal) error {
	newMarket := marketNet.Add(delta)
	if newMarket.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	newCategory := categoryNet.Add(delta)
	if newCategory.Abs().GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}

	return nil
}
