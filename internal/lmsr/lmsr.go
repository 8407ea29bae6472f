// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary YES/NO prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(2) for two outcomes)
//   - Continuous pricing with always-available liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0. This is a
	// market-creation precondition; it is never raised at trade time.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// MinPrice is the lowest reported price. The softmax never reaches 0
	// for finite inputs, but rounded display prices are floored here so a
	// market always quotes a tradable probability.
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the highest reported price, mirroring MinPrice.
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// MarketMaker implements the LMSR cost function for binary outcome markets.
// It is stateless — market quantities are passed as arguments, not stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates an LMSR market maker with liquidity parameter b.
// Higher b → deeper liquidity, lower price impact per trade. Maximum
// market-maker loss is bounded by b * ln(2).
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(exp(x) + exp(y)) without overflowing float64.
// Without max-subtraction, exp(x) overflows when x > ~709 — reachable for
// large share counts at small b.
//
// LSE(x, y) = max + ln(exp(x - max) + exp(y - max)), arguments <= 0.
func logSumExp(x, y float64) float64 {
	maxVal := math.Max(x, y)
	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}
	return maxVal + math.Log(math.Exp(x-maxVal)+math.Exp(y-maxVal))
}

// costFloat is the float64 core of the cost function, shared with the
// share solver's bisection loop.
func costFloat(b, qYes, qNo float64) float64 {
	return b * logSumExp(qYes/b, qNo/b)
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(exp(qYes/b) + exp(qNo/b))
//
// Uses logSumExp internally for numerical stability.
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	c := costFloat(m.b.InexactFloat64(), qYes.InexactFloat64(), qNo.InexactFloat64())
	return decimal.NewFromFloat(c).Round(PriceScale)
}

// Price computes the instantaneous price (probability) for the YES outcome:
//
//	p_yes = exp(qYes/b) / (exp(qYes/b) + exp(qNo/b))
//
// This is the softmax function, evaluated with max-subtraction. The result
// is clamped to [MinPrice, MaxPrice] so a quoted market never shows an
// outcome as free or certain.
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	p := priceFloat(m.b.InexactFloat64(), qYes.InexactFloat64(), qNo.InexactFloat64())
	result := decimal.NewFromFloat(p).Round(PriceScale)

	if result.LessThan(MinPrice) {
		return MinPrice
	}
	if result.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return result
}

func priceFloat(b, qYes, qNo float64) float64 {
	yOverB := qYes / b
	nOverB := qNo / b
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)
	return expYes / (expYes + expNo)
}

// PriceNo returns the instantaneous price for the NO outcome: 1 - p_yes.
// Computed as the complement so the two quoted prices always sum to 1.
func (m *MarketMaker) PriceNo(qYes, qNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(qYes, qNo))
}

// TradeCost computes the cash cost of changing the YES inventory by delta:
//
//	cost = C(qYes + delta, qNo) - C(qYes, qNo)
//
// Positive delta = buying YES (positive cost to trader).
// Negative delta = selling YES (negative cost = credit to trader).
func (m *MarketMaker) TradeCost(qYes, qNo, delta decimal.Decimal) decimal.Decimal {
	costBefore := m.Cost(qYes, qNo)
	costAfter := m.Cost(qYes.Add(delta), qNo)
	return costAfter.Sub(costBefore)
}

// TradeCostNo computes the cost of changing the NO inventory by delta.
// Uses the symmetry property C(a, b) = C(b, a).
func (m *MarketMaker) TradeCostNo(qYes, qNo, delta decimal.Decimal) decimal.Decimal {
	return m.TradeCost(qNo, qYes, delta)
}

// FillPrice returns the average execution price per share for a trade of
// delta shares on the first-argument side: cost / delta. Positive for both
// buys and sells.
func (m *MarketMaker) FillPrice(qFirst, qSecond, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.Price(qFirst, qSecond)
	}
	cost := m.TradeCost(qFirst, qSecond, delta)
	return cost.Div(delta).Round(PriceScale)
}

// MaxLoss returns the maximum possible loss for the market maker,
// b * ln(2) for a binary market. This bound is the economic reason b is
// fixed at creation and validated positive.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	loss := m.b.InexactFloat64() * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
