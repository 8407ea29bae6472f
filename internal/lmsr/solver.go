package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveAmount is returned when the solver is asked to invert
	// a zero or negative cash amount. Callers are expected to reject this
	// earlier; the solver guards anyway.
	ErrNonPositiveAmount = errors.New("lmsr: amount must be positive")

	// ErrBracketFailure is returned when the search bound cannot be grown
	// to bracket the root. Retryable by the caller; the market state is
	// untouched.
	ErrBracketFailure = errors.New("lmsr: failed to bracket share quantity for amount")

	// ErrProceedsExceedHoldings is returned when the requested sale
	// proceeds exceed what selling the entire held quantity would return.
	ErrProceedsExceedHoldings = errors.New("lmsr: requested proceeds exceed value of held shares")
)

// bisectIterations is the fixed bisection count. 100 halvings converge far
// past double precision for any realistic amount/b range, and a fixed count
// guarantees termination where an epsilon stop could spin.
const bisectIterations = 100

// maxBracketDoublings bounds the upper-bound growth loop.
const maxBracketDoublings = 60

// SharesForSpend finds the share quantity s such that buying s shares of
// the first-argument side costs exactly spend:
//
//	C(qFirst + s, qSecond) - C(qFirst, qSecond) == spend
//
// The cost function is strictly increasing and convex in s, so bisection is
// safe. The initial upper bound spend*100 is generous for ordinary b, but it
// is not proven to bracket for every b/amount combination — so the bound is
// verified and doubled until cost(hi) >= spend before bisecting.
func (m *MarketMaker) SharesForSpend(qFirst, qSecond, spend decimal.Decimal) (decimal.Decimal, error) {
	if spend.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNonPositiveAmount
	}

	b := m.b.InexactFloat64()
	q1 := qFirst.InexactFloat64()
	q2 := qSecond.InexactFloat64()
	target := spend.InexactFloat64()

	base := costFloat(b, q1, q2)
	costOf := func(s float64) float64 {
		return costFloat(b, q1+s, q2) - base
	}

	hi := target * 100
	grown := 0
	for costOf(hi) < target {
		hi *= 2
		grown++
		if grown > maxBracketDoublings || math.IsInf(hi, 1) {
			return decimal.Zero, ErrBracketFailure
		}
	}

	lo := 0.0
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if costOf(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}

	shares := (lo + hi) / 2
	if math.IsNaN(shares) || math.IsInf(shares, 0) {
		return decimal.Zero, ErrBracketFailure
	}
	return decimal.NewFromFloat(shares).Round(PriceScale), nil
}

// SharesForProceeds finds the share quantity s in [0, held] such that
// selling s shares of the first-argument side credits exactly proceeds:
//
//	C(qFirst, qSecond) - C(qFirst - s, qSecond) == proceeds
//
// The credit is strictly increasing in s, and selling the whole holding is
// an a-priori upper bound, so no bracket growth is needed — but if even the
// full holding is worth less than the requested proceeds the sale cannot be
// filled and ErrProceedsExceedHoldings is returned.
func (m *MarketMaker) SharesForProceeds(qFirst, qSecond, proceeds, held decimal.Decimal) (decimal.Decimal, error) {
	if proceeds.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNonPositiveAmount
	}
	if held.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrProceedsExceedHoldings
	}

	b := m.b.InexactFloat64()
	q1 := qFirst.InexactFloat64()
	q2 := qSecond.InexactFloat64()
	target := proceeds.InexactFloat64()

	base := costFloat(b, q1, q2)
	creditOf := func(s float64) float64 {
		return base - costFloat(b, q1-s, q2)
	}

	hi := held.InexactFloat64()
	if creditOf(hi) < target {
		return decimal.Zero, ErrProceedsExceedHoldings
	}

	lo := 0.0
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if creditOf(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}

	shares := (lo + hi) / 2
	if math.IsNaN(shares) || math.IsInf(shares, 0) {
		return decimal.Zero, ErrBracketFailure
	}
	return decimal.NewFromFloat(shares).Round(PriceScale), nil
}
