package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Constructor tests ---

func TestNewMarketMaker_Valid(t *testing.T) {
	mm, err := NewMarketMaker(d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mm.B().Equal(d(100)) {
		t.Errorf("expected b=100, got %s", mm.B())
	}
}

func TestNewMarketMaker_ZeroB(t *testing.T) {
	_, err := NewMarketMaker(d(0))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=0, got %v", err)
	}
}

func TestNewMarketMaker_NegativeB(t *testing.T) {
	_, err := NewMarketMaker(d(-50))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=-50, got %v", err)
	}
}

// --- Price function tests ---

func TestPrice_InitiallyFiftyFifty(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	price := mm.Price(d(0), d(0))
	if !price.Equal(d(0.5)) {
		t.Errorf("expected initial price 0.5, got %s", price)
	}
}

func TestPrice_BuyingYesIncreasesPrice(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	priceBefore := mm.Price(d(0), d(0))
	priceAfter := mm.Price(d(10), d(0))
	if priceAfter.LessThanOrEqual(priceBefore) {
		t.Errorf("buying YES should increase price: before=%s after=%s",
			priceBefore, priceAfter)
	}
}

func TestPrice_SumsToOne(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	one := decimal.NewFromInt(1)
	tolerance := d(0.000000001)

	tests := []struct {
		qYes, qNo float64
	}{
		{0, 0},
		{10, 0},
		{0, 10},
		{30, 10},
		{100, 200},
		{500, 100},
		{-50, 30}, // AMM inventory can go negative
		{2000, -2000},
	}
	for _, tt := range tests {
		pYes := mm.Price(d(tt.qYes), d(tt.qNo))
		pNo := mm.PriceNo(d(tt.qYes), d(tt.qNo))
		sum := pYes.Add(pNo)
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: pYes=%s pNo=%s sum=%s (q=%.0f,%.0f)",
				pYes, pNo, sum, tt.qYes, tt.qNo)
		}
	}
}

func TestPrice_WithinOpenUnitInterval(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// Heavily skewed inventory still quotes strictly inside (0, 1).
	p := mm.Price(d(100000), d(-100000))
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		t.Errorf("price must stay in (0, 1), got %s", p)
	}
}

// --- Cost function tests ---

func TestCost_StableForTinyBAndHugeInventory(t *testing.T) {
	// b = 0.01 with large share counts overflows a naive
	// exp-then-log evaluation; log-sum-exp must keep it finite.
	mm, _ := NewMarketMaker(d(0.01))
	c := mm.Cost(d(1_000_000), d(0))
	f := c.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		t.Fatalf("cost overflowed: %s", c)
	}
	// C(q, 0) ~ q for q >> b.
	if c.LessThan(d(999_999)) || c.GreaterThan(d(1_000_001)) {
		t.Errorf("expected cost ~ 1e6, got %s", c)
	}

	p := mm.Price(d(1_000_000), d(0))
	pf := p.InexactFloat64()
	if math.IsNaN(pf) || math.IsInf(pf, 0) {
		t.Fatalf("price overflowed: %s", p)
	}
}

func TestTradeCost_BuyPositive(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(0), d(0), d(10))
	if cost.LessThanOrEqual(decimal.Zero) {
		t.Errorf("buying YES should cost positive amount, got %s", cost)
	}
}

func TestTradeCost_SellNegative(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(10), d(0), d(-10))
	if cost.GreaterThanOrEqual(decimal.Zero) {
		t.Errorf("selling YES should return money (negative cost), got %s", cost)
	}
}

func TestTradeCost_StrictlyIncreasingInShares(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	prev := decimal.Zero
	for _, s := range []float64{1, 5, 10, 50, 100, 500} {
		cost := mm.TradeCost(d(30), d(10), d(s))
		if cost.LessThanOrEqual(prev) {
			t.Fatalf("cost must increase with shares: cost(%v)=%s prev=%s", s, cost, prev)
		}
		prev = cost
	}
}

func TestTradeCostNo_MatchesSymmetry(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// Buying 10 NO from (0,0) should cost the same as buying 10 YES
	// because LMSR is symmetric at the origin.
	costYes := mm.TradeCost(d(0), d(0), d(10))
	costNo := mm.TradeCostNo(d(0), d(0), d(10))
	if !costYes.Equal(costNo) {
		t.Errorf("expected symmetric cost at origin: YES=%s NO=%s", costYes, costNo)
	}
}

func TestCost_PathIndependence(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.0000001)

	// Buy 10, then buy 5 more should cost the same as buying 15 at once.
	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(5))
	sequential := cost1.Add(cost2)

	direct := mm.TradeCost(d(0), d(0), d(15))

	if sequential.Sub(direct).Abs().GreaterThan(tolerance) {
		t.Errorf("LMSR should be path-independent: sequential=%s direct=%s",
			sequential, direct)
	}
}

func TestCost_Convexity(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	// Second 10 shares should cost more than the first 10 (convex cost).
	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(10))
	if cost2.LessThanOrEqual(cost1) {
		t.Errorf("second batch should cost more (convexity): first=%s second=%s",
			cost1, cost2)
	}
}

func TestFillPrice_AtOrigin(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	fill := mm.FillPrice(d(0), d(0), d(10))
	// Small buy at 50/50 fills slightly above 0.5.
	if fill.LessThan(d(0.5)) || fill.GreaterThan(d(0.55)) {
		t.Errorf("expected fill just above 0.5, got %s", fill)
	}
}

func TestMaxLoss_BLn2(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	expected := 100 * math.Log(2)
	got := mm.MaxLoss().InexactFloat64()
	if math.Abs(got-expected) > 0.0001 {
		t.Errorf("expected max loss %.4f, got %.4f", expected, got)
	}
}
