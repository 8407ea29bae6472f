// Package engine implements the trade coordinator and resolution engine
// for binary LMSR prediction markets.
//
// The engine is pure coordination: it owns no HTTP surface and calls no
// external services. Request handlers wrap it; timeouts belong to them.
//
// Concurrency: every market has its own lock in an arena keyed by market
// ID, so trades on different markets proceed in parallel while trades on
// one market are serialized for the whole read-solve-write sequence. The
// store additionally checks a version counter inside the trade
// transaction, which covers multi-instance deployments; a version
// mismatch retries the whole sequence a bounded number of times.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/exposure"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/lmsr"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/store"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop.
const maxConflictRetries = 3

// defaultSettleBatch is the resolution chunk size. Payouts run one
// transaction per chunk so lock hold time does not grow with the number
// of positions on a popular market.
const defaultSettleBatch = 200

// Engine coordinates trade execution and market resolution against a Store.
type Engine struct {
	store       store.Store
	limiter     *exposure.Limiter // nil disables exposure limits
	settleBatch int

	mu    sync.Mutex
	locks map[string]*sync.Mutex // market ID → lock
}

// New creates an engine. Pass nil for limiter to disable exposure limits.
func New(st store.Store, limiter *exposure.Limiter) *Engine {
	return &Engine{
		store:       st,
		limiter:     limiter,
		settleBatch: defaultSettleBatch,
		locks:       make(map[string]*sync.Mutex),
	}
}

// marketLock returns the lock for one market, creating it on first use.
// Locks are never removed; the arena grows with the number of markets ever
// traded, which is small.
func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[marketID] = l
	}
	return l
}

// Order is one buy/sell request priced in cash.
type Order struct {
	UserID   string
	MarketID string
	Side     string          // YES | NO
	Action   string          // BUY | SELL
	Amount   decimal.Decimal // cash to spend (buy) or proceeds wanted (sell)
}

// Receipt describes one executed trade.
type Receipt struct {
	TradeID  string          `json:"trade_id"`
	MarketID string          `json:"market_id"`
	Ticker   string          `json:"ticker"`
	UserID   string          `json:"user_id"`
	Side     string          `json:"side"`
	Action   string          `json:"action"`
	Shares   decimal.Decimal `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Cost     decimal.Decimal `json:"cost"` // signed: positive = user paid
	PriceYes decimal.Decimal `json:"price_yes"`
	PriceNo  decimal.Decimal `json:"price_no"`
}

// ExecuteTrade validates, prices, and commits one order as an
// all-or-nothing transition. Every failure path returns before any state
// is mutated; the store transaction covers the mutation itself.
func (e *Engine) ExecuteTrade(ctx context.Context, ord Order) (*Receipt, error) {
	if ord.Side != model.SideYes && ord.Side != model.SideNo {
		return nil, fmt.Errorf("%w: side must be YES or NO", ErrInvalidInput)
	}
	if ord.Action != model.ActionBuy && ord.Action != model.ActionSell {
		return nil, fmt.Errorf("%w: action must be BUY or SELL", ErrInvalidInput)
	}
	if ord.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	lock := e.marketLock(ord.MarketID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		receipt, err := e.tryTrade(ctx, ord)
		if errors.Is(err, store.ErrVersionConflict) {
			continue // re-read and re-solve against the new state
		}
		return receipt, err
	}
	return nil, fmt.Errorf("%w: market %s", ErrConflict, ord.MarketID)
}

// tryTrade runs one read-solve-write pass. A store.ErrVersionConflict
// result means another writer committed between our snapshot and commit.
func (e *Engine) tryTrade(ctx context.Context, ord Order) (*Receipt, error) {
	m, err := e.store.GetMarket(ctx, ord.MarketID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if m.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: market %s is %s", ErrMarketNotOpen, m.ID, m.Status)
	}

	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		// b was validated at creation; a bad value here is corrupt state.
		return nil, fmt.Errorf("market %s has invalid liquidity: %w", m.ID, err)
	}

	pos, err := e.store.GetPosition(ctx, ord.UserID, ord.MarketID)
	if err != nil {
		return nil, err
	}
	bal, err := e.store.GetBalance(ctx, ord.UserID)
	if err != nil {
		return nil, err
	}

	// The solver works on the (traded side, other side) pair; LMSR is
	// symmetric so NO trades just swap the arguments.
	qFirst, qSecond := m.QYes, m.QNo
	if ord.Side == model.SideNo {
		qFirst, qSecond = m.QNo, m.QYes
	}

	var shares decimal.Decimal
	var balanceDelta, cost decimal.Decimal

	switch ord.Action {
	case model.ActionBuy:
		if bal.Cash.LessThan(ord.Amount) {
			return nil, fmt.Errorf("%w: have %s, need %s",
				ErrInsufficientBalance, bal.Cash, ord.Amount)
		}
		shares, err = mm.SharesForSpend(qFirst, qSecond, ord.Amount)
		if err != nil {
			return nil, mapSolverErr(err)
		}
		qFirst = qFirst.Add(shares)
		balanceDelta = ord.Amount.Neg()
		cost = ord.Amount

	case model.ActionSell:
		held := pos.YesShares
		if ord.Side == model.SideNo {
			held = pos.NoShares
		}
		if held.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: no %s shares held", ErrInsufficientShares, ord.Side)
		}
		shares, err = mm.SharesForProceeds(qFirst, qSecond, ord.Amount, held)
		if err != nil {
			return nil, mapSolverErr(err)
		}
		if shares.GreaterThan(held) {
			shares = held // rounding guard
		}
		qFirst = qFirst.Sub(shares)
		balanceDelta = ord.Amount
		cost = ord.Amount.Neg()
	}

	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: solver returned non-positive share quantity", ErrNumericalFailure)
	}
	avgPrice := ord.Amount.Div(shares).Round(lmsr.PriceScale)

	newQYes, newQNo := qFirst, qSecond
	if ord.Side == model.SideNo {
		newQYes, newQNo = qSecond, qFirst
	}

	// Exposure limits, checked against current holdings plus this trade.
	if e.limiter != nil {
		delta := shares
		if (ord.Side == model.SideYes) != (ord.Action == model.ActionBuy) {
			delta = delta.Neg()
		}
		exposures, err := e.store.GetUserCategoryExposures(ctx, ord.UserID)
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Check(pos.NetExposure(), exposures[m.Category], delta); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	updated := *m
	updated.QYes = newQYes
	updated.QNo = newQNo
	updated.PriceYes = mm.Price(newQYes, newQNo)
	updated.PriceNo = mm.PriceNo(newQYes, newQNo)
	if ord.Action == model.ActionBuy {
		updated.Volume = m.Volume.Add(ord.Amount)
	}

	newPos := applyToPosition(pos, m, ord, shares, avgPrice, now)

	trade := &model.Trade{
		ID:        uuid.New().String(),
		UserID:    ord.UserID,
		MarketID:  m.ID,
		Ticker:    m.Ticker,
		Side:      ord.Side,
		Action:    ord.Action,
		Shares:    shares,
		Price:     avgPrice,
		Cost:      cost,
		CreatedAt: now,
	}

	app := &store.TradeApplication{
		PriorVersion: m.Version,
		Market:       &updated,
		Position:     newPos,
		Trade:        trade,
		BalanceDelta: balanceDelta,
	}

	if err := e.store.ApplyTrade(ctx, app); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, err // retried by ExecuteTrade
		}
		return nil, mapStoreErr(err)
	}

	return &Receipt{
		TradeID:  trade.ID,
		MarketID: m.ID,
		Ticker:   m.Ticker,
		UserID:   ord.UserID,
		Side:     ord.Side,
		Action:   ord.Action,
		Shares:   shares,
		AvgPrice: avgPrice,
		Cost:     cost,
		PriceYes: updated.PriceYes,
		PriceNo:  updated.PriceNo,
	}, nil
}

// applyToPosition returns the position after the trade. On a buy the
// volume-weighted entry price is recomputed; a sell reduces the share
// count and leaves the entry price untouched.
func applyToPosition(pos *model.Position, m *model.Market, ord Order,
	shares, avgPrice decimal.Decimal, now time.Time) *model.Position {

	p := *pos
	p.Ticker = m.Ticker
	p.Category = m.Category
	p.UpdatedAt = now

	heldShares, heldAvg := p.YesShares, p.AvgYesPrice
	if ord.Side == model.SideNo {
		heldShares, heldAvg = p.NoShares, p.AvgNoPrice
	}

	if ord.Action == model.ActionBuy {
		total := heldShares.Add(shares)
		heldAvg = heldAvg.Mul(heldShares).Add(ord.Amount).Div(total).Round(lmsr.PriceScale)
		heldShares = total
	} else {
		heldShares = heldShares.Sub(shares)
		if heldShares.IsNegative() {
			heldShares = decimal.Zero
		}
	}

	if ord.Side == model.SideYes {
		p.YesShares, p.AvgYesPrice = heldShares, heldAvg
	} else {
		p.NoShares, p.AvgNoPrice = heldShares, heldAvg
	}
	return &p
}

// PriceQuote is the read-only price surface.
type PriceQuote struct {
	MarketID string          `json:"market_id"`
	Ticker   string          `json:"ticker"`
	PriceYes decimal.Decimal `json:"price_yes"`
	PriceNo  decimal.Decimal `json:"price_no"`
}

// Quote returns the current YES/NO prices for a market.
func (e *Engine) Quote(ctx context.Context, marketID string) (*PriceQuote, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &PriceQuote{
		MarketID: m.ID,
		Ticker:   m.Ticker,
		PriceYes: m.PriceYes,
		PriceNo:  m.PriceNo,
	}, nil
}

// CloseMarket transitions an open market to closed. Invoked by the
// external close-time scheduler; closed markets reject trades but can
// still be resolved.
func (e *Engine) CloseMarket(ctx context.Context, marketID string) error {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.CloseMarket(ctx, marketID); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		return fmt.Errorf("%w: %v", ErrMarketNotFound, err)
	case errors.Is(err, store.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case errors.Is(err, store.ErrMarketResolved):
		return fmt.Errorf("%w: %v", ErrAlreadyResolved, err)
	default:
		return err
	}
}

func mapSolverErr(err error) error {
	switch {
	case errors.Is(err, lmsr.ErrNonPositiveAmount):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, lmsr.ErrProceedsExceedHoldings):
		return fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	case errors.Is(err, lmsr.ErrBracketFailure):
		return fmt.Errorf("%w: %v", ErrNumericalFailure, err)
	default:
		return fmt.Errorf("%w: %v", ErrNumericalFailure, err)
	}
}
