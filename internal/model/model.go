// Package model defines the core domain types shared across the market
// engine. All monetary and share values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Trade actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Market lifecycle states.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// InitialGrant is the cash balance every user starts with.
var InitialGrant = decimal.NewFromInt(1000)

// Market is the authoritative state of one binary prediction market.
//
// QYes/QNo are the AMM's net outstanding share inventory — signed
// quantities that can go negative when the market maker is short a side.
// They are a different thing from the non-negative per-user share counts
// in Position and must never be conflated.
type Market struct {
	ID         string          `json:"id" db:"id"`
	Ticker     string          `json:"ticker" db:"ticker"`
	Category   string          `json:"category" db:"category"`
	Question   string          `json:"question" db:"question"`
	QYes       decimal.Decimal `json:"q_yes" db:"q_yes"`
	QNo        decimal.Decimal `json:"q_no" db:"q_no"`
	B          decimal.Decimal `json:"b" db:"b"` // LMSR liquidity parameter, fixed at creation
	PriceYes   decimal.Decimal `json:"price_yes" db:"price_yes"`
	PriceNo    decimal.Decimal `json:"price_no" db:"price_no"`
	Status     string          `json:"status" db:"status"`         // open | closed | resolved
	Resolution string          `json:"resolution" db:"resolution"` // YES | NO | "" while unresolved
	Volume     decimal.Decimal `json:"volume" db:"volume"`         // cumulative traded cash, never decreases
	Version    int64           `json:"version" db:"version"`       // optimistic-concurrency counter
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ClosesAt   time.Time       `json:"closes_at" db:"closes_at"`
}

// Position is a user's holdings in one market. Share counts are
// non-negative; zero-quantity positions persist as history. The average
// prices are volume-weighted entry prices kept for display — payout at
// resolution depends only on the share counts.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Category    string          `json:"category" db:"category"`
	YesShares   decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares    decimal.Decimal `json:"no_shares" db:"no_shares"`
	AvgYesPrice decimal.Decimal `json:"avg_yes_price" db:"avg_yes_price"`
	AvgNoPrice  decimal.Decimal `json:"avg_no_price" db:"avg_no_price"`
	Settled     bool            `json:"settled" db:"settled"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`

	// Mark-to-market fields, computed at query time.
	CurrentValue  decimal.Decimal `json:"current_value" db:"-"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"-"`
}

// NetExposure returns the signed directional exposure: yes - no.
func (p *Position) NetExposure() decimal.Decimal {
	return p.YesShares.Sub(p.NoShares)
}

// Trade is an immutable record of one executed order. Written once by the
// trade coordinator, never updated or deleted.
type Trade struct {
	ID       string          `json:"id" db:"id"`
	UserID   string          `json:"user_id" db:"user_id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Ticker   string          `json:"ticker" db:"ticker"`
	Side     string          `json:"side" db:"side"`     // YES | NO
	Action   string          `json:"action" db:"action"` // BUY | SELL
	Shares   decimal.Decimal `json:"shares" db:"shares"` // always positive
	Price    decimal.Decimal `json:"price" db:"price"`   // average fill price
	Cost     decimal.Decimal `json:"cost" db:"cost"`     // signed: positive = user paid
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Balance is a user's cash account. Created lazily with InitialGrant,
// debited on buys, credited on sells and resolution payouts.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Portfolio aggregates all positions for a user with P&L totals.
type Portfolio struct {
	UserID             string                     `json:"user_id"`
	Cash               decimal.Decimal            `json:"cash"`
	Positions          []Position                 `json:"positions"`
	TotalPnL           decimal.Decimal            `json:"total_pnl"`
	TotalExposure      decimal.Decimal            `json:"total_exposure"`      // Σ |net exposure|
	ExposureByCategory map[string]decimal.Decimal `json:"exposure_by_category"`
}
