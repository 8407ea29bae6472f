// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
)

var (
	// ErrMarketNotFound is returned when no market matches the lookup.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrMarketExists is returned when creating a market whose ticker is
	// already taken.
	ErrMarketExists = errors.New("store: market already exists")

	// ErrVersionConflict is returned by ApplyTrade when the market row
	// changed since the snapshot was read. The caller re-reads and retries.
	ErrVersionConflict = errors.New("store: market version conflict")

	// ErrMarketResolved is returned when mutating a resolved market.
	ErrMarketResolved = errors.New("store: market already resolved")

	// ErrInsufficientFunds is returned by ApplyTrade when the balance
	// debit would push the user's cash negative. Checked inside the
	// transaction so concurrent trades on other markets cannot slip past
	// the coordinator's precondition.
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

// TradeApplication is the complete effect of one trade, applied as a single
// all-or-nothing transition: market inventory+volume, user balance, user
// position, and the immutable trade record.
type TradeApplication struct {
	// PriorVersion is the market version the trade was priced against.
	// A mismatch at commit time means another trade won the race.
	PriorVersion int64

	Market   *model.Market   // updated QYes/QNo/prices/volume
	Position *model.Position // updated holdings for (user, market)
	Trade    *model.Trade

	// BalanceDelta is signed: negative debits the user (buy), positive
	// credits (sell).
	BalanceDelta decimal.Decimal
}

// PayoutCredit is one resolution payout line.
type PayoutCredit struct {
	UserID   string
	MarketID string
	Amount   decimal.Decimal // winning shares * 1.00; may be zero for losers
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	CreateMarket(ctx context.Context, market *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// CloseMarket transitions an open market to closed.
	CloseMarket(ctx context.Context, id string) error

	// MarkResolved atomically transitions a market to resolved with the
	// given winning side. Returns ErrMarketResolved if it already is —
	// this is the idempotence guard that prevents double payouts.
	MarkResolved(ctx context.Context, id, resolution string) error

	// --- Trade commit ---

	// ApplyTrade commits one trade as a single transaction, checking the
	// market version and the balance floor inside it.
	ApplyTrade(ctx context.Context, app *TradeApplication) error

	// --- Positions ---

	// GetPosition returns the user's position in one market, or a zeroed
	// position if they have never traded it.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)

	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListUnsettledPositions returns up to limit positions on a market
	// that have not been paid out yet. Drives chunked resolution.
	ListUnsettledPositions(ctx context.Context, marketID string, limit int) ([]model.Position, error)

	// SettlePositions credits the given payouts and marks the positions
	// settled in one transaction, so a payout can never apply twice.
	SettlePositions(ctx context.Context, credits []PayoutCredit) error

	// --- Balances ---

	// GetBalance returns the user's cash balance, creating it with the
	// initial grant on first touch.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// --- Trade history ---

	GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Exposure queries ---

	// GetUserCategoryExposures returns net share exposure per category.
	GetUserCategoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
}
