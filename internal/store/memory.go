package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	positions map[string]*model.Position // key: userID + "/" + marketID
	balances  map[string]*model.Balance
	trades    []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
		balances:  make(map[string]*model.Balance),
	}
}

func posKey(userID, marketID string) string {
	return userID + "/" + marketID
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Ticker == m.Ticker {
			return fmt.Errorf("%w: ticker %s", ErrMarketExists, m.Ticker)
		}
	}

	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMarketByTicker(_ context.Context, ticker string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Ticker == ticker {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: ticker %s", ErrMarketNotFound, ticker)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) CloseMarket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if m.Status == model.StatusResolved {
		return fmt.Errorf("%w: %s", ErrMarketResolved, id)
	}
	m.Status = model.StatusClosed
	m.Version++
	return nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, id, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if m.Status == model.StatusResolved {
		return fmt.Errorf("%w: %s", ErrMarketResolved, id)
	}
	m.Status = model.StatusResolved
	m.Resolution = resolution
	m.Version++
	return nil
}

// ApplyTrade commits all four effects under one lock. The version check
// and balance floor are evaluated before any field is written so a failed
// application leaves no partial state.
func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[app.Market.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, app.Market.ID)
	}
	if m.Version != app.PriorVersion {
		return fmt.Errorf("%w: market %s version %d != %d",
			ErrVersionConflict, m.ID, m.Version, app.PriorVersion)
	}

	bal := s.balanceLocked(app.Trade.UserID)
	newCash := bal.Cash.Add(app.BalanceDelta)
	if newCash.IsNegative() {
		return fmt.Errorf("%w: user %s", ErrInsufficientFunds, app.Trade.UserID)
	}

	// Commit.
	m.QYes = app.Market.QYes
	m.QNo = app.Market.QNo
	m.PriceYes = app.Market.PriceYes
	m.PriceNo = app.Market.PriceNo
	m.Volume = app.Market.Volume
	m.Version++

	bal.Cash = newCash
	bal.UpdatedAt = app.Trade.CreatedAt

	pos := *app.Position
	s.positions[posKey(pos.UserID, pos.MarketID)] = &pos

	s.trades = append(s.trades, *app.Trade)
	return nil
}

// balanceLocked returns the balance record, creating it with the initial
// grant. Caller must hold s.mu.
func (s *MemoryStore) balanceLocked(userID string) *model.Balance {
	bal, ok := s.balances[userID]
	if !ok {
		bal = &model.Balance{
			UserID:    userID,
			Cash:      model.InitialGrant,
			UpdatedAt: time.Now().UTC(),
		}
		s.balances[userID] = bal
	}
	return bal
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[posKey(userID, marketID)]; ok {
		cp := *p
		return &cp, nil
	}
	return &model.Position{UserID: userID, MarketID: marketID}, nil
}

// GetUserPositions returns the user's positions with mark-to-market value
// and unrealized P&L from current market prices.
func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		cp := *p
		s.markToMarketLocked(&cp)
		positions = append(positions, cp)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].MarketID < positions[j].MarketID
	})
	return positions, nil
}

// markToMarketLocked fills CurrentValue and UnrealizedPnL. Caller must hold
// at least a read lock.
func (s *MemoryStore) markToMarketLocked(p *model.Position) {
	priceYes := decimal.NewFromFloat(0.5)
	if m, ok := s.markets[p.MarketID]; ok {
		priceYes = m.PriceYes
	}
	priceNo := decimal.NewFromInt(1).Sub(priceYes)

	p.CurrentValue = priceYes.Mul(p.YesShares).Add(priceNo.Mul(p.NoShares))

	costBasis := p.AvgYesPrice.Mul(p.YesShares).Add(p.AvgNoPrice.Mul(p.NoShares))
	p.UnrealizedPnL = p.CurrentValue.Sub(costBasis)
}

func (s *MemoryStore) ListUnsettledPositions(_ context.Context, marketID string, limit int) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	keys := make([]string, 0, len(s.positions))
	for k := range s.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		p := s.positions[k]
		if p.MarketID != marketID || p.Settled {
			continue
		}
		result = append(result, *p)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) SettlePositions(_ context.Context, credits []PayoutCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range credits {
		p, ok := s.positions[posKey(c.UserID, c.MarketID)]
		if !ok || p.Settled {
			continue
		}
		bal := s.balanceLocked(c.UserID)
		bal.Cash = bal.Cash.Add(c.Amount)
		p.Settled = true
	}
	return nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balanceLocked(userID)
	cp := *bal
	return &cp, nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetUserCategoryExposures(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exposures := make(map[string]decimal.Decimal)
	for _, p := range s.positions {
		if p.UserID != userID || p.Category == "" {
			continue
		}
		exposures[p.Category] = exposures[p.Category].Add(p.NetExposure())
	}
	return exposures, nil
}
