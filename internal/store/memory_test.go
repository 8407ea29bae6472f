package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
)

func testMarket(id string) *model.Market {
	return &model.Market{
		ID:        id,
		Ticker:    "FH-TECH-" + id + "-20261231",
		Category:  "TECH",
		B:         decimal.NewFromInt(100),
		PriceYes:  decimal.NewFromFloat(0.5),
		PriceNo:   decimal.NewFromFloat(0.5),
		Status:    model.StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
}

func testApplication(m *model.Market, userID string, delta decimal.Decimal) *TradeApplication {
	now := time.Now().UTC()
	return &TradeApplication{
		PriorVersion: m.Version,
		Market:       m,
		Position: &model.Position{
			UserID:    userID,
			MarketID:  m.ID,
			Ticker:    m.Ticker,
			Category:  m.Category,
			YesShares: decimal.NewFromInt(10),
			UpdatedAt: now,
		},
		Trade: &model.Trade{
			ID:        "t-" + userID,
			UserID:    userID,
			MarketID:  m.ID,
			Side:      model.SideYes,
			Action:    model.ActionBuy,
			Shares:    decimal.NewFromInt(10),
			Price:     decimal.NewFromFloat(0.5),
			Cost:      delta.Neg(),
			CreatedAt: now,
		},
		BalanceDelta: delta,
	}
}

func TestApplyTrade_VersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("M1")
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}

	// Commit once, bumping the version past the stale snapshot.
	if err := s.ApplyTrade(ctx, testApplication(m, "alice", decimal.NewFromInt(-5))); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	err := s.ApplyTrade(ctx, testApplication(m, "bob", decimal.NewFromInt(-5)))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The conflicting application must leave no trace.
	if _, ok := s.positions[posKey("bob", m.ID)]; ok {
		t.Error("conflicting trade wrote a position")
	}
	trades, _ := s.GetTradesByMarket(ctx, m.ID)
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}

func TestApplyTrade_BalanceFloor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("M1")
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}

	overdraft := model.InitialGrant.Add(decimal.NewFromInt(1)).Neg()
	err := s.ApplyTrade(ctx, testApplication(m, "alice", overdraft))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Market version, balance, and trade log are all untouched.
	cur, _ := s.GetMarket(ctx, m.ID)
	if cur.Version != 0 {
		t.Errorf("rejected trade bumped version to %d", cur.Version)
	}
	bal, _ := s.GetBalance(ctx, "alice")
	if !bal.Cash.Equal(model.InitialGrant) {
		t.Errorf("balance changed to %s", bal.Cash)
	}
	trades, _ := s.GetTradesByMarket(ctx, m.ID)
	if len(trades) != 0 {
		t.Errorf("expected no trades, got %d", len(trades))
	}
}

func TestSettlePositions_SkipsAlreadySettled(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("M1")
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyTrade(ctx, testApplication(m, "alice", decimal.Zero)); err != nil {
		t.Fatal(err)
	}

	credits := []PayoutCredit{{UserID: "alice", MarketID: m.ID, Amount: decimal.NewFromInt(10)}}
	if err := s.SettlePositions(ctx, credits); err != nil {
		t.Fatal(err)
	}
	// Replaying the same chunk must not pay twice.
	if err := s.SettlePositions(ctx, credits); err != nil {
		t.Fatal(err)
	}

	bal, _ := s.GetBalance(ctx, "alice")
	want := model.InitialGrant.Add(decimal.NewFromInt(10))
	if !bal.Cash.Equal(want) {
		t.Errorf("expected %s, got %s", want, bal.Cash)
	}

	unsettled, _ := s.ListUnsettledPositions(ctx, m.ID, 0)
	if len(unsettled) != 0 {
		t.Errorf("expected no unsettled positions, got %d", len(unsettled))
	}
}

func TestMarketExists(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket("M1")); err != nil {
		t.Fatal(err)
	}
	dup := testMarket("M2")
	dup.Ticker = "FH-TECH-M1-20261231"
	if err := s.CreateMarket(ctx, dup); !errors.Is(err, ErrMarketExists) {
		t.Errorf("expected ErrMarketExists, got %v", err)
	}
}
