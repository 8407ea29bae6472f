package trade_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/engine"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/store"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/trade"
)

type testEnv struct {
	store  *store.MemoryStore
	router *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	eng := engine.New(ms, nil)
	svc := trade.NewService(ms, eng, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets", svc.ListMarkets)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/price", svc.GetPrice)
		r.Get("/markets/{marketID}/history", svc.GetMarketHistory)
		r.Post("/markets/{marketID}/close", svc.CloseMarket)
		r.Post("/markets/{marketID}/resolve", svc.ResolveMarket)
		r.Post("/trade", svc.ExecuteTrade)
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/balance/{userID}", svc.GetBalance)
	})

	return &testEnv{store: ms, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createMarket(t *testing.T, ticker string) model.Market {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/markets", trade.CreateMarketRequest{
		Ticker:   ticker,
		Question: "test question",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[model.Market](t, rec)
}

func TestCreateMarket(t *testing.T) {
	env := newTestEnv(t)

	m := env.createMarket(t, "FH-MUSIC-TOURDATES-20261115")

	if m.Category != "MUSIC" {
		t.Errorf("expected category MUSIC, got %s", m.Category)
	}
	if m.Status != model.StatusOpen {
		t.Errorf("expected status open, got %s", m.Status)
	}
	if !m.B.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected default b=100, got %s", m.B)
	}
	if !m.PriceYes.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("fresh market should price at 0.5, got %s", m.PriceYes)
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  trade.CreateMarketRequest
	}{
		{"bad ticker format", trade.CreateMarketRequest{Ticker: "lowercase-nope"}},
		{"unknown category", trade.CreateMarketRequest{Ticker: "FH-WEATHER-RAIN-20261115"}},
		{"negative b", trade.CreateMarketRequest{
			Ticker: "FH-MUSIC-OK-20261115",
			B:      decimal.NewFromInt(-5),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/markets", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateMarket_DuplicateTicker(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t, "FH-TECH-AGIWHEN-20261115")

	rec := env.do(t, http.MethodPost, "/api/v1/markets", trade.CreateMarketRequest{
		Ticker:   "FH-TECH-AGIWHEN-20261115",
		Question: "again",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate ticker, got %d", rec.Code)
	}
}

func TestListMarkets_CategoryFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t, "FH-MUSIC-ALBUMDROP-20261115")
	env.createMarket(t, "FH-SPORTS-FINALS-20261115")

	rec := env.do(t, http.MethodGet, "/api/v1/markets?category=MUSIC", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	markets := decode[[]model.Market](t, rec)
	if len(markets) != 1 || markets[0].Category != "MUSIC" {
		t.Errorf("expected one MUSIC market, got %+v", markets)
	}
}

func TestExecuteTrade_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t, "FH-CULTURE-METGALA-20261115")

	rec := env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID:   "alice",
		MarketID: m.ID,
		Side:     model.SideYes,
		Action:   model.ActionBuy,
		Amount:   decimal.NewFromInt(68),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	receipt := decode[engine.Receipt](t, rec)
	if receipt.TradeID == "" {
		t.Error("receipt missing trade id")
	}
	if receipt.Shares.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive shares, got %s", receipt.Shares)
	}
	if receipt.PriceYes.LessThanOrEqual(decimal.NewFromFloat(0.5)) {
		t.Errorf("YES price should rise after buy, got %s", receipt.PriceYes)
	}

	// Price endpoint reflects the post-trade state.
	priceRec := env.do(t, http.MethodGet, "/api/v1/markets/"+m.ID+"/price", nil)
	if priceRec.Code != http.StatusOK {
		t.Fatalf("price status %d", priceRec.Code)
	}
	quote := decode[engine.PriceQuote](t, priceRec)
	if !quote.PriceYes.Equal(receipt.PriceYes) {
		t.Errorf("quote %s != receipt price %s", quote.PriceYes, receipt.PriceYes)
	}

	// Trade shows up in market history.
	histRec := env.do(t, http.MethodGet, "/api/v1/markets/"+m.ID+"/history", nil)
	trades := decode[[]model.Trade](t, histRec)
	if len(trades) != 1 || trades[0].ID != receipt.TradeID {
		t.Errorf("history should hold the executed trade, got %+v", trades)
	}
}

func TestExecuteTrade_ByTicker(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t, "FH-POLITICS-DEBATE-20261115")

	rec := env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID: "alice",
		Ticker: "FH-POLITICS-DEBATE-20261115",
		Side:   model.SideNo,
		Action: model.ActionBuy,
		Amount: decimal.NewFromInt(10),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteTrade_ErrorStatusCodes(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t, "FH-SPORTS-UPSET-20261115")

	closed := env.createMarket(t, "FH-SPORTS-CLOSED-20261115")
	if rec := env.do(t, http.MethodPost, "/api/v1/markets/"+closed.ID+"/close", nil); rec.Code != http.StatusOK {
		t.Fatalf("close: status %d", rec.Code)
	}

	cases := []struct {
		name string
		req  trade.TradeRequest
		want int
	}{
		{"missing user", trade.TradeRequest{
			MarketID: m.ID, Side: model.SideYes, Action: model.ActionBuy,
			Amount: decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"missing market and ticker", trade.TradeRequest{
			UserID: "alice", Side: model.SideYes, Action: model.ActionBuy,
			Amount: decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"bad side", trade.TradeRequest{
			UserID: "alice", MarketID: m.ID, Side: "MAYBE", Action: model.ActionBuy,
			Amount: decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"unknown market", trade.TradeRequest{
			UserID: "alice", MarketID: "nope", Side: model.SideYes, Action: model.ActionBuy,
			Amount: decimal.NewFromInt(10),
		}, http.StatusNotFound},
		{"closed market", trade.TradeRequest{
			UserID: "alice", MarketID: closed.ID, Side: model.SideYes, Action: model.ActionBuy,
			Amount: decimal.NewFromInt(10),
		}, http.StatusConflict},
		{"insufficient balance", trade.TradeRequest{
			UserID: "alice", MarketID: m.ID, Side: model.SideYes, Action: model.ActionBuy,
			Amount: decimal.NewFromInt(5000),
		}, http.StatusUnprocessableEntity},
		{"sell without position", trade.TradeRequest{
			UserID: "alice", MarketID: m.ID, Side: model.SideYes, Action: model.ActionSell,
			Amount: decimal.NewFromInt(10),
		}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/trade", tc.req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResolveMarket_HTTP(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t, "FH-MUSIC-GRAMMYAOTY-20261115")

	// alice buys YES, bob buys NO.
	env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID: "alice", MarketID: m.ID,
		Side: model.SideYes, Action: model.ActionBuy, Amount: decimal.NewFromInt(40),
	})
	env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID: "bob", MarketID: m.ID,
		Side: model.SideNo, Action: model.ActionBuy, Amount: decimal.NewFromInt(25),
	})

	rec := env.do(t, http.MethodPost, "/api/v1/markets/"+m.ID+"/resolve",
		trade.ResolveRequest{Resolution: model.SideYes})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[engine.ResolutionSummary](t, rec)
	if summary.PositionsSettled != 2 || summary.HoldersPaid != 1 {
		t.Errorf("expected 2 settled / 1 paid, got %d / %d",
			summary.PositionsSettled, summary.HoldersPaid)
	}

	// Second resolution conflicts.
	again := env.do(t, http.MethodPost, "/api/v1/markets/"+m.ID+"/resolve",
		trade.ResolveRequest{Resolution: model.SideYes})
	if again.Code != http.StatusConflict {
		t.Errorf("expected 409 on re-resolve, got %d", again.Code)
	}

	// Trading on a resolved market conflicts too.
	tradeRec := env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID: "carol", MarketID: m.ID,
		Side: model.SideYes, Action: model.ActionBuy, Amount: decimal.NewFromInt(5),
	})
	if tradeRec.Code != http.StatusConflict {
		t.Errorf("expected 409 trading a resolved market, got %d", tradeRec.Code)
	}

	// Bad resolution value.
	bad := env.do(t, http.MethodPost, "/api/v1/markets/"+m.ID+"/resolve",
		trade.ResolveRequest{Resolution: "MAYBE"})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad resolution, got %d", bad.Code)
	}
}

func TestPortfolioAndBalance(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMarket(t, "FH-CULTURE-OSCARS-20261115")

	env.do(t, http.MethodPost, "/api/v1/trade", trade.TradeRequest{
		UserID: "alice", MarketID: m.ID,
		Side: model.SideYes, Action: model.ActionBuy, Amount: decimal.NewFromInt(68),
	})

	balRec := env.do(t, http.MethodGet, "/api/v1/balance/alice", nil)
	if balRec.Code != http.StatusOK {
		t.Fatalf("balance: status %d", balRec.Code)
	}
	bal := decode[model.Balance](t, balRec)
	if !bal.Cash.Equal(decimal.NewFromInt(932)) {
		t.Errorf("expected cash 932, got %s", bal.Cash)
	}

	pfRec := env.do(t, http.MethodGet, "/api/v1/portfolio/alice", nil)
	if pfRec.Code != http.StatusOK {
		t.Fatalf("portfolio: status %d", pfRec.Code)
	}
	pf := decode[model.Portfolio](t, pfRec)
	if !pf.Cash.Equal(decimal.NewFromInt(932)) {
		t.Errorf("portfolio cash %s, want 932", pf.Cash)
	}
	if len(pf.Positions) != 1 {
		t.Fatalf("expected one position, got %d", len(pf.Positions))
	}
	if pf.Positions[0].YesShares.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive yes shares, got %s", pf.Positions[0].YesShares)
	}
	if pf.ExposureByCategory["CULTURE"].LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive CULTURE exposure, got %s", pf.ExposureByCategory["CULTURE"])
	}

	// Fresh users get the starting grant on first read.
	freshRec := env.do(t, http.MethodGet, "/api/v1/balance/newuser", nil)
	fresh := decode[model.Balance](t, freshRec)
	if !fresh.Cash.Equal(model.InitialGrant) {
		t.Errorf("expected initial grant %s, got %s", model.InitialGrant, fresh.Cash)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/markets/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
