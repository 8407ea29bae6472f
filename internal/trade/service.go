// Package trade provides the HTTP handlers wrapping the market engine:
// creating markets, executing trades, resolving markets, and querying
// prices, history, and portfolios.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/engine"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/exposure"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/lmsr"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/metrics"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/question"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/store"
)

// Service exposes the engine over HTTP. The engine owns all trade
// serialization; handlers only translate requests and errors.
type Service struct {
	store  store.Store
	engine *engine.Engine
	wsHub  *WSHub // optional, nil disables broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *engine.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: eng,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Ticker   string          `json:"ticker"` // FH-{CATEGORY}-{SLUG}-{YYYYMMDD}
	Question string          `json:"question"`
	B        decimal.Decimal `json:"b"` // liquidity parameter; 0 → default 100
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"` // either this or ticker
	Ticker   string          `json:"ticker"`
	Side     string          `json:"side"`   // YES | NO
	Action   string          `json:"action"` // BUY | SELL
	Amount   decimal.Decimal `json:"amount"` // cash amount, always positive
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"` // YES | NO
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	q, err := question.ParseTicker(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	b := req.B
	if b.IsZero() {
		b = decimal.NewFromInt(100) // default liquidity
	}

	// b is validated here, at creation — never again at trade time.
	mm, err := lmsr.NewMarketMaker(b)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:        uuid.New().String(),
		Ticker:    q.Ticker,
		Category:  q.Category,
		Question:  req.Question,
		QYes:      decimal.Zero,
		QNo:       decimal.Zero,
		B:         b,
		PriceYes:  mm.Price(decimal.Zero, decimal.Zero),
		PriceNo:   mm.PriceNo(decimal.Zero, decimal.Zero),
		Status:    model.StatusOpen,
		Volume:    decimal.Zero,
		CreatedAt: now,
		ClosesAt:  q.ClosesAt,
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"ticker", market.Ticker,
		"category", market.Category,
		"b", b.String(),
		"max_loss", mm.MaxLoss().String(),
	)

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?category=<CATEGORY>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Category == category {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	quote, err := s.engine.Quote(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// ExecuteTrade handles POST /api/v1/trade
// Converts a cash amount into shares against the LMSR and returns a receipt.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	marketID := req.MarketID
	if marketID == "" {
		if req.Ticker == "" {
			writeError(w, "market_id or ticker is required", http.StatusBadRequest)
			return
		}
		m, err := s.store.GetMarketByTicker(ctx, req.Ticker)
		if err != nil {
			writeError(w, "market not found for ticker: "+req.Ticker, http.StatusNotFound)
			return
		}
		marketID = m.ID
	}

	start := time.Now()
	receipt, err := s.engine.ExecuteTrade(ctx, engine.Order{
		UserID:   req.UserID,
		MarketID: marketID,
		Side:     req.Side,
		Action:   req.Action,
		Amount:   req.Amount,
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeEngineError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(receipt.Side, receipt.Action).Inc()
	metrics.TradeLatency.WithLabelValues(receipt.Side).Observe(time.Since(start).Seconds())
	amountF, _ := req.Amount.Float64()
	metrics.TradedVolume.WithLabelValues(receipt.MarketID, receipt.Side).Add(amountF)

	slog.Info("trade executed",
		"trade_id", receipt.TradeID,
		"user", receipt.UserID,
		"ticker", receipt.Ticker,
		"side", receipt.Side,
		"action", receipt.Action,
		"shares", receipt.Shares.String(),
		"avg_price", receipt.AvgPrice.String(),
		"price_yes", receipt.PriceYes.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			MarketID: receipt.MarketID,
			Ticker:   receipt.Ticker,
			PriceYes: receipt.PriceYes.String(),
			PriceNo:  receipt.PriceNo.String(),
			Side:     receipt.Side,
			Action:   receipt.Action,
			Shares:   receipt.Shares.String(),
		})
	}

	writeJSON(w, http.StatusOK, receipt)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
// Called by the external scheduler when a market reaches its close time.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	if err := s.engine.CloseMarket(r.Context(), marketID); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ActiveMarkets.Dec()

	slog.Info("market closed", "market_id", marketID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_closed", MarketID: marketID})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": model.StatusClosed})
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := s.engine.ResolveMarket(r.Context(), marketID, req.Resolution)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.ResolutionsTotal.WithLabelValues(summary.Resolution).Inc()
	paidF, _ := summary.TotalPaid.Float64()
	metrics.PayoutsCredited.Add(paidF)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "market_resolved",
			MarketID:   marketID,
			Resolution: summary.Resolution,
		})
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the immutable trade records for price-history reconstruction.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	trades, err := s.store.GetTradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, trades)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns cash, positions with mark-to-market P&L, and exposure totals.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.GetUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	totalPnL := decimal.Zero
	totalExposure := decimal.Zero
	exposureByCategory := make(map[string]decimal.Decimal)

	for _, p := range positions {
		totalPnL = totalPnL.Add(p.UnrealizedPnL)
		net := p.NetExposure()
		totalExposure = totalExposure.Add(net.Abs())
		if p.Category != "" {
			exposureByCategory[p.Category] = exposureByCategory[p.Category].Add(net)
		}
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, model.Portfolio{
		UserID:             userID,
		Cash:               bal.Cash,
		Positions:          positions,
		TotalPnL:           totalPnL,
		TotalExposure:      totalExposure,
		ExposureByCategory: exposureByCategory,
	})
}

// GetBalance handles GET /api/v1/balance/{userID}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.store.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// --- Error translation ---

// writeEngineError maps the engine's error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrMarketNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrAlreadyResolved),
		errors.Is(err, engine.ErrConflict),
		errors.Is(err, exposure.ErrPerMarketLimitExceeded),
		errors.Is(err, exposure.ErrCategoryLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, engine.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, engine.ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, engine.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, engine.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, engine.ErrNumericalFailure):
		return "numerical_failure"
	case errors.Is(err, engine.ErrConflict):
		return "conflict"
	case errors.Is(err, exposure.ErrPerMarketLimitExceeded),
		errors.Is(err, exposure.ErrCategoryLimitExceeded):
		return "exposure_limit"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
