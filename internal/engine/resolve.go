package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/store"
)

// ResolutionSummary reports the outcome of one market resolution.
type ResolutionSummary struct {
	MarketID         string          `json:"market_id"`
	Resolution       string          `json:"resolution"`
	PositionsSettled int             `json:"positions_settled"`
	HoldersPaid      int             `json:"holders_paid"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
}

// ResolveMarket freezes a market with the winning side and pays every
// holder of winning shares exactly 1.00 per share; losing shares pay 0.
//
// The status flip is the idempotence guard: MarkResolved is conditional on
// the market not being resolved, so a second call returns AlreadyResolved
// and no balance is ever credited twice. Payouts run in bounded chunks,
// one store transaction each, and the per-position settled flag makes an
// interrupted resolution resumable without double-paying.
func (e *Engine) ResolveMarket(ctx context.Context, marketID, resolution string) (*ResolutionSummary, error) {
	if resolution != model.SideYes && resolution != model.SideNo {
		return nil, fmt.Errorf("%w: resolution must be YES or NO", ErrInvalidInput)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.MarkResolved(ctx, marketID, resolution); err != nil {
		return nil, mapStoreErr(err)
	}

	summary := &ResolutionSummary{
		MarketID:   marketID,
		Resolution: resolution,
		TotalPaid:  decimal.Zero,
	}

	for {
		positions, err := e.store.ListUnsettledPositions(ctx, marketID, e.settleBatch)
		if err != nil {
			return nil, err
		}
		if len(positions) == 0 {
			break
		}

		credits := make([]store.PayoutCredit, 0, len(positions))
		for _, p := range positions {
			winning := p.YesShares
			if resolution == model.SideNo {
				winning = p.NoShares
			}

			// Losing-only positions still get settled (amount zero) so
			// the scan terminates.
			amount := decimal.Zero
			if winning.IsPositive() {
				amount = winning
				summary.HoldersPaid++
				summary.TotalPaid = summary.TotalPaid.Add(amount)
			}

			credits = append(credits, store.PayoutCredit{
				UserID:   p.UserID,
				MarketID: marketID,
				Amount:   amount,
			})
		}

		if err := e.store.SettlePositions(ctx, credits); err != nil {
			return nil, err
		}
		summary.PositionsSettled += len(credits)
	}

	slog.Info("market resolved",
		"market_id", marketID,
		"resolution", resolution,
		"positions_settled", summary.PositionsSettled,
		"holders_paid", summary.HoldersPaid,
		"total_paid", summary.TotalPaid.String(),
	)

	return summary, nil
}
