package engine

import (
	"context"
	"time"

	"trading-agentv1/internal/model"
)

// PositionBrief is one row of the position summary projection.
type PositionBrief struct {
	PositionID    string     `json:"position_id"`
	Symbol        string     `json:"symbol"`
	Side          model.Side `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	StopLoss      float64    `json:"stop_loss,omitempty"`
}

// PositionSummary aggregates all open positions.
type PositionSummary struct {
	TotalPositions int             `json:"total_positions"`
	TotalPnL       float64         `json:"total_pnl"`
	ActiveSymbols  []string        `json:"active_symbols"`
	Positions      []PositionBrief `json:"positions"`
}

// Summary returns a read-only projection over all open positions.
func (e *Engine) Summary() PositionSummary {
	open := e.positions.OpenPositions("")

	summary := PositionSummary{
		TotalPositions: len(open),
		ActiveSymbols:  make([]string, 0, len(open)),
		Positions:      make([]PositionBrief, 0, len(open)),
	}
	seen := make(map[string]struct{})
	for _, pos := range open {
		summary.TotalPnL += pos.UnrealizedPnL
		if _, ok := seen[pos.Symbol]; !ok {
			seen[pos.Symbol] = struct{}{}
			summary.ActiveSymbols = append(summary.ActiveSymbols, pos.Symbol)
		}
		summary.Positions = append(summary.Positions, PositionBrief{
			PositionID:    pos.ID,
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			StopLoss:      pos.StopLoss,
		})
	}
	return summary
}

// TradeHistory returns executed trades filtered by symbol (empty = all) and
// time range (zero = unbounded), sorted by timestamp ascending.
func (e *Engine) TradeHistory(symbol string, start, end time.Time) []model.Trade {
	return e.orders.Trades(symbol, start, end)
}

// ClosePositionsFor closes every open position on symbol, best-effort. Used
// for exit signals: each close is attempted independently and failures are
// logged, not propagated.
func (e *Engine) ClosePositionsFor(ctx context.Context, symbol string, metadata map[string]string) {
	for _, pos := range e.positions.OpenPositions(symbol) {
		if _, err := e.ClosePosition(ctx, pos.ID, metadata); err != nil {
			e.log.Error("exit close failed", "position_id", pos.ID, "err", err)
		}
	}
}
