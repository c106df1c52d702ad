// Package engine orchestrates order creation, execution-venue calls, trade
// recording, and position lifecycle. It is the only component allowed to
// mutate the ledgers as a result of a trade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"trading-agentv1/internal/events"
	"trading-agentv1/internal/execution"
	"trading-agentv1/internal/ledger"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"
)

// TradeRecorder receives every executed trade for audit persistence.
type TradeRecorder interface {
	Record(ctx context.Context, trade model.Trade) error
}

// Engine coordinates the trade path: signal → order → quote/swap → trade →
// position, broadcasting every transition on the event bus.
type Engine struct {
	orders    *ledger.OrderLedger
	positions *ledger.PositionLedger
	exec      execution.Client
	bus       *events.Bus
	journal   TradeRecorder // optional
	metrics   *metrics.Metrics
	log       *slog.Logger

	// closing guards against a stop-loss close racing a manual close on the
	// same position id: only one close may be in flight per position.
	mu      sync.Mutex
	closing map[string]struct{}
}

// New creates an Engine. journal may be nil when no audit trail is wanted.
func New(orders *ledger.OrderLedger, positions *ledger.PositionLedger,
	exec execution.Client, bus *events.Bus, journal TradeRecorder,
	m *metrics.Metrics, log *slog.Logger) *Engine {

	return &Engine{
		orders:    orders,
		positions: positions,
		exec:      exec,
		bus:       bus,
		journal:   journal,
		metrics:   m,
		log:       log,
		closing:   make(map[string]struct{}),
	}
}

// ExecuteMarketOrder opens exposure on symbol: creates a pending order,
// quotes and executes the swap, records the trade, creates the position, and
// fills the order. On any venue failure the order is marked failed with the
// error attached and the failure is returned; no retry is attempted here.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, symbol string, side model.Side,
	size float64, stopLoss float64, metadata map[string]string) (*model.Order, error) {

	order, err := e.orders.CreateOrder(ctx, symbol, side, size, model.OrderMarket, 0, metadata)
	if err != nil {
		return nil, err
	}
	e.emit(model.EventOrderPlaced, map[string]any{
		"order_id": order.ID, "symbol": symbol, "side": string(side), "size": size,
	})

	result, err := e.swap(ctx, symbol, side, size)
	if err != nil {
		return nil, e.failOrder(ctx, order, err)
	}

	trade, err := e.orders.CreateTrade(ctx, order.ID, "", result.Price, result.Size, result.Fee, metadata)
	if err != nil {
		return nil, err
	}

	pos, err := e.positions.Create(ctx, symbol, side, trade.Size, trade.Price, stopLoss, metadata)
	if err != nil {
		return nil, err
	}
	if _, err := e.orders.AttachPosition(ctx, trade.ID, pos.ID); err != nil {
		return nil, err
	}

	filled, err := e.fillOrder(ctx, order.ID, trade)
	if err != nil {
		return nil, err
	}
	e.recordTrade(ctx, trade)
	e.countOrder(model.OrderFilled)
	if e.metrics != nil {
		e.metrics.PositionsOpened.Inc()
	}

	e.emit(model.EventTradeExecuted, map[string]any{
		"trade_id": trade.ID, "order_id": order.ID, "position_id": pos.ID,
		"symbol": symbol, "side": string(side), "price": trade.Price, "size": trade.Size,
	})
	e.emit(model.EventPositionOpened, map[string]any{
		"position_id": pos.ID, "symbol": symbol, "side": string(side),
		"size": pos.Size, "entry_price": pos.EntryPrice, "stop_loss": pos.StopLoss,
	})

	e.log.Info("market order executed", "order_id", order.ID, "position_id", pos.ID)
	return filled, nil
}

// ClosePosition closes the full size of a position with an opposite-side
// market order. Only one close may be in flight per position id; the loser
// of a race gets an invalid-state error.
func (e *Engine) ClosePosition(ctx context.Context, positionID string,
	metadata map[string]string) (*model.Position, error) {

	if !e.beginClose(positionID) {
		return nil, fmt.Errorf("position %s: close already in progress: %w",
			positionID, model.ErrInvalidState)
	}
	defer e.endClose(positionID)

	pos, err := e.positions.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status == model.PositionClosed {
		return nil, fmt.Errorf("position %s already closed: %w", positionID, model.ErrInvalidState)
	}

	closeSide := pos.Side.Opposite()
	order, err := e.orders.CreateOrder(ctx, pos.Symbol, closeSide, pos.Size, model.OrderMarket, 0, metadata)
	if err != nil {
		return nil, err
	}
	e.emit(model.EventOrderPlaced, map[string]any{
		"order_id": order.ID, "symbol": pos.Symbol, "side": string(closeSide),
		"size": pos.Size, "position_id": positionID,
	})

	result, err := e.swap(ctx, pos.Symbol, closeSide, pos.Size)
	if err != nil {
		return nil, e.failOrder(ctx, order, err)
	}

	trade, err := e.orders.CreateTrade(ctx, order.ID, positionID, result.Price, result.Size, result.Fee, metadata)
	if err != nil {
		return nil, err
	}
	if _, err := e.fillOrder(ctx, order.ID, trade); err != nil {
		return nil, err
	}

	closed, err := e.positions.Close(ctx, positionID, trade.Price, metadata)
	if err != nil {
		return nil, err
	}
	e.recordTrade(ctx, trade)
	e.countOrder(model.OrderFilled)
	if e.metrics != nil {
		e.metrics.PositionsClosed.Inc()
	}

	e.emit(model.EventTradeExecuted, map[string]any{
		"trade_id": trade.ID, "order_id": order.ID, "position_id": positionID,
		"symbol": pos.Symbol, "side": string(closeSide), "price": trade.Price, "size": trade.Size,
	})
	e.emit(model.EventPositionClosed, map[string]any{
		"position_id": positionID, "symbol": pos.Symbol,
		"close_price": trade.Price, "realized_pnl": closed.RealizedPnL,
	})

	e.log.Info("position closed", "position_id", positionID, "realized_pnl", closed.RealizedPnL)
	return closed, nil
}

// UpdatePositions marks every open or closing position on symbol at
// currentPrice, then closes any position whose stop-loss breach moved it to
// closing. A failure closing one position is logged and does not abort the
// rest of the batch.
func (e *Engine) UpdatePositions(ctx context.Context, symbol string, currentPrice float64) error {
	var toClose []string
	for _, pos := range e.positions.OpenPositions(symbol) {
		wasOpen := pos.Status == model.PositionOpen

		updated, err := e.positions.MarkPrice(ctx, pos.ID, currentPrice)
		if err != nil {
			// Lost a race with a concurrent close; skip.
			if errors.Is(err, model.ErrInvalidState) {
				continue
			}
			return err
		}
		e.emit(model.EventPositionUpdated, map[string]any{
			"position_id": updated.ID, "symbol": symbol,
			"current_price": currentPrice, "unrealized_pnl": updated.UnrealizedPnL,
		})

		if wasOpen && updated.Status == model.PositionClosing {
			if e.metrics != nil {
				e.metrics.StopLossTriggers.Inc()
			}
			e.emit(model.EventRiskLimitBreach, map[string]any{
				"position_id": updated.ID, "symbol": symbol,
				"stop_loss": updated.StopLoss, "price": currentPrice, "reason": "stop_loss",
			})
			toClose = append(toClose, updated.ID)
		} else if updated.Status == model.PositionClosing {
			// Left over from an earlier failed stop-loss close; retry.
			toClose = append(toClose, updated.ID)
		}
	}

	for _, id := range toClose {
		if _, err := e.ClosePosition(ctx, id, map[string]string{"reason": "stop_loss"}); err != nil {
			e.log.Error("stop loss close failed", "position_id", id, "err", err)
			e.emit(model.EventSystemError, map[string]any{
				"source": "stop_loss", "position_id": id, "error": err.Error(),
			})
		}
	}
	return nil
}

// CloseAllPositions attempts to close every open position concurrently.
// Best-effort: each close is independent and one failure does not prevent
// attempting the rest. Returns the number of positions that failed to close.
func (e *Engine) CloseAllPositions(ctx context.Context, metadata map[string]string) int {
	open := e.positions.OpenPositions("")
	if len(open) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	failures := make([]error, len(open))
	for i, pos := range open {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if _, err := e.ClosePosition(ctx, id, metadata); err != nil {
				failures[i] = err
				e.log.Error("close-all: position close failed", "position_id", id, "err", err)
			}
		}(i, pos.ID)
	}
	wg.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	return failed
}

// swap runs the quote/execute pair against the venue for the token pair
// implied by symbol.
func (e *Engine) swap(ctx context.Context, symbol string, side model.Side,
	size float64) (*execution.SwapResult, error) {

	input, output, err := splitSymbol(symbol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	quote, err := e.exec.GetQuote(ctx, input, output, size, side)
	if e.metrics != nil {
		e.metrics.QuoteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrExecution, err)
	}

	start = time.Now()
	result, err := e.exec.ExecuteSwap(ctx, quote)
	if e.metrics != nil {
		e.metrics.SwapDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrExecution, err)
	}
	return result, nil
}

// failOrder marks the order failed with the execution error attached, emits
// a system-error event, and returns the original error for propagation.
func (e *Engine) failOrder(ctx context.Context, order *model.Order, execErr error) error {
	if _, err := e.orders.UpdateOrder(ctx, order.ID, ledger.OrderUpdate{
		Status: model.OrderFailed,
		Error:  execErr.Error(),
	}); err != nil {
		e.log.Error("failed to mark order failed", "order_id", order.ID, "err", err)
	}
	e.countOrder(model.OrderFailed)
	e.emit(model.EventSystemError, map[string]any{
		"source": "execution", "order_id": order.ID, "error": execErr.Error(),
	})
	e.log.Error("order execution failed", "order_id", order.ID, "err", execErr)
	return execErr
}

func (e *Engine) fillOrder(ctx context.Context, orderID string, trade *model.Trade) (*model.Order, error) {
	price, size := trade.Price, trade.Size
	return e.orders.UpdateOrder(ctx, orderID, ledger.OrderUpdate{
		Status:      model.OrderFilled,
		FilledPrice: &price,
		FilledSize:  &size,
	})
}

func (e *Engine) recordTrade(ctx context.Context, trade *model.Trade) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, *trade); err != nil {
		e.log.Error("trade journal write failed", "trade_id", trade.ID, "err", err)
	}
}

func (e *Engine) countOrder(status model.OrderStatus) {
	if e.metrics != nil {
		e.metrics.OrdersTotal.WithLabelValues(string(status)).Inc()
	}
}

func (e *Engine) emit(t model.EventType, payload map[string]any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Emit(t, payload); err != nil {
		e.log.Error("event emit failed", "event_type", string(t), "err", err)
	}
}

func (e *Engine) beginClose(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, inFlight := e.closing[id]; inFlight {
		return false
	}
	e.closing[id] = struct{}{}
	return true
}

func (e *Engine) endClose(id string) {
	e.mu.Lock()
	delete(e.closing, id)
	e.mu.Unlock()
}

// splitSymbol resolves the token pair implied by a symbol like "SOL-USDC".
func splitSymbol(symbol string) (input, output string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q is not a token pair", symbol)
	}
	return parts[0], parts[1], nil
}
