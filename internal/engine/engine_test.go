package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-agentv1/internal/events"
	"trading-agentv1/internal/execution"
	"trading-agentv1/internal/ledger"
	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVenue fills at a fixed price, or fails every call after failAfter
// successes. failAfter < 0 means never fail.
type fakeVenue struct {
	mu        sync.Mutex
	price     float64
	fee       float64
	failAfter int
	swaps     int
}

func (v *fakeVenue) GetQuote(_ context.Context, input, output string, amount float64,
	side model.Side) (*execution.Quote, error) {

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAfter >= 0 && v.swaps >= v.failAfter {
		return nil, errors.New("venue unavailable")
	}
	return &execution.Quote{
		InputToken:  input,
		OutputToken: output,
		Side:        side,
		Amount:      amount,
		Price:       v.price,
		Size:        amount,
		Fee:         v.fee,
	}, nil
}

func (v *fakeVenue) ExecuteSwap(_ context.Context, q *execution.Quote) (*execution.SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAfter >= 0 && v.swaps >= v.failAfter {
		return nil, errors.New("venue unavailable")
	}
	v.swaps++
	return &execution.SwapResult{Price: q.Price, Size: q.Size, Fee: q.Fee, TxID: "TX-1"}, nil
}

type recordedTrades struct {
	mu     sync.Mutex
	trades []model.Trade
}

func (r *recordedTrades) Record(_ context.Context, trade model.Trade) error {
	r.mu.Lock()
	r.trades = append(r.trades, trade)
	r.mu.Unlock()
	return nil
}

func timeZero() time.Time { return time.Time{} }

func newTestEngine(t *testing.T, venue execution.Client) (*Engine, *events.Bus, *recordedTrades) {
	t.Helper()
	st := memstore.New()
	bus := events.New(testLogger())
	journal := &recordedTrades{}
	orders := ledger.NewOrderLedger(st, testLogger())
	positions := ledger.NewPositionLedger(st, testLogger())
	return New(orders, positions, venue, bus, journal, nil, testLogger()), bus, journal
}

func TestExecuteMarketOrderFillFlow(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 101.5, fee: 0.1, failAfter: -1}
	e, bus, journal := newTestEngine(t, venue)

	order, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 2, 95, map[string]string{"strategy_id": "s1"})
	if err != nil {
		t.Fatalf("execute market order: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Errorf("order status = %s, want filled", order.Status)
	}
	if order.FilledPrice != 101.5 || order.FilledSize != 2 {
		t.Errorf("fill = %v @ %v", order.FilledSize, order.FilledPrice)
	}

	summary := e.Summary()
	if summary.TotalPositions != 1 {
		t.Fatalf("open positions = %d, want 1", summary.TotalPositions)
	}
	pos := summary.Positions[0]
	if pos.EntryPrice != 101.5 || pos.StopLoss != 95 {
		t.Errorf("position = %+v", pos)
	}

	// Trade recorded in the journal and linked to the position.
	if len(journal.trades) != 1 {
		t.Fatalf("journal trades = %d, want 1", len(journal.trades))
	}
	trades := e.TradeHistory("SOL-USDC", timeZero(), timeZero())
	if len(trades) != 1 {
		t.Fatalf("trade history = %d, want 1", len(trades))
	}
	if trades[0].PositionID != pos.PositionID {
		t.Errorf("trade position = %q, want %q", trades[0].PositionID, pos.PositionID)
	}

	// order_placed, trade_executed, position_opened all broadcast.
	for _, evType := range []model.EventType{
		model.EventOrderPlaced, model.EventTradeExecuted, model.EventPositionOpened,
	} {
		if got := len(bus.History(evType, 0)); got != 1 {
			t.Errorf("%s events = %d, want 1", evType, got)
		}
	}
}

func TestExecuteMarketOrderVenueFailure(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: 0}
	e, bus, _ := newTestEngine(t, venue)

	_, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 0, nil)
	if !errors.Is(err, model.ErrExecution) {
		t.Fatalf("err = %v, want ErrExecution", err)
	}

	// The order survives as an audit record of the failure.
	placed := bus.History(model.EventOrderPlaced, 0)
	if len(placed) != 1 {
		t.Fatalf("order_placed events = %d, want 1", len(placed))
	}
	orderID := placed[0].Payload["order_id"].(string)
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != model.OrderFailed || order.Error == "" {
		t.Errorf("failed order = %+v", order)
	}

	if e.Summary().TotalPositions != 0 {
		t.Error("position created despite venue failure")
	}
	if got := len(bus.History(model.EventSystemError, 0)); got != 1 {
		t.Errorf("system_error events = %d, want 1", got)
	}
}

func TestClosePositionRealizedPnL(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		side    model.Side
		close   float64
		wantPnL float64
	}{
		{"long closed higher", model.SideBuy, 110, 20},
		{"short closed higher", model.SideSell, 110, -20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			venue := &fakeVenue{price: 100, failAfter: -1}
			e, bus, _ := newTestEngine(t, venue)

			if _, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", tc.side, 2, 0, nil); err != nil {
				t.Fatalf("open: %v", err)
			}
			posID := e.Summary().Positions[0].PositionID

			venue.mu.Lock()
			venue.price = tc.close
			venue.mu.Unlock()

			closed, err := e.ClosePosition(ctx, posID, map[string]string{"reason": "signal"})
			if err != nil {
				t.Fatalf("close: %v", err)
			}
			if closed.RealizedPnL != tc.wantPnL {
				t.Errorf("realized pnl = %v, want %v", closed.RealizedPnL, tc.wantPnL)
			}
			if closed.Status != model.PositionClosed {
				t.Errorf("status = %s, want closed", closed.Status)
			}
			if e.Summary().TotalPositions != 0 {
				t.Error("position still open after close")
			}
			if got := len(bus.History(model.EventPositionClosed, 0)); got != 1 {
				t.Errorf("position_closed events = %d, want 1", got)
			}

			// The closing trade carries the opposite side.
			trades := e.TradeHistory("SOL-USDC", timeZero(), timeZero())
			if len(trades) != 2 {
				t.Fatalf("trades = %d, want 2", len(trades))
			}
			if trades[1].Side != tc.side.Opposite() {
				t.Errorf("close trade side = %s, want %s", trades[1].Side, tc.side.Opposite())
			}
		})
	}
}

func TestCloseUnknownPosition(t *testing.T) {
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, _, _ := newTestEngine(t, venue)

	_, err := e.ClosePosition(context.Background(), "pos_missing", nil)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentCloseOneWinner(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, _, _ := newTestEngine(t, venue)

	if _, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 0, nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	posID := e.Summary().Positions[0].PositionID

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ClosePosition(ctx, posID, nil)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrInvalidState):
				losses.Add(1)
			default:
				t.Errorf("unexpected close error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
	if losses.Load() != 3 {
		t.Errorf("losers = %d, want 3", losses.Load())
	}
}

func TestUpdatePositionsStopLoss(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, bus, _ := newTestEngine(t, venue)

	// Stop at 95: marking at 96 keeps it open, 94 closes it.
	if _, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 95, nil); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := e.UpdatePositions(ctx, "SOL-USDC", 96); err != nil {
		t.Fatalf("update at 96: %v", err)
	}
	if e.Summary().TotalPositions != 1 {
		t.Fatal("position closed above its stop")
	}

	venue.mu.Lock()
	venue.price = 94
	venue.mu.Unlock()
	if err := e.UpdatePositions(ctx, "SOL-USDC", 94); err != nil {
		t.Fatalf("update at 94: %v", err)
	}
	if e.Summary().TotalPositions != 0 {
		t.Error("stop-loss breach did not close the position")
	}
	if got := len(bus.History(model.EventRiskLimitBreach, 0)); got != 1 {
		t.Errorf("risk_limit_breach events = %d, want 1", got)
	}

	trades := e.TradeHistory("SOL-USDC", timeZero(), timeZero())
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want open+close", len(trades))
	}
	if trades[1].Metadata["reason"] != "stop_loss" {
		t.Errorf("close reason = %v", trades[1].Metadata)
	}
}

func TestUpdatePositionsBatchIsolation(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, bus, _ := newTestEngine(t, venue)

	// Two positions with stops above the drop price.
	for i := 0; i < 2; i++ {
		if _, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 95, nil); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}

	// The venue dies after one more swap: the first stop-loss close fills,
	// the second fails. The batch must survive the failure.
	venue.mu.Lock()
	venue.price = 90
	venue.failAfter = venue.swaps + 1
	venue.mu.Unlock()

	if err := e.UpdatePositions(ctx, "SOL-USDC", 90); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := e.Summary().TotalPositions; got != 1 {
		t.Fatalf("open positions = %d, want 1 survivor", got)
	}
	if got := len(bus.History(model.EventSystemError, 0)); got == 0 {
		t.Error("failed stop-loss close not reported")
	}

	// The survivor is stuck in closing and is retried on the next update.
	venue.mu.Lock()
	venue.failAfter = -1
	venue.mu.Unlock()
	if err := e.UpdatePositions(ctx, "SOL-USDC", 90); err != nil {
		t.Fatalf("retry update: %v", err)
	}
	if got := e.Summary().TotalPositions; got != 0 {
		t.Errorf("open positions after retry = %d, want 0", got)
	}
}

func TestCloseAllPositions(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, _, _ := newTestEngine(t, venue)

	for _, symbol := range []string{"SOL-USDC", "ETH-USDC", "SOL-USDC"} {
		if _, err := e.ExecuteMarketOrder(ctx, symbol, model.SideBuy, 1, 0, nil); err != nil {
			t.Fatalf("open %s: %v", symbol, err)
		}
	}

	if failed := e.CloseAllPositions(ctx, map[string]string{"reason": "shutdown"}); failed != 0 {
		t.Errorf("failed closes = %d, want 0", failed)
	}
	if got := e.Summary().TotalPositions; got != 0 {
		t.Errorf("open positions = %d, want 0", got)
	}
}

func TestCloseAllPositionsCountsFailures(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, _, _ := newTestEngine(t, venue)

	for i := 0; i < 3; i++ {
		if _, err := e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 0, nil); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}

	venue.mu.Lock()
	venue.failAfter = venue.swaps // every further swap fails
	venue.mu.Unlock()

	if failed := e.CloseAllPositions(ctx, nil); failed != 3 {
		t.Errorf("failed closes = %d, want 3", failed)
	}
	if got := e.Summary().TotalPositions; got != 3 {
		t.Errorf("open positions = %d, want 3 still open", got)
	}
}

func TestClosePositionsForSymbol(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{price: 100, failAfter: -1}
	e, _, _ := newTestEngine(t, venue)

	e.ExecuteMarketOrder(ctx, "SOL-USDC", model.SideBuy, 1, 0, nil)
	e.ExecuteMarketOrder(ctx, "ETH-USDC", model.SideBuy, 1, 0, nil)

	e.ClosePositionsFor(ctx, "SOL-USDC", map[string]string{"signal_type": "exit"})

	summary := e.Summary()
	if summary.TotalPositions != 1 || summary.Positions[0].Symbol != "ETH-USDC" {
		t.Errorf("summary after exit = %+v", summary)
	}
}

func TestSplitSymbol(t *testing.T) {
	input, output, err := splitSymbol("SOL-USDC")
	if err != nil || input != "SOL" || output != "USDC" {
		t.Errorf("splitSymbol = %q/%q/%v", input, output, err)
	}
	for _, bad := range []string{"", "SOL", "-USDC", "SOL-"} {
		if _, _, err := splitSymbol(bad); err == nil {
			t.Errorf("splitSymbol(%q) accepted", bad)
		}
	}
}

func TestSummaryEmptySerializesArrays(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeVenue{price: 100, failAfter: -1})

	out, err := json.Marshal(e.Summary())
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	// Consumers expect arrays, not null, when nothing is open.
	for _, want := range []string{`"active_symbols":[]`, `"positions":[]`} {
		if !strings.Contains(string(out), want) {
			t.Errorf("summary json %s missing %s", out, want)
		}
	}
}
