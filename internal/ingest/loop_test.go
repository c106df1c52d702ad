package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"trading-agentv1/internal/engine"
	"trading-agentv1/internal/events"
	"trading-agentv1/internal/execution"
	"trading-agentv1/internal/ledger"
	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
	"trading-agentv1/internal/store/memstore"
	"trading-agentv1/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu      sync.Mutex
	symbols []string
	closes  []float64
	done    chan struct{} // closed after expect data points
	expect  int
}

func (h *recordingHandler) ProcessData(_ context.Context, dp model.DataPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symbols = append(h.symbols, dp.Symbol)
	if dp.Candle != nil {
		h.closes = append(h.closes, dp.Candle.Close)
	}
	if h.done != nil && len(h.symbols) == h.expect {
		close(h.done)
	}
}

type noopUpdater struct{}

func (noopUpdater) UpdatePositions(context.Context, string, float64) error { return nil }

func candlePoint(symbol string, close, volume float64) model.DataPoint {
	now := time.Now().UTC()
	return model.DataPoint{
		Type:      model.DataCandle,
		Symbol:    symbol,
		Timestamp: now,
		Candle: &model.Candle{
			Symbol: symbol, Timestamp: now,
			Open: close, High: close, Low: close, Close: close, Volume: volume,
		},
	}
}

func TestLoopProcessesInFIFOOrder(t *testing.T) {
	handler := &recordingHandler{done: make(chan struct{}), expect: 5}
	loop := New(16, handler, noopUpdater{}, memstore.New(), nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	for i := 0; i < 5; i++ {
		if !loop.Offer(candlePoint("SOL-USDC", 100+float64(i), 500)) {
			t.Fatalf("offer %d rejected", i)
		}
	}

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for processing")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for i, close := range handler.closes {
		if close != 100+float64(i) {
			t.Fatalf("out of order: closes = %v", handler.closes)
		}
	}
}

func TestOfferDropsWhenFull(t *testing.T) {
	// No consumer running: the queue fills at its bound.
	loop := New(2, &recordingHandler{}, noopUpdater{}, memstore.New(), nil, nil, testLogger())

	accepted := 0
	for i := 0; i < 5; i++ {
		if loop.Offer(candlePoint("SOL-USDC", 100, 500)) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
	if loop.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", loop.Dropped())
	}
	if loop.Pending() != 2 {
		t.Errorf("pending = %d, want 2", loop.Pending())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	loop := New(4, &recordingHandler{}, noopUpdater{}, memstore.New(), nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestLoopWritesMarketSnapshot(t *testing.T) {
	st := memstore.New()
	handler := &recordingHandler{done: make(chan struct{}), expect: 1}
	loop := New(4, handler, noopUpdater{}, st, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Offer(candlePoint("SOL-USDC", 123.45, 9000))
	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	data, err := st.Get(ctx, store.MarketLatestKey("SOL-USDC"))
	if err != nil || data == nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	var snap model.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Price != 123.45 || snap.Volume != 9000 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLoopEmitsPriceUpdates(t *testing.T) {
	bus := events.New(testLogger())
	handler := &recordingHandler{done: make(chan struct{}), expect: 1}
	loop := New(4, handler, noopUpdater{}, memstore.New(), bus, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Offer(model.DataPoint{
		Type: model.DataPrice, Symbol: "SOL-USDC", Price: 101, Timestamp: time.Now().UTC(),
	})
	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	hist := bus.History(model.EventPriceUpdate, 0)
	if len(hist) != 1 {
		t.Fatalf("price_update events = %d, want 1", len(hist))
	}
	if hist[0].Payload["price"] != 101.0 {
		t.Errorf("payload = %v", hist[0].Payload)
	}
}

// End to end: a crossover series flows from the queue through the strategy
// runtime into a paper fill and an open position.
func TestPipelineCandleToPosition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memstore.New()
	bus := events.New(testLogger())
	exec := execution.NewPaperClient(&execution.StorePrices{Store: st}, 0, 0)
	orders := ledger.NewOrderLedger(st, testLogger())
	positions := ledger.NewPositionLedger(st, testLogger())
	eng := engine.New(orders, positions, exec, bus, nil, nil, testLogger())

	mgr := strategy.NewManager(eng, st, bus, nil, 0.05, testLogger())
	mgr.RegisterKind(strategy.KindMACrossover, strategy.NewMACrossover)
	if err := mgr.Add(ctx, "e2e", strategy.KindMACrossover, "SOL-USDC", strategy.Params{
		"fast_period": 3,
		"slow_period": 5,
		"min_volume":  100,
	}); err != nil {
		t.Fatalf("add strategy: %v", err)
	}

	loop := New(32, mgr, eng, st, bus, nil, testLogger())
	go loop.Run(ctx)

	// Decline then a sharp recovery: the fast MA crosses above the slow MA
	// on the last candle.
	series := []float64{10, 9, 8, 7, 6, 10, 14}
	for _, p := range series {
		if !loop.Offer(candlePoint("SOL-USDC", p, 500)) {
			t.Fatalf("offer %v rejected", p)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if summary := eng.Summary(); summary.TotalPositions == 1 {
			pos := summary.Positions[0]
			if pos.Side != model.SideBuy {
				t.Errorf("position side = %s, want buy", pos.Side)
			}
			// Paper fill at the cached snapshot price, the crossover candle.
			if pos.EntryPrice != 14 {
				t.Errorf("entry price = %v, want 14", pos.EntryPrice)
			}
			if want := 14 * (1 - 0.05); math.Abs(pos.StopLoss-want) > 1e-9 {
				t.Errorf("stop loss = %v, want %v", pos.StopLoss, want)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("no position opened; summary = %+v", eng.Summary())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
