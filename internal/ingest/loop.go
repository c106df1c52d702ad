// Package ingest runs the single-consumer pipeline between market data and
// the strategy runtime. Queued data points are processed strictly in FIFO
// arrival order, one at a time, so each strategy observes market updates in
// order.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"trading-agentv1/internal/events"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// marketTTL bounds staleness of the latest-price snapshot in the store.
const marketTTL = 60 * time.Second

// DataHandler consumes routed data points (the strategy manager).
type DataHandler interface {
	ProcessData(ctx context.Context, dp model.DataPoint)
}

// PositionUpdater marks open positions at the current price (the engine).
type PositionUpdater interface {
	UpdatePositions(ctx context.Context, symbol string, currentPrice float64) error
}

// Loop pulls queued data points and routes them: candles and prices update
// the market snapshot and open positions, candles additionally feed the
// strategy runtime.
type Loop struct {
	queue     chan model.DataPoint
	handler   DataHandler
	positions PositionUpdater
	store     store.Store
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       *slog.Logger

	dropped atomic.Uint64
}

// New creates a Loop with a bounded queue of queueSize.
func New(queueSize int, handler DataHandler, positions PositionUpdater,
	st store.Store, bus *events.Bus, m *metrics.Metrics, log *slog.Logger) *Loop {

	if queueSize < 1 {
		queueSize = 1
	}
	return &Loop{
		queue:     make(chan model.DataPoint, queueSize),
		handler:   handler,
		positions: positions,
		store:     st,
		bus:       bus,
		metrics:   m,
		log:       log,
	}
}

// Offer enqueues a data point without blocking. Returns false, and counts
// the drop, when the queue is full.
func (l *Loop) Offer(dp model.DataPoint) bool {
	select {
	case l.queue <- dp:
		if l.metrics != nil {
			l.metrics.IngestQueueDepth.Set(float64(len(l.queue)))
		}
		return true
	default:
		l.dropped.Add(1)
		if l.metrics != nil {
			l.metrics.IngestDropped.Inc()
		}
		return false
	}
}

// Dropped returns the total data points dropped due to a full queue.
func (l *Loop) Dropped() uint64 { return l.dropped.Load() }

// Pending reports how many data points are queued but not yet processed.
func (l *Loop) Pending() int { return len(l.queue) }

// Run consumes the queue until ctx is cancelled. Cancellation exits without
// draining remaining items.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("ingestion loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("ingestion loop stopped", "queued", len(l.queue), "dropped", l.dropped.Load())
			return
		case dp := <-l.queue:
			if l.metrics != nil {
				l.metrics.IngestQueueDepth.Set(float64(len(l.queue)))
			}
			l.process(ctx, dp)
		}
	}
}

// process handles one data point end to end.
func (l *Loop) process(ctx context.Context, dp model.DataPoint) {
	price, volume := priceOf(dp)
	if price > 0 {
		l.snapshot(ctx, dp.Symbol, price, volume)
	}

	l.handler.ProcessData(ctx, dp)

	if price > 0 {
		if err := l.positions.UpdatePositions(ctx, dp.Symbol, price); err != nil {
			l.log.Error("position update failed", "symbol", dp.Symbol, "err", err)
		}
		l.emitPrice(dp.Symbol, price)
	}
}

// snapshot caches the latest observed price in the store; the paper
// execution client and restart paths read it back.
func (l *Loop) snapshot(ctx context.Context, symbol string, price, volume float64) {
	snap := model.MarketSnapshot{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return
	}
	if err := l.store.Set(ctx, store.MarketLatestKey(symbol), data, marketTTL); err != nil {
		l.log.Error("market snapshot write failed", "symbol", symbol, "err", err)
	}
}

func (l *Loop) emitPrice(symbol string, price float64) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Emit(model.EventPriceUpdate, map[string]any{
		"symbol": symbol, "price": price,
	}); err != nil {
		l.log.Error("price event emit failed", "symbol", symbol, "err", err)
	}
}

// priceOf extracts the tradable price (and volume, if any) a data point
// carries.
func priceOf(dp model.DataPoint) (price, volume float64) {
	switch dp.Type {
	case model.DataCandle:
		if dp.Candle != nil {
			return dp.Candle.Close, dp.Candle.Volume
		}
	case model.DataPrice, model.DataTrade:
		return dp.Price, 0
	}
	return 0, 0
}
