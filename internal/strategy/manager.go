package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"trading-agentv1/internal/events"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// Executor is the slice of the trading engine the manager forwards validated
// signals to.
type Executor interface {
	ExecuteMarketOrder(ctx context.Context, symbol string, side model.Side,
		size, stopLoss float64, metadata map[string]string) (*model.Order, error)
	ClosePositionsFor(ctx context.Context, symbol string, metadata map[string]string)
}

// Factory constructs a strategy instance for a registered kind.
type Factory func(id, symbol string, params Params, st store.Store, log *slog.Logger) Strategy

// Manager owns the running strategy instances, routes incoming data points
// to the strategies whose declared requirements and symbol match, and
// forwards validated signals to the trading engine.
type Manager struct {
	mu         sync.RWMutex
	registry   map[string]Factory
	strategies map[string]Strategy
	kinds      map[string]string // instance id -> kind tag

	exec    Executor
	store   store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	log     *slog.Logger

	// defaultStopPct places a stop-loss this fraction away from the signal
	// price on entry orders. 0 disables automatic stops.
	defaultStopPct float64
}

// NewManager creates a Manager. m may be nil.
func NewManager(exec Executor, st store.Store, bus *events.Bus,
	m *metrics.Metrics, defaultStopPct float64, log *slog.Logger) *Manager {

	return &Manager{
		registry:       make(map[string]Factory),
		strategies:     make(map[string]Strategy),
		kinds:          make(map[string]string),
		exec:           exec,
		store:          st,
		bus:            bus,
		metrics:        m,
		defaultStopPct: defaultStopPct,
		log:            log,
	}
}

// RegisterKind maps a strategy-type tag to its constructor.
func (m *Manager) RegisterKind(kind string, f Factory) {
	m.mu.Lock()
	m.registry[kind] = f
	m.mu.Unlock()
}

// Add constructs, initializes, and starts routing data to a new strategy
// instance.
func (m *Manager) Add(ctx context.Context, id, kind, symbol string, params Params) error {
	m.mu.Lock()
	factory, ok := m.registry[kind]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown strategy kind %q", kind)
	}
	if _, exists := m.strategies[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("strategy %s already running: %w", id, model.ErrInvalidState)
	}
	m.mu.Unlock()

	s := factory(id, symbol, params, m.store, m.log)
	if err := s.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize strategy %s: %w", id, err)
	}

	m.mu.Lock()
	m.strategies[id] = s
	m.kinds[id] = kind
	m.mu.Unlock()

	m.emit(model.EventStrategyStarted, map[string]any{
		"strategy_id": id, "kind": kind, "symbol": symbol,
	})
	m.log.Info("strategy added", "strategy_id", id, "kind", kind, "symbol", symbol)
	return nil
}

// Remove stops a strategy: its persisted state is marked inactive and the
// instance stops receiving data.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.strategies[id]
	delete(m.strategies, id)
	delete(m.kinds, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %s: %w", id, model.ErrNotFound)
	}

	if err := s.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup strategy %s: %w", id, err)
	}
	m.emit(model.EventStrategyStopped, map[string]any{"strategy_id": id})
	m.log.Info("strategy removed", "strategy_id", id)
	return nil
}

// ProcessData routes one data point to every matching strategy, then drains
// any resulting signal through validation and into the engine.
func (m *Manager) ProcessData(ctx context.Context, dp model.DataPoint) {
	m.mu.RLock()
	targets := make([]Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		if s.Symbol() == dp.Symbol && wants(s, dp.Type) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if err := s.ProcessData(ctx, dp); err != nil {
			m.log.Error("strategy data processing failed", "strategy_id", s.ID(), "err", err)
			continue
		}

		sig, err := s.GenerateSignal(ctx)
		if err != nil {
			m.log.Error("signal generation failed", "strategy_id", s.ID(), "err", err)
			continue
		}
		if sig == nil {
			continue
		}
		if m.metrics != nil {
			m.metrics.SignalsGenerated.Inc()
		}

		if !validSignal(sig, s) {
			if m.metrics != nil {
				m.metrics.SignalsRejected.Inc()
			}
			m.log.Warn("signal rejected", "strategy_id", s.ID(),
				"side", string(sig.Side), "price", sig.Price, "size", sig.Size)
			continue
		}

		m.emit(model.EventStrategySignal, map[string]any{
			"strategy_id": sig.StrategyID, "symbol": sig.Symbol,
			"side": string(sig.Side), "size": sig.Size, "price": sig.Price,
			"signal_type": string(sig.Type), "confidence": sig.Confidence,
		})
		m.forward(ctx, sig)
	}
}

// forward consumes one validated signal: entry signals open exposure through
// a market order, exit signals close the symbol's open positions.
func (m *Manager) forward(ctx context.Context, sig *model.Signal) {
	md := map[string]string{"strategy_id": sig.StrategyID, "signal_type": string(sig.Type)}

	switch sig.Type {
	case model.SignalExit:
		m.exec.ClosePositionsFor(ctx, sig.Symbol, md)
	default:
		stop := m.stopFor(sig)
		if _, err := m.exec.ExecuteMarketOrder(ctx, sig.Symbol, sig.Side, sig.Size, stop, md); err != nil {
			m.log.Error("signal execution failed", "strategy_id", sig.StrategyID, "err", err)
		}
	}
}

// stopFor places the default stop a fixed fraction away from the signal
// price, below for longs and above for shorts.
func (m *Manager) stopFor(sig *model.Signal) float64 {
	if m.defaultStopPct <= 0 {
		return 0
	}
	if sig.Side == model.SideBuy {
		return sig.Price * (1 - m.defaultStopPct)
	}
	return sig.Price * (1 + m.defaultStopPct)
}

// Info describes one running strategy instance.
type Info struct {
	ID     string   `json:"strategy_id"`
	Kind   string   `json:"kind"`
	Symbol string   `json:"symbol"`
	Wants  []string `json:"data_requirements"`
}

// Summary lists the running strategies.
func (m *Manager) Summary() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.strategies))
	for id, s := range m.strategies {
		wants := make([]string, 0, len(s.DataRequirements()))
		for _, t := range s.DataRequirements() {
			wants = append(wants, string(t))
		}
		out = append(out, Info{ID: id, Kind: m.kinds[id], Symbol: s.Symbol(), Wants: wants})
	}
	return out
}

func (m *Manager) emit(t model.EventType, payload map[string]any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Emit(t, payload); err != nil {
		m.log.Error("event emit failed", "event_type", string(t), "err", err)
	}
}

func wants(s Strategy, t model.DataType) bool {
	for _, req := range s.DataRequirements() {
		if req == t {
			return true
		}
	}
	return false
}
