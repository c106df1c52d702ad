// Package strategy provides the strategy runtime: the capability contract
// every strategy implements, persisted per-instance state, the signal
// validation pipeline, and the manager that routes market data and forwards
// validated signals to the trading engine.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// Strategy is the capability contract for a running strategy instance.
type Strategy interface {
	// ID returns the unique id of this instance.
	ID() string

	// Symbol returns the symbol this instance trades.
	Symbol() string

	// Initialize loads persisted state and prepares indicators.
	Initialize(ctx context.Context) error

	// ProcessData consumes one market observation.
	ProcessData(ctx context.Context, dp model.DataPoint) error

	// GenerateSignal returns a candidate signal, or nil when indicator
	// conditions are not met. An inactive strategy always returns nil.
	GenerateSignal(ctx context.Context) (*model.Signal, error)

	// DataRequirements declares the data types this strategy consumes.
	DataRequirements() []model.DataType

	// ValidateSignal is the strategy-specific validation hook applied after
	// the generic checks.
	ValidateSignal(sig *model.Signal) bool

	// Cleanup marks the persisted state inactive and releases indicator
	// buffers. The state record itself is never deleted.
	Cleanup(ctx context.Context) error
}

// Params carries strategy constructor parameters by name.
type Params map[string]float64

// Get returns the named parameter or fallback when absent.
func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// loadState returns the persisted state for a strategy, or creates and
// persists a fresh active default when none exists.
func loadState(ctx context.Context, st store.Store, strategyID, symbol string) (*model.StrategyState, error) {
	data, err := st.Get(ctx, store.StrategyStateKey(strategyID))
	if err != nil {
		return nil, err
	}
	if data != nil {
		var state model.StrategyState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode strategy state %s: %w", strategyID, err)
		}
		return &state, nil
	}

	state := &model.StrategyState{
		StrategyID: strategyID,
		Symbol:     symbol,
		Active:     true,
		LastUpdate: time.Now().UTC(),
	}
	if err := saveState(ctx, st, state); err != nil {
		return nil, err
	}
	return state, nil
}

// saveState persists the state record, stamping the update time.
func saveState(ctx context.Context, st store.Store, state *model.StrategyState) error {
	state.LastUpdate = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode strategy state %s: %w", state.StrategyID, err)
	}
	return st.Set(ctx, store.StrategyStateKey(state.StrategyID), data, 0)
}

// validSignal applies the generic validation pipeline: positive price and
// size, unexpired, then the strategy-specific hook. Failing signals are
// dropped silently by the caller, never surfaced as faults.
func validSignal(sig *model.Signal, s Strategy) bool {
	if sig.Price <= 0 || sig.Size <= 0 {
		return false
	}
	if sig.Expired(time.Now().UTC()) {
		return false
	}
	return s.ValidateSignal(sig)
}
