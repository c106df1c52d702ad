package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// PositionLedger owns the position records. Positions are never deleted,
// only transitioned to closed.
type PositionLedger struct {
	mu        sync.RWMutex
	store     store.Store
	positions map[string]*model.Position
	log       *slog.Logger
}

// NewPositionLedger creates a PositionLedger persisting through st.
func NewPositionLedger(st store.Store, log *slog.Logger) *PositionLedger {
	return &PositionLedger{
		store:     st,
		positions: make(map[string]*model.Position),
		log:       log,
	}
}

// Create records a new open position. Current price starts at the entry
// price and unrealized PnL at zero.
func (l *PositionLedger) Create(ctx context.Context, symbol string, side model.Side,
	size, entryPrice, stopLoss float64, metadata map[string]string) (*model.Position, error) {

	now := time.Now().UTC()
	pos := &model.Position{
		ID:             newID("pos"),
		Symbol:         symbol,
		Side:           side,
		Size:           size,
		EntryPrice:     entryPrice,
		CurrentPrice:   entryPrice,
		Status:         model.PositionOpen,
		StopLoss:       stopLoss,
		EntryTime:      now,
		LastUpdateTime: now,
		Metadata:       metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.persist(ctx, pos); err != nil {
		return nil, err
	}
	l.log.Info("created position", "position_id", pos.ID, "symbol", symbol,
		"side", string(side), "size", size, "entry_price", entryPrice)
	return pos.Clone(), nil
}

// Get returns the position with the given id, loading it from the store on a
// cache miss.
func (l *PositionLedger) Get(ctx context.Context, id string) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// MarkPrice updates the position with the current market price, recomputes
// unrealized PnL, and transitions open → closing when the stop-loss is
// breached.
func (l *PositionLedger) MarkPrice(ctx context.Context, id string, currentPrice float64) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos.Status == model.PositionClosed {
		return nil, fmt.Errorf("position %s already closed: %w", id, model.ErrInvalidState)
	}

	next := pos.Clone()
	next.CurrentPrice = currentPrice
	next.UnrealizedPnL = next.PnLAt(currentPrice)
	next.LastUpdateTime = time.Now().UTC()

	if next.Status == model.PositionOpen && next.StopBreached(currentPrice) {
		next.Status = model.PositionClosing
		l.log.Info("stop loss triggered", "position_id", id,
			"stop_loss", next.StopLoss, "price", currentPrice)
	}

	if err := l.persist(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Close transitions the position to closed at closePrice, computing realized
// PnL and zeroing the unrealized figure. Closing an already-closed position
// is an invalid-state error.
func (l *PositionLedger) Close(ctx context.Context, id string, closePrice float64,
	metadata map[string]string) (*model.Position, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pos.Status.CanTransition(model.PositionClosed) {
		return nil, fmt.Errorf("position %s: %s -> closed: %w", id, pos.Status, model.ErrInvalidState)
	}

	next := pos.Clone()
	next.RealizedPnL = next.PnLAt(closePrice)
	next.UnrealizedPnL = 0
	next.CurrentPrice = closePrice
	next.Status = model.PositionClosed
	next.LastUpdateTime = time.Now().UTC()
	for k, v := range metadata {
		if next.Metadata == nil {
			next.Metadata = make(map[string]string)
		}
		next.Metadata[k] = v
	}

	if err := l.persist(ctx, next); err != nil {
		return nil, err
	}
	l.log.Info("closed position", "position_id", id, "realized_pnl", next.RealizedPnL)
	return next.Clone(), nil
}

// OpenPositions returns copies of all open or closing positions, optionally
// filtered by symbol (empty = all).
func (l *PositionLedger) OpenPositions(symbol string) []*model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.Position
	for _, pos := range l.positions {
		if !pos.Open() {
			continue
		}
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		out = append(out, pos.Clone())
	}
	return out
}

// load returns the cached position or falls back to the store. Caller holds
// l.mu.
func (l *PositionLedger) load(ctx context.Context, id string) (*model.Position, error) {
	if pos, ok := l.positions[id]; ok {
		return pos, nil
	}

	data, err := l.store.Get(ctx, store.PositionKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}

	var pos model.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", id, err)
	}
	if _, err := model.ParsePositionStatus(string(pos.Status)); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", id, err)
	}
	l.positions[id] = &pos
	return &pos, nil
}

// persist writes the position to the store, then updates the cache.
func (l *PositionLedger) persist(ctx context.Context, pos *model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", pos.ID, err)
	}
	if err := l.store.Set(ctx, store.PositionKey(pos.ID), data, 0); err != nil {
		return err
	}
	l.positions[pos.ID] = pos
	return nil
}
