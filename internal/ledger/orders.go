package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// OrderLedger owns the order and trade records. Other components receive
// copies, never the cached instances.
type OrderLedger struct {
	mu     sync.RWMutex
	store  store.Store
	orders map[string]*model.Order
	trades map[string]*model.Trade
	log    *slog.Logger
}

// NewOrderLedger creates an OrderLedger persisting through st.
func NewOrderLedger(st store.Store, log *slog.Logger) *OrderLedger {
	return &OrderLedger{
		store:  st,
		orders: make(map[string]*model.Order),
		trades: make(map[string]*model.Trade),
		log:    log,
	}
}

// CreateOrder records a new pending order.
func (l *OrderLedger) CreateOrder(ctx context.Context, symbol string, side model.Side, size float64,
	kind model.OrderKind, price float64, metadata map[string]string) (*model.Order, error) {

	order := &model.Order{
		ID:          newID("ord"),
		Symbol:      symbol,
		Side:        side,
		Size:        size,
		Price:       price,
		Kind:        kind,
		Status:      model.OrderPending,
		SubmittedAt: time.Now().UTC(),
		Metadata:    metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.persistOrder(ctx, order); err != nil {
		return nil, err
	}
	l.log.Info("created order", "order_id", order.ID, "symbol", symbol, "side", string(side), "size", size)
	return order.Clone(), nil
}

// OrderUpdate carries the mutable fields of an order transition. Nil pointer
// fields are left untouched.
type OrderUpdate struct {
	Status      model.OrderStatus
	FilledPrice *float64
	FilledSize  *float64
	Error       string
	Metadata    map[string]string
}

// UpdateOrder transitions an order to a new status, enforcing the
// forward-only lifecycle, and records fill details or the failure reason.
func (l *OrderLedger) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, err := l.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransition(upd.Status) {
		return nil, fmt.Errorf("order %s: %s -> %s: %w", id, order.Status, upd.Status, model.ErrInvalidState)
	}

	next := order.Clone()
	next.Status = upd.Status
	if upd.FilledPrice != nil {
		next.FilledPrice = *upd.FilledPrice
	}
	if upd.FilledSize != nil {
		next.FilledSize = *upd.FilledSize
	}
	if upd.Error != "" {
		next.Error = upd.Error
	}
	for k, v := range upd.Metadata {
		if next.Metadata == nil {
			next.Metadata = make(map[string]string)
		}
		next.Metadata[k] = v
	}
	if upd.Status == model.OrderFilled {
		ts := time.Now().UTC()
		next.FilledAt = &ts
	}

	if err := l.persistOrder(ctx, next); err != nil {
		return nil, err
	}
	l.log.Info("updated order", "order_id", id, "status", string(upd.Status))
	return next.Clone(), nil
}

// GetOrder returns the order with the given id, loading it from the store on
// a cache miss.
func (l *OrderLedger) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, err := l.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// CreateTrade records a fill against an existing order. positionID may be
// empty; it is attached later, at most once, via AttachPosition.
func (l *OrderLedger) CreateTrade(ctx context.Context, orderID, positionID string,
	price, size, fee float64, metadata map[string]string) (*model.Trade, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	order, err := l.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	trade := &model.Trade{
		ID:         newID("trade"),
		OrderID:    orderID,
		PositionID: positionID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Size:       size,
		Price:      price,
		Fee:        fee,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}

	if err := l.persistTrade(ctx, trade); err != nil {
		return nil, err
	}
	l.log.Info("created trade", "trade_id", trade.ID, "order_id", orderID, "price", price, "size", size)
	return trade.Clone(), nil
}

// AttachPosition sets the trade's position reference. It may be set at most
// once; a second attempt is an invalid-state error.
func (l *OrderLedger) AttachPosition(ctx context.Context, tradeID, positionID string) (*model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, err := l.loadTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.PositionID != "" {
		return nil, fmt.Errorf("trade %s already references position %s: %w",
			tradeID, trade.PositionID, model.ErrInvalidState)
	}

	next := trade.Clone()
	next.PositionID = positionID
	if err := l.persistTrade(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Trades returns trades filtered by symbol (empty = all) and time range
// (zero times = unbounded), sorted by timestamp ascending.
func (l *OrderLedger) Trades(symbol string, start, end time.Time) []model.Trade {
	l.mu.RLock()
	out := make([]model.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if !start.IsZero() && t.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && t.Timestamp.After(end) {
			continue
		}
		out = append(out, *t.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// loadOrder returns the cached order or falls back to the store, populating
// the cache. Caller holds l.mu.
func (l *OrderLedger) loadOrder(ctx context.Context, id string) (*model.Order, error) {
	if order, ok := l.orders[id]; ok {
		return order, nil
	}

	data, err := l.store.Get(ctx, store.OrderKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}

	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	if _, err := model.ParseOrderStatus(string(order.Status)); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	if _, err := model.ParseOrderKind(string(order.Kind)); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	l.orders[id] = &order
	return &order, nil
}

func (l *OrderLedger) loadTrade(ctx context.Context, id string) (*model.Trade, error) {
	if trade, ok := l.trades[id]; ok {
		return trade, nil
	}

	data, err := l.store.Get(ctx, store.TradeKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}

	var trade model.Trade
	if err := json.Unmarshal(data, &trade); err != nil {
		return nil, fmt.Errorf("decode trade %s: %w", id, err)
	}
	l.trades[id] = &trade
	return &trade, nil
}

// persistOrder writes the order to the store, then updates the cache. The
// cache is only touched after a successful write so the two never diverge.
func (l *OrderLedger) persistOrder(ctx context.Context, order *model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	if err := l.store.Set(ctx, store.OrderKey(order.ID), data, 0); err != nil {
		return err
	}
	l.orders[order.ID] = order
	return nil
}

func (l *OrderLedger) persistTrade(ctx context.Context, trade *model.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("encode trade %s: %w", trade.ID, err)
	}
	if err := l.store.Set(ctx, store.TradeKey(trade.ID), data, 0); err != nil {
		return err
	}
	l.trades[trade.ID] = trade
	return nil
}
