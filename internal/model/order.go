package model

import "time"

// Side represents the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide converts a canonical token into a Side.
func ParseSide(v string) (Side, error) {
	switch Side(v) {
	case SideBuy, SideSell:
		return Side(v), nil
	}
	return "", &ParseError{Field: "side", Value: v}
}

// OrderKind represents the order type.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// ParseOrderKind converts a canonical token into an OrderKind.
func ParseOrderKind(v string) (OrderKind, error) {
	switch OrderKind(v) {
	case OrderMarket, OrderLimit:
		return OrderKind(v), nil
	}
	return "", &ParseError{Field: "kind", Value: v}
}

// OrderStatus represents the lifecycle state of an order.
// Transitions are forward-only: pending may move to exactly one of the
// terminal states, and terminal states never change.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus converts a canonical token into an OrderStatus.
func ParseOrderStatus(v string) (OrderStatus, error) {
	switch OrderStatus(v) {
	case OrderPending, OrderFilled, OrderFailed, OrderCancelled:
		return OrderStatus(v), nil
	}
	return "", &ParseError{Field: "status", Value: v}
}

// Terminal reports whether s is a final order state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return false
	}
	return s == OrderPending && next.Terminal()
}

// Order represents a single order submitted to the execution venue.
type Order struct {
	ID          string            `json:"order_id"`
	Symbol      string            `json:"symbol"`
	Side        Side              `json:"side"`
	Size        float64           `json:"size"`
	Price       float64           `json:"price,omitempty"` // requested limit price, 0 for market
	Kind        OrderKind         `json:"kind"`
	Status      OrderStatus       `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	FilledPrice float64           `json:"filled_price,omitempty"`
	FilledSize  float64           `json:"filled_size,omitempty"`
	FilledAt    *time.Time        `json:"filled_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers never share the ledger's instance.
func (o *Order) Clone() *Order {
	cp := *o
	if o.FilledAt != nil {
		ts := *o.FilledAt
		cp.FilledAt = &ts
	}
	cp.Metadata = cloneMeta(o.Metadata)
	return &cp
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
