package model

import "time"

// PositionStatus represents the lifecycle state of a position.
// Valid transitions: open → closing → closed, or open → closed directly for a
// manual close. A closed position is never re-opened.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// ParsePositionStatus converts a canonical token into a PositionStatus.
func ParsePositionStatus(v string) (PositionStatus, error) {
	switch PositionStatus(v) {
	case PositionOpen, PositionClosing, PositionClosed:
		return PositionStatus(v), nil
	}
	return "", &ParseError{Field: "status", Value: v}
}

// CanTransition reports whether a position may move from s to next.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	switch s {
	case PositionOpen:
		return next == PositionClosing || next == PositionClosed
	case PositionClosing:
		return next == PositionClosed
	}
	return false
}

// Position represents tracked exposure created from a filled order.
// Size never changes after creation; there are no partial closes.
type Position struct {
	ID             string            `json:"position_id"`
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	Size           float64           `json:"size"`
	EntryPrice     float64           `json:"entry_price"`
	CurrentPrice   float64           `json:"current_price"`
	Status         PositionStatus    `json:"status"`
	UnrealizedPnL  float64           `json:"unrealized_pnl"`
	RealizedPnL    float64           `json:"realized_pnl"`
	StopLoss       float64           `json:"stop_loss,omitempty"` // 0 = no stop
	EntryTime      time.Time         `json:"entry_time"`
	LastUpdateTime time.Time         `json:"last_update_time"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PnLAt returns the profit/loss of the position marked at price.
// Sign is flipped for short positions.
func (p *Position) PnLAt(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideSell {
		diff = -diff
	}
	return diff * p.Size
}

// StopBreached reports whether price breaches the configured stop-loss.
// Longs stop at or below the threshold, shorts at or above it.
func (p *Position) StopBreached(price float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Side == SideBuy {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// Open reports whether the position still carries exposure.
func (p *Position) Open() bool {
	return p.Status == PositionOpen || p.Status == PositionClosing
}

// Clone returns a deep copy so callers never share the ledger's instance.
func (p *Position) Clone() *Position {
	cp := *p
	cp.Metadata = cloneMeta(p.Metadata)
	return &cp
}
