package model

import "time"

// Trade records a single fill against the execution venue. A trade always
// references the order that produced it; PositionID is empty until the
// position exists and is set at most once. Trades are immutable after that.
type Trade struct {
	ID         string            `json:"trade_id"`
	OrderID    string            `json:"order_id"`
	PositionID string            `json:"position_id,omitempty"`
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Size       float64           `json:"size"`
	Price      float64           `json:"price"`
	Fee        float64           `json:"fee"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers never share the ledger's instance.
func (t *Trade) Clone() *Trade {
	cp := *t
	cp.Metadata = cloneMeta(t.Metadata)
	return &cp
}
