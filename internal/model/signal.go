package model

import "time"

// SignalType distinguishes entry signals from exit signals.
type SignalType string

const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Signal is a candidate trade decision produced by a strategy. It is
// validated once and consumed exactly once by the trading engine.
type Signal struct {
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Size       float64           `json:"size"`
	Price      float64           `json:"price"`
	Type       SignalType        `json:"signal_type"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
	Expiry     *time.Time        `json:"expiry,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the signal's expiry (if any) has passed at now.
func (s *Signal) Expired(now time.Time) bool {
	return s.Expiry != nil && s.Expiry.Before(now)
}

// LastSignal is the persisted summary of the most recent signal a strategy
// emitted, kept for observability and restart continuity.
type LastSignal struct {
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// StrategyState is the persisted per-instance state of a running strategy.
// It is created on activation and marked inactive, never deleted, on removal.
type StrategyState struct {
	StrategyID      string            `json:"strategy_id"`
	Symbol          string            `json:"symbol"`
	Active          bool              `json:"active"`
	LastUpdate      time.Time         `json:"last_update"`
	PositionSize    float64           `json:"position_size"`
	CurrentPosition string            `json:"current_position,omitempty"`
	LastSignal      *LastSignal       `json:"last_signal,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
