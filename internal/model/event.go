package model

import "time"

// EventType enumerates the closed set of event categories the bus carries.
// Subscribing to or emitting an unknown variant is a caller error.
type EventType string

const (
	// Trading events
	EventTradeExecuted   EventType = "trade_executed"
	EventOrderPlaced     EventType = "order_placed"
	EventOrderCancelled  EventType = "order_cancelled"
	EventPositionOpened  EventType = "position_opened"
	EventPositionClosed  EventType = "position_closed"
	EventPositionUpdated EventType = "position_updated"

	// Strategy events
	EventStrategyStarted EventType = "strategy_started"
	EventStrategyStopped EventType = "strategy_stopped"
	EventStrategyUpdated EventType = "strategy_updated"
	EventStrategySignal  EventType = "strategy_signal"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemStatus  EventType = "system_status"

	// Market events
	EventPriceUpdate     EventType = "price_update"
	EventVolumeSpike     EventType = "volume_spike"
	EventVolatilityAlert EventType = "volatility_alert"

	// Risk events
	EventRiskLimitBreach    EventType = "risk_limit_breach"
	EventMarginCall         EventType = "margin_call"
	EventAccountValueUpdate EventType = "account_value_update"
)

// AllEventTypes returns every known event type, in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventTradeExecuted, EventOrderPlaced, EventOrderCancelled,
		EventPositionOpened, EventPositionClosed, EventPositionUpdated,
		EventStrategyStarted, EventStrategyStopped, EventStrategyUpdated,
		EventStrategySignal,
		EventSystemError, EventSystemWarning, EventSystemStatus,
		EventPriceUpdate, EventVolumeSpike, EventVolatilityAlert,
		EventRiskLimitBreach, EventMarginCall, EventAccountValueUpdate,
	}
}

// KnownEventType reports whether t is part of the closed set.
func KnownEventType(t EventType) bool {
	switch t {
	case EventTradeExecuted, EventOrderPlaced, EventOrderCancelled,
		EventPositionOpened, EventPositionClosed, EventPositionUpdated,
		EventStrategyStarted, EventStrategyStopped, EventStrategyUpdated,
		EventStrategySignal,
		EventSystemError, EventSystemWarning, EventSystemStatus,
		EventPriceUpdate, EventVolumeSpike, EventVolatilityAlert,
		EventRiskLimitBreach, EventMarginCall, EventAccountValueUpdate:
		return true
	}
	return false
}

// Event is one broadcast state change: a payload map stamped with its type
// and a UTC timestamp at emit time.
type Event struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}
