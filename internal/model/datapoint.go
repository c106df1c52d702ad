package model

import "time"

// DataType tags the kind of market observation a DataPoint carries.
type DataType string

const (
	DataCandle DataType = "candle"
	DataPrice  DataType = "price"
	DataTrade  DataType = "trade"
)

// Candle is one OHLCV bar for a symbol.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketSnapshot is the latest observed market state for a symbol, cached in
// the store under market:{symbol}:latest.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DataPoint is the unit of ingestion: one timestamped market observation.
// Exactly one of Candle or Price is populated, selected by Type.
type DataPoint struct {
	Type      DataType          `json:"data_type"`
	Symbol    string            `json:"symbol"`
	Timestamp time.Time         `json:"timestamp"`
	Candle    *Candle           `json:"candle,omitempty"`
	Price     float64           `json:"price,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
