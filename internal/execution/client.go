// Package execution defines the quote/execute contract against the trading
// venue and its two implementations: a DEX aggregator HTTP client and a paper
// simulator. The venue's internal swap logic is opaque to this core; any
// error from it surfaces as an execution failure.
package execution

import (
	"context"

	"trading-agentv1/internal/model"
)

// Quote is the venue's price commitment for a prospective swap.
type Quote struct {
	InputToken  string     `json:"input_token"`
	OutputToken string     `json:"output_token"`
	Side        model.Side `json:"side"`
	Amount      float64    `json:"amount"`
	Price       float64    `json:"price"`
	Size        float64    `json:"size"`
	Fee         float64    `json:"fee"`
	PriceImpact float64    `json:"price_impact"`
	Route       string     `json:"route,omitempty"`
}

// SwapResult is the outcome of executing a quote.
type SwapResult struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Fee   float64 `json:"fee"`
	TxID  string  `json:"tx_id,omitempty"`
}

// Client is the execution venue contract consumed by the trading engine.
type Client interface {
	// GetQuote requests a price commitment for swapping amount of the input
	// token against the output token.
	GetQuote(ctx context.Context, inputToken, outputToken string, amount float64, side model.Side) (*Quote, error)

	// ExecuteSwap executes a previously obtained quote.
	ExecuteSwap(ctx context.Context, quote *Quote) (*SwapResult, error)
}
