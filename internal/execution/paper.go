package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// PriceSource supplies the latest known market price for a symbol.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// StorePrices reads latest prices from the market snapshot the ingestion
// loop maintains in the state store.
type StorePrices struct {
	Store store.Store
}

// LatestPrice returns the cached price for symbol.
func (s *StorePrices) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	data, err := s.Store.Get(ctx, store.MarketLatestKey(symbol))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, fmt.Errorf("no market data for %s", symbol)
	}
	var snap model.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode market snapshot for %s: %w", symbol, err)
	}
	if snap.Price <= 0 {
		return 0, fmt.Errorf("no usable price for %s", symbol)
	}
	return snap.Price, nil
}

// PaperClient simulates execution without venue calls. Fills happen at the
// latest observed price adjusted by configured slippage, with a proportional
// fee. Useful for replay and paper trading.
type PaperClient struct {
	prices      PriceSource
	slippageBps float64
	feeBps      float64

	seq atomic.Int64
}

var _ Client = (*PaperClient)(nil)

// NewPaperClient creates a paper executor. slippageBps and feeBps are in
// basis points (5 = 0.05%).
func NewPaperClient(prices PriceSource, slippageBps, feeBps float64) *PaperClient {
	return &PaperClient{prices: prices, slippageBps: slippageBps, feeBps: feeBps}
}

// GetQuote prices the swap from the latest market snapshot, applying
// slippage against the taker.
func (p *PaperClient) GetQuote(ctx context.Context, inputToken, outputToken string,
	amount float64, side model.Side) (*Quote, error) {

	symbol := inputToken + "-" + outputToken
	price, err := p.prices.LatestPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper quote %s: %w", symbol, err)
	}

	slip := price * p.slippageBps / 10000
	if side == model.SideBuy {
		price += slip // buy fills higher
	} else {
		price -= slip // sell fills lower
	}

	return &Quote{
		InputToken:  inputToken,
		OutputToken: outputToken,
		Side:        side,
		Amount:      amount,
		Price:       price,
		Size:        amount,
		Fee:         amount * price * p.feeBps / 10000,
		Route:       "paper",
	}, nil
}

// ExecuteSwap fills the quote as-is.
func (p *PaperClient) ExecuteSwap(_ context.Context, quote *Quote) (*SwapResult, error) {
	n := p.seq.Add(1)
	log.Printf("[paper] %s %s-%s size=%f price=%f fee=%f",
		quote.Side, quote.InputToken, quote.OutputToken, quote.Size, quote.Price, quote.Fee)
	return &SwapResult{
		Price: quote.Price,
		Size:  quote.Size,
		Fee:   quote.Fee,
		TxID:  fmt.Sprintf("PAPER-%d", n),
	}, nil
}
