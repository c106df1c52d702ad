package execution

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
	"trading-agentv1/internal/store/memstore"
)

func seedSnapshot(t *testing.T, st *memstore.Store, symbol string, price float64) {
	t.Helper()
	snap := model.MarketSnapshot{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}
	data, _ := json.Marshal(&snap)
	if err := st.Set(context.Background(), store.MarketLatestKey(symbol), data, 0); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func TestPaperQuoteSlippage(t *testing.T) {
	st := memstore.New()
	seedSnapshot(t, st, "SOL-USDC", 100)
	// 50 bps slippage, 10 bps fee.
	p := NewPaperClient(&StorePrices{Store: st}, 50, 10)
	ctx := context.Background()

	buy, err := p.GetQuote(ctx, "SOL", "USDC", 2, model.SideBuy)
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	if buy.Price != 100.5 {
		t.Errorf("buy price = %v, want 100.5", buy.Price)
	}
	if buy.Fee != 2*100.5*0.001 {
		t.Errorf("buy fee = %v", buy.Fee)
	}

	sell, err := p.GetQuote(ctx, "SOL", "USDC", 2, model.SideSell)
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}
	if sell.Price != 99.5 {
		t.Errorf("sell price = %v, want 99.5", sell.Price)
	}
}

func TestPaperExecuteSwap(t *testing.T) {
	st := memstore.New()
	seedSnapshot(t, st, "SOL-USDC", 100)
	p := NewPaperClient(&StorePrices{Store: st}, 0, 0)
	ctx := context.Background()

	quote, err := p.GetQuote(ctx, "SOL", "USDC", 1, model.SideBuy)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	result, err := p.ExecuteSwap(ctx, quote)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if result.Price != 100 || result.Size != 1 {
		t.Errorf("result = %+v", result)
	}
	if !strings.HasPrefix(result.TxID, "PAPER-") {
		t.Errorf("tx id = %q", result.TxID)
	}

	// Transaction ids are unique per fill.
	second, _ := p.ExecuteSwap(ctx, quote)
	if second.TxID == result.TxID {
		t.Errorf("duplicate tx id %q", second.TxID)
	}
}

func TestPaperQuoteNoMarketData(t *testing.T) {
	p := NewPaperClient(&StorePrices{Store: memstore.New()}, 0, 0)
	if _, err := p.GetQuote(context.Background(), "SOL", "USDC", 1, model.SideBuy); err == nil {
		t.Error("quote without market data accepted")
	}
}

func TestStorePricesRejectsStale(t *testing.T) {
	st := memstore.New()
	seedSnapshot(t, st, "SOL-USDC", 0) // unusable price

	src := &StorePrices{Store: st}
	if _, err := src.LatestPrice(context.Background(), "SOL-USDC"); err == nil {
		t.Error("zero price accepted")
	}
}
