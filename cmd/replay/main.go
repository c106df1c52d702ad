// cmd/replay feeds historical candles from a CSV file through the full agent
// pipeline (ingestion, strategies, paper execution) to validate strategy
// behaviour without live market data or external services.
//
// CSV columns: timestamp(RFC3339),open,high,low,close,volume
//
// Usage:
//
//	go run ./cmd/replay --file=data/sol-usdc.csv --symbol=SOL-USDC --speed=0
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"trading-agentv1/internal/engine"
	"trading-agentv1/internal/events"
	"trading-agentv1/internal/execution"
	"trading-agentv1/internal/ingest"
	"trading-agentv1/internal/ledger"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store/memstore"
	"trading-agentv1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	file := flag.String("file", "", "Path to candle CSV file")
	symbol := flag.String("symbol", "SOL-USDC", "Token pair the candles belong to")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime)")
	fast := flag.Int("fast", 10, "Fast MA period")
	slow := flag.Int("slow", 21, "Slow MA period")
	minVolume := flag.Float64("min-volume", 0, "Minimum candle volume to act on")
	accountSize := flag.Float64("account", 1000, "Account size for position sizing")
	flag.Parse()

	if *file == "" {
		log.Fatal("[replay] --file is required")
	}

	candles, err := loadCandles(*file, *symbol)
	if err != nil {
		log.Fatalf("[replay] load candles failed: %v", err)
	}
	log.Printf("[replay] loaded %d candles from %s", len(candles), *file)

	slg := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st := memstore.New()
	bus := events.New(slg)
	prom := metrics.New()

	exec := execution.NewPaperClient(&execution.StorePrices{Store: st}, 0, 0)
	orders := ledger.NewOrderLedger(st, slg)
	positions := ledger.NewPositionLedger(st, slg)
	eng := engine.New(orders, positions, exec, bus, nil, prom, slg)

	mgr := strategy.NewManager(eng, st, bus, prom, 0.05, slg)
	mgr.RegisterKind(strategy.KindMACrossover, strategy.NewMACrossover)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := strategy.Params{
		"fast_period":  float64(*fast),
		"slow_period":  float64(*slow),
		"min_volume":   *minVolume,
		"account_size": *accountSize,
	}
	if err := mgr.Add(ctx, "replay:"+*symbol, strategy.KindMACrossover, *symbol, params); err != nil {
		log.Fatalf("[replay] strategy start failed: %v", err)
	}

	// Count signals as they fire so the summary reflects strategy activity.
	var signals atomic.Int64
	bus.Subscribe(model.EventStrategySignal, func(model.Event) error {
		signals.Add(1)
		return nil
	})

	loop := ingest.New(len(candles)+1, mgr, eng, st, bus, prom, slg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	for i := range candles {
		c := candles[i]
		if *speed > 0 && i > 0 {
			gap := c.Timestamp.Sub(candles[i-1].Timestamp)
			time.Sleep(time.Duration(float64(gap) / *speed))
		}
		dp := model.DataPoint{
			Type:      model.DataCandle,
			Symbol:    *symbol,
			Timestamp: c.Timestamp,
			Candle:    &c,
		}
		for !loop.Offer(dp) {
			time.Sleep(time.Millisecond)
		}
	}

	// Let the loop drain before stopping it.
	deadline := time.Now().Add(30 * time.Second)
	for loop.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	summary := eng.Summary()
	trades := eng.TradeHistory(*symbol, time.Time{}, time.Now().UTC())
	fmt.Printf("\n=== replay summary: %s ===\n", *symbol)
	fmt.Printf("candles:        %d\n", len(candles))
	fmt.Printf("signals fired:  %d\n", signals.Load())
	fmt.Printf("trades:         %d\n", len(trades))
	fmt.Printf("open positions: %d\n", summary.TotalPositions)
	fmt.Printf("unrealized pnl: %.4f\n", summary.TotalPnL)
	out, _ := json.MarshalIndent(summary.Positions, "", "  ")
	fmt.Println(string(out))
}

// loadCandles parses the CSV file into candles for symbol, in file order.
func loadCandles(path, symbol string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []model.Candle
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++
		// Tolerate a header row.
		if line == 1 {
			if _, err := time.Parse(time.RFC3339, rec[0]); err != nil {
				continue
			}
		}
		c, err := parseCandle(rec, symbol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandle(rec []string, symbol string) (model.Candle, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return model.Candle{}, fmt.Errorf("timestamp: %w", err)
	}
	vals := make([]float64, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("%s: %w", name, err)
		}
		vals[i] = v
	}
	return model.Candle{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
