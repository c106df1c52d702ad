// cmd/agent runs the trading agent: state store, event bus, execution venue,
// strategy runtime and data ingestion, with a websocket gateway for clients.
//
// Market data arrives over HTTP POST /ingest (one DataPoint per request) and
// flows through the bounded ingestion queue to the strategies and the
// position mark-to-market pass.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-agentv1/config"
	"trading-agentv1/internal/engine"
	"trading-agentv1/internal/events"
	"trading-agentv1/internal/execution"
	"trading-agentv1/internal/gateway"
	"trading-agentv1/internal/ingest"
	"trading-agentv1/internal/journal"
	"trading-agentv1/internal/ledger"
	"trading-agentv1/internal/logger"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"
	redisstore "trading-agentv1/internal/store/redis"
	"trading-agentv1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[agent] starting...")

	cfg := config.Load()
	slg := logger.Init("agent", logger.ParseLevel(cfg.LogLevel))

	// ---- Metrics & health ----
	prom := metrics.New()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	metricsSrv.Start()

	// ---- State store ----
	st, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[agent] redis connect failed: %v", err)
	}
	defer st.Close()

	// ---- Event bus ----
	bus := events.New(slg)
	bus.OnHandlerError = func(t model.EventType, err error) {
		prom.EventHandlerFailures.Inc()
		slg.Warn("event handler failed", "event_type", string(t), "error", err.Error())
	}

	// ---- Trade journal ----
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[agent] journal open failed: %v", err)
	}
	defer jrnl.Close()

	// ---- Execution venue ----
	var exec execution.Client
	if cfg.PaperMode {
		log.Println("[agent] *** PAPER MODE: simulated fills at cached market price ***")
		exec = execution.NewPaperClient(&execution.StorePrices{Store: st}, cfg.SlippageBps, cfg.FeeBps)
	} else {
		exec = execution.NewDEXClient(execution.DEXConfig{
			Endpoint:       cfg.VenueEndpoint,
			AuthToken:      cfg.VenueAuthToken,
			MaxPriceImpact: cfg.MaxPriceImpact,
		})
	}

	// ---- Ledgers & engine ----
	orders := ledger.NewOrderLedger(st, slg)
	positions := ledger.NewPositionLedger(st, slg)
	eng := engine.New(orders, positions, exec, bus, jrnl, prom, slg)

	// ---- Strategy runtime ----
	mgr := strategy.NewManager(eng, st, bus, prom, cfg.DefaultStopLossPct, slg)
	mgr.RegisterKind(strategy.KindMACrossover, strategy.NewMACrossover)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := strategy.Params{
		"fast_period":   float64(cfg.FastPeriod),
		"slow_period":   float64(cfg.SlowPeriod),
		"min_volume":    cfg.MinVolume,
		"risk_factor":   cfg.RiskFactor,
		"account_size":  cfg.AccountSize,
		"stop_fraction": cfg.StopFraction,
	}
	for _, sym := range cfg.ParseSymbols() {
		id := strategy.KindMACrossover + ":" + sym
		if err := mgr.Add(ctx, id, strategy.KindMACrossover, sym, params); err != nil {
			log.Fatalf("[agent] strategy %s start failed: %v", id, err)
		}
		log.Printf("[agent] strategy %s running on %s", id, sym)
	}

	// ---- Ingestion loop ----
	loop := ingest.New(cfg.IngestQueueSize, mgr, eng, st, bus, prom, slg)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	// ---- Gateway ----
	hub := gateway.NewHub(bus, prom, slg)
	if err := hub.Start(); err != nil {
		log.Fatalf("[agent] gateway start failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/ingest", ingestHandler(loop))
	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, eng.Summary())
	})
	mux.HandleFunc("/strategies", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, mgr.Summary())
	})
	mux.HandleFunc("/trades", tradesHandler(eng))

	gatewaySrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[agent] gateway listening on %s", cfg.GatewayAddr)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[agent] gateway serve failed: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[agent] received %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop taking data first, then flatten the book.
	cancel()
	wg.Wait()

	if failed := eng.CloseAllPositions(shutdownCtx, map[string]string{"reason": "shutdown"}); failed > 0 {
		log.Printf("[agent] %d positions failed to close on shutdown", failed)
	}
	for _, info := range mgr.Summary() {
		if err := mgr.Remove(shutdownCtx, info.ID); err != nil {
			log.Printf("[agent] strategy %s stop failed: %v", info.ID, err)
		}
	}

	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[agent] gateway shutdown: %v", err)
	}
	hub.Stop()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[agent] shutdown complete")
}

// ingestHandler accepts one DataPoint per POST and offers it to the bounded
// queue. A full queue returns 503 so feeders can back off.
func ingestHandler(loop *ingest.Loop) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var dp model.DataPoint
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&dp); err != nil {
			http.Error(w, "bad data point: "+err.Error(), http.StatusBadRequest)
			return
		}
		if dp.Symbol == "" {
			http.Error(w, "missing symbol", http.StatusBadRequest)
			return
		}
		if dp.Timestamp.IsZero() {
			dp.Timestamp = time.Now().UTC()
		}
		if !loop.Offer(dp) {
			http.Error(w, "ingest queue full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func tradesHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, end := time.Time{}, time.Now().UTC()
		if v := q.Get("start"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "bad start: "+err.Error(), http.StatusBadRequest)
				return
			}
			start = t
		}
		if v := q.Get("end"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "bad end: "+err.Error(), http.StatusBadRequest)
				return
			}
			end = t
		}
		writeJSON(w, eng.TradeHistory(q.Get("symbol"), start, end))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err.Error())
	}
}
