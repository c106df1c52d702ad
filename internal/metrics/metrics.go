// Package metrics exposes Prometheus instrumentation for the trading core
// and a small HTTP server for the scrape and health endpoints.
package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading agent.
type Metrics struct {
	SignalsGenerated prometheus.Counter
	SignalsRejected  prometheus.Counter

	OrdersTotal      *prometheus.CounterVec // labels: status
	PositionsOpened  prometheus.Counter
	PositionsClosed  prometheus.Counter
	StopLossTriggers prometheus.Counter

	QuoteDur prometheus.Histogram
	SwapDur  prometheus.Histogram

	EventHandlerFailures prometheus.Counter

	IngestQueueDepth prometheus.Gauge
	IngestDropped    prometheus.Counter

	GatewayClients prometheus.Gauge
}

// New registers and returns all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		SignalsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_signals_generated_total",
			Help: "Signals emitted by strategies",
		}),
		SignalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_signals_rejected_total",
			Help: "Signals dropped by the validation pipeline",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_orders_total",
			Help: "Orders reaching a terminal status (by status)",
		}, []string{"status"}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_positions_opened_total",
			Help: "Positions created from filled orders",
		}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_positions_closed_total",
			Help: "Positions transitioned to closed",
		}),
		StopLossTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_stop_loss_triggers_total",
			Help: "Stop-loss breaches that moved a position to closing",
		}),
		QuoteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_venue_quote_duration_seconds",
			Help:    "Execution venue quote latency",
			Buckets: prometheus.DefBuckets,
		}),
		SwapDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_venue_swap_duration_seconds",
			Help:    "Execution venue swap latency",
			Buckets: prometheus.DefBuckets,
		}),
		EventHandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_event_handler_failures_total",
			Help: "Event handlers that returned an error or panicked",
		}),
		IngestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_ingest_queue_depth",
			Help: "Data points currently queued for ingestion",
		}),
		IngestDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_ingest_dropped_total",
			Help: "Data points dropped because the ingest queue was full",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_gateway_clients",
			Help: "Connected event-stream WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.SignalsGenerated, m.SignalsRejected,
		m.OrdersTotal, m.PositionsOpened, m.PositionsClosed, m.StopLossTriggers,
		m.QuoteDur, m.SwapDur,
		m.EventHandlerFailures,
		m.IngestQueueDepth, m.IngestDropped,
		m.GatewayClients,
	)
	return m
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates the scrape server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
