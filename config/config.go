package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JournalPath   string
	MetricsAddr   string
	GatewayAddr   string
	LogLevel      string

	// Execution venue
	PaperMode      bool
	VenueEndpoint  string
	VenueAuthToken string
	MaxPriceImpact float64
	SlippageBps    float64
	FeeBps         float64

	// Trading
	Symbols            string // comma-separated token pairs, e.g. "SOL-USDC,ETH-USDC"
	DefaultStopLossPct float64
	IngestQueueSize    int

	// Reference strategy (MA crossover)
	FastPeriod   int
	SlowPeriod   int
	MinVolume    float64
	RiskFactor   float64
	AccountSize  float64
	StopFraction float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		PaperMode:      getEnvBool("PAPER_MODE", true),
		MaxPriceImpact: getEnvFloat("MAX_PRICE_IMPACT", 0.01),
		SlippageBps:    getEnvFloat("SLIPPAGE_BPS", 5),
		FeeBps:         getEnvFloat("FEE_BPS", 10),

		Symbols:            getEnv("SYMBOLS", "SOL-USDC"),
		DefaultStopLossPct: getEnvFloat("DEFAULT_STOP_LOSS_PCT", 0.05),
		IngestQueueSize:    getEnvInt("INGEST_QUEUE_SIZE", 4096),

		FastPeriod:   getEnvInt("FAST_PERIOD", 10),
		SlowPeriod:   getEnvInt("SLOW_PERIOD", 21),
		MinVolume:    getEnvFloat("MIN_VOLUME", 1000000),
		RiskFactor:   getEnvFloat("RISK_FACTOR", 0.02),
		AccountSize:  getEnvFloat("ACCOUNT_SIZE", 1000),
		StopFraction: getEnvFloat("STOP_FRACTION", 0.05),
	}

	// Live trading requires venue credentials.
	if !cfg.PaperMode {
		cfg.VenueEndpoint = mustEnv("VENUE_ENDPOINT")
		cfg.VenueAuthToken = mustEnv("VENUE_AUTH_TOKEN")
	}
	return cfg
}

// ParseSymbols splits the Symbols string into a deduplicated slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	seen := make(map[string]struct{}, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		symbols = append(symbols, p)
	}
	return symbols
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %f", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
