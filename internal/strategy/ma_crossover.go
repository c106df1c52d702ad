package strategy

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"trading-agentv1/internal/model"
	"trading-agentv1/internal/store"
)

// KindMACrossover is the registry tag for the moving-average crossover
// strategy.
const KindMACrossover = "ma_crossover"

// MACrossover trades simple-moving-average crossovers.
//
// Buy when the fast MA crosses above the slow MA, sell when it crosses
// below. A debounce flag suppresses repeat signals while the difference
// stays on the same side of zero, and a minimum-volume gate filters thin
// markets. Position size comes from a fixed risk budget:
// (account × riskFactor) / (price × stopFraction).
type MACrossover struct {
	id     string
	symbol string
	store  store.Store
	log    *slog.Logger

	fastPeriod   int
	slowPeriod   int
	minVolume    float64
	riskFactor   float64
	accountSize  float64
	stopFraction float64

	// Rolling sample buffers, truncated to 2×max(fast,slow) entries.
	prices  []float64
	volumes []float64

	lastCross string // "up", "down", or "" before the first cross
	state     *model.StrategyState
}

// NewMACrossover constructs the strategy from params. Recognized keys:
// fast_period, slow_period, min_volume, risk_factor, account_size,
// stop_fraction.
func NewMACrossover(id, symbol string, params Params, st store.Store, log *slog.Logger) Strategy {
	return &MACrossover{
		id:           id,
		symbol:       symbol,
		store:        st,
		log:          log,
		fastPeriod:   int(params.Get("fast_period", 10)),
		slowPeriod:   int(params.Get("slow_period", 21)),
		minVolume:    params.Get("min_volume", 1_000_000),
		riskFactor:   params.Get("risk_factor", 0.02),
		accountSize:  params.Get("account_size", 1000),
		stopFraction: params.Get("stop_fraction", 0.05),
	}
}

func (s *MACrossover) ID() string     { return s.id }
func (s *MACrossover) Symbol() string { return s.symbol }

func (s *MACrossover) DataRequirements() []model.DataType {
	return []model.DataType{model.DataCandle}
}

// Initialize loads persisted state; a brand-new instance starts active.
func (s *MACrossover) Initialize(ctx context.Context) error {
	state, err := loadState(ctx, s.store, s.id, s.symbol)
	if err != nil {
		return err
	}
	s.state = state
	s.lastCross = ""
	return nil
}

// ProcessData buffers close price and volume from candle points; any other
// data type is ignored.
func (s *MACrossover) ProcessData(_ context.Context, dp model.DataPoint) error {
	if dp.Type != model.DataCandle || dp.Candle == nil {
		return nil
	}
	s.prices = append(s.prices, dp.Candle.Close)
	s.volumes = append(s.volumes, dp.Candle.Volume)

	// Keep twice the larger window: enough history for the slow MA plus the
	// previous sample needed for crossover detection.
	keep := 2 * s.maxPeriod()
	if len(s.prices) > keep {
		s.prices = s.prices[len(s.prices)-keep:]
		s.volumes = s.volumes[len(s.volumes)-keep:]
	}
	return nil
}

// GenerateSignal compares (fastMA − slowMA) between the last two computed
// samples and emits on a sign change, debounced by lastCross.
func (s *MACrossover) GenerateSignal(ctx context.Context) (*model.Signal, error) {
	if s.state == nil || !s.state.Active {
		return nil, nil
	}
	// Two computed MA samples need maxPeriod+1 raw samples.
	if len(s.prices) < s.maxPeriod()+1 {
		return nil, nil
	}
	if s.volumes[len(s.volumes)-1] < s.minVolume {
		return nil, nil
	}

	prevDiff := s.sma(s.fastPeriod, 1) - s.sma(s.slowPeriod, 1)
	currDiff := s.sma(s.fastPeriod, 0) - s.sma(s.slowPeriod, 0)

	var side model.Side
	switch {
	case prevDiff <= 0 && currDiff > 0 && s.lastCross != "up":
		side = model.SideBuy
		s.lastCross = "up"
	case prevDiff >= 0 && currDiff < 0 && s.lastCross != "down":
		side = model.SideSell
		s.lastCross = "down"
	default:
		return nil, nil
	}

	price := s.prices[len(s.prices)-1]
	sig := &model.Signal{
		StrategyID: s.id,
		Symbol:     s.symbol,
		Side:       side,
		Size:       s.positionSize(price),
		Price:      price,
		Type:       model.SignalEntry,
		Confidence: 0.8,
		Timestamp:  time.Now().UTC(),
		Metadata: map[string]string{
			"fast_ma":     strconv.FormatFloat(s.sma(s.fastPeriod, 0), 'f', -1, 64),
			"slow_ma":     strconv.FormatFloat(s.sma(s.slowPeriod, 0), 'f', -1, 64),
			"risk_factor": strconv.FormatFloat(s.riskFactor, 'f', -1, 64),
		},
	}

	s.state.LastSignal = &model.LastSignal{Side: side, Price: price, Timestamp: sig.Timestamp}
	if err := saveState(ctx, s.store, s.state); err != nil {
		return nil, err
	}

	s.log.Info("crossover signal", "strategy_id", s.id, "side", string(side), "price", price)
	return sig, nil
}

// ValidateSignal rejects signals when history is too short, the latest
// volume is below the gate, or the last price move runs against the signal
// direction.
func (s *MACrossover) ValidateSignal(sig *model.Signal) bool {
	n := len(s.prices)
	if n < s.maxPeriod() {
		return false
	}
	if s.volumes[n-1] < s.minVolume {
		return false
	}
	change := (s.prices[n-1] - s.prices[n-2]) / s.prices[n-2]
	if sig.Side == model.SideBuy && change < 0 {
		return false
	}
	if sig.Side == model.SideSell && change > 0 {
		return false
	}
	return true
}

// Cleanup marks the persisted state inactive and drops the sample buffers.
func (s *MACrossover) Cleanup(ctx context.Context) error {
	s.prices = nil
	s.volumes = nil
	if s.state == nil {
		return nil
	}
	s.state.Active = false
	return saveState(ctx, s.store, s.state)
}

func (s *MACrossover) maxPeriod() int {
	if s.fastPeriod > s.slowPeriod {
		return s.fastPeriod
	}
	return s.slowPeriod
}

// sma returns the simple moving average of the last period prices, shifted
// back by offset samples (0 = latest).
func (s *MACrossover) sma(period, offset int) float64 {
	end := len(s.prices) - offset
	sum := 0.0
	for _, p := range s.prices[end-period : end] {
		sum += p
	}
	return sum / float64(period)
}

// positionSize derives size from a fixed risk budget against the assumed
// stop distance.
func (s *MACrossover) positionSize(price float64) float64 {
	return (s.accountSize * s.riskFactor) / (price * s.stopFraction)
}
