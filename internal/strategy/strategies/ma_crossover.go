package strategies

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/strategy/indicators"
)

// MACrossoverConfig holds configuration for the MA crossover strategy.
type MACrossoverConfig struct {
	FastMAPeriod  int     // e.g., 8
	SlowMAPeriod  int     // e.g., 21
	SignalPeriod  int     // EMA the close must be above to buy, e.g. 9
	RSIPeriod     int     // 0 disables the overbought filter
	RSIOverbought float64 // e.g., 70.0
	ATRPeriod     int     // ATR period for the volatility stop, e.g. 14
	ATRMultiplier float64 // stop distance in ATRs, e.g. 2.5

	// Profit ratio from which the stop is kept at or above the open rate. 0 disables it.
	BreakEvenActivation float64
}

func (c MACrossoverConfig) validate() error {
	switch {
	case c.FastMAPeriod <= 0 || c.SlowMAPeriod <= 0 || c.SignalPeriod <= 0 || c.ATRPeriod <= 0:
		return fmt.Errorf("crossover periods must be positive")
	case c.FastMAPeriod >= c.SlowMAPeriod:
		return fmt.Errorf("fast MA period must be less than slow MA period")
	case c.RSIPeriod < 0:
		return fmt.Errorf("RSI period cannot be negative")
	case c.ATRMultiplier <= 0:
		return fmt.Errorf("ATR multiplier must be positive")
	case c.BreakEvenActivation < 0:
		return fmt.Errorf("break-even activation cannot be negative")
	}
	return nil
}

// atrMark is the ATR computed on the candle opening at At.
type atrMark struct {
	At  time.Time
	ATR float64
}

// MACrossover buys when the fast MA crosses above the slow MA with the close
// above the signal EMA, and sells on the opposite cross. It also moves the stop
// to ATRMultiplier average true ranges below the current rate.
type MACrossover struct {
	cfg    MACrossoverConfig
	logger ports.Logger

	fastMA *indicators.MovingAverage
	slowMA *indicators.MovingAverage
	signal *indicators.MovingAverage
	rsi    *indicators.RSI
	atr    *indicators.ATR

	mu  sync.RWMutex
	atrs map[string][]atrMark // per pair, ascending by time
}

// NewMACrossover creates a new MA crossover strategy instance.
func NewMACrossover(cfg MACrossoverConfig, logger ports.Logger) (*MACrossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &MACrossover{
		cfg:    cfg,
		logger: logger,
		fastMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.FastMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		slowMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.SlowMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		signal: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.SignalPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		atr: indicators.NewATR(indicators.ATRConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod},
		}),
		atrs: make(map[string][]atrMark),
	}
	if cfg.RSIPeriod > 0 {
		m.rsi = indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
		})
	}
	return m, nil
}

// Name identifies the strategy.
func (m *MACrossover) Name() string { return NameCrossover }

// RequiredDataPoints returns the longest indicator period plus the previous candle for the cross.
func (m *MACrossover) RequiredDataPoints() int {
	maxPeriod := m.cfg.SlowMAPeriod
	for _, p := range []int{m.cfg.SignalPeriod, m.cfg.RSIPeriod, m.cfg.ATRPeriod} {
		if p > maxPeriod {
			maxPeriod = p
		}
	}
	return maxPeriod + 1
}

// Evaluate computes crossover signals and records the ATR of every candle
// for later stoploss updates on the same pair.
func (m *MACrossover) Evaluate(ctx context.Context, klines []*domain.Kline) (ports.Signals, error) {
	n := len(klines)
	sig := ports.Signals{Buy: make([]bool, n), Sell: make([]bool, n)}
	if n < m.RequiredDataPoints() {
		m.logger.Debug(ctx, "Not enough kline data for strategy evaluation",
			map[string]interface{}{"available": n, "required": m.RequiredDataPoints(), "strategy": m.Name()})
		return sig, nil
	}

	fast, err := m.fastMA.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("fast MA: %w", err)
	}
	slow, err := m.slowMA.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("slow MA: %w", err)
	}
	signal, err := m.signal.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("signal EMA: %w", err)
	}
	atr, err := m.atr.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("ATR: %w", err)
	}
	var rsi []float64
	if m.rsi != nil {
		if rsi, err = m.rsi.Series(klines); err != nil {
			return sig, fmt.Errorf("RSI: %w", err)
		}
	}

	for i := 1; i < n; i++ {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) || math.IsNaN(fast[i-1]) || math.IsNaN(slow[i-1]) {
			continue
		}
		crossedUp := fast[i] > slow[i] && fast[i-1] <= slow[i-1]
		crossedDown := fast[i] < slow[i] && fast[i-1] >= slow[i-1]

		confirmed := !math.IsNaN(signal[i]) && klines[i].Close > signal[i]
		if rsi != nil {
			confirmed = confirmed && !math.IsNaN(rsi[i]) && !m.rsi.IsOverbought(rsi[i])
		}
		sig.Buy[i] = crossedUp && confirmed
		sig.Sell[i] = crossedDown
	}

	m.record(klines, atr)
	return sig, nil
}

func (m *MACrossover) record(klines []*domain.Kline, atr []float64) {
	marks := make([]atrMark, 0, len(klines))
	for i, k := range klines {
		if !math.IsNaN(atr[i]) {
			marks = append(marks, atrMark{At: k.OpenTime, ATR: atr[i]})
		}
	}
	if len(marks) == 0 {
		return
	}
	m.mu.Lock()
	m.atrs[klines[0].Pair] = marks
	m.mu.Unlock()
}

// atrBefore returns the ATR of the last candle that opened strictly before at,
// so the candle being evaluated never sizes its own stop.
func (m *MACrossover) atrBefore(pair string, at time.Time) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	marks := m.atrs[pair]
	i := sort.Search(len(marks), func(i int) bool { return !marks[i].At.Before(at) })
	if i == 0 {
		return 0, false
	}
	return marks[i-1].ATR, true
}

// CustomStopLoss places the stop ATRMultiplier ATRs below currentRate. Once the
// trade's profit reaches BreakEvenActivation the stop is not placed below the open rate.
func (m *MACrossover) CustomStopLoss(trade *domain.Trade, currentRate float64, now time.Time) (float64, bool) {
	if currentRate <= 0 {
		return 0, false
	}
	atr, ok := m.atrBefore(trade.Pair, now)
	if !ok {
		return 0, false
	}
	ratio := -m.cfg.ATRMultiplier * atr / currentRate
	if m.cfg.BreakEvenActivation > 0 && trade.ProfitRatio(currentRate) >= m.cfg.BreakEvenActivation {
		if breakEven := trade.OpenRate/currentRate - 1; breakEven > ratio && breakEven < 0 {
			ratio = breakEven
		}
	}
	if ratio <= -1 || ratio >= 0 {
		return 0, false
	}
	return ratio, true
}
