package strategy

import (
	"context"
	"fmt"
	"math"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/strategy/indicators"
)

// Config holds parameters for the trading strategy.
type Config struct {
	ShortTermMAPeriod int     // e.g., 20
	LongTermMAPeriod  int     // e.g., 50
	EMAPeriod         int     // e.g., 20
	RSIPeriod         int     // e.g., 14
	RSIOverbought     float64 // e.g., 70.0
	RSIOversold       float64 // e.g., 30.0
	ATRPeriod         int     // 0 disables the volatility filter
	MaxVolatility     float64 // max ATR/close ratio accepted for entries
}

// Strategy is a trend-following signal producer: it buys when price trades
// above both moving averages in an uptrend without being overbought, and
// sells on a bearish MA crossover or an overbought RSI.
type Strategy struct {
	cfg    Config
	logger ports.Logger

	shortMA *indicators.MovingAverage
	longMA  *indicators.MovingAverage
	ema     *indicators.MovingAverage
	rsi     *indicators.RSI
	atr     *indicators.ATR
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period")
	}
	if cfg.ATRPeriod < 0 || cfg.MaxVolatility < 0 {
		return nil, fmt.Errorf("volatility filter settings must not be negative")
	}
	s := &Strategy{
		cfg:    cfg,
		logger: logger,
		shortMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		longMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		ema: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMAPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
	}
	if cfg.ATRPeriod > 0 {
		s.atr = indicators.NewATR(indicators.ATRConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod},
		})
	}
	return s, nil
}

// Name identifies the strategy.
func (s *Strategy) Name() string { return "ma_rsi_trend" }

// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
// It's the max of all indicator periods + 1 (for RSI lookback).
func (s *Strategy) RequiredDataPoints() int {
	maxPeriod := s.cfg.LongTermMAPeriod
	for _, p := range []int{s.cfg.EMAPeriod, s.cfg.RSIPeriod, s.cfg.ATRPeriod} {
		if p > maxPeriod {
			maxPeriod = p
		}
	}
	return maxPeriod + 1
}

// Evaluate computes buy and sell signals for every kline.
func (s *Strategy) Evaluate(ctx context.Context, klines []*domain.Kline) (ports.Signals, error) {
	n := len(klines)
	sig := ports.Signals{Buy: make([]bool, n), Sell: make([]bool, n)}
	if n < s.RequiredDataPoints() {
		s.logger.Debug(ctx, "Not enough kline data for strategy evaluation",
			map[string]interface{}{"available": n, "required": s.RequiredDataPoints()})
		return sig, nil
	}

	shortMA, err := s.shortMA.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("short term MA: %w", err)
	}
	longMA, err := s.longMA.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("long term MA: %w", err)
	}
	ema, err := s.ema.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("EMA: %w", err)
	}
	rsi, err := s.rsi.Series(klines)
	if err != nil {
		return sig, fmt.Errorf("RSI: %w", err)
	}
	var atr []float64
	if s.atr != nil {
		if atr, err = s.atr.Series(klines); err != nil {
			return sig, fmt.Errorf("ATR: %w", err)
		}
	}

	for i := 1; i < n; i++ {
		if anyNaN(shortMA[i], longMA[i], ema[i], rsi[i], shortMA[i-1], longMA[i-1]) {
			continue
		}
		price := klines[i].Close

		isTrendingUp := price > shortMA[i] && price > longMA[i] && shortMA[i] > longMA[i]
		isNotOverbought := !s.rsi.IsOverbought(rsi[i])
		isAboveEMA := price > ema[i]
		calmEnough := true
		if atr != nil && s.cfg.MaxVolatility > 0 {
			calmEnough = !math.IsNaN(atr[i]) && atr[i]/price <= s.cfg.MaxVolatility
		}
		sig.Buy[i] = isTrendingUp && isNotOverbought && isAboveEMA && calmEnough

		crossedDown := shortMA[i] < longMA[i] && shortMA[i-1] >= longMA[i-1]
		sig.Sell[i] = crossedDown || s.rsi.IsOverbought(rsi[i])
	}
	return sig, nil
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
