package indicators

import (
	"context"
	"fmt"
	"math"

	"zetatrade/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator
type ATR struct {
	config ATRConfig
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{
		config: config,
	}
}

// Name returns the name of the indicator
func (a *ATR) Name() string { return "ATR" }

// RequiredDataPoints returns period+1: the seed plus one smoothing step.
func (a *ATR) RequiredDataPoints() int { return a.config.Period + 1 }

// Calculate computes the Average True Range value for the last kline
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	series, err := a.Series(klines)
	if err != nil {
		return 0, err
	}
	return last(a.Name(), series, a.RequiredDataPoints(), len(klines))
}

// Series computes the ATR using Wilder's smoothing.
func (a *ATR) Series(klines []*domain.Kline) ([]float64, error) {
	period := a.config.Period
	if period <= 0 {
		return nil, fmt.Errorf("invalid ATR period %d", period)
	}
	out := nanSeries(len(klines))
	if len(klines) < period+1 {
		return out, nil
	}

	// True Range is the greatest of high-low, |high-prevClose| and |low-prevClose|.
	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		prevClose := klines[i-1].Close
		trueRanges[i] = math.Max(klines[i].High-klines[i].Low,
			math.Max(math.Abs(klines[i].High-prevClose), math.Abs(klines[i].Low-prevClose)))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
		out[i] = atr
	}
	return out, nil
}
