package indicators

import (
	"context"
	"fmt"

	"zetatrade/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average of the last kline
func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	series, err := m.Series(klines)
	if err != nil {
		return 0, err
	}
	return last(m.Name(), series, m.Config.Period, len(klines))
}

// Series computes the moving average for every kline based on the configured type
func (m *MovingAverage) Series(klines []*domain.Kline) ([]float64, error) {
	if m.Config.Period <= 0 {
		return nil, fmt.Errorf("invalid %s period %d", m.config.Type, m.Config.Period)
	}
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.sma(klines), nil
	case ExponentialMovingAverage:
		return m.ema(klines), nil
	default:
		return nil, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

func (m *MovingAverage) sma(klines []*domain.Kline) []float64 {
	period := m.Config.Period
	out := nanSeries(len(klines))
	total := 0.0
	for i, k := range klines {
		total += k.Close
		if i >= period {
			total -= klines[i-period].Close
		}
		if i >= period-1 {
			out[i] = total / float64(period)
		}
	}
	return out
}

// ema is seeded with the SMA of the first period klines.
func (m *MovingAverage) ema(klines []*domain.Kline) []float64 {
	period := m.Config.Period
	out := nanSeries(len(klines))
	if len(klines) < period {
		return out
	}
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for _, k := range klines[:period] {
		seed += k.Close
	}
	ema := seed / float64(period)
	out[period-1] = ema
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}
