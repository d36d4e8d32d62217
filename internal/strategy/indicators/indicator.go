package indicators

import (
	"context"
	"fmt"
	"math"

	"zetatrade/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from price data
type Indicator interface {
	// Calculate computes the indicator value for the last kline
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// Series computes the indicator for every kline. Entries without enough
	// history are NaN. Entry i depends only on klines[:i+1].
	Series(klines []*domain.Kline) ([]float64, error)

	// RequiredDataPoints returns the minimum number of klines needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// last returns the final value of a series, failing when it is still warming up.
func last(name string, series []float64, need, have int) (float64, error) {
	if have < need || len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return 0, fmt.Errorf("not enough data (%d) to calculate %s, need %d", have, name, need)
	}
	return series[len(series)-1], nil
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
