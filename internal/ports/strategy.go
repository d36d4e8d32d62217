package ports

import (
	"context"
	"time"

	"zetatrade/internal/domain"
)

// Signals holds buy/sell flags aligned index-by-index with the evaluated klines.
type Signals struct {
	Buy  []bool
	Sell []bool
}

// At returns the signals for index i, false when out of range.
func (s Signals) At(i int) (buy, sell bool) {
	if i >= 0 && i < len(s.Buy) {
		buy = s.Buy[i]
	}
	if i >= 0 && i < len(s.Sell) {
		sell = s.Sell[i]
	}
	return buy, sell
}

// Strategy produces buy and sell signals from a candle window.
// The signal at index i must depend only on klines[:i+1].
type Strategy interface {
	// Name identifies the strategy in persisted trades and reports.
	Name() string
	// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
	RequiredDataPoints() int
	// Evaluate computes signals for every kline.
	Evaluate(ctx context.Context, klines []*domain.Kline) (Signals, error)
}

// CustomStoplosser is optionally implemented by strategies that move the stop themselves.
// The returned ratio is relative to currentRate and negative (e.g. -0.05).
type CustomStoplosser interface {
	CustomStopLoss(trade *domain.Trade, currentRate float64, now time.Time) (ratio float64, ok bool)
}
