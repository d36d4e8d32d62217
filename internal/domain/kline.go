package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval is returned when an interval string cannot be parsed.
var ErrInvalidInterval = errors.New("invalid kline interval")

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Candle timestamp, start of the interval
	CloseTime time.Time // End time of the interval
	Pair      string    // Trading pair (e.g., "ETH/BTC")
	Interval  string    // Kline interval (e.g., "5m", "1h")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // Whether this kline is the final one for the interval
}

// Validate checks that prices are positive and the high/low envelope holds.
func (k *Kline) Validate() error {
	switch {
	case k.Open <= 0 || k.High <= 0 || k.Low <= 0 || k.Close <= 0:
		return fmt.Errorf("%s at %s: non-positive price", k.Pair, k.OpenTime.Format(time.RFC3339))
	case k.Low > k.Open || k.Low > k.Close:
		return fmt.Errorf("%s at %s: low %.8f above open/close", k.Pair, k.OpenTime.Format(time.RFC3339), k.Low)
	case k.High < k.Open || k.High < k.Close:
		return fmt.Errorf("%s at %s: high %.8f below open/close", k.Pair, k.OpenTime.Format(time.RFC3339), k.High)
	case k.Volume < 0:
		return fmt.Errorf("%s at %s: negative volume", k.Pair, k.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// TickerKline builds a degenerate candle from a single rate. The live loop
// uses it to feed the exit engine with current market data.
func TickerKline(pair string, rate float64, at time.Time) *Kline {
	return &Kline{
		OpenTime: at, CloseTime: at, Pair: pair,
		Open: rate, High: rate, Low: rate, Close: rate,
		IsFinal: true,
	}
}

// IntervalDuration converts an interval such as "5m", "1h", "1d" or "1w".
func IntervalDuration(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	var unit time.Duration
	switch interval[len(interval)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	return time.Duration(n) * unit, nil
}
