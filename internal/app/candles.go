package app

import (
	"context"
	"fmt"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// maxCandleRequest is the largest window fetched in a single call.
const maxCandleRequest = 1000

// rangeFetcher is implemented by sources that page through long histories.
type rangeFetcher interface {
	FetchKlinesRange(ctx context.Context, pair, interval string, start, end time.Time) ([]*domain.Kline, error)
}

// MarketCandles serves closed candles from a MarketData adapter. It feeds the
// edge sizer and the per-tick signal evaluation.
type MarketCandles struct {
	data     ports.MarketData
	interval string
	step     time.Duration
	clock    func() time.Time
	logger   ports.Logger
}

// NewMarketCandles creates a candle source for interval. clock may be nil.
func NewMarketCandles(data ports.MarketData, interval string, clock func() time.Time) (*MarketCandles, error) {
	step, err := domain.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &MarketCandles{data: data, interval: interval, step: step, clock: clock}, nil
}

// WithLogger reports truncated histories to logger.
func (m *MarketCandles) WithLogger(logger ports.Logger) *MarketCandles {
	m.logger = logger
	return m
}

// Klines returns the closed candles opened at or after since. Windows longer
// than one request are paged when the source supports it; otherwise only the
// most recent candles are returned and the truncation is logged.
func (m *MarketCandles) Klines(ctx context.Context, pair string, since time.Time) ([]*domain.Kline, error) {
	now := m.clock()
	limit := int(now.Sub(since)/m.step) + 1
	if limit < maxCandleRequest {
		return m.Last(ctx, pair, limit, since)
	}
	if rf, ok := m.data.(rangeFetcher); ok {
		klines, err := rf.FetchKlinesRange(ctx, pair, m.interval, since, now)
		if err != nil {
			return nil, fmt.Errorf("fetch %s candles for %s since %s: %w", m.interval, pair, since.Format(time.RFC3339), err)
		}
		return m.closed(klines, since, now), nil
	}

	klines, err := m.Last(ctx, pair, limit, since)
	if err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Warn(ctx, "Candle history truncated to one request", map[string]interface{}{
			"pair": pair, "interval": m.interval, "requested": limit, "served": len(klines),
			"since": since.Format(time.RFC3339),
		})
	}
	return klines, nil
}

// Last returns up to limit closed candles, oldest first, none opened before
// notBefore. limit is capped so that one request covers it.
func (m *MarketCandles) Last(ctx context.Context, pair string, limit int, notBefore time.Time) ([]*domain.Kline, error) {
	limit = min(max(limit, 1), maxCandleRequest-1)
	// One extra for the candle still forming.
	klines, err := m.data.FetchKlines(ctx, pair, m.interval, limit+1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles for %s: %w", m.interval, pair, err)
	}
	out := m.closed(klines, notBefore, m.clock())
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MarketCandles) closed(klines []*domain.Kline, notBefore, now time.Time) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if k.OpenTime.Before(notBefore) || k.OpenTime.Add(m.step).After(now) {
			continue
		}
		out = append(out, k)
	}
	return out
}
