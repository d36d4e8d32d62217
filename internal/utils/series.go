package utils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// LoadKlines reads the candle file of every pair from dir, as named by KlineFileName.
func LoadKlines(dir string, pairs []string, interval string) (map[string][]*domain.Kline, error) {
	data := make(map[string][]*domain.Kline, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		klines, err := ReadKlinesFromCSV(KlineFileName(dir, pair, interval))
		if err != nil {
			return nil, err
		}
		for _, k := range klines {
			if k.Pair != pair {
				return nil, fmt.Errorf("%w: %s file holds candles of %s", ports.ErrMalformedCandle, pair, k.Pair)
			}
		}
		data[pair] = klines
	}
	return data, nil
}

// MemoryCandles serves stored candles as an edge history source.
type MemoryCandles map[string][]*domain.Kline

// Klines returns the candles of pair opened at or after since.
func (m MemoryCandles) Klines(_ context.Context, pair string, since time.Time) ([]*domain.Kline, error) {
	klines, ok := m[pair]
	if !ok {
		return nil, fmt.Errorf("%w: no candles for %s", ports.ErrNotFound, pair)
	}
	i := sort.Search(len(klines), func(i int) bool { return !klines[i].OpenTime.Before(since) })
	return klines[i:], nil
}

// End is the latest close time across all series, zero when empty.
func (m MemoryCandles) End() time.Time {
	var end time.Time
	for _, klines := range m {
		if n := len(klines); n > 0 && klines[n-1].CloseTime.After(end) {
			end = klines[n-1].CloseTime
		}
	}
	return end
}
