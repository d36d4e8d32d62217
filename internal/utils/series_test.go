package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

func candles(pair string, n int) []*domain.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := range out {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = &domain.Kline{Pair: pair, Interval: "1h", OpenTime: open, CloseTime: open.Add(time.Hour),
			Open: 1, High: 1, Low: 1, Close: 1}
	}
	return out
}

func TestLoadKlines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteKlinesToCSV(candles("ETH/BTC", 3), KlineFileName(dir, "ETH/BTC", "1h")))
	require.NoError(t, WriteKlinesToCSV(candles("LTC/BTC", 2), KlineFileName(dir, "LTC/BTC", "1h")))

	data, err := LoadKlines(dir, []string{"ETH/BTC", " LTC/BTC"}, "1h")
	require.NoError(t, err)
	assert.Len(t, data["ETH/BTC"], 3)
	assert.Len(t, data["LTC/BTC"], 2)

	_, err = LoadKlines(dir, []string{"XRP/BTC"}, "1h")
	assert.Error(t, err)

	require.NoError(t, WriteKlinesToCSV(candles("ETH/BTC", 1), KlineFileName(dir, "NEO/BTC", "1h")))
	_, err = LoadKlines(dir, []string{"NEO/BTC"}, "1h")
	assert.ErrorIs(t, err, ports.ErrMalformedCandle)
}

func TestMemoryCandles(t *testing.T) {
	m := MemoryCandles{"ETH/BTC": candles("ETH/BTC", 5), "LTC/BTC": candles("LTC/BTC", 2)}

	got, err := m.Klines(context.Background(), "ETH/BTC", time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].OpenTime.Hour())

	_, err = m.Klines(context.Background(), "XRP/BTC", time.Time{})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	assert.Equal(t, time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), m.End())
	assert.True(t, MemoryCandles{}.End().IsZero())
}
