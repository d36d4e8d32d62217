package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/strategy"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// vKlines falls from 130 to 110, rises to 130 and falls again, one point per
// candle. Every candle spans close±1, so the true range is always 2.
func vKlines() []*domain.Kline {
	klines := make([]*domain.Kline, 60)
	for i := range klines {
		c := 130 - float64(i)
		switch {
		case i > 40:
			c = 130 - float64(i-40)
		case i > 20:
			c = 110 + float64(i-20)
		}
		klines[i] = &domain.Kline{
			Pair: "ETH/BTC", OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c,
		}
	}
	return klines
}

func crossoverConfig() MACrossoverConfig {
	return MACrossoverConfig{
		FastMAPeriod:  3,
		SlowMAPeriod:  6,
		SignalPeriod:  3,
		ATRPeriod:     3,
		ATRMultiplier: 5,
	}
}

func TestNewMACrossover_Validation(t *testing.T) {
	_, err := NewMACrossover(crossoverConfig(), nil)
	assert.Error(t, err)

	for name, mutate := range map[string]func(*MACrossoverConfig){
		"fast not below slow": func(c *MACrossoverConfig) { c.FastMAPeriod = 6 },
		"zero ATR period":     func(c *MACrossoverConfig) { c.ATRPeriod = 0 },
		"zero multiplier":     func(c *MACrossoverConfig) { c.ATRMultiplier = 0 },
		"negative break-even": func(c *MACrossoverConfig) { c.BreakEvenActivation = -0.1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := crossoverConfig()
			mutate(&cfg)
			_, err := NewMACrossover(cfg, nopLogger{})
			assert.Error(t, err)
		})
	}
}

func TestMACrossover_Signals(t *testing.T) {
	m, err := NewMACrossover(crossoverConfig(), nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 7, m.RequiredDataPoints())

	sig, err := m.Evaluate(context.Background(), vKlines())
	require.NoError(t, err)

	var buys, sells []int
	for i := range sig.Buy {
		if sig.Buy[i] {
			buys = append(buys, i)
		}
		if sig.Sell[i] {
			sells = append(sells, i)
		}
	}
	assert.Equal(t, []int{23}, buys)
	assert.Equal(t, []int{43}, sells)
}

func TestMACrossover_RSIFilterBlocksOverboughtEntry(t *testing.T) {
	cfg := crossoverConfig()
	cfg.RSIPeriod = 2
	cfg.RSIOverbought = 70
	m, err := NewMACrossover(cfg, nopLogger{})
	require.NoError(t, err)

	// Three straight rising closes before the cross leave RSI(2) at 100.
	sig, err := m.Evaluate(context.Background(), vKlines())
	require.NoError(t, err)
	assert.False(t, sig.Buy[23])
	assert.True(t, sig.Sell[43])
}

func TestMACrossover_NotEnoughData(t *testing.T) {
	m, err := NewMACrossover(crossoverConfig(), nopLogger{})
	require.NoError(t, err)
	sig, err := m.Evaluate(context.Background(), vKlines()[:5])
	require.NoError(t, err)
	assert.Len(t, sig.Buy, 5)

	_, ok := m.CustomStopLoss(&domain.Trade{Pair: "ETH/BTC", OpenRate: 113, Amount: 1}, 115, start.Add(time.Hour))
	assert.False(t, ok, "no ATR recorded yet")
}

func TestMACrossover_CustomStopLoss(t *testing.T) {
	cfg := crossoverConfig()
	cfg.BreakEvenActivation = 0.05
	m, err := NewMACrossover(cfg, nopLogger{})
	require.NoError(t, err)
	_, err = m.Evaluate(context.Background(), vKlines())
	require.NoError(t, err)

	var _ ports.CustomStoplosser = m
	trade := &domain.Trade{Pair: "ETH/BTC", OpenRate: 113, Amount: 1}
	at := start.Add(30 * 5 * time.Minute)

	ratio, ok := m.CustomStopLoss(trade, 115, at)
	require.True(t, ok)
	assert.InDelta(t, -10.0/115, ratio, 1e-12, "5 ATRs of 2 below the rate")

	ratio, ok = m.CustomStopLoss(trade, 120, at)
	require.True(t, ok)
	assert.InDelta(t, 113.0/120-1, ratio, 1e-12, "raised to break even past the activation profit")

	_, ok = m.CustomStopLoss(trade, 115, start)
	assert.False(t, ok, "first candle has no earlier ATR")
	_, ok = m.CustomStopLoss(&domain.Trade{Pair: "LTC/BTC", OpenRate: 1, Amount: 1}, 1, at)
	assert.False(t, ok, "unknown pair")
}

func TestNew(t *testing.T) {
	trend := strategy.Config{
		ShortTermMAPeriod: 20, LongTermMAPeriod: 50, EMAPeriod: 20,
		RSIPeriod: 14, RSIOverbought: 70, RSIOversold: 30,
	}

	s, err := New(Config{Trend: trend}, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, NameTrend, s.Name())

	s, err = New(Config{Name: NameCrossover, Crossover: crossoverConfig()}, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, NameCrossover, s.Name())
	_, custom := s.(ports.CustomStoplosser)
	assert.True(t, custom)

	_, err = New(Config{Name: "martingale"}, nopLogger{})
	assert.Error(t, err)

	s, err = New(Config{Name: NameCrossover}, nopLogger{})
	assert.Error(t, err)
	assert.Nil(t, s)
}
