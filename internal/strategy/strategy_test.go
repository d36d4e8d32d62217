package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		logger  ports.Logger
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				ShortTermMAPeriod: 20,
				LongTermMAPeriod:  50,
				EMAPeriod:         20,
				RSIPeriod:         14,
				RSIOverbought:     70.0,
				RSIOversold:       30.0,
			},
			logger:  &mockLogger{},
			wantErr: false,
		},
		{
			name: "nil logger",
			cfg: Config{
				ShortTermMAPeriod: 20,
				LongTermMAPeriod:  50,
				EMAPeriod:         20,
				RSIPeriod:         14,
				RSIOverbought:     70.0,
				RSIOversold:       30.0,
			},
			logger:  nil,
			wantErr: true,
		},
		{
			name: "invalid periods",
			cfg: Config{
				ShortTermMAPeriod: 0,
				LongTermMAPeriod:  50,
				EMAPeriod:         20,
				RSIPeriod:         14,
				RSIOverbought:     70.0,
				RSIOversold:       30.0,
			},
			logger:  &mockLogger{},
			wantErr: true,
		},
		{
			name: "invalid MA periods",
			cfg: Config{
				ShortTermMAPeriod: 50,
				LongTermMAPeriod:  20,
				EMAPeriod:         20,
				RSIPeriod:         14,
				RSIOverbought:     70.0,
				RSIOversold:       30.0,
			},
			logger:  &mockLogger{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, s)
				assert.Equal(t, tt.cfg, s.cfg)
			}
		})
	}
}

func TestRequiredDataPoints(t *testing.T) {
	s, err := New(Config{
		ShortTermMAPeriod: 20,
		LongTermMAPeriod:  50,
		EMAPeriod:         30,
		RSIPeriod:         14,
		RSIOverbought:     70.0,
		RSIOversold:       30.0,
	}, &mockLogger{})
	require.NoError(t, err)

	// Should return the max period + 1
	assert.Equal(t, 51, s.RequiredDataPoints())
}

func testConfig() Config {
	return Config{
		ShortTermMAPeriod: 3,
		LongTermMAPeriod:  6,
		EMAPeriod:         3,
		RSIPeriod:         4,
		RSIOverbought:     70.0,
		RSIOversold:       30.0,
	}
}

// trendKlines rises for 30 candles then falls for 30, zig-zagging by 1.5.
func trendKlines() []*domain.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, 60)
	for i := range klines {
		base := 100 + 0.5*float64(i)
		if i >= 30 {
			base = 115 - float64(i-30)
		}
		c := base - 1.5
		if i%2 == 0 {
			c = base + 1.5
		}
		klines[i] = &domain.Kline{
			Pair: "ETH/BTC", OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
		}
	}
	return klines
}

func TestEvaluate_Signals(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)
	klines := trendKlines()

	sig, err := s.Evaluate(context.Background(), klines)
	require.NoError(t, err)
	require.Len(t, sig.Buy, len(klines))
	require.Len(t, sig.Sell, len(klines))

	assert.True(t, sig.Buy[20], "uptrend high should be a buy")
	for i := 0; i < testConfig().LongTermMAPeriod-1; i++ {
		assert.False(t, sig.Buy[i], "no signal during warm-up at %d", i)
	}

	sold := false
	for i := 30; i < len(klines); i++ {
		sold = sold || sig.Sell[i]
	}
	assert.True(t, sold, "bearish crossover should produce a sell")
	for i := 40; i < len(klines); i++ {
		assert.False(t, sig.Buy[i], "no buy in downtrend at %d", i)
	}
}

func TestEvaluate_SignalsArePrefixStable(t *testing.T) {
	s, err := New(testConfig(), &mockLogger{})
	require.NoError(t, err)
	klines := trendKlines()

	full, err := s.Evaluate(context.Background(), klines)
	require.NoError(t, err)
	for i := s.RequiredDataPoints(); i < len(klines); i++ {
		prefix, err := s.Evaluate(context.Background(), klines[:i+1])
		require.NoError(t, err)
		buy, sell := prefix.At(i)
		assert.Equal(t, full.Buy[i], buy, "buy at %d", i)
		assert.Equal(t, full.Sell[i], sell, "sell at %d", i)
	}
}

// waveKlines is a drifting two-tone wave long enough for crossovers both ways.
func waveKlines(n int) []*domain.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, n)
	for i := range klines {
		x := float64(i)
		c := 100 + 10*math.Sin(x/15) + 3*math.Sin(x/4.3) + 0.02*x
		klines[i] = &domain.Kline{
			Pair: "ETH/BTC", OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
		}
	}
	return klines
}

// The live loop evaluates only the last few hundred candles. With the
// default periods the EMA and RSI seeds have decayed by then, so the last
// signal of each window matches the signal over the whole history.
func TestEvaluate_StartupWindowMatchesFullHistory(t *testing.T) {
	s, err := New(Config{
		ShortTermMAPeriod: 20,
		LongTermMAPeriod:  50,
		EMAPeriod:         20,
		RSIPeriod:         14,
		RSIOverbought:     70,
		RSIOversold:       30,
	}, &mockLogger{})
	require.NoError(t, err)
	klines := waveKlines(600)
	window := 5 * s.RequiredDataPoints()

	full, err := s.Evaluate(context.Background(), klines)
	require.NoError(t, err)
	assert.Contains(t, full.Buy[window:], true)
	assert.Contains(t, full.Sell[window:], true)

	for i := window - 1; i < len(klines); i++ {
		sig, err := s.Evaluate(context.Background(), klines[i-window+1:i+1])
		require.NoError(t, err)
		buy, sell := sig.At(len(sig.Buy) - 1)
		assert.Equal(t, full.Buy[i], buy, "buy at %d", i)
		assert.Equal(t, full.Sell[i], sell, "sell at %d", i)
	}
}

func TestEvaluate_VolatilityFilter(t *testing.T) {
	cfg := testConfig()
	cfg.ATRPeriod = 3
	cfg.MaxVolatility = 0.001
	s, err := New(cfg, &mockLogger{})
	require.NoError(t, err)

	sig, err := s.Evaluate(context.Background(), trendKlines())
	require.NoError(t, err)
	for i, b := range sig.Buy {
		assert.False(t, b, "zig-zag is too volatile for a buy at %d", i)
	}
}

func TestEvaluate_NotEnoughData(t *testing.T) {
	logger := &mockLogger{}
	s, err := New(testConfig(), logger)
	require.NoError(t, err)

	sig, err := s.Evaluate(context.Background(), trendKlines()[:3])
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, sig.Buy)
	assert.NotEmpty(t, logger.debugMsgs)
}

var _ ports.Strategy = (*Strategy)(nil)
