package backtesting

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy"
	"zetatrade/internal/strategy/exit"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

// MockStrategy emits scripted signals per pair, keyed by candle index.
type MockStrategy struct {
	buys  map[string][]int
	sells map[string][]int
}

func (m *MockStrategy) Name() string            { return "mock_strategy" }
func (m *MockStrategy) RequiredDataPoints() int { return 1 }

func (m *MockStrategy) Evaluate(_ context.Context, klines []*domain.Kline) (ports.Signals, error) {
	sig := ports.Signals{Buy: make([]bool, len(klines)), Sell: make([]bool, len(klines))}
	if len(klines) == 0 {
		return sig, nil
	}
	pair := klines[0].Pair
	for _, i := range m.buys[pair] {
		if i < len(klines) {
			sig.Buy[i] = true
		}
	}
	for _, i := range m.sells[pair] {
		if i < len(klines) {
			sig.Sell[i] = true
		}
	}
	return sig, nil
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candles(pair string, n int) []*domain.Kline {
	out := make([]*domain.Kline, n)
	for i := range out {
		out[i] = &domain.Kline{
			Pair: pair, OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: 100, High: 100, Low: 100, Close: 100, Volume: 1,
		}
	}
	return out
}

func set(k *domain.Kline, open, high, low, close float64) {
	k.Open, k.High, k.Low, k.Close = open, high, low, close
}

func testConfig() Config {
	return Config{
		Exit:            exit.Config{StopLoss: -0.10, UseSellSignal: true},
		Stake:           risk.StakeConfig{StakeAmount: 10, MaxOpenTrades: 3},
		Interval:        5 * time.Minute,
		StartingBalance: 1000,
	}
}

func runSim(t *testing.T, cfg Config, s ports.Strategy, data map[string][]*domain.Kline, opts ...Option) *Result {
	t.Helper()
	sim, err := New(cfg, s, nopLogger{}, opts...)
	require.NoError(t, err)
	res, err := sim.Run(context.Background(), data)
	require.NoError(t, err)
	return res
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"unlimited stake", func(c *Config) { c.Stake.Unlimited = true }, ErrUnlimitedStake},
		{"zero stake", func(c *Config) { c.Stake.StakeAmount = 0 }, ports.ErrConfigurationError},
		{"positive stoploss", func(c *Config) { c.Exit.StopLoss = 0.1 }, ports.ErrConfigurationError},
		{"no balance", func(c *Config) { c.StartingBalance = 0 }, ports.ErrConfigurationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, &MockStrategy{}, nopLogger{})
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestRun_SellSignalFillsAtNextOpen(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[3], 104, 105, 102, 103)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}, sells: map[string][]int{"ETH/BTC": {2}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.StateClosed, tr.State)
	assert.Equal(t, domain.SellReasonSellSignal, tr.SellReason)
	assert.Equal(t, data[1].OpenTime, tr.OpenTime)
	assert.Equal(t, data[3].OpenTime, tr.CloseTime)
	assert.Equal(t, 100.0, tr.OpenRate)
	assert.Equal(t, 104.0, tr.CloseRate)
	assert.InDelta(t, 0.1, tr.Amount, 1e-12)
	assert.InDelta(t, 0.4, tr.CloseProfitAbs, 1e-9)
	assert.Equal(t, int64(1), tr.ID)
}

func TestRun_SellProfitOnlyJudgedAtFillPrice(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[3], 95, 106, 94, 105)
	set(data[4], 103, 104, 102, 103)
	cfg := testConfig()
	cfg.Exit.SellProfitOnly = true
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}, sells: map[string][]int{"ETH/BTC": {2, 3}}}

	res := runSim(t, cfg, s, map[string][]*domain.Kline{"ETH/BTC": data})

	// Candle 3 closes in profit but would fill at its losing open.
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.SellReasonSellSignal, tr.SellReason)
	assert.Equal(t, data[4].OpenTime, tr.CloseTime)
	assert.Equal(t, 103.0, tr.CloseRate)
	assert.Greater(t, tr.CloseProfit, 0.0)
}

func TestRun_StopLossBeatsSellSignal(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[3], 100, 101, 89, 95)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}, sells: map[string][]int{"ETH/BTC": {2}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SellReasonStopLoss, res.Trades[0].SellReason)
	assert.InDelta(t, 90.0, res.Trades[0].CloseRate, 1e-9)
	assert.InDelta(t, -0.10, res.Trades[0].CloseProfit, 1e-9)
}

func TestRun_StopLossOnEntryCandle(t *testing.T) {
	data := candles("ETH/BTC", 4)
	set(data[1], 100, 100, 85, 88)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SellReasonStopLoss, res.Trades[0].SellReason)
	assert.Equal(t, data[1].OpenTime, res.Trades[0].CloseTime)
}

func TestRun_ROI(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[2], 100, 107, 100, 106)
	cfg := testConfig()
	cfg.Exit.MinimalROI = domain.NewROITable(map[int]float64{0: 0.05})
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}}

	res := runSim(t, cfg, s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SellReasonROI, res.Trades[0].SellReason)
	assert.Equal(t, 106.0, res.Trades[0].CloseRate)
}

func TestRun_ForceSellsAtEndOfData(t *testing.T) {
	data := candles("ETH/BTC", 5)
	set(data[4], 100, 102, 99, 101)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SellReasonForceSell, res.Trades[0].SellReason)
	assert.Equal(t, 101.0, res.Trades[0].CloseRate)
	assert.Equal(t, data[4].OpenTime, res.Trades[0].CloseTime)
	assert.Equal(t, 1, res.Metrics.ByReason[domain.SellReasonForceSell].Trades)
}

func TestRun_PairLockedUntilNextCandle(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[3], 100, 100, 89, 95)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0, 2, 3}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data})

	require.Len(t, res.Trades, 2)
	assert.Equal(t, data[3].OpenTime, res.Trades[0].CloseTime)
	assert.Equal(t, data[4].OpenTime, res.Trades[1].OpenTime, "re-entry waits for the next candle")
	assert.Equal(t, 1, res.RejectedEntries)
}

func TestRun_RespectsMaxOpenTrades(t *testing.T) {
	all := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": all, "XRP/BTC": all}}
	data := map[string][]*domain.Kline{"ETH/BTC": candles("ETH/BTC", 10), "XRP/BTC": candles("XRP/BTC", 10)}

	cfg := testConfig()
	cfg.Stake.MaxOpenTrades = 1
	cfg.Whitelist = []string{"XRP/BTC", "ETH/BTC"}
	res := runSim(t, cfg, s, data)

	assert.Equal(t, 1, res.MaxOpenTradesSeen)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "XRP/BTC", res.Trades[0].Pair, "whitelist order breaks ties")

	cfg.Stake.MaxOpenTrades = 2
	res = runSim(t, cfg, s, data)
	assert.Equal(t, 2, res.MaxOpenTradesSeen)
	assert.Len(t, res.Trades, 2)
}

func TestRun_StakeLimitedByBalance(t *testing.T) {
	all := []int{0, 1, 2}
	s := &MockStrategy{buys: map[string][]int{"A/BTC": all, "B/BTC": all}}
	data := map[string][]*domain.Kline{"A/BTC": candles("A/BTC", 4), "B/BTC": candles("B/BTC", 4)}

	cfg := testConfig()
	cfg.StartingBalance = 15
	res := runSim(t, cfg, s, data)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "A/BTC", res.Trades[0].Pair)
	assert.Positive(t, res.RejectedEntries)
}

func TestRun_OrderBookDepthFill(t *testing.T) {
	data := candles("ETH/BTC", 6)
	set(data[3], 104, 105, 102, 103)
	s := &MockStrategy{buys: map[string][]int{"ETH/BTC": {0}}, sells: map[string][]int{"ETH/BTC": {2}}}

	res := runSim(t, testConfig(), s, map[string][]*domain.Kline{"ETH/BTC": data},
		WithFillModel(OrderBookDepth{BasisPoints: 10}))

	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 100.1, res.Trades[0].OpenRate, 1e-9)
	assert.InDelta(t, 104*0.999, res.Trades[0].CloseRate, 1e-9)
}

func TestRun_InvalidData(t *testing.T) {
	s := &MockStrategy{}

	unordered := candles("ETH/BTC", 4)
	unordered[2].OpenTime = unordered[1].OpenTime
	sim, err := New(testConfig(), s, nopLogger{})
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), map[string][]*domain.Kline{"ETH/BTC": unordered})
	assert.ErrorIs(t, err, ports.ErrOutOfOrderData)
	assert.Equal(t, ports.ClassData, ports.Classify(err))

	malformed := candles("ETH/BTC", 4)
	malformed[2].High = 50
	_, err = sim.Run(context.Background(), map[string][]*domain.Kline{"ETH/BTC": malformed})
	assert.ErrorIs(t, err, ports.ErrMalformedCandle)
}

func TestRun_CancelledContext(t *testing.T) {
	sim, err := New(testConfig(), &MockStrategy{}, nopLogger{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sim.Run(ctx, map[string][]*domain.Kline{"ETH/BTC": candles("ETH/BTC", 3)})
	assert.ErrorIs(t, err, context.Canceled)
}

// wave builds a series oscillating around base so a trend strategy trades several times.
func wave(pair string, n int, base, phase float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	for i := range out {
		mid := base * (1 + 0.08*math.Sin(float64(i)/6+phase))
		open := mid * (1 - 0.002)
		close := mid * (1 + 0.002)
		if i%3 == 0 {
			open, close = close, open
		}
		out[i] = &domain.Kline{
			Pair: pair, OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: open, High: math.Max(open, close) * 1.003, Low: math.Min(open, close) * 0.997,
			Close: close, Volume: 10,
		}
	}
	return out
}

func TestRun_Deterministic(t *testing.T) {
	strat, err := strategy.New(strategy.Config{
		ShortTermMAPeriod: 3,
		LongTermMAPeriod:  8,
		EMAPeriod:         5,
		RSIPeriod:         6,
		RSIOverbought:     80,
		RSIOversold:       20,
	}, nopLogger{})
	require.NoError(t, err)

	data := func() map[string][]*domain.Kline {
		return map[string][]*domain.Kline{
			"ETH/BTC": wave("ETH/BTC", 300, 0.05, 0),
			"XRP/BTC": wave("XRP/BTC", 300, 0.00002, 1.3),
			"LTC/BTC": wave("LTC/BTC", 280, 0.004, 2.1),
		}
	}
	cfg := testConfig()
	cfg.Stake.MaxOpenTrades = 2
	cfg.Exit.MinimalROI = domain.NewROITable(map[int]float64{0: 0.04, 60: 0.02})
	cfg.Exit.TrailingStop = true
	cfg.Fee = 0.001

	first := runSim(t, cfg, strat, data())
	second := runSim(t, cfg, strat, data())

	require.NotEmpty(t, first.Trades)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.Metrics.TotalProfit, second.Metrics.TotalProfit)
	assert.LessOrEqual(t, first.MaxOpenTradesSeen, 2)
	for i := 1; i < len(first.Trades); i++ {
		assert.False(t, first.Trades[i].CloseTime.Before(first.Trades[i-1].CloseTime))
	}
}
