package optimization

import (
	"context"
	"errors"
	"testing"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/analytics"
	"zetatrade/internal/strategy/backtesting"
	"zetatrade/internal/strategy/exit"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

// MockStrategy buys on the first candle and never sells.
type MockStrategy struct{}

func (MockStrategy) Name() string            { return "MockStrategy" }
func (MockStrategy) RequiredDataPoints() int { return 1 }
func (MockStrategy) Evaluate(_ context.Context, klines []*domain.Kline) (ports.Signals, error) {
	sig := ports.Signals{Buy: make([]bool, len(klines)), Sell: make([]bool, len(klines))}
	if len(klines) > 0 {
		sig.Buy[0] = true
	}
	return sig, nil
}

// dipThenRally opens at 100, dips to 92 and gaps up to 110.
func dipThenRally() map[string][]*domain.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := [][4]float64{
		{100, 100, 100, 100},
		{100, 100, 100, 100},
		{100, 100, 92, 95},
		{95, 96, 95, 96},
		{110, 110, 110, 110},
	}
	klines := make([]*domain.Kline, len(prices))
	for i, p := range prices {
		klines[i] = &domain.Kline{
			Pair: "ETH/BTC", OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: p[0], High: p[1], Low: p[2], Close: p[3], Volume: 1,
		}
	}
	return map[string][]*domain.Kline{"ETH/BTC": klines}
}

func baseConfig() backtesting.Config {
	return backtesting.Config{
		Exit:            exit.Config{StopLoss: -0.10},
		Stake:           risk.StakeConfig{StakeAmount: 100, MaxOpenTrades: 1},
		Interval:        5 * time.Minute,
		StartingBalance: 1000,
	}
}

func TestOptimizer(t *testing.T) {
	config := OptimizerConfig{
		Base: baseConfig(),
		ParameterRanges: []ParameterRange{
			{Name: ParamStopLoss, Min: -0.09, Max: -0.05, Step: 0.02},
			{Name: ParamTrailingStopPositive, Min: 0.01, Max: 0.02, Step: 0.01},
		},
		Workers: 3,
	}

	optimizer, err := NewOptimizer(config, nopLogger{})
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}

	results, err := optimizer.Optimize(context.Background(), MockStrategy{}, dipThenRally())
	if err != nil {
		t.Fatalf("Optimization failed: %v", err)
	}

	expectedCombinations := 6 // 3 stoploss values * 2 trailing values
	if len(results) != expectedCombinations {
		t.Fatalf("Expected %d parameter combinations, got %d", expectedCombinations, len(results))
	}

	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("Results are not sorted by score in descending order")
		}
	}

	// Only the -0.09 stop survives the dip to 92.
	best := results[0]
	if best.Parameters[ParamStopLoss] != -0.09 {
		t.Errorf("Expected best stoploss -0.09, got %v", best.Parameters[ParamStopLoss])
	}
	if best.Metrics.TotalProfit <= 0 {
		t.Errorf("Expected a profitable best run, got %f", best.Metrics.TotalProfit)
	}
}

func TestOptimizerDeterministic(t *testing.T) {
	config := OptimizerConfig{
		Base: baseConfig(),
		ParameterRanges: []ParameterRange{
			{Name: ParamStopLoss, Min: -0.10, Max: -0.02, Step: 0.01},
		},
		Workers: 4,
	}
	optimizer, err := NewOptimizer(config, nopLogger{})
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}

	first, err := optimizer.Optimize(context.Background(), MockStrategy{}, dipThenRally())
	if err != nil {
		t.Fatalf("Optimization failed: %v", err)
	}
	second, err := optimizer.Optimize(context.Background(), MockStrategy{}, dipThenRally())
	if err != nil {
		t.Fatalf("Optimization failed: %v", err)
	}
	for i := range first {
		if first[i].Parameters[ParamStopLoss] != second[i].Parameters[ParamStopLoss] || first[i].Score != second[i].Score {
			t.Fatalf("Run %d differs between optimizations", i)
		}
	}
}

func TestOptimizerRejectsUnknownParameter(t *testing.T) {
	_, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: "leverage", Min: 1, Max: 2, Step: 1}},
	}, nopLogger{})
	if err == nil {
		t.Fatal("Expected an error for an unknown parameter")
	}
}

func TestOptimizerPropagatesSimulationError(t *testing.T) {
	cfg := baseConfig()
	cfg.Stake.Unlimited = true
	optimizer, err := NewOptimizer(OptimizerConfig{
		Base:            cfg,
		ParameterRanges: []ParameterRange{{Name: ParamStopLoss, Min: -0.1, Max: -0.1}},
	}, nopLogger{})
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}
	if _, err := optimizer.Optimize(context.Background(), MockStrategy{}, dipThenRally()); err == nil {
		t.Fatal("Expected unlimited stake to fail the optimization")
	}
}

func TestGenerateParameterCombinations(t *testing.T) {
	optimizer, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{
			{Name: ParamStopLoss, Min: -0.2, Max: -0.1, Step: 0.1},
			{Name: ParamTrailingStopPositiveOffset, Min: 0.1, Max: 0.3, Step: 0.1},
		},
	}, nopLogger{})
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}
	combinations := optimizer.generateParameterCombinations()

	expectedCombinations := 6
	if len(combinations) != expectedCombinations {
		t.Fatalf("Expected %d parameter combinations, got %d", expectedCombinations, len(combinations))
	}

	expectedValues := map[string][]float64{
		ParamStopLoss:                   {-0.2, -0.1},
		ParamTrailingStopPositiveOffset: {0.1, 0.2, 0.3},
	}
	for _, combination := range combinations {
		for paramName, values := range expectedValues {
			value, exists := combination[paramName]
			if !exists {
				t.Errorf("Parameter %s not found in combination", paramName)
			}
			found := false
			for _, expectedValue := range values {
				if value == expectedValue {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Unexpected value %v for parameter %s", value, paramName)
			}
		}
	}
}

func TestDefaultScoreFunction(t *testing.T) {
	metrics := &analytics.PerformanceMetrics{
		WinRate:            0.6,
		ProfitFactor:       2.0,
		MaxDrawdown:        0.2,
		ReturnOnInvestment: 0.5,
		RiskRewardRatio:    2.0,
	}

	score := DefaultScoreFunction(metrics)

	expectedScore := 0.6*0.3 + 2.0*0.2 + 0.8*0.2 + 0.5*0.2 + 2.0*0.1
	if score != expectedScore {
		t.Errorf("Expected score %f, got %f", expectedScore, score)
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange(ParamStopLoss, "-0.15:-0.05:0.05")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	want := ParameterRange{Name: ParamStopLoss, Min: -0.15, Max: -0.05, Step: 0.05}
	if r != want {
		t.Errorf("Expected %+v, got %+v", want, r)
	}
	if got := rangeValues(r); len(got) != 3 || got[2] != -0.05 {
		t.Errorf("Expected three values ending at -0.05, got %v", got)
	}

	r, err = ParseRange(ParamTrailingStopPositive, "0.01")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if r.Min != 0.01 || r.Max != 0.01 || r.Step != 0 {
		t.Errorf("Expected a single value range, got %+v", r)
	}

	for _, bad := range []string{"", "1:2", "a:1:0.1", "0:1:x"} {
		if _, err := ParseRange(ParamStopLoss, bad); !errors.Is(err, ports.ErrConfigurationError) {
			t.Errorf("Expected configuration error for %q, got %v", bad, err)
		}
	}
}
