package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/strategy/analytics"
	"zetatrade/internal/strategy/backtesting"
)

// Parameters the optimizer knows how to apply to a backtest configuration.
const (
	ParamStopLoss                   = "stoploss"
	ParamTrailingStopPositive       = "trailing_stop_positive"
	ParamTrailingStopPositiveOffset = "trailing_stop_positive_offset"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	Base            backtesting.Config
	ParameterRanges []ParameterRange
	Workers         int // parallel simulations; defaults to GOMAXPROCS
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
}

// Optimizer runs one independent simulation per parameter combination.
// Each simulation is single threaded; only separate runs proceed in parallel.
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) (*Optimizer, error) {
	for _, r := range config.ParameterRanges {
		switch r.Name {
		case ParamStopLoss, ParamTrailingStopPositive, ParamTrailingStopPositiveOffset:
		default:
			return nil, fmt.Errorf("%w: unknown optimization parameter %q", ports.ErrConfigurationError, r.Name)
		}
		if r.Max < r.Min || r.Step < 0 || (r.Step == 0 && r.Max != r.Min) {
			return nil, fmt.Errorf("%w: invalid range for %q", ports.ErrConfigurationError, r.Name)
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config, logger: logger}, nil
}

// Optimize backtests every combination and returns the results, best score first.
// The first failing simulation cancels the rest.
func (o *Optimizer) Optimize(ctx context.Context, strategy ports.Strategy, data map[string][]*domain.Kline) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	results := make([]OptimizationResult, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)
	for i, params := range combinations {
		i, params := i, params
		g.Go(func() error {
			sim, err := backtesting.New(o.apply(params), strategy, o.logger)
			if err != nil {
				return fmt.Errorf("combination %v: %w", params, err)
			}
			res, err := sim.Run(gctx, data)
			if err != nil {
				return fmt.Errorf("combination %v: %w", params, err)
			}
			results[i] = OptimizationResult{
				Parameters: params,
				Metrics:    res.Metrics,
				Score:      o.config.ScoreFunction(res.Metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	o.logger.Info(ctx, "Optimization finished", map[string]interface{}{
		"op":           "Optimizer.Optimize",
		"combinations": len(results),
	})
	return results, nil
}

// apply overlays one parameter combination on the base backtest configuration.
func (o *Optimizer) apply(params map[string]float64) backtesting.Config {
	cfg := o.config.Base
	if v, ok := params[ParamStopLoss]; ok {
		cfg.Exit.StopLoss = v
	}
	if v, ok := params[ParamTrailingStopPositive]; ok {
		cfg.Exit.TrailingStop = true
		cfg.Exit.TrailingStopPositive = v
	}
	if v, ok := params[ParamTrailingStopPositiveOffset]; ok {
		cfg.Exit.TrailingStop = true
		cfg.Exit.TrailingStopPositiveOffset = v
	}
	return cfg
}

// generateParameterCombinations generates all possible parameter combinations
// in a fixed order, stepping with decimal arithmetic so bounds are hit exactly.
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		for _, value := range rangeValues(param) {
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

func rangeValues(p ParameterRange) []float64 {
	lo := decimal.NewFromFloat(p.Min)
	hi := decimal.NewFromFloat(p.Max)
	step := decimal.NewFromFloat(p.Step)
	if step.IsZero() {
		return []float64{p.Min}
	}
	var out []float64
	for v := lo; v.LessThanOrEqual(hi); v = v.Add(step) {
		f := v.InexactFloat64()
		if p.IsInt {
			f = math.Round(f)
		}
		out = append(out, f)
	}
	return out
}

// sortResultsByScore sorts optimization results by score in descending order.
// Equal scores keep generation order.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction provides a default scoring function for optimization
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0

	score += metrics.WinRate * 0.3
	score += metrics.ProfitFactor * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.2
	score += metrics.RiskRewardRatio * 0.1

	return score
}

// ParseRange reads a "min:max:step" range, or a single value, for the named parameter.
func ParseRange(name, spec string) (ParameterRange, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 1 && len(parts) != 3 {
		return ParameterRange{}, fmt.Errorf("%w: range %q for %s must be min:max:step", ports.ErrConfigurationError, spec, name)
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ParameterRange{}, fmt.Errorf("%w: range %q for %s: %v", ports.ErrConfigurationError, spec, name, err)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return ParameterRange{Name: name, Min: values[0], Max: values[0]}, nil
	}
	return ParameterRange{Name: name, Min: values[0], Max: values[1], Step: values[2]}, nil
}
