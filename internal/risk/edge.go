package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
	"zetatrade/internal/strategy/exit"
)

// ErrPairNotTradable is returned when edge has no passing statistics for a pair.
var ErrPairNotTradable = errors.New("pair rejected by edge")

// EdgeConfig holds the edge position sizing settings.
type EdgeConfig struct {
	Enabled                    bool
	ProcessThrottle            time.Duration
	CalculateSinceDays         int
	CapitalAvailablePercentage float64
	AllowedRisk                float64
	StoplossRangeMin           float64
	StoplossRangeMax           float64
	StoplossRangeStep          float64
	MinimumWinrate             float64
	MinimumExpectancy          float64
	MinTradeNumber             int
	MaxTradeDurationMinute     int
	Fee                        float64
}

// Validate checks the settings that would make the sizer misbehave.
func (c EdgeConfig) Validate() error {
	var errs []error
	if c.StoplossRangeMin >= 0 || c.StoplossRangeMax >= 0 {
		errs = append(errs, fmt.Errorf("edge stoploss range must be negative"))
	}
	if c.StoplossRangeStep == 0 && c.StoplossRangeMin != c.StoplossRangeMax {
		errs = append(errs, fmt.Errorf("edge stoploss step must not be zero"))
	}
	if c.AllowedRisk <= 0 || c.AllowedRisk > 1 {
		errs = append(errs, fmt.Errorf("edge allowed risk must be in (0, 1]"))
	}
	if c.CapitalAvailablePercentage <= 0 || c.CapitalAvailablePercentage > 1 {
		errs = append(errs, fmt.Errorf("edge capital available percentage must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// PairInfo is the selected edge statistics of one pair.
type PairInfo struct {
	Pair               string
	StopLoss           float64
	WinRate            float64
	RiskRewardRatio    float64
	RequiredRiskReward float64
	Expectancy         float64
	NbTrades           int
	AvgTradeDuration   time.Duration
}

// CandleSource supplies history for the edge window.
type CandleSource interface {
	Klines(ctx context.Context, pair string, since time.Time) ([]*domain.Kline, error)
}

// Edge computes a stoploss and stake per pair from simulated historical trades.
// Results are cached until the throttle elapses or Invalidate is called.
type Edge struct {
	cfg      EdgeConfig
	strategy ports.Strategy
	source   CandleSource
	logger   ports.Logger
	clock    func() time.Time

	mu          sync.Mutex
	cache       map[string]PairInfo
	lastUpdated time.Time
}

// NewEdge creates an edge sizer. clock may be nil to use time.Now.
func NewEdge(cfg EdgeConfig, strategy ports.Strategy, source CandleSource, logger ports.Logger, clock func() time.Time) (*Edge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil || source == nil || logger == nil {
		return nil, fmt.Errorf("edge requires a strategy, a candle source and a logger")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Edge{
		cfg:      cfg,
		strategy: strategy,
		source:   source,
		logger:   logger,
		clock:    clock,
		cache:    make(map[string]PairInfo),
	}, nil
}

// Invalidate drops cached results so the next Calculate recomputes.
func (e *Edge) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]PairInfo)
	e.lastUpdated = time.Time{}
}

// Calculate recomputes statistics for pairs unless the throttle window is still open.
// It reports whether a recomputation happened.
func (e *Edge) Calculate(ctx context.Context, pairs []string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if !e.lastUpdated.IsZero() && now.Sub(e.lastUpdated) < e.cfg.ProcessThrottle {
		return false, nil
	}

	since := now.Add(-time.Duration(e.cfg.CalculateSinceDays) * 24 * time.Hour)
	candidates := StoplossCandidates(e.cfg.StoplossRangeMin, e.cfg.StoplossRangeMax, e.cfg.StoplossRangeStep)
	cache := make(map[string]PairInfo, len(pairs))

	for _, pair := range pairs {
		klines, err := e.source.Klines(ctx, pair, since)
		if err != nil {
			return false, fmt.Errorf("edge history for %s: %w", pair, err)
		}
		if len(klines) == 0 {
			e.logger.Warn(ctx, "No history for edge", map[string]interface{}{"pair": pair})
			continue
		}
		signals, err := e.strategy.Evaluate(ctx, klines)
		if err != nil {
			return false, fmt.Errorf("edge signals for %s: %w", pair, err)
		}

		best, ok := e.selectStoploss(pair, klines, signals, candidates)
		if !ok {
			e.logger.Info(ctx, "Pair rejected by edge", map[string]interface{}{"pair": pair})
			continue
		}
		cache[pair] = best
	}

	e.cache = cache
	e.lastUpdated = now
	e.logger.Info(ctx, "Edge recalculated", map[string]interface{}{
		"pairs": len(pairs), "accepted": len(cache),
	})
	return true, nil
}

func (e *Edge) selectStoploss(pair string, klines []*domain.Kline, signals ports.Signals, candidates []float64) (PairInfo, bool) {
	var best PairInfo
	found := false
	for _, sl := range candidates {
		info := e.stats(pair, sl, SimulateEntries(klines, signals, sl, e.cfg.Fee))
		if info.NbTrades < e.cfg.MinTradeNumber ||
			info.WinRate <= e.cfg.MinimumWinrate ||
			info.Expectancy <= e.cfg.MinimumExpectancy {
			continue
		}
		if !found || info.Expectancy > best.Expectancy ||
			(info.Expectancy == best.Expectancy && info.StopLoss > best.StopLoss) {
			best, found = info, true
		}
	}
	return best, found
}

// stats computes win rate and risk-normalized expectancy for one candidate.
func (e *Edge) stats(pair string, stoploss float64, outcomes []Outcome) PairInfo {
	info := PairInfo{Pair: pair, StopLoss: stoploss}
	var wins, losses int
	var winSum, lossSum float64
	var duration time.Duration
	maxDuration := time.Duration(e.cfg.MaxTradeDurationMinute) * time.Minute

	for _, o := range outcomes {
		if maxDuration > 0 && o.Duration > maxDuration {
			continue
		}
		info.NbTrades++
		duration += o.Duration
		if o.Profit > 0 {
			wins++
			winSum += o.Profit
		} else {
			losses++
			lossSum += -o.Profit
		}
	}
	if info.NbTrades == 0 {
		return info
	}

	info.WinRate = float64(wins) / float64(info.NbTrades)
	info.AvgTradeDuration = duration / time.Duration(info.NbTrades)

	avgWin := 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	// Without losses the risk taken per trade is the stop distance.
	avgLoss := math.Abs(stoploss)
	if losses > 0 && lossSum > 0 {
		avgLoss = lossSum / float64(losses)
	}

	info.RiskRewardRatio = avgWin / avgLoss
	info.RequiredRiskReward = math.Inf(1)
	if info.WinRate > 0 {
		info.RequiredRiskReward = 1/info.WinRate - 1
	}
	info.Expectancy = info.RiskRewardRatio*info.WinRate - (1 - info.WinRate)
	return info
}

// StopLoss returns the selected stoploss for pair.
func (e *Edge) StopLoss(pair string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.cache[pair]
	return info.StopLoss, ok
}

// Info returns the cached statistics for pair.
func (e *Edge) Info(pair string) (PairInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.cache[pair]
	return info, ok
}

// All returns every accepted pair sorted by expectancy, best first.
func (e *Edge) All() []PairInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PairInfo, 0, len(e.cache))
	for _, info := range e.cache {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expectancy != out[j].Expectancy {
			return out[i].Expectancy > out[j].Expectancy
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

// AdjustWhitelist keeps the accepted pairs, best expectancy first; ties keep whitelist order.
func (e *Edge) AdjustWhitelist(pairs []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := e.cache[p]; ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return e.cache[out[i]].Expectancy > e.cache[out[j]].Expectancy
	})
	return out
}

// StakeAmount sizes a position so that hitting the pair's stoploss loses at
// most the allowed risk of the available capital.
func (e *Edge) StakeAmount(pair string, freeCapital, totalCapital, capitalInTrade float64) (float64, error) {
	stoploss, ok := e.StopLoss(pair)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPairNotTradable, pair)
	}
	available := (totalCapital + capitalInTrade) * e.cfg.CapitalAvailablePercentage
	atRisk := available * e.cfg.AllowedRisk
	maxPosition := math.Abs(atRisk / stoploss)
	return math.Min(maxPosition, freeCapital), nil
}

// StoplossCandidates lists the sweep values within [min, max] inclusive, tightest last.
func StoplossCandidates(rangeMin, rangeMax, step float64) []float64 {
	lo := decimal.NewFromFloat(math.Min(rangeMin, rangeMax))
	hi := decimal.NewFromFloat(math.Max(rangeMin, rangeMax))
	st := decimal.NewFromFloat(math.Abs(step))
	if st.IsZero() {
		return []float64{lo.InexactFloat64()}
	}
	var out []float64
	for v := lo; v.LessThanOrEqual(hi); v = v.Add(st) {
		out = append(out, v.InexactFloat64())
	}
	return out
}

// Outcome is the result of one simulated edge trade.
type Outcome struct {
	Profit   float64
	Duration time.Duration
}

// SimulateEntries replays buy signals over klines with the given stoploss,
// using the exit engine with sell signals and no ROI. Entries fill at the open
// after the signal; a trade still open at the end is ignored.
func SimulateEntries(klines []*domain.Kline, signals ports.Signals, stoploss, fee float64) []Outcome {
	engine := exit.New(exit.Config{StopLoss: stoploss, UseSellSignal: true}, nil)
	var out []Outcome

	for i := 1; i < len(klines); i++ {
		if buy, _ := signals.At(i - 1); !buy {
			continue
		}
		entry := klines[i]
		trade := &domain.Trade{
			Pair: entry.Pair, State: domain.StateOpen,
			OpenRate: entry.Open, Amount: 1, StakeAmount: entry.Open,
			FeeOpen: fee, FeeClose: fee, OpenTime: entry.OpenTime,
			StopLossRatio: stoploss, MaxRate: entry.Open, MinRate: entry.Open,
		}

		closed := false
		for j := i; j < len(klines); j++ {
			buy, sell := signals.At(j - 1)
			d, err := engine.Evaluate(trade, exit.Input{Candle: klines[j], Buy: buy, Sell: sell, SignalRate: klines[j].Open})
			if err != nil {
				break
			}
			exit.Apply(trade, d)
			if !d.Exit {
				continue
			}
			out = append(out, Outcome{
				Profit:   trade.ProfitRatio(d.Rate),
				Duration: klines[j].OpenTime.Sub(entry.OpenTime),
			})
			i, closed = j, true
			break
		}
		if !closed {
			break
		}
	}
	return out
}
