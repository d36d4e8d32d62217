package backtesting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/lifecycle"
	"zetatrade/internal/ports"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/analytics"
	"zetatrade/internal/strategy/exit"
)

// ErrUnlimitedStake is returned when an unlimited stake is configured for a backtest.
var ErrUnlimitedStake = errors.New("unlimited stake is not supported in backtesting")

// Config holds configuration for backtesting
type Config struct {
	Exit             exit.Config
	Stake            risk.StakeConfig
	PositionStacking bool
	Fee              float64
	Interval         time.Duration // candle size, used to lock a pair until the next candle after a sell
	StartingBalance  float64
	Whitelist        []string // entry and exit order at equal timestamps; defaults to sorted data keys
}

func (c Config) validate() error {
	var errs []error
	if c.Stake.Unlimited {
		errs = append(errs, ErrUnlimitedStake)
	} else if c.Stake.StakeAmount <= 0 {
		errs = append(errs, fmt.Errorf("stake amount must be positive"))
	}
	if c.StartingBalance <= 0 {
		errs = append(errs, fmt.Errorf("starting balance must be positive"))
	}
	if c.Exit.StopLoss >= 0 {
		errs = append(errs, fmt.Errorf("stoploss must be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	return nil
}

// Result holds the results of a backtest
type Result struct {
	Trades            []*domain.Trade // closed trades in close order
	Metrics           *analytics.PerformanceMetrics
	StartTime         time.Time
	EndTime           time.Time
	MaxOpenTradesSeen int
	RejectedEntries   int // buy signals that found no slot or stake
}

// Simulator replays candles in one global timeline through the exit engine
// and the trade state machine, as the live bot would have traded them.
type Simulator struct {
	cfg      Config
	strategy ports.Strategy
	fill     FillModel
	stake    *risk.StakeResolver
	logger   ports.Logger
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithFillModel replaces the default next-open fill model.
func WithFillModel(f FillModel) Option {
	return func(s *Simulator) { s.fill = f }
}

// WithEdge sizes stakes and stoplosses from a calculated edge.
func WithEdge(e *risk.Edge) Option {
	return func(s *Simulator) { s.stake = risk.NewStakeResolver(s.cfg.Stake, e) }
}

// New creates a simulator.
func New(cfg Config, strategy ports.Strategy, logger ports.Logger, opts ...Option) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strategy == nil || logger == nil {
		return nil, fmt.Errorf("%w: simulator requires a strategy and a logger", ports.ErrConfigurationError)
	}
	s := &Simulator{
		cfg:      cfg,
		strategy: strategy,
		fill:     NextOpen{},
		stake:    risk.NewStakeResolver(cfg.Stake, nil),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// series is one pair's candles with its signals and a cursor into the timeline.
type series struct {
	pair    string
	klines  []*domain.Kline
	signals ports.Signals
	cursor  int
}

// at returns the index of the candle opening at ts. Calls must use increasing ts.
func (s *series) at(ts time.Time) (int, bool) {
	for s.cursor < len(s.klines) && s.klines[s.cursor].OpenTime.Before(ts) {
		s.cursor++
	}
	if s.cursor < len(s.klines) && s.klines[s.cursor].OpenTime.Equal(ts) {
		return s.cursor, true
	}
	return 0, false
}

// run is the mutable state of a single Run.
type run struct {
	sim     *Simulator
	engine  *exit.Engine
	book    *lifecycle.Book
	free    float64
	nextID  int64
	orderNo int
	closed  []*domain.Trade
	result  *Result
}

// Run replays data and returns the closed trades with their statistics.
// Identical inputs always produce identical trades.
func (s *Simulator) Run(ctx context.Context, data map[string][]*domain.Kline) (*Result, error) {
	const op = "Simulator.Run"

	all, err := s.prepare(ctx, data)
	if err != nil {
		return nil, err
	}
	timeline := mergeTimestamps(all)
	if len(timeline) == 0 {
		return &Result{Metrics: analytics.AnalyzePerformance(nil, s.cfg.StartingBalance)}, nil
	}

	r := &run{
		sim:    s,
		engine: exit.NewForStrategy(s.cfg.Exit, s.strategy),
		book:   lifecycle.NewBook(s.cfg.Stake.MaxOpenTrades, s.cfg.PositionStacking),
		free:   s.cfg.StartingBalance,
		result: &Result{StartTime: timeline[0], EndTime: timeline[len(timeline)-1]},
	}

	for _, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ser := range all {
			i, ok := ser.at(ts)
			if !ok {
				continue
			}
			if err := r.exits(ser, i); err != nil {
				return nil, err
			}
		}
		for _, ser := range all {
			i, ok := ser.at(ts)
			if !ok || i == 0 {
				continue
			}
			if err := r.entry(ser, i); err != nil {
				return nil, err
			}
		}
		r.result.MaxOpenTradesSeen = max(r.result.MaxOpenTradesSeen, r.book.Count())
	}

	if err := r.forceSellRemaining(all); err != nil {
		return nil, err
	}

	r.result.Trades = r.closed
	r.result.Metrics = analytics.AnalyzePerformance(r.closed, s.cfg.StartingBalance)
	s.logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"op":           op,
		"strategy":     s.strategy.Name(),
		"pairs":        len(all),
		"trades":       len(r.closed),
		"total_profit": r.result.Metrics.TotalProfit,
	})
	return r.result, nil
}

// prepare validates every series and computes its signals once.
func (s *Simulator) prepare(ctx context.Context, data map[string][]*domain.Kline) ([]*series, error) {
	pairs := s.cfg.Whitelist
	if len(pairs) == 0 {
		pairs = make([]string, 0, len(data))
		for p := range data {
			pairs = append(pairs, p)
		}
		sort.Strings(pairs)
	}

	out := make([]*series, 0, len(pairs))
	for _, pair := range pairs {
		klines := data[pair]
		if len(klines) == 0 {
			continue
		}
		if err := ValidateSeries(pair, klines); err != nil {
			return nil, err
		}
		sig, err := s.strategy.Evaluate(ctx, klines)
		if err != nil {
			return nil, fmt.Errorf("signals for %s: %w", pair, err)
		}
		out = append(out, &series{pair: pair, klines: klines, signals: sig})
	}
	return out, nil
}

// ValidateSeries checks that candles are well formed and strictly increasing in time.
func ValidateSeries(pair string, klines []*domain.Kline) error {
	for i, k := range klines {
		if k == nil {
			return fmt.Errorf("%w: %s candle %d is missing", ports.ErrMalformedCandle, pair, i)
		}
		if err := k.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrMalformedCandle, err)
		}
		if i > 0 && !k.OpenTime.After(klines[i-1].OpenTime) {
			return fmt.Errorf("%w: %s candle %d at %s follows %s", ports.ErrOutOfOrderData,
				pair, i, k.OpenTime.Format(time.RFC3339), klines[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}

func mergeTimestamps(all []*series) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, ser := range all {
		for _, k := range ser.klines {
			key := k.OpenTime.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, k.OpenTime)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// exits evaluates every open trade of the pair against candle i with the previous candle's signals.
func (r *run) exits(ser *series, i int) error {
	for _, t := range r.book.InState(domain.StateOpen) {
		if t.Pair != ser.pair {
			continue
		}
		if err := r.evaluate(t, ser, i); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) evaluate(t *domain.Trade, ser *series, i int) error {
	c := ser.klines[i]
	buy, sell := ser.signals.At(i - 1)
	// The signal came from the previous candle; the open is the first price after it.
	d, err := r.engine.Evaluate(t, exit.Input{Candle: c, Buy: buy, Sell: sell, SignalRate: c.Open})
	if err != nil {
		return fmt.Errorf("evaluate trade %d: %w", t.ID, err)
	}
	exit.Apply(t, d)
	if !d.Exit {
		return nil
	}
	return r.close(t, r.sim.fill.Price(domain.Sell, d.Rate), d.Reason, c.OpenTime)
}

// entry opens a trade at candle i's open when candle i-1 signalled a buy.
// The rest of the entry candle is then checked for an exit.
func (r *run) entry(ser *series, i int) error {
	buy, _ := ser.signals.At(i - 1)
	if !buy {
		return nil
	}
	c := ser.klines[i]
	if !r.book.CanOpen(ser.pair, c.OpenTime) {
		r.result.RejectedEntries++
		return nil
	}

	stake, err := r.sim.stake.Stake(ser.pair, risk.Balances{
		Free:       r.free,
		Total:      r.free + r.inTrades(),
		InTrades:   r.inTrades(),
		OpenTrades: r.book.Count(),
	})
	if err != nil {
		if errors.Is(err, risk.ErrNoStakeAvailable) || errors.Is(err, risk.ErrPairNotTradable) {
			r.result.RejectedEntries++
			return nil
		}
		return err
	}

	rate := r.sim.fill.Price(domain.Buy, c.Open)
	amount := risk.Amount(stake, rate)
	if amount <= 0 {
		r.result.RejectedEntries++
		return nil
	}

	order := r.order(ser.pair, domain.Buy, rate, amount, c.OpenTime)
	t, err := lifecycle.Open(lifecycle.Params{
		Pair:          ser.pair,
		Strategy:      r.sim.strategy.Name(),
		StakeAmount:   stake,
		FeeOpen:       r.sim.cfg.Fee,
		FeeClose:      r.sim.cfg.Fee,
		StopLossRatio: r.sim.stake.StopLoss(ser.pair, r.sim.cfg.Exit.StopLoss),
	}, order, c.OpenTime)
	if err != nil {
		return err
	}
	r.nextID++
	t.ID = r.nextID
	for _, o := range t.Orders {
		o.TradeID = t.ID
	}
	if _, err := lifecycle.Apply(t, lifecycle.Event{
		Kind: lifecycle.EventFilled, OrderID: order.ID, Filled: amount, Price: rate, Time: c.OpenTime,
	}); err != nil {
		return err
	}

	r.free -= t.StakeAmount
	r.book.Add(t)
	return r.evaluate(t, ser, i)
}

// close fills a sell for the whole trade at rate.
func (r *run) close(t *domain.Trade, rate float64, reason domain.SellReason, at time.Time) error {
	order := r.order(t.Pair, domain.Sell, rate, t.Amount, at)
	if err := lifecycle.RequestClose(t, order, reason); err != nil {
		return err
	}
	if _, err := lifecycle.Apply(t, lifecycle.Event{
		Kind: lifecycle.EventFilled, OrderID: order.ID, Filled: t.Amount, Price: rate, Time: at,
	}); err != nil {
		return err
	}
	r.free += t.StakeAmount + t.CloseProfitAbs
	r.book.Remove(t)
	r.book.Lock(t.Pair, lifecycle.NextCandle(at, r.sim.cfg.Interval))
	r.closed = append(r.closed, t)
	return nil
}

// forceSellRemaining closes trades still open at each pair's last close.
func (r *run) forceSellRemaining(all []*series) error {
	last := make(map[string]*domain.Kline, len(all))
	for _, ser := range all {
		last[ser.pair] = ser.klines[len(ser.klines)-1]
	}
	for _, t := range r.book.InState(domain.StateOpen) {
		k := last[t.Pair]
		d := exit.Forced(t, domain.SellReasonForceSell, k.Close)
		if err := r.close(t, d.Rate, d.Reason, k.OpenTime); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) inTrades() float64 {
	var sum float64
	for _, t := range r.book.Trades() {
		sum += t.StakeAmount
	}
	return sum
}

func (r *run) order(pair string, side domain.OrderSide, price, amount float64, at time.Time) *domain.Order {
	r.orderNo++
	return &domain.Order{
		ID:        fmt.Sprintf("backtest-%d", r.orderNo),
		Pair:      pair,
		Side:      side,
		Type:      domain.Limit,
		Status:    domain.OrderPending,
		Price:     price,
		Amount:    amount,
		CreatedAt: at,
		UpdatedAt: at,
	}
}
