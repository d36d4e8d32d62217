// Package app runs the live execution loop: it reconciles orders, evaluates
// exits, enforces order timeouts and opens new trades, one tick at a time.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zetatrade/config"
	"zetatrade/internal/domain"
	"zetatrade/internal/lifecycle"
	"zetatrade/internal/metrics"
	"zetatrade/internal/pairlist"
	"zetatrade/internal/ports"
	"zetatrade/internal/retry"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/exit"
)

// depthOfMarketLevels is how much of the book the depth check inspects.
const depthOfMarketLevels = 100

var (
	// ErrTradeNotFound is returned by commands naming a trade the bot does not hold.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrStopped is returned by Tick once the bot has stopped.
	ErrStopped = errors.New("bot is stopped")
)

// WorkerState is the externally visible run state.
type WorkerState string

const (
	StateRunning  WorkerState = "RUNNING"
	StateDraining WorkerState = "DRAINING"
	StateStopped  WorkerState = "STOPPED"
)

// Deps are the collaborators of a Bot. Metrics, Edge, Markets, Retry and Clock
// are optional. Without Markets the static whitelist is only filtered by the
// blacklist.
type Deps struct {
	Config   *config.Config
	Logger   ports.Logger
	Exchange ports.Exchange
	Repo     ports.TradeRepository
	Strategy ports.Strategy
	Metrics  *metrics.Metrics
	Edge     *risk.Edge
	Markets  ports.MarketLister
	Retry    *retry.Policy
	Clock    func() time.Time
}

// Bot orchestrates live trading. A single mutex serializes Tick and every command.
type Bot struct {
	logger   ports.Logger
	exchange ports.Exchange
	repo     ports.TradeRepository
	strategy ports.Strategy
	metrics  *metrics.Metrics
	edge     *risk.Edge
	markets  ports.MarketLister
	retry    *retry.Policy
	now      func() time.Time

	mu       sync.Mutex
	cfg      *config.Config
	interval time.Duration
	engine   *exit.Engine
	stake    *risk.StakeResolver
	candles  *MarketCandles
	pairs    *pairlist.PairList
	book     *lifecycle.Book
	state    WorkerState
	stopBuy  bool

	wake chan struct{}
}

// NewBot validates the dependencies and builds a bot with an empty book.
// Call Restore to load open trades from the repository.
func NewBot(d Deps) (*Bot, error) {
	if d.Config == nil || d.Logger == nil || d.Exchange == nil || d.Repo == nil || d.Strategy == nil {
		return nil, fmt.Errorf("missing required dependencies for Bot")
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Retry == nil {
		d.Retry = retry.New(d.Config.RetryConfig(), d.Logger)
	}

	b := &Bot{
		logger:   d.Logger,
		exchange: d.Exchange,
		repo:     d.Repo,
		strategy: d.Strategy,
		metrics:  d.Metrics,
		edge:     d.Edge,
		markets:  d.Markets,
		retry:    d.Retry.WithObserver(d.Metrics.Retry),
		now:      d.Clock,
		book:     lifecycle.NewBook(d.Config.MaxOpenTrades, d.Config.PositionStacking),
		state:    StateRunning,
		wake:     make(chan struct{}, 1),
	}
	if err := b.applyConfig(d.Config); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bot) applyConfig(cfg *config.Config) error {
	candles, err := NewMarketCandles(b.exchange, cfg.Interval, b.now)
	if err != nil {
		return err
	}
	pairs, err := pairlist.New(cfg.PairlistConfig(), b.markets, b.logger, b.now)
	if err != nil {
		return err
	}
	b.cfg = cfg
	b.pairs = pairs
	b.interval = cfg.IntervalDuration()
	b.candles = candles.WithLogger(b.logger)
	b.engine = exit.NewForStrategy(cfg.ExitConfig(), b.strategy)
	b.stake = risk.NewStakeResolver(cfg.StakeConfig(), b.edge)
	b.book.SetLimits(cfg.MaxOpenTrades, cfg.PositionStacking)
	return nil
}

// Restore loads open trades from the repository into the book.
func (b *Bot) Restore(ctx context.Context) error {
	op := "Restore"
	b.mu.Lock()
	defer b.mu.Unlock()

	trades, err := b.repo.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, t := range trades {
		b.book.Add(t)
	}
	b.metrics.SetOpenTrades(b.book.Count())
	b.logger.Info(ctx, "Open trades restored", map[string]interface{}{"op": op, "count": len(trades)})
	return nil
}

// Run ticks every process throttle until ctx is done or the bot stops.
func (b *Bot) Run(ctx context.Context) error {
	throttle, dryRun := b.throttle()
	b.logger.Info(ctx, "Starting execution loop", map[string]interface{}{
		"throttle": throttle.String(), "dryRun": dryRun, "strategy": b.strategy.Name(),
	})
	ticker := time.NewTicker(throttle)
	defer ticker.Stop()

	for {
		if err := b.Tick(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				b.logger.Info(ctx, "Execution loop stopped")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error(ctx, err, "Tick failed")
		}
		select {
		case <-ctx.Done():
			b.logger.Info(ctx, "Context cancelled, leaving execution loop")
			return ctx.Err()
		case <-ticker.C:
		case <-b.wake:
		}
		// Reload may have changed the throttle.
		if next, _ := b.throttle(); next != throttle {
			throttle = next
			ticker.Reset(throttle)
		}
	}
}

// Wake requests a tick without waiting for the throttle, e.g. when a candle closes.
// Requests made while one is already queued are coalesced.
func (b *Bot) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bot) throttle() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.ProcessThrottle <= 0 {
		return time.Second, b.cfg.DryRun
	}
	return b.cfg.ProcessThrottle, b.cfg.DryRun
}

// Tick runs one pass of the loop: reconcile, exits, timeouts, entries.
// Individual action failures are logged and counted; only a stopped bot or a
// cancelled context produce an error.
func (b *Bot) Tick(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateStopped {
		return ErrStopped
	}
	start := time.Now()
	defer func() { b.metrics.ObserveTick(time.Since(start)) }()

	tc := &tickCache{signals: make(map[string]ports.Signals)}
	b.reconcile(ctx)
	b.processExits(ctx, tc)
	b.handleTimeouts(ctx)
	if b.state == StateRunning && !b.stopBuy {
		b.processEntries(ctx, tc)
	}
	b.metrics.SetOpenTrades(b.book.Count())

	if b.state == StateDraining && b.book.Count() == 0 {
		b.state = StateStopped
		b.logger.Info(ctx, "All trades closed, bot stopped")
	}
	return ctx.Err()
}

// tickCache holds per-tick lookups so a pair is evaluated once per tick.
type tickCache struct {
	signals   map[string]ports.Signals
	free      float64
	freeKnown bool
}

// --- Reconcile ---

func (b *Bot) reconcile(ctx context.Context) {
	for _, t := range b.book.Trades() {
		o := t.PendingOrder()
		if o == nil {
			continue
		}
		remote, err := b.fetchOrder(ctx, t.Pair, o.ID)
		if err != nil {
			b.fail(ctx, "reconcile", t, err)
			continue
		}
		ev, ok := eventFor(o, remote, b.now())
		if !ok {
			continue
		}
		b.applyEvent(ctx, t, ev)
	}
}

// eventFor maps the venue view of an order onto a machine event.
func eventFor(local, remote *domain.Order, now time.Time) (lifecycle.Event, bool) {
	ev := lifecycle.Event{OrderID: local.ID, Filled: remote.Filled, Price: remote.AvgPrice, Time: now}
	switch {
	case remote.Status == domain.OrderFilled:
		ev.Kind = lifecycle.EventFilled
	case remote.Status == domain.OrderCancelled:
		ev.Kind = lifecycle.EventCancelled
	case remote.Filled > local.Filled:
		ev.Kind = lifecycle.EventPartiallyFilled
	default:
		return ev, false
	}
	return ev, true
}

func (b *Bot) applyEvent(ctx context.Context, t *domain.Trade, ev lifecycle.Event) {
	prev := t.State
	changed, err := lifecycle.Apply(t, ev)
	if err != nil {
		b.fail(ctx, "apply_event", t, err)
		return
	}
	if !changed {
		return
	}
	b.logger.Info(ctx, "Trade updated", map[string]interface{}{
		"op": "applyEvent", "tradeID": t.ID, "pair": t.Pair, "event": ev.Kind, "from": prev, "to": t.State, "filled": ev.Filled,
	})
	b.save(ctx, t)
	b.settle(ctx, t)
}

// settle removes finished trades from the book and locks the pair after a sale.
func (b *Bot) settle(ctx context.Context, t *domain.Trade) {
	if !t.State.IsTerminal() {
		return
	}
	b.book.Remove(t)
	if t.State == domain.StateClosed {
		b.book.Lock(t.Pair, lifecycle.NextCandle(t.CloseTime, b.interval))
		b.logger.Info(ctx, "Trade closed", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "reason": t.SellReason,
			"closeRate": t.CloseRate, "profitRatio": t.CloseProfit, "profitAbs": t.CloseProfitAbs,
		})
	}
}

// --- Exits ---

func (b *Bot) processExits(ctx context.Context, tc *tickCache) {
	for _, t := range b.book.InState(domain.StateOpen) {
		rate, err := b.sellRate(ctx, t.Pair)
		if err != nil {
			b.fail(ctx, "exit", t, err)
			continue
		}

		if needsEmergencySell(t) {
			b.logger.Warn(ctx, "Stoploss sell was not filled, selling at market", map[string]interface{}{"tradeID": t.ID, "pair": t.Pair})
			b.sell(ctx, t, exit.Forced(t, domain.SellReasonEmergencySell, rate), domain.Market)
			continue
		}

		buy, sellSignal := b.lastSignal(ctx, tc, t.Pair)
		d, err := b.engine.Evaluate(t, exit.Input{
			Candle: domain.TickerKline(t.Pair, rate, b.now()),
			Buy:    buy,
			Sell:   sellSignal,
		})
		if err != nil {
			b.fail(ctx, "exit", t, err)
			continue
		}
		prevStop := t.StopLoss
		exit.Apply(t, d)
		if !d.Exit {
			if t.StopLoss != prevStop {
				b.logger.Debug(ctx, "Stoploss raised", map[string]interface{}{"tradeID": t.ID, "pair": t.Pair, "stopLoss": t.StopLoss, "trailing": t.TrailingActive})
				b.save(ctx, t)
			}
			continue
		}
		d.Rate = rate
		b.sell(ctx, t, d, domain.Limit)
	}
}

// needsEmergencySell reports whether the last stoploss sell of an open trade was cancelled.
func needsEmergencySell(t *domain.Trade) bool {
	last := t.LastOrder(domain.Sell)
	return last != nil && last.Status == domain.OrderCancelled && t.SellReason.IsStopLoss()
}

// sell submits the exit order and moves the trade to PENDING_CLOSE.
// A failed submission leaves the trade OPEN.
func (b *Bot) sell(ctx context.Context, t *domain.Trade, d exit.Decision, typ domain.OrderType) {
	op := "sell"
	order, err := b.placeOrder(ctx, ports.OrderRequest{
		Pair: t.Pair, Side: domain.Sell, Type: typ, Amount: t.Amount, Price: d.Rate,
	})
	if err != nil {
		b.fail(ctx, op, t, err)
		return
	}
	if err := lifecycle.RequestClose(t, order, d.Reason); err != nil {
		b.fail(ctx, op, t, err)
		return
	}
	b.metrics.OrderPlaced(domain.Sell, typ)
	b.metrics.Exit(d.Reason)
	b.logger.Info(ctx, "Sell order placed", map[string]interface{}{
		"op": op, "tradeID": t.ID, "pair": t.Pair, "reason": d.Reason, "rate": d.Rate, "amount": t.Amount, "orderID": order.ID,
	})

	if ev, ok := eventFor(t.Order(order.ID), order, b.now()); ok {
		b.applyEvent(ctx, t, ev)
		return
	}
	b.save(ctx, t)
}

// --- Timeouts ---

func (b *Bot) handleTimeouts(ctx context.Context) {
	now := b.now()
	for _, t := range b.book.Trades() {
		o := t.PendingOrder()
		if o == nil {
			continue
		}
		timeout := b.cfg.UnfilledTimeoutBuy
		if o.Side == domain.Sell {
			timeout = b.cfg.UnfilledTimeoutSell
		}
		if timeout <= 0 || now.Sub(o.CreatedAt) < timeout {
			continue
		}
		b.timeOut(ctx, t, o)
	}
}

// timeOut cancels an expired order and settles the trade with the fills the
// venue reports after the cancel. The trade is left untouched when the venue
// cannot be queried; the next reconcile picks up the cancelled order.
func (b *Bot) timeOut(ctx context.Context, t *domain.Trade, o *domain.Order) {
	op := "timeout"
	remote, err := b.fetchOrder(ctx, t.Pair, o.ID)
	if err != nil {
		b.fail(ctx, op, t, err)
		return
	}

	if remote.Status != domain.OrderFilled && remote.Status != domain.OrderCancelled {
		err := b.retry.Do(ctx, "CancelOrder", func(ctx context.Context) error {
			return b.call(ctx, func(ctx context.Context) error {
				return b.exchange.CancelOrder(ctx, t.Pair, o.ID)
			})
		})
		if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			b.fail(ctx, op, t, err)
			return
		}
		// Fills may have landed between the first fetch and the cancel.
		if remote, err = b.fetchOrder(ctx, t.Pair, o.ID); err != nil {
			b.fail(ctx, op, t, err)
			return
		}
		b.metrics.OrderTimedOut(o.Side)
		b.logger.Info(ctx, "Unfilled order cancelled after timeout", map[string]interface{}{
			"op": op, "tradeID": t.ID, "pair": t.Pair, "side": o.Side, "orderID": o.ID, "filled": remote.Filled,
		})
	}

	ev := lifecycle.Event{Kind: lifecycle.EventTimedOut, OrderID: o.ID, Filled: remote.Filled, Price: remote.AvgPrice, Time: b.now()}
	if remote.Status == domain.OrderFilled {
		ev.Kind = lifecycle.EventFilled
	}
	b.applyEvent(ctx, t, ev)
}

// --- Entries ---

func (b *Bot) processEntries(ctx context.Context, tc *tickCache) {
	err := b.retry.Do(ctx, "RefreshPairlist", func(ctx context.Context) error {
		return b.call(ctx, func(ctx context.Context) error {
			_, err := b.pairs.Refresh(ctx)
			return err
		})
	})
	if err != nil {
		b.logger.Warn(ctx, "Pair list refresh failed, keeping the previous whitelist", map[string]interface{}{
			"op": "pairlist", "error": err.Error(),
		})
	}
	pairs := b.pairs.Whitelist()
	if b.edge != nil {
		if _, err := b.edge.Calculate(ctx, pairs); err != nil {
			b.fail(ctx, "edge", nil, err)
			return
		}
		pairs = b.edge.AdjustWhitelist(pairs)
	}

	now := b.now()
	for _, pair := range pairs {
		if !b.book.CanOpen(pair, now) {
			continue
		}
		buy, _ := b.lastSignal(ctx, tc, pair)
		if !buy {
			continue
		}
		b.enter(ctx, tc, pair)
	}
}

func (b *Bot) enter(ctx context.Context, tc *tickCache, pair string) {
	op := "enter"
	fields := map[string]interface{}{"op": op, "pair": pair}

	if !tc.freeKnown {
		free, err := retry.Value(ctx, b.retry, "FreeBalance", func(ctx context.Context) (float64, error) {
			return callValue(ctx, b.cfg.CallTimeout, func(ctx context.Context) (float64, error) {
				return b.exchange.FreeBalance(ctx, b.cfg.StakeCurrency)
			})
		})
		if err != nil {
			b.failPair(ctx, op, pair, err)
			return
		}
		tc.free, tc.freeKnown = free, true
	}

	var inTrades float64
	for _, t := range b.book.Trades() {
		inTrades += t.StakeAmount
	}
	stake, err := b.stake.Stake(pair, risk.Balances{
		Free: tc.free, Total: tc.free, InTrades: inTrades, OpenTrades: b.book.Count(),
	})
	if err != nil {
		fields["error"] = err.Error()
		b.logger.Debug(ctx, "No stake for entry", fields)
		return
	}

	price, err := b.entryPrice(ctx, pair)
	if err != nil {
		b.failPair(ctx, op, pair, err)
		return
	}
	if price <= 0 {
		return
	}
	amount := risk.Amount(stake, price)

	order, err := b.placeOrder(ctx, ports.OrderRequest{
		Pair: pair, Side: domain.Buy, Type: domain.Limit, Amount: amount, Price: price,
	})
	if err != nil {
		b.failPair(ctx, op, pair, err)
		return
	}

	t, err := lifecycle.Open(lifecycle.Params{
		Pair:          pair,
		Strategy:      b.strategy.Name(),
		StakeAmount:   stake,
		FeeOpen:       b.cfg.Fee,
		FeeClose:      b.cfg.Fee,
		StopLossRatio: b.stake.StopLoss(pair, b.cfg.StopLoss),
	}, order, b.now())
	if err != nil {
		b.failPair(ctx, op, pair, err)
		return
	}
	b.metrics.OrderPlaced(domain.Buy, domain.Limit)
	tc.free -= stake

	b.save(ctx, t)
	b.book.Add(t)
	b.logger.Info(ctx, "Buy order placed", map[string]interface{}{
		"op": op, "tradeID": t.ID, "pair": pair, "rate": price, "amount": amount, "stake": stake, "orderID": order.ID,
	})
	if ev, ok := eventFor(t.Orders[0], order, b.now()); ok {
		b.applyEvent(ctx, t, ev)
	}
}

// entryPrice prices a buy and applies the depth-of-market check. A zero
// price with no error means the entry was refused.
func (b *Bot) entryPrice(ctx context.Context, pair string) (float64, error) {
	bs := b.cfg.BidStrategy
	var book *ports.OrderBook
	if bs.UseOrderBook || bs.CheckDepthOfMarket {
		var err error
		book, err = b.fetchOrderBook(ctx, pair, max(bs.OrderBookTop, depthOfMarketLevels))
		if err != nil {
			return 0, err
		}
		if bs.CheckDepthOfMarket {
			if delta := DepthOfMarket(book); delta < bs.BidsToAskDelta {
				b.logger.Info(ctx, "Entry refused by depth of market", map[string]interface{}{
					"pair": pair, "delta": delta, "required": bs.BidsToAskDelta,
				})
				return 0, nil
			}
		}
	}
	var ticker *ports.Ticker
	if !bs.UseOrderBook {
		var err error
		if ticker, err = b.fetchTicker(ctx, pair); err != nil {
			return 0, err
		}
	}
	return TargetBid(ticker, book, bs)
}

func (b *Bot) sellRate(ctx context.Context, pair string) (float64, error) {
	as := b.cfg.AskStrategy
	if as.UseOrderBook {
		book, err := b.fetchOrderBook(ctx, pair, as.OrderBookMin)
		if err != nil {
			return 0, err
		}
		return SellRate(nil, book, as)
	}
	ticker, err := b.fetchTicker(ctx, pair)
	if err != nil {
		return 0, err
	}
	return SellRate(ticker, nil, as)
}

// lastSignal evaluates the strategy over recent closed candles and returns
// the signals of the last one. Failures count as no signal.
func (b *Bot) lastSignal(ctx context.Context, tc *tickCache, pair string) (buy, sell bool) {
	sig, ok := tc.signals[pair]
	if !ok {
		klines, err := retry.Value(ctx, b.retry, "FetchKlines", func(ctx context.Context) ([]*domain.Kline, error) {
			return callValue(ctx, b.cfg.CallTimeout, func(ctx context.Context) ([]*domain.Kline, error) {
				return b.candles.Last(ctx, pair, b.cfg.StartupCandles(b.strategy.RequiredDataPoints()), time.Time{})
			})
		})
		if err == nil {
			sig, err = b.strategy.Evaluate(ctx, klines)
		}
		if err != nil {
			b.failPair(ctx, "signals", pair, err)
		}
		tc.signals[pair] = sig
	}
	return sig.At(len(sig.Buy) - 1)
}

// --- Commands ---

// ForceSell exits the trade with tradeID, or every open trade when tradeID is 0.
// Pending orders are cancelled first.
func (b *Bot) ForceSell(ctx context.Context, tradeID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	trades := b.book.Trades()
	if tradeID != 0 {
		t := b.book.Get(tradeID)
		if t == nil {
			return fmt.Errorf("%w: %d", ErrTradeNotFound, tradeID)
		}
		trades = []*domain.Trade{t}
	}

	var errs []error
	for _, t := range trades {
		if err := b.forceSell(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("trade %d: %w", t.ID, err))
		}
	}
	b.metrics.SetOpenTrades(b.book.Count())
	return errors.Join(errs...)
}

func (b *Bot) forceSell(ctx context.Context, t *domain.Trade) error {
	if o := t.PendingOrder(); o != nil {
		err := b.retry.Do(ctx, "CancelOrder", func(ctx context.Context) error {
			return b.call(ctx, func(ctx context.Context) error {
				return b.exchange.CancelOrder(ctx, t.Pair, o.ID)
			})
		})
		if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			return err
		}
		remote, err := b.fetchOrder(ctx, t.Pair, o.ID)
		if err != nil {
			return err
		}
		ev, ok := eventFor(o, remote, b.now())
		if !ok {
			ev = lifecycle.Event{Kind: lifecycle.EventCancelled, OrderID: o.ID, Filled: remote.Filled, Price: remote.AvgPrice, Time: b.now()}
		}
		b.applyEvent(ctx, t, ev)
	}
	if t.State != domain.StateOpen {
		return nil
	}
	rate, err := b.sellRate(ctx, t.Pair)
	if err != nil {
		return err
	}
	b.sell(ctx, t, exit.Forced(t, domain.SellReasonForceSell, rate), domain.Limit)
	if t.State == domain.StateOpen {
		return fmt.Errorf("force sell of %s was not placed", t.Pair)
	}
	return nil
}

// StopBuy disables new entries. Open trades are still managed.
func (b *Bot) StopBuy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopBuy = true
	b.logger.Info(context.Background(), "Entries disabled by stopbuy")
}

// Reload swaps the configuration, invalidates edge results and re-enables entries.
// Edge sizing settings are fixed at construction.
func (b *Bot) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.applyConfig(cfg); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}
	if b.edge != nil {
		b.edge.Invalidate()
	}
	b.stopBuy = false
	if b.state == StateStopped {
		b.state = StateRunning
	}
	b.logger.Info(context.Background(), "Configuration reloaded", map[string]interface{}{"whitelist": cfg.Whitelist, "maxOpenTrades": cfg.MaxOpenTrades})
	return nil
}

// Stop halts the bot. A graceful stop lets the in-flight tick finish and
// disables entries; with waitForExits the loop keeps managing trades until the
// book is empty. An immediate stop persists every open trade and returns.
func (b *Bot) Stop(ctx context.Context, graceful, waitForExits bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopBuy = true
	if graceful && waitForExits && b.book.Count() > 0 {
		b.state = StateDraining
		b.logger.Info(ctx, "Draining open trades before stopping", map[string]interface{}{"open": b.book.Count()})
		return nil
	}
	b.state = StateStopped

	var errs []error
	if !graceful {
		for _, t := range b.book.Trades() {
			if err := b.repo.SaveTrade(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	b.logger.Info(ctx, "Bot stopped", map[string]interface{}{"graceful": graceful, "open": b.book.Count()})
	return errors.Join(errs...)
}

// State returns the worker state.
func (b *Bot) State() WorkerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenTrades returns snapshots of the trades in the book.
func (b *Bot) OpenTrades() []*domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	trades := b.book.Trades()
	out := make([]*domain.Trade, len(trades))
	for i, t := range trades {
		out[i] = t.Clone()
	}
	return out
}

// --- Adapter calls ---

func (b *Bot) call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := callValue(ctx, b.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (b *Bot) callOrder(ctx context.Context, fn func(ctx context.Context) (*domain.Order, error)) (*domain.Order, error) {
	return callValue(ctx, b.cfg.CallTimeout, fn)
}

// callValue bounds a single adapter call by timeout when it is positive.
func callValue[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// placeOrder submits req under one client id for all attempts. Before a
// resubmission it asks the venue whether an earlier attempt was accepted.
func (b *Bot) placeOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	req.ClientID = newClientID()
	attempt := 0
	return retry.Value(ctx, b.retry, "CreateOrder", func(ctx context.Context) (*domain.Order, error) {
		attempt++
		if attempt > 1 {
			o, err := b.callOrder(ctx, func(ctx context.Context) (*domain.Order, error) {
				return b.exchange.FetchOrderByClientID(ctx, req.Pair, req.ClientID)
			})
			if err == nil {
				b.logger.Warn(ctx, "Order accepted by an earlier attempt", map[string]interface{}{
					"pair": req.Pair, "side": req.Side, "clientID": req.ClientID, "orderID": o.ID,
				})
				return o, nil
			}
			if !errors.Is(err, ports.ErrOrderNotFound) {
				return nil, err
			}
		}
		return b.callOrder(ctx, func(ctx context.Context) (*domain.Order, error) {
			return b.exchange.CreateOrder(ctx, req)
		})
	})
}

// newClientID fits the venue's 36 character client id limit.
func newClientID() string {
	return "zt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func (b *Bot) fetchOrder(ctx context.Context, pair, id string) (*domain.Order, error) {
	return retry.Value(ctx, b.retry, "FetchOrder", func(ctx context.Context) (*domain.Order, error) {
		return b.callOrder(ctx, func(ctx context.Context) (*domain.Order, error) {
			return b.exchange.FetchOrder(ctx, pair, id)
		})
	})
}

func (b *Bot) fetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	return retry.Value(ctx, b.retry, "FetchTicker", func(ctx context.Context) (*ports.Ticker, error) {
		return callValue(ctx, b.cfg.CallTimeout, func(ctx context.Context) (*ports.Ticker, error) {
			return b.exchange.FetchTicker(ctx, pair)
		})
	})
}

func (b *Bot) fetchOrderBook(ctx context.Context, pair string, depth int) (*ports.OrderBook, error) {
	return retry.Value(ctx, b.retry, "FetchOrderBook", func(ctx context.Context) (*ports.OrderBook, error) {
		return callValue(ctx, b.cfg.CallTimeout, func(ctx context.Context) (*ports.OrderBook, error) {
			return b.exchange.FetchOrderBook(ctx, pair, depth)
		})
	})
}

// save persists the trade. A failure is logged; the in-memory state stays
// authoritative and the next save catches up.
func (b *Bot) save(ctx context.Context, t *domain.Trade) {
	if err := b.repo.SaveTrade(ctx, t); err != nil {
		b.fail(ctx, "persist", t, err)
	}
}

func (b *Bot) fail(ctx context.Context, action string, t *domain.Trade, err error) {
	fields := map[string]interface{}{"op": action, "class": ports.Classify(err).String()}
	if t != nil {
		fields["tradeID"] = t.ID
		fields["pair"] = t.Pair
		fields["state"] = t.State
	}
	b.metrics.ActionFailed(action, err)
	b.logger.Error(ctx, err, "Action abandoned for this tick", fields)
}

func (b *Bot) failPair(ctx context.Context, action, pair string, err error) {
	b.metrics.ActionFailed(action, err)
	b.logger.Error(ctx, err, "Action abandoned for this tick", map[string]interface{}{
		"op": action, "pair": pair, "class": ports.Classify(err).String(),
	})
}
