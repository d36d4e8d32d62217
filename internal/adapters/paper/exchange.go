// Package paper provides a dry-run exchange that simulates order fills
// against live or scripted prices while keeping an in-memory wallet.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// Feed supplies prices to the simulator. The Binance client satisfies it
// using public endpoints only.
type Feed interface {
	ports.MarketData
	FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error)
}

// Config configures the dry-run wallet and fill behaviour.
type Config struct {
	StakeCurrency string
	Wallet        float64
	// FillLimitOrders fills a limit order on the first FetchOrder where the
	// ticker crosses its price. When false, limit orders rest until Fill is called.
	FillLimitOrders bool
	Logger          ports.Logger
	Clock           func() time.Time
}

// Exchange implements ports.Exchange without touching a venue.
type Exchange struct {
	feed   Feed
	cfg    Config
	logger ports.Logger
	now    func() time.Time

	mu       sync.Mutex
	orders   map[string]*domain.Order
	balances map[string]float64
	tickers  map[string]ports.Ticker
}

// New creates a dry-run exchange. feed may be nil when prices are set with SetTicker.
func New(cfg Config, feed Feed) (*Exchange, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper exchange")
	}
	if cfg.StakeCurrency == "" {
		return nil, fmt.Errorf("%w: stake currency is required", ports.ErrConfigurationError)
	}
	if cfg.Wallet < 0 {
		return nil, fmt.Errorf("%w: dry-run wallet must not be negative", ports.ErrConfigurationError)
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Exchange{
		feed:     feed,
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      now,
		orders:   make(map[string]*domain.Order),
		balances: map[string]float64{strings.ToUpper(cfg.StakeCurrency): cfg.Wallet},
		tickers:  make(map[string]ports.Ticker),
	}, nil
}

// SetTicker overrides the price for a pair.
func (e *Exchange) SetTicker(t ports.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[t.Pair] = t
}

// splitPair returns base and quote assets of "ETH/BTC".
func splitPair(pair string) (string, string, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(pair), "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("%w: pair %q must look like BASE/QUOTE", ports.ErrInvalidRequest, pair)
	}
	return base, quote, nil
}

// CreateOrder reserves funds and records the order. Market orders fill at once.
func (e *Exchange) CreateOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	base, quote, err := splitPair(req.Pair)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ports.ErrInvalidOrder)
	}
	if req.Type == domain.Limit && req.Price <= 0 {
		return nil, fmt.Errorf("%w: limit price must be positive", ports.ErrInvalidOrder)
	}

	price := req.Price
	if req.Type == domain.Market {
		t, err := e.FetchTicker(ctx, req.Pair)
		if err != nil {
			return nil, err
		}
		price = t.Ask
		if req.Side == domain.Sell {
			price = t.Bid
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if o := e.byClientIDLocked(req.Pair, req.ClientID); o != nil {
		cp := *o
		return &cp, nil
	}

	switch req.Side {
	case domain.Buy:
		cost := price * req.Amount
		if e.balances[quote] < cost {
			return nil, fmt.Errorf("%w: need %.8f %s, have %.8f", ports.ErrInsufficientFunds, cost, quote, e.balances[quote])
		}
		e.balances[quote] -= cost
	case domain.Sell:
		if e.balances[base] < req.Amount {
			return nil, fmt.Errorf("%w: need %.8f %s, have %.8f", ports.ErrInsufficientFunds, req.Amount, base, e.balances[base])
		}
		e.balances[base] -= req.Amount
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ports.ErrInvalidOrder, req.Side)
	}

	now := e.now()
	o := &domain.Order{
		ID:        "dry-" + uuid.NewString(),
		ClientID:  req.ClientID,
		Pair:      req.Pair,
		Side:      req.Side,
		Type:      req.Type,
		Status:    domain.OrderPending,
		Price:     price,
		Amount:    req.Amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.orders[o.ID] = o
	if req.Type == domain.Market {
		e.fillLocked(o, o.Amount, price)
	}
	e.logger.Info(ctx, "Dry-run order created", map[string]interface{}{"orderID": o.ID, "pair": o.Pair, "side": o.Side, "price": price, "amount": o.Amount, "status": o.Status})
	cp := *o
	return &cp, nil
}

// FetchOrderByClientID returns a copy of the order created with clientID.
func (e *Exchange) FetchOrderByClientID(ctx context.Context, pair, clientID string) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.byClientIDLocked(pair, clientID)
	if o == nil {
		return nil, fmt.Errorf("%w: client id %s", ports.ErrOrderNotFound, clientID)
	}
	cp := *o
	return &cp, nil
}

func (e *Exchange) byClientIDLocked(pair, clientID string) *domain.Order {
	if clientID == "" {
		return nil
	}
	for _, o := range e.orders {
		if o.ClientID == clientID && o.Pair == pair {
			return o
		}
	}
	return nil
}

// Fill applies a (partial) fill at the order price. Used by tests and manual control.
func (e *Exchange) Fill(orderID string, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", ports.ErrInvalidRequest, orderID, o.Status)
	}
	e.fillLocked(o, amount, o.Price)
	return nil
}

func (e *Exchange) fillLocked(o *domain.Order, amount, price float64) {
	if amount > o.Remaining() {
		amount = o.Remaining()
	}
	base, quote, _ := splitPair(o.Pair)
	if amount > 0 {
		o.AvgPrice = (o.AvgPrice*o.Filled + price*amount) / (o.Filled + amount)
		o.Filled += amount
	}
	switch o.Side {
	case domain.Buy:
		e.balances[base] += amount
		e.balances[quote] += (o.Price - price) * amount // reserved at o.Price
	case domain.Sell:
		e.balances[quote] += price * amount
	}
	if o.Remaining() <= 0 {
		o.Status = domain.OrderFilled
	}
	o.UpdatedAt = e.now()
}

// CancelOrder cancels the unfilled part and releases reserved funds.
func (e *Exchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Pair != pair {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s already %s", ports.ErrOrderNotFound, orderID, o.Status)
	}
	base, quote, _ := splitPair(o.Pair)
	if o.Side == domain.Buy {
		e.balances[quote] += o.Remaining() * o.Price
	} else {
		e.balances[base] += o.Remaining()
	}
	o.Status = domain.OrderCancelled
	o.UpdatedAt = e.now()
	e.logger.Info(ctx, "Dry-run order cancelled", map[string]interface{}{"orderID": orderID, "pair": pair, "filled": o.Filled})
	return nil
}

// FetchOrder returns a copy of the order, first filling a resting limit
// order when FillLimitOrders is set and the market has crossed its price.
func (e *Exchange) FetchOrder(ctx context.Context, pair, orderID string) (*domain.Order, error) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	pending := ok && !o.Status.IsTerminal()
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderID)
	}

	var ticker *ports.Ticker
	if pending && e.cfg.FillLimitOrders {
		t, err := e.FetchTicker(ctx, pair)
		if err != nil {
			return nil, err
		}
		ticker = t
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ticker != nil && !o.Status.IsTerminal() && crosses(o, ticker) {
		e.fillLocked(o, o.Remaining(), o.Price)
	}
	cp := *o
	return &cp, nil
}

func crosses(o *domain.Order, t *ports.Ticker) bool {
	if o.Side == domain.Buy {
		return t.Ask > 0 && t.Ask <= o.Price
	}
	return t.Bid >= o.Price
}

// FetchTicker prefers a price set with SetTicker over the feed.
func (e *Exchange) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	e.mu.Lock()
	t, ok := e.tickers[pair]
	e.mu.Unlock()
	if ok {
		return &t, nil
	}
	if e.feed == nil {
		return nil, fmt.Errorf("%w: no price for %s", ports.ErrNotFound, pair)
	}
	return e.feed.FetchTicker(ctx, pair)
}

// FetchKlines delegates to the feed.
func (e *Exchange) FetchKlines(ctx context.Context, pair, interval string, limit int) ([]*domain.Kline, error) {
	if e.feed == nil {
		return nil, fmt.Errorf("%w: no market data feed configured", ports.ErrExchangeUnavailable)
	}
	return e.feed.FetchKlines(ctx, pair, interval, limit)
}

// FetchOrderBook delegates to the feed, or synthesizes a one-level book from the ticker.
func (e *Exchange) FetchOrderBook(ctx context.Context, pair string, depth int) (*ports.OrderBook, error) {
	if e.feed != nil {
		return e.feed.FetchOrderBook(ctx, pair, depth)
	}
	t, err := e.FetchTicker(ctx, pair)
	if err != nil {
		return nil, err
	}
	return &ports.OrderBook{
		Pair: pair,
		Bids: []ports.BookLevel{{Price: t.Bid, Quantity: 1}},
		Asks: []ports.BookLevel{{Price: t.Ask, Quantity: 1}},
	}, nil
}

// FreeBalance returns the unreserved balance of an asset.
func (e *Exchange) FreeBalance(ctx context.Context, asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(asset)], nil
}

var _ ports.Exchange = (*Exchange)(nil)
