package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlinesPerRequest = 1000
	clientOrderPrefix   = "zt-"
)

// Client implements ports.Exchange against the Binance spot API.
type Client struct {
	api    *binance.Client
	logger ports.Logger

	reconnectMin         time.Duration
	reconnectMax         time.Duration
	maxReconnectAttempts int

	mu      sync.Mutex
	filters map[string]symbolFilters
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // first kline stream reconnect delay
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

// symbolFilters are the LOT_SIZE step and PRICE_FILTER tick of a symbol.
type symbolFilters struct {
	stepSize decimal.Decimal
	tickSize decimal.Decimal
	minQty   decimal.Decimal
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		api.BaseURL = baseURLTestnet
	} else {
		api.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{"baseURL": api.BaseURL, "testnet": cfg.UseTestnet})

	c := &Client{
		api:                  api,
		logger:               cfg.Logger,
		reconnectMin:         cfg.ReconnectDelay,
		reconnectMax:         cfg.MaxReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		filters:              make(map[string]symbolFilters),
	}
	if c.reconnectMin <= 0 {
		c.reconnectMin = time.Second
	}
	if c.reconnectMax <= 0 {
		c.reconnectMax = time.Minute
	}
	if c.maxReconnectAttempts <= 0 {
		c.maxReconnectAttempts = 10
	}
	return c, nil
}

// Symbol converts a pair such as "ETH/BTC" to the venue symbol "ETHBTC".
func Symbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

// handleError translates Binance API errors into ports sentinels so callers can classify them.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	mapped := mapError(err)
	fields := map[string]interface{}{"operation": operation, "class": ports.Classify(mapped).String()}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return mapped
}

func mapError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		var sentinel error
		switch apiErr.Code {
		case -1003, -1015: // too many requests / orders
			sentinel = ports.ErrRateLimited
		case -1001, -1016: // disconnected / service shutting down
			sentinel = ports.ErrExchangeUnavailable
		case -1006, -1007, -1021: // unexpected response, backend timeout, recvWindow
			sentinel = ports.ErrTimeout
		case -1002, -1022, -2014, -2015:
			sentinel = ports.ErrAuthenticationFailed
		case -1013, -1111, -1112: // filter failure, precision
			sentinel = ports.ErrInvalidOrder
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1115, -1116, -1117, -1121:
			sentinel = ports.ErrInvalidRequest
		case -2010: // new order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				sentinel = ports.ErrInsufficientFunds
			} else {
				sentinel = ports.ErrInvalidOrder
			}
		case -2011, -2013: // cancel rejected / no such order
			sentinel = ports.ErrOrderNotFound
		default:
			sentinel = ports.ErrUnknown
		}
		return fmt.Errorf("%w: %w", sentinel, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrUnknown, err)
}

// NewClientOrderID returns a fresh id within the venue's 36 character limit.
func NewClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// CreateOrder submits a spot order. Limit orders are good-till-cancelled.
func (c *Client) CreateOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	op := "CreateOrder"
	symbol := Symbol(req.Pair)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := quantize(req.Amount, f.stepSize)
	if qty.LessThanOrEqual(decimal.Zero) || qty.LessThan(f.minQty) {
		return nil, fmt.Errorf("%w: %s amount %.8f below minimum %s", ports.ErrInvalidOrder, req.Pair, req.Amount, f.minQty)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = NewClientOrderID()
	}
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(req.Side)).
		Quantity(qty.String()).
		NewClientOrderID(clientID)
	switch req.Type {
	case domain.Market:
		svc = svc.Type(binance.OrderTypeMarket)
	default:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(quantize(req.Price, f.tickSize).String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := &domain.Order{
		ID:        strconv.FormatInt(res.OrderID, 10),
		ClientID:  res.ClientOrderID,
		Pair:      req.Pair,
		Side:      req.Side,
		Type:      req.Type,
		Status:    orderStatus(res.Status),
		Price:     req.Price,
		Amount:    parseFloat(res.OrigQuantity),
		Filled:    parseFloat(res.ExecutedQuantity),
		AvgPrice:  avgPrice(res.CummulativeQuoteQuantity, res.ExecutedQuantity),
		CreatedAt: time.UnixMilli(res.TransactTime).UTC(),
	}
	order.UpdatedAt = order.CreatedAt
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"pair": req.Pair, "side": req.Side, "type": req.Type, "amount": qty.String(), "orderID": order.ID, "status": order.Status})
	return order, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, pair, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: order id %q: %v", ports.ErrInvalidRequest, orderID, err)
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"pair": pair, "orderID": orderID})
	res, err := c.api.NewCancelOrderService().Symbol(Symbol(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"pair": pair, "orderID": orderID, "status": res.Status})
	return nil
}

// FetchOrder returns the current venue state of an order.
func (c *Client) FetchOrder(ctx context.Context, pair, orderID string) (*domain.Order, error) {
	op := "FetchOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order id %q: %v", ports.ErrInvalidRequest, orderID, err)
	}
	res, err := c.api.NewGetOrderService().Symbol(Symbol(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(pair, res), nil
}

// FetchOrderByClientID returns the order submitted with clientID.
func (c *Client) FetchOrderByClientID(ctx context.Context, pair, clientID string) (*domain.Order, error) {
	op := "FetchOrderByClientID"
	res, err := c.api.NewGetOrderService().Symbol(Symbol(pair)).OrigClientOrderID(clientID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(pair, res), nil
}

// FetchTicker reads bid, ask and last price from the 24h statistics endpoint.
func (c *Client) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	op := "FetchTicker"
	stats, err := c.api.NewListPriceChangeStatsService().Symbol(Symbol(pair)).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: no ticker data for %s", ports.ErrNotFound, pair)
	}
	s := stats[0]
	return &ports.Ticker{
		Pair: pair,
		Bid:  parseFloat(s.BidPrice),
		Ask:  parseFloat(s.AskPrice),
		Last: parseFloat(s.LastPrice),
	}, nil
}

// Markets lists every spot symbol. Only symbols in TRADING status are active.
func (c *Client) Markets(ctx context.Context) ([]ports.Market, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, "Markets")
	}
	markets := make([]ports.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		markets = append(markets, ports.Market{
			Symbol: s.Symbol,
			Pair:   s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	return markets, nil
}

// Tickers24h returns the 24h statistics of every symbol.
func (c *Client) Tickers24h(ctx context.Context) ([]ports.TickerStats, error) {
	stats, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, "Tickers24h")
	}
	out := make([]ports.TickerStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, ports.TickerStats{
			Symbol:      s.Symbol,
			QuoteVolume: parseFloat(s.QuoteVolume),
			BidVolume:   parseFloat(s.BidQty),
			AskVolume:   parseFloat(s.AskQty),
		})
	}
	return out, nil
}

// FetchOrderBook returns the top depth levels of the book.
func (c *Client) FetchOrderBook(ctx context.Context, pair string, depth int) (*ports.OrderBook, error) {
	op := "FetchOrderBook"
	res, err := c.api.NewDepthService().Symbol(Symbol(pair)).Limit(depthLimit(depth)).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	book := &ports.OrderBook{Pair: pair}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, ports.BookLevel{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, ports.BookLevel{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	return book, nil
}

// depthLimit rounds up to a limit the depth endpoint accepts.
func depthLimit(depth int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000, 5000} {
		if depth <= l {
			return l
		}
	}
	return 5000
}

// FetchKlines returns the most recent candles, oldest first.
func (c *Client) FetchKlines(ctx context.Context, pair, interval string, limit int) ([]*domain.Kline, error) {
	op := "FetchKlines"
	res, err := c.api.NewKlinesService().Symbol(Symbol(pair)).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	klines := make([]*domain.Kline, 0, len(res))
	for _, bk := range res {
		k, err := translateKline(bk, pair, interval)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrMalformedCandle, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// FetchKlinesRange pages through all candles between start and end.
func (c *Client) FetchKlinesRange(ctx context.Context, pair, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "FetchKlinesRange"
	var all []*domain.Kline
	from := start
	for {
		res, err := c.api.NewKlinesService().
			Symbol(Symbol(pair)).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		for _, bk := range res {
			k, err := translateKline(bk, pair, interval)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ports.ErrMalformedCandle, err)
			}
			all = append(all, k)
		}
		if len(res) < maxKlinesPerRequest {
			break
		}
		from = time.UnixMilli(res[len(res)-1].CloseTime + 1)
		if !from.Before(end) {
			break
		}
		c.logger.Debug(ctx, op+": fetched page", map[string]interface{}{"pair": pair, "candles": len(all)})
	}
	return all, nil
}

// FreeBalance returns the free (unlocked) balance of an asset. Unknown assets have zero balance.
func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	op := "FreeBalance"
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: balance %q for %s: %v", ports.ErrUnknown, b.Free, asset, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// StreamKlines delivers closed candles to handler until ctx is cancelled,
// reconnecting with exponential backoff when the socket drops.
func (c *Client) StreamKlines(ctx context.Context, pair, interval string, handler func(*domain.Kline)) error {
	op := "StreamKlines"
	b := &backoff.Backoff{Min: c.reconnectMin, Max: c.reconnectMax, Factor: 2, Jitter: true}
	fields := map[string]interface{}{"pair": pair, "interval": interval}

	onEvent := func(event *binance.WsKlineEvent) {
		k, err := translateWsKline(event, pair)
		if err != nil {
			c.logger.Warn(ctx, op+": dropping malformed event", map[string]interface{}{"pair": pair, "error": err.Error()})
			return
		}
		if k.IsFinal {
			handler(k)
		}
	}
	onError := func(err error) {
		c.logger.Warn(ctx, op+": websocket error", map[string]interface{}{"pair": pair, "error": err.Error()})
	}

	for {
		doneC, stopC, err := binance.WsKlineServe(Symbol(pair), interval, onEvent, onError)
		if err != nil {
			if int(b.Attempt()) >= c.maxReconnectAttempts {
				return c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err), op)
			}
			delay := b.Duration()
			c.logger.Warn(ctx, op+": connect failed, retrying", map[string]interface{}{"pair": pair, "delay": delay.String(), "error": err.Error()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.logger.Info(ctx, op+": connected", fields)
		b.Reset()
		select {
		case <-doneC:
			c.logger.Warn(ctx, op+": connection closed, reconnecting", fields)
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		}
	}
}

func (c *Client) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	c.mu.Lock()
	f, ok := c.filters[symbol]
	c.mu.Unlock()
	if ok {
		return f, nil
	}

	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return f, c.handleError(ctx, err, "ExchangeInfo")
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil {
			f.stepSize = decimalOrZero(lot.StepSize)
			f.minQty = decimalOrZero(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.tickSize = decimalOrZero(pf.TickSize)
		}
		c.mu.Lock()
		c.filters[symbol] = f
		c.mu.Unlock()
		return f, nil
	}
	return f, fmt.Errorf("%w: symbol %s not listed", ports.ErrInvalidRequest, symbol)
}

// --- Translation Helpers ---

// quantize floors value to a multiple of step. A zero step only trims to 8 decimals.
func quantize(value float64, step decimal.Decimal) decimal.Decimal {
	d := decimal.NewFromFloat(value)
	if step.IsZero() {
		return d.Truncate(8)
	}
	return d.Div(step).Floor().Mul(step)
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func avgPrice(quoteQty, executedQty string) float64 {
	executed := decimalOrZero(executedQty)
	if executed.IsZero() {
		return 0
	}
	avg, _ := decimalOrZero(quoteQty).Div(executed).Float64()
	return avg
}

// orderStatus maps a venue status onto the three domain states.
func orderStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return domain.OrderCancelled
	default:
		return domain.OrderPending
	}
}

func translateOrder(pair string, o *binance.Order) *domain.Order {
	if o == nil {
		return nil
	}
	typ := domain.Limit
	if o.Type == binance.OrderTypeMarket {
		typ = domain.Market
	}
	return &domain.Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		ClientID:  o.ClientOrderID,
		Pair:      pair,
		Side:      domain.OrderSide(o.Side),
		Type:      typ,
		Status:    orderStatus(o.Status),
		Price:     parseFloat(o.Price),
		Amount:    parseFloat(o.OrigQuantity),
		Filled:    parseFloat(o.ExecutedQuantity),
		AvgPrice:  avgPrice(o.CummulativeQuoteQuantity, o.ExecutedQuantity),
		CreatedAt: time.UnixMilli(o.Time).UTC(),
		UpdatedAt: time.UnixMilli(o.UpdateTime).UTC(),
	}
}

func translateKline(bk *binance.Kline, pair, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	prices, err := parsePrices(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Pair:      pair,
		Interval:  interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   true,
	}, nil
}

func translateWsKline(event *binance.WsKlineEvent, pair string) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	prices, err := parsePrices(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Pair:      pair,
		Interval:  k.Interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   k.IsFinal,
	}, nil
}

// parsePrices parses open, high, low, close and volume in that order.
func parsePrices(values ...string) ([]float64, error) {
	names := []string{"open", "high", "low", "close", "volume"}
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", names[i], v, err)
		}
		out[i] = f
	}
	return out, nil
}

var (
	_ ports.Exchange     = (*Client)(nil)
	_ ports.MarketLister = (*Client)(nil)
)

var (
	_ ports.Exchange     = (*Client)(nil)
	_ ports.MarketLister = (*Client)(nil)
)
