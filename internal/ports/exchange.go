package ports

import (
	"context"

	"zetatrade/internal/domain"
)

// OrderRequest describes an order to be submitted to the venue.
type OrderRequest struct {
	Pair   string
	Side   domain.OrderSide
	Type   domain.OrderType
	Amount float64
	Price  float64 // ignored for market orders
	// ClientID identifies the submission. Resubmitting with the same ClientID
	// must be detectable through FetchOrderByClientID.
	ClientID string
}

// Ticker is the latest top-of-book and last trade price for a pair.
type Ticker struct {
	Pair string
	Bid  float64
	Ask  float64
	Last float64
}

// BookLevel is a single price level of an order book.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook holds bids (best first) and asks (best first).
type OrderBook struct {
	Pair string
	Bids []BookLevel
	Asks []BookLevel
}

// OrderExecutor is the venue-facing order capability.
// Implementations return errors wrapping ErrRateLimited, ErrConnectionFailed,
// ErrInsufficientFunds or ErrInvalidOrder so callers can classify them.
type OrderExecutor interface {
	// CreateOrder submits an order and returns it as the venue reports it.
	CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error)
	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, pair, orderID string) error
	// FetchOrder returns the current venue state of an order.
	FetchOrder(ctx context.Context, pair, orderID string) (*domain.Order, error)
	// FetchOrderByClientID looks an order up by its ClientID and returns
	// ErrOrderNotFound when the venue never accepted it.
	FetchOrderByClientID(ctx context.Context, pair, clientID string) (*domain.Order, error)
	// FetchTicker returns bid, ask and last price for the pair.
	FetchTicker(ctx context.Context, pair string) (*Ticker, error)
}

// MarketData provides candles and order book snapshots.
type MarketData interface {
	// FetchKlines returns the most recent candles, oldest first.
	FetchKlines(ctx context.Context, pair, interval string, limit int) ([]*domain.Kline, error)
	// FetchOrderBook returns the top depth levels of the book.
	FetchOrderBook(ctx context.Context, pair string, depth int) (*OrderBook, error)
}

// Wallet reports free balances.
type Wallet interface {
	FreeBalance(ctx context.Context, asset string) (float64, error)
}

// Exchange is everything the live loop needs from a venue.
type Exchange interface {
	OrderExecutor
	MarketData
	Wallet
}

// Market is a symbol listed by the venue.
type Market struct {
	Symbol string
	Pair   string // BASE/QUOTE
	Base   string
	Quote  string
	Active bool
}

// TickerStats are the rolling 24h statistics of a symbol.
type TickerStats struct {
	Symbol      string
	QuoteVolume float64
	BidVolume   float64 // quantity at the best bid
	AskVolume   float64 // quantity at the best ask
}

// MarketLister lists the venue's markets and their 24h statistics. It backs
// pair list validation and volume ranking.
type MarketLister interface {
	Markets(ctx context.Context) ([]Market, error)
	Tickers24h(ctx context.Context) ([]TickerStats, error)
}
