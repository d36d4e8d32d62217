package app

import (
	"fmt"

	"zetatrade/config"
	"zetatrade/internal/ports"
)

// TargetBid returns the limit price for an entry. With the order book
// enabled it takes the order_book_top-th bid, otherwise it prices between
// ask and last according to ask_last_balance.
func TargetBid(t *ports.Ticker, book *ports.OrderBook, bs config.BidStrategy) (float64, error) {
	if bs.UseOrderBook {
		if book == nil {
			return 0, fmt.Errorf("%w: order book required for bid pricing", ports.ErrInvalidRequest)
		}
		return levelPrice(book.Bids, bs.OrderBookTop, book.Pair)
	}
	if t == nil || t.Ask <= 0 {
		return 0, fmt.Errorf("%w: ticker has no ask", ports.ErrInvalidRequest)
	}
	if t.Ask < t.Last {
		return t.Ask, nil
	}
	return t.Ask + bs.AskLastBalance*(t.Last-t.Ask), nil
}

// SellRate returns the rate an exit is evaluated and priced at.
func SellRate(t *ports.Ticker, book *ports.OrderBook, as config.AskStrategy) (float64, error) {
	if as.UseOrderBook {
		if book == nil {
			return 0, fmt.Errorf("%w: order book required for sell pricing", ports.ErrInvalidRequest)
		}
		return levelPrice(book.Bids, as.OrderBookMin, book.Pair)
	}
	if t == nil || t.Bid <= 0 {
		return 0, fmt.Errorf("%w: ticker has no bid", ports.ErrInvalidRequest)
	}
	return t.Bid, nil
}

// DepthOfMarket is the ratio of total bid quantity to total ask quantity.
func DepthOfMarket(book *ports.OrderBook) float64 {
	var bids, asks float64
	for _, l := range book.Bids {
		bids += l.Quantity
	}
	for _, l := range book.Asks {
		asks += l.Quantity
	}
	if asks == 0 {
		return 0
	}
	return bids / asks
}

// levelPrice returns the price of the 1-based level n.
func levelPrice(levels []ports.BookLevel, n int, pair string) (float64, error) {
	if n < 1 {
		n = 1
	}
	if len(levels) < n {
		return 0, fmt.Errorf("%w: %s book has %d levels, need %d", ports.ErrInvalidRequest, pair, len(levels), n)
	}
	return levels[n-1].Price, nil
}
