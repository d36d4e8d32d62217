package ports

import (
	"context"

	"zetatrade/internal/domain"
)

// TradeFilter narrows FindTrades. Zero values match everything.
type TradeFilter struct {
	Pair string
	Open *bool
}

// TradeRepository stores trades and their orders. History is never deleted.
type TradeRepository interface {
	// SaveTrade inserts a new trade (assigning its ID) or updates an existing one,
	// together with its orders.
	SaveTrade(ctx context.Context, trade *domain.Trade) error
	// GetTrade retrieves a trade by ID. Returns nil, nil if not found.
	GetTrade(ctx context.Context, id int64) (*domain.Trade, error)
	// FindTrades returns trades matching the filter ordered by open time.
	FindTrades(ctx context.Context, filter TradeFilter) ([]*domain.Trade, error)
	// OpenTrades returns all trades that are not closed or cancelled.
	OpenTrades(ctx context.Context) ([]*domain.Trade, error)
}
