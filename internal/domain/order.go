package domain

import "time"

// Order is a single venue order belonging to a trade.
// It is created by the executor and mutated only by fill or cancel events.
type Order struct {
	ID        string
	ClientID  string // caller-chosen id, stable across submission retries
	TradeID   int64
	Pair      string
	Side      OrderSide
	Type      OrderType
	Status    OrderStatus
	Price     float64 // Requested price (0 for market orders)
	Amount    float64 // Requested amount
	Filled    float64 // Filled amount so far
	AvgPrice  float64 // Average fill price, 0 when nothing filled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is the unfilled part of the requested amount.
func (o *Order) Remaining() float64 {
	if o.Filled >= o.Amount {
		return 0
	}
	return o.Amount - o.Filled
}

// FillPrice returns the average fill price, falling back to the requested price.
func (o *Order) FillPrice() float64 {
	if o.AvgPrice > 0 {
		return o.AvgPrice
	}
	return o.Price
}
