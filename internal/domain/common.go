package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType is the execution type requested from the venue.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus is the lifecycle status of a single order.
// A partially filled order stays pending until it is filled or cancelled.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further events can change the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// SellReason indicates why a trade was exited.
type SellReason string

const (
	SellReasonNone             SellReason = ""
	SellReasonROI              SellReason = "roi"
	SellReasonStopLoss         SellReason = "stop_loss"
	SellReasonTrailingStopLoss SellReason = "trailing_stop_loss"
	SellReasonSellSignal       SellReason = "sell_signal"
	SellReasonForceSell        SellReason = "force_sell"
	SellReasonEmergencySell    SellReason = "emergency_sell"
)

// IsStopLoss reports whether the reason came from a stop (static or trailing).
func (r SellReason) IsStopLoss() bool {
	return r == SellReasonStopLoss || r == SellReasonTrailingStopLoss
}
