package domain

import "time"

// TradeState is the lifecycle state of a trade.
type TradeState string

const (
	StatePendingOpen  TradeState = "PENDING_OPEN"
	StateOpen         TradeState = "OPEN"
	StatePendingClose TradeState = "PENDING_CLOSE"
	StateClosed       TradeState = "CLOSED"
	StateCancelled    TradeState = "CANCELLED"
)

// IsTerminal reports whether the state accepts no further transitions.
func (s TradeState) IsTerminal() bool {
	return s == StateClosed || s == StateCancelled
}

// Trade is one position on a pair, from buy submission until it is closed or cancelled.
type Trade struct {
	ID             int64
	Pair           string
	Strategy       string
	State          TradeState
	OpenRate       float64
	Amount         float64
	StakeAmount    float64
	FeeOpen        float64
	FeeClose       float64
	OpenTime       time.Time
	CloseTime      time.Time // zero value while open
	CloseRate      float64
	CloseProfit    float64 // fee-adjusted profit ratio at close
	CloseProfitAbs float64 // fee-adjusted profit in stake currency at close
	RealizedProfit float64 // fee-adjusted profit of amounts sold by cancelled partial sells

	StopLoss        float64 // current stoploss rate
	InitialStopLoss float64 // static stoploss rate derived from StopLossRatio
	StopLossRatio   float64 // negative ratio the stop was derived from
	TrailingActive  bool    // stop has been raised by a trailing or custom update
	MaxRate         float64
	MinRate         float64

	SellReason  SellReason
	OpenOrderID string
	Orders      []*Order
}

// IsOpen reports whether the trade still holds (or is acquiring) a position.
func (t *Trade) IsOpen() bool {
	return !t.State.IsTerminal()
}

// Order returns the order with the given id, or nil.
func (t *Trade) Order(id string) *Order {
	for _, o := range t.Orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// PendingOrder returns the single non-terminal order, if any.
func (t *Trade) PendingOrder() *Order {
	for _, o := range t.Orders {
		if !o.Status.IsTerminal() {
			return o
		}
	}
	return nil
}

// LastOrder returns the most recent order for the given side, or nil.
func (t *Trade) LastOrder(side OrderSide) *Order {
	for i := len(t.Orders) - 1; i >= 0; i-- {
		if t.Orders[i].Side == side {
			return t.Orders[i]
		}
	}
	return nil
}

// OpenValue is the amount paid to open the trade, including the open fee.
func (t *Trade) OpenValue() float64 {
	v := t.Amount * t.OpenRate
	return v + v*t.FeeOpen
}

// CloseValue is the amount received when selling at rate, net of the close fee.
func (t *Trade) CloseValue(rate float64) float64 {
	v := t.Amount * rate
	return v - v*t.FeeClose
}

// ProfitRatio is the fee-adjusted profit ratio if the trade were sold at rate.
func (t *Trade) ProfitRatio(rate float64) float64 {
	open := t.OpenValue()
	if open == 0 {
		return 0
	}
	return t.CloseValue(rate)/open - 1
}

// ProfitAbs is the fee-adjusted absolute profit if the trade were sold at rate.
func (t *Trade) ProfitAbs(rate float64) float64 {
	return t.CloseValue(rate) - t.OpenValue()
}

// PartialProfitAbs is the fee-adjusted profit of selling amount of the
// position at rate.
func (t *Trade) PartialProfitAbs(amount, rate float64) float64 {
	open := amount * t.OpenRate
	sold := amount * rate
	return (sold - sold*t.FeeClose) - (open + open*t.FeeOpen)
}

// EntryValue is what the whole filled entry cost including the open fee,
// before any partial sells shrank the position.
func (t *Trade) EntryValue() float64 {
	if buy := t.LastOrder(Buy); buy != nil && buy.Filled > 0 {
		v := buy.Filled * buy.FillPrice()
		return v + v*t.FeeOpen
	}
	return t.OpenValue()
}

// RateForProfit returns the sell rate that yields exactly the given profit ratio.
func (t *Trade) RateForProfit(ratio float64) float64 {
	if t.Amount == 0 || t.FeeClose >= 1 {
		return 0
	}
	return (1 + ratio) * t.OpenValue() / (t.Amount * (1 - t.FeeClose))
}

// Duration is the holding time; zero for trades that are still open.
func (t *Trade) Duration() time.Duration {
	if t.CloseTime.IsZero() {
		return 0
	}
	return t.CloseTime.Sub(t.OpenTime)
}

// Clone returns a deep copy, so callers can hand out snapshots safely.
func (t *Trade) Clone() *Trade {
	c := *t
	c.Orders = make([]*Order, len(t.Orders))
	for i, o := range t.Orders {
		oc := *o
		c.Orders[i] = &oc
	}
	return &c
}
