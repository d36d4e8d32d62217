// Package lifecycle advances trades through their states in response to order
// events, and tracks the open trades shared by the live loop and the simulator.
//
// Nothing in this package locks; callers guarantee a single writer per trade.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"zetatrade/internal/domain"
)

var (
	// ErrIllegalTransition is returned when an event does not apply to the trade's state.
	ErrIllegalTransition = errors.New("illegal trade state transition")
	// ErrUnknownOrder is returned for events referencing an order the trade does not own.
	ErrUnknownOrder = errors.New("order does not belong to trade")
	// ErrOrderPending is returned when a second order would be attached while one is pending.
	ErrOrderPending = errors.New("trade already has a pending order")
)

// EventKind is the kind of order event driving a transition.
type EventKind string

const (
	EventSubmitted       EventKind = "submitted"
	EventPartiallyFilled EventKind = "partially_filled"
	EventFilled          EventKind = "filled"
	EventCancelled       EventKind = "cancelled"
	EventTimedOut        EventKind = "timed_out"
)

// Event reports what happened to one order.
type Event struct {
	Kind    EventKind
	OrderID string
	Filled  float64 // cumulative filled amount reported by the venue
	Price   float64 // average fill price, 0 to keep the order's price
	Time    time.Time
}

type transitionFunc func(t *domain.Trade, o *domain.Order, ev Event) error

type key struct {
	state domain.TradeState
	side  domain.OrderSide
	kind  EventKind
}

// transitions is the full table. Any (state, side, event) not listed is illegal.
var transitions = map[key]transitionFunc{
	{domain.StatePendingOpen, domain.Buy, EventPartiallyFilled}: partialFill,
	{domain.StatePendingOpen, domain.Buy, EventFilled}:          buyFilled,
	{domain.StatePendingOpen, domain.Buy, EventCancelled}:       buyCancelled,
	{domain.StatePendingOpen, domain.Buy, EventTimedOut}:        buyCancelled,

	{domain.StatePendingClose, domain.Sell, EventPartiallyFilled}: partialFill,
	{domain.StatePendingClose, domain.Sell, EventFilled}:          sellFilled,
	{domain.StatePendingClose, domain.Sell, EventCancelled}:       sellCancelled,
	{domain.StatePendingClose, domain.Sell, EventTimedOut}:        sellCancelled,
}

// Params are the entry settings of a new trade.
type Params struct {
	Pair          string
	Strategy      string
	StakeAmount   float64
	FeeOpen       float64
	FeeClose      float64
	StopLossRatio float64
}

// Open creates a PENDING_OPEN trade owning the submitted buy order.
func Open(p Params, buy *domain.Order, at time.Time) (*domain.Trade, error) {
	if buy == nil || buy.Side != domain.Buy {
		return nil, fmt.Errorf("%w: opening order must be a buy", ErrIllegalTransition)
	}
	if buy.Amount <= 0 || buy.FillPrice() <= 0 {
		return nil, fmt.Errorf("%w: opening order has no amount or price", ErrIllegalTransition)
	}
	t := &domain.Trade{
		Pair:          p.Pair,
		Strategy:      p.Strategy,
		State:         domain.StatePendingOpen,
		OpenRate:      buy.FillPrice(),
		Amount:        buy.Amount,
		StakeAmount:   p.StakeAmount,
		FeeOpen:       p.FeeOpen,
		FeeClose:      p.FeeClose,
		OpenTime:      at,
		StopLossRatio: p.StopLossRatio,
		OpenOrderID:   buy.ID,
	}
	initStops(t)
	o := *buy
	o.Status = domain.OrderPending
	t.Orders = append(t.Orders, &o)
	return t, nil
}

// RequestClose moves an OPEN trade to PENDING_CLOSE with the submitted sell order.
func RequestClose(t *domain.Trade, sell *domain.Order, reason domain.SellReason) error {
	if t.State != domain.StateOpen {
		return fmt.Errorf("%w: cannot close trade %d in state %s", ErrIllegalTransition, t.ID, t.State)
	}
	if sell == nil || sell.Side != domain.Sell {
		return fmt.Errorf("%w: closing order must be a sell", ErrIllegalTransition)
	}
	if t.PendingOrder() != nil {
		return ErrOrderPending
	}
	o := *sell
	o.TradeID = t.ID
	o.Status = domain.OrderPending
	t.Orders = append(t.Orders, &o)
	t.OpenOrderID = o.ID
	t.SellReason = reason
	t.State = domain.StatePendingClose
	return nil
}

// Apply advances the trade with an order event. Events for orders that are
// already filled or cancelled are ignored and changed is false.
func Apply(t *domain.Trade, ev Event) (changed bool, err error) {
	o := t.Order(ev.OrderID)
	if o == nil {
		return false, fmt.Errorf("%w: trade %d order %s", ErrUnknownOrder, t.ID, ev.OrderID)
	}
	if o.Status.IsTerminal() {
		return false, nil
	}
	if ev.Kind == EventSubmitted {
		return false, nil
	}
	fn, ok := transitions[key{t.State, o.Side, ev.Kind}]
	if !ok {
		return false, fmt.Errorf("%w: %s %s order event %s in state %s",
			ErrIllegalTransition, t.Pair, o.Side, ev.Kind, t.State)
	}
	if err := fn(t, o, ev); err != nil {
		return false, err
	}
	o.UpdatedAt = ev.Time
	return true, nil
}

func recordFill(o *domain.Order, ev Event) {
	if ev.Filled > o.Filled {
		o.Filled = ev.Filled
	}
	if ev.Price > 0 {
		o.AvgPrice = ev.Price
	}
}

func partialFill(_ *domain.Trade, o *domain.Order, ev Event) error {
	recordFill(o, ev)
	return nil
}

func buyFilled(t *domain.Trade, o *domain.Order, ev Event) error {
	recordFill(o, ev)
	if o.Filled <= 0 {
		o.Filled = o.Amount
	}
	o.Status = domain.OrderFilled
	openWith(t, o)
	return nil
}

func buyCancelled(t *domain.Trade, o *domain.Order, ev Event) error {
	recordFill(o, ev)
	o.Status = domain.OrderCancelled
	t.OpenOrderID = ""
	if o.Filled > 0 {
		openWith(t, o)
		return nil
	}
	t.State = domain.StateCancelled
	t.CloseTime = ev.Time
	return nil
}

// openWith makes the filled amount authoritative and resets the tracked rates.
func openWith(t *domain.Trade, o *domain.Order) {
	t.Amount = o.Filled
	t.OpenRate = o.FillPrice()
	t.StakeAmount = t.Amount * t.OpenRate
	t.OpenOrderID = ""
	t.State = domain.StateOpen
	initStops(t)
}

func initStops(t *domain.Trade) {
	t.MaxRate = t.OpenRate
	t.MinRate = t.OpenRate
	t.TrailingActive = false
	if t.StopLossRatio != 0 {
		t.InitialStopLoss = t.OpenRate * (1 + t.StopLossRatio)
		t.StopLoss = t.InitialStopLoss
	}
}

func sellFilled(t *domain.Trade, o *domain.Order, ev Event) error {
	recordFill(o, ev)
	if o.Filled <= 0 {
		o.Filled = o.Amount
	}
	o.Status = domain.OrderFilled
	rate := o.FillPrice()
	t.CloseRate = rate
	t.CloseTime = ev.Time
	t.CloseProfitAbs = t.ProfitAbs(rate) + t.RealizedProfit
	t.CloseProfit = t.ProfitRatio(rate)
	if t.RealizedProfit != 0 {
		if entry := t.EntryValue(); entry > 0 {
			t.CloseProfit = t.CloseProfitAbs / entry
		}
	}
	t.OpenOrderID = ""
	t.State = domain.StateClosed
	return nil
}

func sellCancelled(t *domain.Trade, o *domain.Order, ev Event) error {
	recordFill(o, ev)
	o.Status = domain.OrderCancelled
	if o.Filled > 0 && o.Filled < t.Amount {
		t.RealizedProfit += t.PartialProfitAbs(o.Filled, o.FillPrice())
		t.StakeAmount *= (t.Amount - o.Filled) / t.Amount
		t.Amount -= o.Filled
	}
	// SellReason keeps the failed attempt's reason for the caller's fallback.
	t.OpenOrderID = ""
	t.State = domain.StateOpen
	return nil
}
