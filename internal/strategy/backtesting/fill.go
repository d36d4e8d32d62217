package backtesting

import "zetatrade/internal/domain"

// FillModel turns a reference price into the simulated fill price.
type FillModel interface {
	Price(side domain.OrderSide, reference float64) float64
}

// NextOpen fills at the reference price, which is the next candle's open for entries.
type NextOpen struct{}

// Price implements FillModel.
func (NextOpen) Price(_ domain.OrderSide, reference float64) float64 { return reference }

// OrderBookDepth approximates walking the book: buys pay BasisPoints above the
// reference and sells receive BasisPoints below it.
type OrderBookDepth struct {
	BasisPoints float64
}

// Price implements FillModel.
func (m OrderBookDepth) Price(side domain.OrderSide, reference float64) float64 {
	slip := m.BasisPoints / 10000
	if side == domain.Buy {
		return reference * (1 + slip)
	}
	return reference * (1 - slip)
}
