// Package exit implements the exit decision engine shared by the live loop,
// the backtest simulator and the edge sizer.
package exit

import (
	"errors"
	"fmt"
	"math"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// ErrInvalidInput is returned for trade/candle combinations the engine cannot evaluate.
var ErrInvalidInput = errors.New("invalid exit engine input")

// Config holds the exit rules. It is read-only for the engine.
type Config struct {
	MinimalROI domain.ROITable
	StopLoss   float64 // negative ratio, e.g. -0.10

	TrailingStop                bool
	TrailingStopPositive        float64
	TrailingStopPositiveOffset  float64
	TrailingOnlyOffsetIsReached bool

	UseSellSignal        bool
	SellProfitOnly       bool
	IgnoreROIIfBuySignal bool
	// ROIUseHigh evaluates ROI against the candle high instead of the close.
	ROIUseHigh bool
}

// Input is the market data the engine sees for one evaluation.
type Input struct {
	Candle *domain.Kline
	Buy    bool
	Sell   bool
	// SignalRate is where a sell-signal exit fills, and the rate the
	// sell_profit_only gate is checked at. Zero means the candle close.
	SignalRate float64
}

// Decision is the result of one evaluation. The rate fields must be applied
// to the trade by the caller (see Apply), whether or not the trade exits.
type Decision struct {
	Exit     bool
	Reason   domain.SellReason
	Rate     float64 // suggested exit rate
	MaxRate  float64
	MinRate  float64
	StopLoss float64
	Trailing bool
}

// Engine evaluates exits. It has no side effects.
type Engine struct {
	cfg    Config
	custom ports.CustomStoplosser
}

// New creates an engine. custom may be nil.
func New(cfg Config, custom ports.CustomStoplosser) *Engine {
	return &Engine{cfg: cfg, custom: custom}
}

// NewForStrategy wires the strategy's custom stoploss when it provides one.
func NewForStrategy(cfg Config, s ports.Strategy) *Engine {
	custom, _ := s.(ports.CustomStoplosser)
	return New(cfg, custom)
}

// Config returns the rules the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// StaticStopLoss is the stop rate derived from the open rate and the trade's ratio.
func (e *Engine) StaticStopLoss(t *domain.Trade) float64 {
	return t.OpenRate * (1 + e.stopRatio(t))
}

func (e *Engine) stopRatio(t *domain.Trade) float64 {
	if t.StopLossRatio != 0 {
		return t.StopLossRatio
	}
	return e.cfg.StopLoss
}

// Evaluate runs the fixed exit order: extremes, stoploss update, stoploss hit,
// ROI, sell signal. The trade is not modified.
func (e *Engine) Evaluate(t *domain.Trade, in Input) (Decision, error) {
	if err := e.validate(t, in); err != nil {
		return Decision{}, err
	}
	c := in.Candle

	d := Decision{
		MaxRate:  math.Max(nonZero(t.MaxRate, t.OpenRate), c.High),
		MinRate:  math.Min(nonZero(t.MinRate, t.OpenRate), c.Low),
		Trailing: t.TrailingActive,
	}

	static := e.StaticStopLoss(t)
	d.StopLoss = math.Max(t.StopLoss, static)
	if candidate, ok := e.trailingStop(t, d.MaxRate); ok && candidate > d.StopLoss {
		d.StopLoss, d.Trailing = candidate, true
	}
	if candidate, ok := e.customStop(t, c); ok && candidate > d.StopLoss {
		d.StopLoss, d.Trailing = candidate, true
	}

	if c.Low <= d.StopLoss {
		d.Exit = true
		d.Reason = domain.SellReasonStopLoss
		if d.Trailing {
			d.Reason = domain.SellReasonTrailingStopLoss
		}
		d.Rate = math.Min(d.StopLoss, c.Open)
		return d, nil
	}

	profit := t.ProfitRatio(c.Close)
	if !(e.cfg.IgnoreROIIfBuySignal && in.Buy) {
		elapsed := c.OpenTime.Sub(t.OpenTime).Minutes()
		if roi, ok := e.cfg.MinimalROI.Lookup(elapsed); ok {
			if e.cfg.ROIUseHigh {
				target := math.Max(t.RateForProfit(roi), c.Open)
				if target <= c.High {
					d.Exit, d.Reason, d.Rate = true, domain.SellReasonROI, target
					return d, nil
				}
			} else if profit >= roi {
				d.Exit, d.Reason, d.Rate = true, domain.SellReasonROI, c.Close
				return d, nil
			}
		}
	}

	if e.cfg.UseSellSignal && in.Sell && !in.Buy {
		rate := nonZero(in.SignalRate, c.Close)
		if !e.cfg.SellProfitOnly || t.ProfitRatio(rate) > 0 {
			d.Exit, d.Reason, d.Rate = true, domain.SellReasonSellSignal, rate
			return d, nil
		}
	}

	return d, nil
}

// trailingStop returns the trailing candidate for the given max rate.
func (e *Engine) trailingStop(t *domain.Trade, maxRate float64) (float64, bool) {
	if !e.cfg.TrailingStop {
		return 0, false
	}
	highProfit := maxRate/t.OpenRate - 1
	offsetReached := highProfit >= e.cfg.TrailingStopPositiveOffset
	if e.cfg.TrailingOnlyOffsetIsReached && !offsetReached {
		return 0, false
	}
	distance := -e.stopRatio(t)
	if e.cfg.TrailingStopPositive > 0 && highProfit > e.cfg.TrailingStopPositiveOffset {
		distance = e.cfg.TrailingStopPositive
	}
	return maxRate * (1 - distance), true
}

func (e *Engine) customStop(t *domain.Trade, c *domain.Kline) (float64, bool) {
	if e.custom == nil {
		return 0, false
	}
	ratio, ok := e.custom.CustomStopLoss(t, c.Close, c.OpenTime)
	if !ok || ratio >= 0 {
		return 0, false
	}
	return c.Close * (1 + ratio), true
}

func (e *Engine) validate(t *domain.Trade, in Input) error {
	switch {
	case t == nil || in.Candle == nil:
		return fmt.Errorf("%w: nil trade or candle", ErrInvalidInput)
	case t.Amount <= 0:
		return fmt.Errorf("%w: trade %d amount %.8f", ErrInvalidInput, t.ID, t.Amount)
	case t.OpenRate <= 0:
		return fmt.Errorf("%w: trade %d open rate %.8f", ErrInvalidInput, t.ID, t.OpenRate)
	case in.Candle.OpenTime.Before(t.OpenTime):
		return fmt.Errorf("%w: candle %s precedes trade open %s", ErrInvalidInput,
			in.Candle.OpenTime, t.OpenTime)
	}
	if err := in.Candle.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Forced builds an exogenous exit (force sell or emergency sell) that bypasses evaluation.
func Forced(t *domain.Trade, reason domain.SellReason, rate float64) Decision {
	return Decision{
		Exit:     true,
		Reason:   reason,
		Rate:     rate,
		MaxRate:  t.MaxRate,
		MinRate:  t.MinRate,
		StopLoss: t.StopLoss,
		Trailing: t.TrailingActive,
	}
}

// Apply writes the tracked rates of a decision back onto the trade.
// The stop never moves down.
func Apply(t *domain.Trade, d Decision) {
	t.MaxRate = math.Max(t.MaxRate, d.MaxRate)
	if t.MinRate == 0 || (d.MinRate > 0 && d.MinRate < t.MinRate) {
		t.MinRate = d.MinRate
	}
	if d.StopLoss > t.StopLoss {
		t.StopLoss = d.StopLoss
		t.TrailingActive = d.Trailing
	}
}

func nonZero(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
