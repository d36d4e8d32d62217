package risk

import (
	"errors"
	"fmt"
	"math"
)

// StakeUnlimited is the stake_amount value that splits the free balance over free slots.
const StakeUnlimited = "unlimited"

// ErrNoStakeAvailable is returned when no stake can be allocated for a new trade.
var ErrNoStakeAvailable = errors.New("no stake amount available")

// StakeConfig holds the static sizing rules.
type StakeConfig struct {
	StakeAmount   float64 // fixed stake; ignored when Unlimited
	Unlimited     bool
	MaxOpenTrades int
}

// Balances is the capital picture at the moment of sizing.
type Balances struct {
	Free       float64 // free stake currency
	Total      float64 // free plus locked in orders
	InTrades   float64 // stake currently held in open trades
	OpenTrades int
}

// StakeResolver chooses the stake for a new trade: edge sizing when an edge
// is configured, otherwise the static or unlimited stake.
type StakeResolver struct {
	cfg  StakeConfig
	edge *Edge
}

// NewStakeResolver creates a resolver. edge may be nil.
func NewStakeResolver(cfg StakeConfig, edge *Edge) *StakeResolver {
	return &StakeResolver{cfg: cfg, edge: edge}
}

// Edge returns the configured edge sizer, or nil.
func (r *StakeResolver) Edge() *Edge { return r.edge }

// Stake returns the stake amount for a new trade on pair.
func (r *StakeResolver) Stake(pair string, b Balances) (float64, error) {
	if r.edge != nil {
		stake, err := r.edge.StakeAmount(pair, b.Free, b.Total, b.InTrades)
		if err != nil {
			return 0, err
		}
		if stake <= 0 {
			return 0, ErrNoStakeAvailable
		}
		return stake, nil
	}

	if r.cfg.Unlimited {
		free := r.cfg.MaxOpenTrades - b.OpenTrades
		if r.cfg.MaxOpenTrades <= 0 || free <= 0 {
			return 0, fmt.Errorf("%w: %d of %d slots used", ErrNoStakeAvailable, b.OpenTrades, r.cfg.MaxOpenTrades)
		}
		return b.Free / float64(free), nil
	}

	if b.Free < r.cfg.StakeAmount {
		return 0, fmt.Errorf("%w: free balance %.8f below stake %.8f", ErrNoStakeAvailable, b.Free, r.cfg.StakeAmount)
	}
	return r.cfg.StakeAmount, nil
}

// StopLoss returns the edge stoploss for pair, or fallback when edge is off.
func (r *StakeResolver) StopLoss(pair string, fallback float64) float64 {
	if r.edge == nil {
		return fallback
	}
	if sl, ok := r.edge.StopLoss(pair); ok {
		return sl
	}
	return fallback
}

// Amount converts a stake into a base-currency amount at rate.
func Amount(stake, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return math.Max(stake/rate, 0)
}
