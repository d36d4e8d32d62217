// Package strategies selects the signal producer the bot and the tools run with.
package strategies

import (
	"fmt"

	"zetatrade/internal/ports"
	"zetatrade/internal/strategy"
)

// Strategy names accepted in configuration.
const (
	NameTrend     = "ma_rsi_trend"
	NameCrossover = "ma_crossover"
)

// Config names a strategy and carries the parameters of every known one.
type Config struct {
	Name      string
	Trend     strategy.Config
	Crossover MACrossoverConfig
}

// Names lists the strategies New can build.
func Names() []string {
	return []string{NameTrend, NameCrossover}
}

// New builds the named strategy. An empty name selects the trend strategy.
func New(cfg Config, logger ports.Logger) (ports.Strategy, error) {
	switch cfg.Name {
	case "", NameTrend:
		s, err := strategy.New(cfg.Trend, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case NameCrossover:
		s, err := NewMACrossover(cfg.Crossover, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (known: %v)", cfg.Name, Names())
	}
}
