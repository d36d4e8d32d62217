// Package pairlist decides which pairs the bot may enter: a static whitelist
// or the top pairs by 24h volume, minus the blacklist and anything the venue
// does not list as an active market in the stake currency.
package pairlist

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"zetatrade/internal/ports"
)

const (
	MethodStatic = "StaticPairList"
	MethodVolume = "VolumePairList"

	SortQuoteVolume = "quoteVolume"
	SortBidVolume   = "bidVolume"
	SortAskVolume   = "askVolume"
)

// Methods lists the known pair list methods.
func Methods() []string { return []string{MethodStatic, MethodVolume} }

// Config configures a PairList.
type Config struct {
	Method        string
	StakeCurrency string
	Whitelist     []string // the static list; ignored by the volume method
	Blacklist     []string
	NumberAssets  int    // volume method only
	SortKey       string // volume method only, defaults to quoteVolume
	// RefreshPeriod is how long a refreshed list is kept. Zero refreshes on every call.
	RefreshPeriod time.Duration
}

// Validate checks the settings that do not need the venue.
func (c Config) Validate() error {
	switch c.Method {
	case MethodStatic:
	case MethodVolume:
		if c.NumberAssets <= 0 {
			return fmt.Errorf("%w: `number_assets` not specified for %s (pairlist.config.number_assets)",
				ports.ErrConfigurationError, MethodVolume)
		}
		switch c.sortKey() {
		case SortQuoteVolume, SortBidVolume, SortAskVolume:
		default:
			return fmt.Errorf("%w: unknown pairlist sort key %q", ports.ErrConfigurationError, c.SortKey)
		}
	default:
		return fmt.Errorf("%w: unknown pairlist method %q (known: %v)", ports.ErrConfigurationError, c.Method, Methods())
	}
	if c.StakeCurrency == "" {
		return fmt.Errorf("%w: pairlist needs the stake currency", ports.ErrConfigurationError)
	}
	return nil
}

func (c Config) sortKey() string {
	if c.SortKey == "" {
		return SortQuoteVolume
	}
	return c.SortKey
}

// PairList holds the current tradable whitelist. It is safe for concurrent use.
type PairList struct {
	cfg     Config
	markets ports.MarketLister
	logger  ports.Logger
	now     func() time.Time

	mu        sync.Mutex
	whitelist []string
	refreshed time.Time
}

// New creates a pair list. markets may be nil for the static method, in which
// case only the blacklist is applied. clock may be nil.
func New(cfg Config, markets ports.MarketLister, logger ports.Logger, clock func() time.Time) (*PairList, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for pairlist")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Method == MethodVolume && markets == nil {
		return nil, fmt.Errorf("%w: %s needs market data from the exchange", ports.ErrConfigurationError, MethodVolume)
	}
	if clock == nil {
		clock = time.Now
	}
	p := &PairList{cfg: cfg, markets: markets, logger: logger, now: clock}
	p.whitelist = p.removeBlacklisted(context.Background(), cfg.Whitelist)
	return p, nil
}

// Name is the configured method.
func (p *PairList) Name() string { return p.cfg.Method }

// ShortDesc describes the list for status messages.
func (p *PairList) ShortDesc() string {
	if p.cfg.Method == MethodVolume {
		return fmt.Sprintf("%s - top %d volume pairs.", p.cfg.Method, p.cfg.NumberAssets)
	}
	return p.cfg.Method + "."
}

// Whitelist returns a copy of the current whitelist.
func (p *PairList) Whitelist() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.whitelist)
}

// Blacklist returns a copy of the configured blacklist.
func (p *PairList) Blacklist() []string { return slices.Clone(p.cfg.Blacklist) }

// Refresh rebuilds the whitelist unless the last refresh is younger than the
// refresh period. It reports whether a refresh ran. On error the previous
// whitelist is kept.
func (p *PairList) Refresh(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.refreshed.IsZero() && now.Sub(p.refreshed) < p.cfg.RefreshPeriod {
		return false, nil
	}

	var list []string
	var err error
	if p.cfg.Method == MethodVolume {
		list, err = p.byVolume(ctx)
	} else {
		list, err = p.validate(ctx, p.cfg.Whitelist)
	}
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", p.cfg.Method, err)
	}
	if !slices.Equal(list, p.whitelist) {
		p.logger.Info(ctx, "Whitelist refreshed", map[string]interface{}{"method": p.cfg.Method, "whitelist": list})
	}
	p.whitelist = list
	p.refreshed = now
	return true, nil
}

// byVolume ranks the stake currency's pairs by the sort key and keeps the
// top NumberAssets valid ones.
func (p *PairList) byVolume(ctx context.Context) ([]string, error) {
	markets, err := p.markets.Markets(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := p.markets.Tickers24h(ctx)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]ports.Market, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}

	type ranked struct {
		pair   string
		volume float64
	}
	var candidates []ranked
	for _, s := range stats {
		m, ok := bySymbol[s.Symbol]
		if !ok || !strings.EqualFold(m.Quote, p.cfg.StakeCurrency) {
			continue
		}
		candidates = append(candidates, ranked{pair: m.Pair, volume: p.volume(s)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].volume > candidates[j].volume })

	pairs := make([]string, len(candidates))
	for i, c := range candidates {
		pairs[i] = c.pair
	}
	pairs = p.validateAgainst(ctx, pairs, markets)
	if len(pairs) > p.cfg.NumberAssets {
		pairs = pairs[:p.cfg.NumberAssets]
	}
	return pairs, nil
}

func (p *PairList) volume(s ports.TickerStats) float64 {
	switch p.cfg.sortKey() {
	case SortBidVolume:
		return s.BidVolume
	case SortAskVolume:
		return s.AskVolume
	default:
		return s.QuoteVolume
	}
}

// validate drops blacklisted pairs and, when the venue is known, pairs that
// are not active markets in the stake currency.
func (p *PairList) validate(ctx context.Context, pairs []string) ([]string, error) {
	if p.markets == nil {
		return p.removeBlacklisted(ctx, pairs), nil
	}
	markets, err := p.markets.Markets(ctx)
	if err != nil {
		return nil, err
	}
	return p.validateAgainst(ctx, pairs, markets), nil
}

func (p *PairList) validateAgainst(ctx context.Context, pairs []string, markets []ports.Market) []string {
	byPair := make(map[string]ports.Market, len(markets))
	for _, m := range markets {
		byPair[m.Pair] = m
	}
	out := make([]string, 0, len(pairs))
	for _, pair := range p.removeBlacklisted(ctx, pairs) {
		m, ok := byPair[pair]
		switch {
		case !ok || !strings.EqualFold(m.Quote, p.cfg.StakeCurrency):
			p.logger.Warn(ctx, "Pair is not compatible with exchange or stake currency, removing it from whitelist",
				map[string]interface{}{"pair": pair, "stakeCurrency": p.cfg.StakeCurrency})
		case !m.Active:
			p.logger.Info(ctx, "Market is not active, removing pair from whitelist", map[string]interface{}{"pair": pair})
		default:
			out = append(out, pair)
		}
	}
	return out
}

func (p *PairList) removeBlacklisted(ctx context.Context, pairs []string) []string {
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if slices.Contains(p.cfg.Blacklist, pair) {
			p.logger.Debug(ctx, "Pair is blacklisted", map[string]interface{}{"pair": pair})
			continue
		}
		if !slices.Contains(out, pair) {
			out = append(out, pair)
		}
	}
	return out
}
