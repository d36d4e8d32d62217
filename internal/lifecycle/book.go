package lifecycle

import (
	"time"

	"zetatrade/internal/domain"
)

// Book is the state shared by every operation of one executor: the open
// trades, the slot limit and the pair locks. The live loop and the simulator
// each own one and pass it explicitly.
type Book struct {
	maxOpenTrades int // negative means unlimited
	stacking      bool

	trades []*domain.Trade // insertion order
	locks  map[string]time.Time
}

// NewBook creates an empty book. maxOpenTrades < 0 disables the slot limit.
func NewBook(maxOpenTrades int, positionStacking bool) *Book {
	return &Book{
		maxOpenTrades: maxOpenTrades,
		stacking:      positionStacking,
		locks:         make(map[string]time.Time),
	}
}

// MaxOpenTrades returns the slot limit.
func (b *Book) MaxOpenTrades() int { return b.maxOpenTrades }

// SetLimits replaces the slot configuration, e.g. after a config reload.
func (b *Book) SetLimits(maxOpenTrades int, positionStacking bool) {
	b.maxOpenTrades = maxOpenTrades
	b.stacking = positionStacking
}

// Count is the number of trades currently occupying a slot.
func (b *Book) Count() int { return len(b.trades) }

// FreeSlots is the number of entries still admitted; -1 when unlimited.
func (b *Book) FreeSlots() int {
	if b.stacking || b.maxOpenTrades < 0 {
		return -1
	}
	if free := b.maxOpenTrades - len(b.trades); free > 0 {
		return free
	}
	return 0
}

// CanOpen applies admission control for a new trade on pair at now.
func (b *Book) CanOpen(pair string, now time.Time) bool {
	if b.IsLocked(pair, now) {
		return false
	}
	if b.stacking {
		return true
	}
	if b.maxOpenTrades >= 0 && len(b.trades) >= b.maxOpenTrades {
		return false
	}
	return !b.HasPair(pair)
}

// HasPair reports whether any tracked trade is on pair.
func (b *Book) HasPair(pair string) bool {
	for _, t := range b.trades {
		if t.Pair == pair {
			return true
		}
	}
	return false
}

// Add starts tracking a trade. Terminal trades are ignored.
func (b *Book) Add(t *domain.Trade) {
	if t.State.IsTerminal() {
		return
	}
	if t.ID != 0 && b.Get(t.ID) != nil {
		return
	}
	b.trades = append(b.trades, t)
}

// Remove stops tracking the trade.
func (b *Book) Remove(t *domain.Trade) {
	for i, cur := range b.trades {
		if cur == t {
			b.trades = append(b.trades[:i], b.trades[i+1:]...)
			return
		}
	}
}

// Release drops every terminal trade and returns them.
func (b *Book) Release() []*domain.Trade {
	var done []*domain.Trade
	kept := b.trades[:0]
	for _, t := range b.trades {
		if t.State.IsTerminal() {
			done = append(done, t)
			continue
		}
		kept = append(kept, t)
	}
	b.trades = kept
	return done
}

// Get returns the tracked trade with id, or nil.
func (b *Book) Get(id int64) *domain.Trade {
	for _, t := range b.trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Trades returns the tracked trades in insertion order. The slice is a copy.
func (b *Book) Trades() []*domain.Trade {
	out := make([]*domain.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// InState returns tracked trades in the given state.
func (b *Book) InState(state domain.TradeState) []*domain.Trade {
	var out []*domain.Trade
	for _, t := range b.trades {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out
}

// Lock blocks new entries on pair until the given time.
func (b *Book) Lock(pair string, until time.Time) {
	if cur, ok := b.locks[pair]; !ok || until.After(cur) {
		b.locks[pair] = until
	}
}

// IsLocked reports whether pair is locked at now.
func (b *Book) IsLocked(pair string, now time.Time) bool {
	until, ok := b.locks[pair]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(b.locks, pair)
		return false
	}
	return true
}

// NextCandle returns the start of the candle following the one containing at.
func NextCandle(at time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return at
	}
	return at.Truncate(interval).Add(interval)
}
