package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zetatrade/internal/domain"
)

func tradeOn(id int64, pair string) *domain.Trade {
	return &domain.Trade{ID: id, Pair: pair, State: domain.StateOpen}
}

func TestBook_CanOpen(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		stacking bool
		open     []string
		pair     string
		want     bool
	}{
		{"free slot", 2, false, []string{"ETH/BTC"}, "LTC/BTC", true},
		{"slots exhausted", 2, false, []string{"ETH/BTC", "XRP/BTC"}, "LTC/BTC", false},
		{"pair already open", 3, false, []string{"ETH/BTC"}, "ETH/BTC", false},
		{"stacking allows same pair", 1, true, []string{"ETH/BTC"}, "ETH/BTC", true},
		{"unlimited slots", -1, false, []string{"ETH/BTC", "XRP/BTC"}, "LTC/BTC", true},
		{"zero slots", 0, false, nil, "LTC/BTC", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(tt.max, tt.stacking)
			for i, p := range tt.open {
				b.Add(tradeOn(int64(i+1), p))
			}
			assert.Equal(t, tt.want, b.CanOpen(tt.pair, t0))
		})
	}
}

func TestBook_AddRemoveRelease(t *testing.T) {
	b := NewBook(3, false)
	a, c := tradeOn(1, "ETH/BTC"), tradeOn(2, "LTC/BTC")
	b.Add(a)
	b.Add(a)
	b.Add(c)
	b.Add(&domain.Trade{ID: 3, Pair: "X/BTC", State: domain.StateClosed})
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 1, b.FreeSlots())
	assert.Same(t, c, b.Get(2))

	a.State = domain.StateClosed
	done := b.Release()
	assert.Equal(t, []*domain.Trade{a}, done)
	assert.Equal(t, []*domain.Trade{c}, b.Trades())

	b.Remove(c)
	assert.Zero(t, b.Count())
	assert.Equal(t, -1, NewBook(1, true).FreeSlots())
}

func TestBook_PairLock(t *testing.T) {
	b := NewBook(3, false)
	until := NextCandle(t0.Add(2*time.Minute), 5*time.Minute)
	assert.Equal(t, t0.Add(5*time.Minute), until)

	b.Lock("ETH/BTC", until)
	assert.True(t, b.IsLocked("ETH/BTC", t0.Add(4*time.Minute)))
	assert.False(t, b.CanOpen("ETH/BTC", t0.Add(4*time.Minute)))
	assert.False(t, b.IsLocked("ETH/BTC", until))
	assert.True(t, b.CanOpen("ETH/BTC", until))
}
