package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakeResolver_Static(t *testing.T) {
	r := NewStakeResolver(StakeConfig{StakeAmount: 0.001, MaxOpenTrades: 3}, nil)

	stake, err := r.Stake("ETH/BTC", Balances{Free: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.001, stake)

	_, err = r.Stake("ETH/BTC", Balances{Free: 0.0005})
	assert.ErrorIs(t, err, ErrNoStakeAvailable)
	assert.Equal(t, -0.1, r.StopLoss("ETH/BTC", -0.1))
}

func TestStakeResolver_Unlimited(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		open    int
		free    float64
		want    float64
		wantErr bool
	}{
		{"split over free slots", 2, 0, 0.5, 0.25, false},
		{"one slot used", 2, 1, 0.5, 0.5, false},
		{"all slots used", 2, 2, 0.5, 0, true},
		{"no slots configured", 0, 0, 0.5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStakeResolver(StakeConfig{Unlimited: true, MaxOpenTrades: tt.max}, nil)
			stake, err := r.Stake("ETH/BTC", Balances{Free: tt.free, OpenTrades: tt.open})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoStakeAvailable)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, stake, 1e-12)
		})
	}
}

func TestStakeResolver_Edge(t *testing.T) {
	e, err := NewEdge(edgeConfig(), &scriptedStrategy{}, mapSource{}, nopLogger{}, nil)
	require.NoError(t, err)
	e.cache["NEO/BTC"] = PairInfo{Pair: "NEO/BTC", StopLoss: -0.20}
	r := NewStakeResolver(StakeConfig{StakeAmount: 1}, e)

	stake, err := r.Stake("NEO/BTC", Balances{Free: 999.9, Total: 999.9})
	require.NoError(t, err)
	assert.InDelta(t, 24.9975, stake, 1e-9)
	assert.Equal(t, -0.20, r.StopLoss("NEO/BTC", -0.1))
	assert.Equal(t, -0.1, r.StopLoss("XRP/BTC", -0.1))

	_, err = r.Stake("XRP/BTC", Balances{Free: 999.9, Total: 999.9})
	assert.ErrorIs(t, err, ErrPairNotTradable)
}

func TestAmount(t *testing.T) {
	assert.InDelta(t, 90.99181073, Amount(0.001, 0.00001099), 1e-8)
	assert.Zero(t, Amount(1, 0))
}
