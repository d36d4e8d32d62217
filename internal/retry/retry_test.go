package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/ports"
)

func noSleep(p *Policy, waits *[]time.Duration) *Policy {
	return p.WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestPolicy_RetriesRecoverable(t *testing.T) {
	var waits []time.Duration
	p := noSleep(New(Config{MaxAttempts: 4, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, nil), &waits)

	calls := 0
	err := p.Do(context.Background(), "fetch_order", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("binance: %w", ports.ErrRateLimited)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestPolicy_ExhaustsBudget(t *testing.T) {
	var waits []time.Duration
	var observed []int
	p := noSleep(New(Config{MaxAttempts: 3}, nil), &waits).WithObserver(func(op string, attempt int, err error) {
		observed = append(observed, attempt)
	})

	calls := 0
	err := p.Do(context.Background(), "create_order", func(context.Context) error {
		calls++
		return ports.ErrConnectionFailed
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, observed)
}

func TestPolicy_FatalNotRetried(t *testing.T) {
	var waits []time.Duration
	p := noSleep(New(Config{MaxAttempts: 5}, nil), &waits)

	calls := 0
	err := p.Do(context.Background(), "create_order", func(context.Context) error {
		calls++
		return ports.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(Config{MaxAttempts: 3, MinBackoff: time.Hour, MaxBackoff: time.Hour}, nil)

	err := p.Do(ctx, "cancel_order", func(context.Context) error { return ports.ErrTimeout })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValue(t *testing.T) {
	var waits []time.Duration
	p := noSleep(New(Config{}, nil), &waits)

	calls := 0
	v, err := Value(context.Background(), p, "fetch_ticker", func(context.Context) (float64, error) {
		calls++
		if calls == 1 {
			return 0, ports.ErrExchangeUnavailable
		}
		return 42.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)

	_, err = Value(context.Background(), p, "fetch_ticker", func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}
