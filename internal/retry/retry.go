// Package retry wraps venue calls in a bounded retry with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"zetatrade/internal/ports"
)

const (
	defaultMaxAttempts = 3
	defaultMinBackoff  = 200 * time.Millisecond
	defaultMaxBackoff  = 3 * time.Second
	defaultFactor      = 2.0
)

// ErrRetriesExhausted is wrapped around the last error once the attempt budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config encapsulates the attempt budget and backoff schedule.
type Config struct {
	MaxAttempts int // total attempts including the first
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Factor      float64
	Jitter      bool
}

// Observer is notified before each retry. It is optional.
type Observer func(op string, attempt int, err error)

// Policy executes operations, retrying only recoverable errors.
type Policy struct {
	cfg      Config
	logger   ports.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a policy with sane defaults. logger may be nil.
func New(cfg Config, logger ports.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.Factor <= 1 {
		cfg.Factor = defaultFactor
	}
	return &Policy{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// WithObserver returns a copy of p that reports retries to fn.
func (p *Policy) WithObserver(fn Observer) *Policy {
	c := *p
	c.observer = fn
	return &c
}

// WithSleep returns a copy of p using fn to wait between attempts. Tests use it
// to avoid real delays.
func (p *Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Policy {
	c := *p
	c.sleep = fn
	return &c
}

// Do executes fn until it succeeds, fails with a non-recoverable error, or
// the attempt budget is spent.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    p.cfg.MinBackoff,
		Max:    p.cfg.MaxBackoff,
		Factor: p.cfg.Factor,
		Jitter: p.cfg.Jitter,
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !ports.IsRecoverable(err) {
			return err
		}
		if attempt >= p.cfg.MaxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, attempt, err)
		}

		wait := b.Duration()
		if p.observer != nil {
			p.observer(op, attempt, err)
		}
		if p.logger != nil {
			p.logger.Warn(ctx, "Retrying after recoverable error", map[string]interface{}{
				"op": op, "attempt": attempt, "backoff": wait.String(), "error": err.Error(),
			})
		}
		if serr := p.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w", op, serr)
		}
	}
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
