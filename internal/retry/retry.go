// Package retry wraps call invocation in an explicit per-call state
// machine: flood waits are honored in full, datacenter redirects follow
// the server up to a hop bound, and disconnects reconnect under
// exponential backoff. Every other failure is terminal and surfaces
// unchanged.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nexgram/nexgram/internal/metrics"
	"github.com/nexgram/nexgram/internal/session"
	"github.com/nexgram/nexgram/pkg/tl"
)

// Invoker submits one call on an established connection.
type Invoker interface {
	Invoke(ctx context.Context, req tl.Object) ([]byte, error)
}

// Pool supplies invokers per datacenter. The retry controller never
// dials; it asks the pool and the pool owns connection lifecycle.
type Pool interface {
	// Invoker returns the invoker for the current datacenter,
	// establishing the connection if needed.
	Invoker(ctx context.Context) (Invoker, error)

	// MigrateTo makes dc the current datacenter and returns its invoker.
	MigrateTo(ctx context.Context, dc int) (Invoker, error)
}

// Config tunes the controller. Zero values select the defaults.
type Config struct {
	// MaxRedirects bounds datacenter hops per call.
	MaxRedirects int

	// MaxAttempts bounds reconnect attempts per call after disconnects.
	MaxAttempts int

	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	Logger *slog.Logger

	// Sleep is replaceable for tests. It must honor ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Controller drives calls to completion through the pool.
type Controller struct {
	cfg    Config
	pool   Pool
	logger *slog.Logger
}

// NewController creates a controller over pool.
func NewController(pool Pool, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:    cfg,
		pool:   pool,
		logger: cfg.Logger.With("component", "retry"),
	}
}

// Do invokes req until it resolves, fails terminally, or ctx ends.
func (c *Controller) Do(ctx context.Context, req tl.Object) ([]byte, error) {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.InitialInterval,
		RandomizationFactor: 0.2,
		Multiplier:          c.cfg.Multiplier,
		MaxInterval:         c.cfg.MaxInterval,
	}

	redirects := 0
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inv, err := c.pool.Invoker(ctx)
		if err != nil {
			attempts++
			if retryErr := c.waitReconnect(ctx, bo, attempts, err); retryErr != nil {
				return nil, retryErr
			}
			continue
		}

		data, err := inv.Invoke(ctx, req)
		if err == nil {
			return data, nil
		}

		switch cls := classify(err).(type) {
		case *FloodWaitError:
			c.logger.Info("flood wait", "duration", cls.Duration)
			metrics.RecordFloodWait(cls.Duration)
			if serr := c.cfg.Sleep(ctx, cls.Duration); serr != nil {
				return nil, serr
			}

		case *MigrateError:
			redirects++
			if redirects > c.cfg.MaxRedirects {
				return nil, fmt.Errorf("%w: %d hops", ErrTooManyRedirects, redirects)
			}
			c.logger.Info("following datacenter redirect", "dc", cls.DC, "hop", redirects)
			metrics.RecordRedirect()
			if _, merr := c.pool.MigrateTo(ctx, cls.DC); merr != nil {
				return nil, fmt.Errorf("retry: migrate to dc %d: %w", cls.DC, merr)
			}

		default:
			if errors.Is(err, session.ErrDisconnected) {
				attempts++
				if retryErr := c.waitReconnect(ctx, bo, attempts, err); retryErr != nil {
					return nil, retryErr
				}
				continue
			}
			// Remote errors, schema errors, context expiry: terminal.
			return nil, err
		}
	}
}

func (c *Controller) waitReconnect(ctx context.Context, bo *backoff.ExponentialBackOff, attempts int, cause error) error {
	if attempts >= c.cfg.MaxAttempts {
		return fmt.Errorf("retry: gave up after %d attempts: %w", attempts, cause)
	}
	d := bo.NextBackOff()
	c.logger.Debug("reconnecting after failure", "attempt", attempts, "backoff", d, "error", cause)
	metrics.RecordReconnect()
	return c.cfg.Sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
