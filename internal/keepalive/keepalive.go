// Package keepalive keeps an established connection alive with periodic
// delayed-disconnect pings and flags it dead when pongs stop arriving.
package keepalive

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/nexgram/nexgram/pkg/tl"
)

// Sentinel errors for keepalive operations.
var (
	ErrAlreadyStarted = errors.New("keepalive: already started")
	ErrNotStarted     = errors.New("keepalive: not started")
)

// Pinger submits one ping round trip. Satisfied by the session invoker.
type Pinger interface {
	Invoke(ctx context.Context, req tl.Object) ([]byte, error)
}

// Config holds keepalive configuration.
type Config struct {
	// Interval between pings. Default 45s.
	Interval time.Duration

	// Timeout for one ping round trip. Default 10s.
	Timeout time.Duration

	// MaxMissed consecutive failures before the connection is declared
	// dead. Default 3.
	MaxMissed int

	// OnDead runs once when MaxMissed is reached.
	OnDead func()

	Logger *slog.Logger

	// Now is injectable for testing.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 45 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Keepalive runs a dedicated goroutine that pings the server and asks it
// to drop the connection if the next ping never arrives. The server-side
// delay is a little over the ping interval, so a wedged client gets
// disconnected from the far end too.
type Keepalive struct {
	cfg    Config
	pinger Pinger

	mu       sync.Mutex
	cancel   context.CancelFunc
	missed   int
	lastPong time.Time
}

// New creates a Keepalive for one connection.
func New(cfg Config, pinger Pinger) (*Keepalive, error) {
	if pinger == nil {
		return nil, errors.New("keepalive: nil Pinger")
	}
	return &Keepalive{cfg: cfg.withDefaults(), pinger: pinger}, nil
}

// Start begins the ping loop. Returns ErrAlreadyStarted if called twice.
func (k *Keepalive) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, k.cancel = context.WithCancel(ctx)
	go k.run(ctx)
	return nil
}

// Stop stops the ping loop. Returns ErrNotStarted if not running.
func (k *Keepalive) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cancel == nil {
		return ErrNotStarted
	}

	k.cancel()
	k.cancel = nil
	return nil
}

// LastPong reports when the server last answered a ping.
func (k *Keepalive) LastPong() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastPong
}

func (k *Keepalive) run(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *Keepalive) tick(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, k.cfg.Timeout)
	defer cancel()

	delay := int32((k.cfg.Interval + k.cfg.Interval/2) / time.Second)
	_, err := k.pinger.Invoke(pingCtx, &tl.PingDelayDisconnect{
		PingID:          rand.Int63(),
		DisconnectDelay: delay,
	})

	k.mu.Lock()
	if err != nil {
		k.missed++
		missed := k.missed
		k.mu.Unlock()
		k.cfg.Logger.Warn("keepalive ping failed", "missed", missed, "error", err)
		if missed == k.cfg.MaxMissed && k.cfg.OnDead != nil {
			k.cfg.OnDead()
		}
		return
	}
	k.missed = 0
	k.lastPong = k.cfg.Now()
	k.mu.Unlock()
}
