// Package dcpool manages one session per datacenter: lazy dialing and
// handshaking, the notion of a current datacenter, and migration between
// datacenters including authorization transfer.
package dcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexgram/nexgram/internal/crypto"
	"github.com/nexgram/nexgram/internal/retry"
	"github.com/nexgram/nexgram/internal/session"
	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/internal/transport"
)

// ErrUnknownDC is returned for datacenter ids with no descriptor.
var ErrUnknownDC = errors.New("dcpool: unknown datacenter")

// Descriptor names one datacenter endpoint.
type Descriptor struct {
	ID   int
	Addr string
}

// ProductionDescriptors is the seed table for the production environment.
func ProductionDescriptors() map[int]Descriptor {
	return map[int]Descriptor{
		1: {ID: 1, Addr: "149.154.175.53:443"},
		2: {ID: 2, Addr: "149.154.167.51:443"},
		3: {ID: 3, Addr: "149.154.175.100:443"},
		4: {ID: 4, Addr: "149.154.167.91:443"},
		5: {ID: 5, Addr: "91.108.56.130:443"},
	}
}

// TestDescriptors is the seed table for the test environment.
func TestDescriptors() map[int]Descriptor {
	return map[int]Descriptor{
		1: {ID: 1, Addr: "149.154.175.10:443"},
		2: {ID: 2, Addr: "149.154.167.40:443"},
		3: {ID: 3, Addr: "149.154.175.117:443"},
	}
}

// AuthTransfer copies login rights from an invoker on the old datacenter
// to one on the new. Wired by the client layer, which knows the API
// methods involved.
type AuthTransfer func(ctx context.Context, from, to retry.Invoker, targetDC int) error

// Config configures a Pool.
type Config struct {
	// Descriptors is the datacenter table. Nil selects production.
	Descriptors map[int]Descriptor

	// InitialDC is the datacenter used before any migration. Zero means 2.
	InitialDC int

	Mode transport.Mode

	// Dial is replaceable for tests; nil uses transport.Dial with Mode.
	Dial func(ctx context.Context, addr string) (transport.Framer, error)

	// Storage persists negotiated auth keys. Nil keeps them in memory only.
	Storage storage.Storage

	// Sink receives server pushes from every datacenter connection.
	Sink session.UpdateSink

	// Transfer runs after connecting a new datacenter while another is
	// live. Nil skips authorization transfer.
	Transfer AuthTransfer

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Descriptors == nil {
		c.Descriptors = ProductionDescriptors()
	}
	if c.InitialDC == 0 {
		c.InitialDC = 2
	}
	if c.Dial == nil {
		mode := c.Mode
		c.Dial = func(ctx context.Context, addr string) (transport.Framer, error) {
			return transport.Dial(ctx, mode, addr)
		}
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// dcConn is one live datacenter connection and its lifecycle handles.
type dcConn struct {
	conn   *session.Conn
	framer transport.Framer
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool hands out invokers per datacenter.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current int
	conns   map[int]*dcConn
	closed  bool
}

// New creates a pool. No connection is made until the first invoker is
// requested.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "dcpool"),
		current: cfg.InitialDC,
		conns:   make(map[int]*dcConn),
	}
}

// Current reports the current datacenter id.
func (p *Pool) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Invoker returns the invoker for the current datacenter, connecting and
// handshaking lazily.
func (p *Pool) Invoker(ctx context.Context) (retry.Invoker, error) {
	p.mu.Lock()
	dc := p.current
	p.mu.Unlock()
	return p.SessionFor(ctx, dc)
}

// Lookup returns the live connection for dc without dialing. Used by
// status reporting and maintenance jobs, which must never trigger a
// connection themselves.
func (p *Pool) Lookup(dc int) (*session.Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[dc]
	if !ok {
		return nil, false
	}
	return c.conn, true
}

// SessionFor returns the live connection for dc, establishing it if
// needed. The auth key is negotiated at most once per datacenter and
// cached in storage.
func (p *Pool) SessionFor(ctx context.Context, dc int) (*session.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, session.ErrNotRunning
	}
	if c, ok := p.conns[dc]; ok {
		p.mu.Unlock()
		return c.conn, nil
	}
	p.mu.Unlock()

	c, err := p.connect(ctx, dc)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.cancel()
		c.framer.Close()
		return nil, session.ErrNotRunning
	}
	if existing, ok := p.conns[dc]; ok {
		// Lost the connect race; keep the established one.
		c.cancel()
		c.framer.Close()
		return existing.conn, nil
	}
	p.conns[dc] = c
	return c.conn, nil
}

// MigrateTo makes dc the current datacenter, transferring authorization
// from the previous one when a transfer hook is wired.
func (p *Pool) MigrateTo(ctx context.Context, dc int) (retry.Invoker, error) {
	p.mu.Lock()
	prevDC := p.current
	prev, hasPrev := p.conns[prevDC]
	p.mu.Unlock()

	if dc == prevDC {
		return p.SessionFor(ctx, dc)
	}

	conn, err := p.SessionFor(ctx, dc)
	if err != nil {
		return nil, err
	}

	if p.cfg.Transfer != nil && hasPrev {
		if err := p.cfg.Transfer(ctx, prev.conn, conn, dc); err != nil {
			return nil, fmt.Errorf("dcpool: transfer authorization to dc %d: %w", dc, err)
		}
	}

	p.mu.Lock()
	p.current = dc
	p.mu.Unlock()
	p.logger.Info("datacenter migrated", "from", prevDC, "to", dc)
	return conn, nil
}

// connect dials dc and brings up an encrypted session over it.
func (p *Pool) connect(ctx context.Context, dc int) (*dcConn, error) {
	desc, ok := p.cfg.Descriptors[dc]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDC, dc)
	}

	fr, err := p.cfg.Dial(ctx, desc.Addr)
	if err != nil {
		return nil, fmt.Errorf("dcpool: dial dc %d: %w", dc, err)
	}

	key, salt, err := p.authKey(ctx, dc, fr)
	if err != nil {
		fr.Close()
		return nil, err
	}

	state := session.NewState(key, salt, nil)
	conn := session.NewConn(session.Config{
		Framer: fr,
		State:  state,
		Sink:   p.cfg.Sink,
		Logger: p.logger.With("dc", dc),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c := &dcConn{conn: conn, framer: fr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		err := conn.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("datacenter connection lost", "dc", dc, "error", err)
		}
		fr.Close()
		p.forget(dc, c)
	}()

	p.logger.Info("datacenter connected", "dc", dc, "addr", desc.Addr)
	return c, nil
}

// authKey loads the cached key for dc or negotiates a fresh one over fr.
func (p *Pool) authKey(ctx context.Context, dc int, fr transport.Framer) (crypto.AuthKey, int64, error) {
	raw, err := p.cfg.Storage.LoadAuthKey(ctx, dc)
	switch {
	case err == nil:
		return crypto.NewAuthKey(raw), 0, nil
	case errors.Is(err, storage.ErrNotFound):
		// First contact with this datacenter; run the handshake.
	default:
		return crypto.AuthKey{}, 0, err
	}

	key, salt, err := crypto.Exchange(ctx, fr, p.logger.With("dc", dc))
	if err != nil {
		return crypto.AuthKey{}, 0, fmt.Errorf("dcpool: handshake with dc %d: %w", dc, err)
	}
	if err := p.cfg.Storage.SaveAuthKey(ctx, dc, key.Bytes()); err != nil {
		return crypto.AuthKey{}, 0, err
	}
	return key, salt, nil
}

// forget drops a dead connection so the next request redials.
func (p *Pool) forget(dc int, c *dcConn) {
	p.mu.Lock()
	if p.conns[dc] == c {
		delete(p.conns, dc)
	}
	p.mu.Unlock()
}

// Close tears down every connection. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	conns := make([]*dcConn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[int]*dcConn)
	p.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.framer.Close()
		<-c.done
	}
}
