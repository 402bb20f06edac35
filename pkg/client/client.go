// Package client is the public facade over the session engine: it owns
// the datacenter pool, the update router, the retry controller, and the
// keepalive loop, and exposes one generic Invoke plus a handful of
// concrete call wrappers.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/nexgram/nexgram/internal/config"
	"github.com/nexgram/nexgram/internal/dcpool"
	"github.com/nexgram/nexgram/internal/diag"
	"github.com/nexgram/nexgram/internal/keepalive"
	"github.com/nexgram/nexgram/internal/metrics"
	"github.com/nexgram/nexgram/internal/retry"
	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/internal/transport"
	"github.com/nexgram/nexgram/internal/updates"
	"github.com/nexgram/nexgram/pkg/tl"
)

// Sentinel errors for the client lifecycle.
var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Options adjusts construction beyond what the config file carries.
// The zero value is fully usable.
type Options struct {
	Logger *slog.Logger

	// Storage overrides the store derived from the config. Tests inject
	// an in-memory store here.
	Storage storage.Storage

	// Dial overrides the transport dialer, for tests.
	Dial func(ctx context.Context, addr string) (transport.Framer, error)

	// DeviceModel and AppVersion identify the client in initConnection.
	DeviceModel string
	AppVersion  string
}

// doer is the call-driving seam between the facade and the retry
// controller, swapped for a fake in tests.
type doer interface {
	Do(ctx context.Context, req tl.Object) ([]byte, error)
}

// Client is a connected API client. All methods are safe for concurrent
// use once Connect has returned.
type Client struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store  storage.Storage
	pool   *dcpool.Pool
	router *updates.Router
	do     doer
	keep   *keepalive.Keepalive

	mu         sync.Mutex
	connected  bool
	userID     int64
	stopRouter context.CancelFunc
	routerDone chan struct{}
}

// New wires the engine from a validated config. No connection is made
// until Connect.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DeviceModel == "" {
		opts.DeviceModel = "nexgram"
	}
	if opts.AppVersion == "" {
		opts.AppVersion = "dev"
	}
	logger := opts.Logger.With("component", "client")

	store := opts.Storage
	if store == nil {
		var err error
		store, err = openStorage(cfg)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		store:  store,
		router: updates.NewRouter(updates.Config{Logger: opts.Logger}),
	}

	descriptors, initialDC, err := c.buildDescriptors(context.Background())
	if err != nil {
		store.Close()
		return nil, err
	}

	c.pool = dcpool.New(dcpool.Config{
		Descriptors: descriptors,
		InitialDC:   initialDC,
		Mode:        transport.Mode(cfg.Transport.Mode),
		Dial:        c.dialer(),
		Storage:     store,
		Sink:        c.router,
		Transfer:    c.transferAuthorization,
		Logger:      opts.Logger,
	})

	c.do = retry.NewController(c.pool, retry.Config{
		MaxRedirects:    cfg.Retry.MaxRedirects,
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Logger:          opts.Logger,
	})
	return c, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage.Path == "" {
		return storage.NewMemory(), nil
	}
	return storage.OpenSQLite(storage.SQLiteConfig{
		Path:       cfg.Storage.Path,
		Passphrase: cfg.Storage.Passphrase,
	})
}

// buildDescriptors merges the built-in datacenter table, config
// overrides, and the persisted session's last known endpoint.
func (c *Client) buildDescriptors(ctx context.Context) (map[int]dcpool.Descriptor, int, error) {
	descriptors := dcpool.ProductionDescriptors()
	if c.cfg.TestMode {
		descriptors = dcpool.TestDescriptors()
	}
	for _, o := range c.cfg.Datacenters {
		descriptors[o.ID] = dcpool.Descriptor{ID: o.ID, Addr: o.Addr}
	}

	initialDC := 0
	sess, err := c.store.Load(ctx)
	switch {
	case err == nil:
		initialDC = sess.DC
		c.userID = sess.UserID
		if sess.Addr != "" {
			descriptors[sess.DC] = dcpool.Descriptor{ID: sess.DC, Addr: sess.Addr}
		}
	case errors.Is(err, storage.ErrNotFound):
		// Fresh install; the pool default applies.
	default:
		return nil, 0, fmt.Errorf("client: load session: %w", err)
	}
	return descriptors, initialDC, nil
}

func (c *Client) dialer() func(ctx context.Context, addr string) (transport.Framer, error) {
	if c.opts.Dial != nil {
		return c.opts.Dial
	}
	mode := transport.Mode(c.cfg.Transport.Mode)
	if url := c.cfg.Transport.WebsocketURL; url != "" {
		return func(ctx context.Context, _ string) (transport.Framer, error) {
			return transport.DialWebSocket(ctx, mode, url)
		}
	}
	return nil // pool falls back to plain TCP dialing
}

// Connect establishes the current datacenter connection, announces the
// client via initConnection, seeds the update sequence, and starts the
// router and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if _, err := c.pool.Invoker(ctx); err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}

	srvCfg, err := c.initConnection(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("connected", "this_dc", srvCfg.ThisDC, "dc_options", len(srvCfg.DCOptions))

	// Seed the update position so gap detection starts from the server's
	// view. A 401 just means nobody is signed in yet.
	if state, err := c.UpdatesGetState(ctx); err == nil {
		c.router.SetSeq(state.Seq)
	} else {
		var rpcErr *tl.RPCError
		if !errors.As(err, &rpcErr) || rpcErr.Code != 401 {
			return fmt.Errorf("client: seed update state: %w", err)
		}
	}

	routerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.router.Run(routerCtx)
	}()

	keep, err := keepalive.New(keepalive.Config{
		Interval: c.cfg.Keepalive.Interval,
		Logger:   c.opts.Logger,
		OnDead: func() {
			c.logger.Warn("connection declared dead, next call redials")
		},
	}, poolPinger{pool: c.pool})
	if err != nil {
		cancel()
		<-done
		return err
	}
	if err := keep.Start(context.Background()); err != nil {
		cancel()
		<-done
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.keep = keep
	c.stopRouter = cancel
	c.routerDone = done
	c.mu.Unlock()
	return nil
}

// initConnection pins the schema layer and announces client identity on
// the first call of the connection, as the protocol requires.
func (c *Client) initConnection(ctx context.Context) (*tl.ServerConfig, error) {
	raw, err := c.do.Do(ctx, &tl.InvokeWithLayer{
		Layer: tl.Layer,
		Query: &tl.InitConnection{
			APIID:          int32(c.cfg.API.ID),
			DeviceModel:    c.opts.DeviceModel,
			SystemVersion:  runtime.GOOS,
			AppVersion:     c.opts.AppVersion,
			SystemLangCode: "en",
			LangCode:       "en",
			Query:          &tl.HelpGetConfig{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("client: init connection: %w", err)
	}
	obj, err := tl.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("client: init connection answer: %w", err)
	}
	srvCfg, ok := obj.(*tl.ServerConfig)
	if !ok {
		return nil, fmt.Errorf("client: unexpected init connection answer %T", obj)
	}
	return srvCfg, nil
}

// Disconnect stops the background loops, snapshots the session, and
// closes every connection. The client cannot be reused afterwards.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.connected = false
	keep := c.keep
	stopRouter := c.stopRouter
	done := c.routerDone
	c.mu.Unlock()

	if keep != nil {
		_ = keep.Stop()
	}
	if snap, err := c.SessionSnapshot(ctx); err == nil && snap != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.logger.Warn("session snapshot on disconnect failed", "error", err)
		}
	}
	c.pool.Close()
	if stopRouter != nil {
		stopRouter()
		<-done
	}
	return c.store.Close()
}

// Invoke submits one call and decodes its answer. Constructors outside
// the modeled schema come back as *tl.RawObject rather than an error,
// so generated wrappers can decode them independently.
func (c *Client) Invoke(ctx context.Context, req tl.Object) (tl.Object, error) {
	raw, err := c.InvokeRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	obj, err := tl.Unmarshal(raw)
	if errors.Is(err, tl.ErrUnknownConstructor) && len(raw) >= 4 {
		return &tl.RawObject{
			ID:      binary.LittleEndian.Uint32(raw),
			Payload: raw[4:],
		}, nil
	}
	return obj, err
}

// InvokeRaw submits one call and returns the answer bytes untouched.
func (c *Client) InvokeRaw(ctx context.Context, req tl.Object) ([]byte, error) {
	start := time.Now()
	raw, err := c.do.Do(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var rpcErr *tl.RPCError
		if errors.As(err, &rpcErr) {
			outcome = "rpc_error"
		}
	}
	metrics.RecordCall(outcome, time.Since(start))
	if conn, ok := c.pool.Lookup(c.pool.Current()); ok {
		metrics.SetPendingCalls(conn.PendingCount())
	}
	return raw, err
}

// Updates exposes the router for subscriptions and gap signals.
func (c *Client) Updates() *updates.Router { return c.router }

// Storage exposes the session store, for maintenance jobs.
func (c *Client) Storage() storage.Storage { return c.store }

// UserID reports the signed-in user, or zero before login.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SessionSnapshot assembles the persistable view of the live session.
// It returns (nil, nil) when there is nothing to save yet.
func (c *Client) SessionSnapshot(ctx context.Context) (*storage.Session, error) {
	dc := c.pool.Current()
	key, err := c.store.LoadAuthKey(ctx, dc)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.Session{
		DC:       dc,
		AuthKey:  key,
		UserID:   c.UserID(),
		TestMode: c.cfg.TestMode,
		Date:     time.Now(),
	}, nil
}

// ApplySalt installs a refreshed server salt on the current connection.
// Wired as the salt-refresh job's apply hook.
func (c *Client) ApplySalt(salt int64) {
	if conn, ok := c.pool.Lookup(c.pool.Current()); ok {
		conn.SetSalt(salt)
	}
}

// Status reports the live engine state for the diagnostics server.
func (c *Client) Status() diag.Status {
	c.mu.Lock()
	connected := c.connected
	keep := c.keep
	c.mu.Unlock()

	st := diag.Status{
		Connected: connected,
		DC:        c.pool.Current(),
		UpdateSeq: c.router.Seq(),
	}
	if conn, ok := c.pool.Lookup(st.DC); ok {
		st.SessionID = conn.SessionID()
		st.PendingCalls = conn.PendingCount()
	}
	if keep != nil {
		st.LastPong = keep.LastPong()
	}
	return st
}

// poolPinger pings over the current connection without going through
// the retry layer: a failed ping should count as a miss, not trigger a
// reconnect storm of its own.
type poolPinger struct {
	pool *dcpool.Pool
}

func (p poolPinger) Invoke(ctx context.Context, req tl.Object) ([]byte, error) {
	inv, err := p.pool.Invoker(ctx)
	if err != nil {
		return nil, err
	}
	return inv.Invoke(ctx, req)
}
