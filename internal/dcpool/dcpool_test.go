package dcpool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nexgram/nexgram/internal/retry"
	"github.com/nexgram/nexgram/internal/session"
	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/internal/transport"
)

// fakeFramer satisfies transport.Framer without a network. Recv blocks
// until the framer is closed.
type fakeFramer struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeFramer() *fakeFramer {
	return &fakeFramer{closed: make(chan struct{})}
}

func (f *fakeFramer) Send(ctx context.Context, payload []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
		return nil
	}
}

func (f *fakeFramer) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFramer) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFramer) SetQuickAckHandler(func(uint32)) {}

type fakeDialer struct {
	mu      sync.Mutex
	dials   []string
	framers []*fakeFramer
}

func (d *fakeDialer) dial(ctx context.Context, addr string) (transport.Framer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fr := newFakeFramer()
	d.dials = append(d.dials, addr)
	d.framers = append(d.framers, fr)
	return fr, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) last() *fakeFramer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framers[len(d.framers)-1]
}

// seededStorage returns storage with an auth key for every test DC, so
// no handshake runs during pool tests.
func seededStorage(t *testing.T, dcs ...int) storage.Storage {
	t.Helper()
	st := storage.NewMemory()
	for _, dc := range dcs {
		key := bytes.Repeat([]byte{byte(dc)}, 256)
		if err := st.SaveAuthKey(context.Background(), dc, key); err != nil {
			t.Fatalf("seed auth key: %v", err)
		}
	}
	return st
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	cfg.Dial = d.dial
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Storage == nil {
		cfg.Storage = seededStorage(t, 1, 2, 3, 4, 5)
	}
	if cfg.Descriptors == nil {
		cfg.Descriptors = ProductionDescriptors()
	}
	p := New(cfg)
	t.Cleanup(p.Close)
	return p, d
}

func TestLazyConnectOnce(t *testing.T) {
	t.Parallel()

	p, d := newTestPool(t, Config{})

	if got := p.Current(); got != 2 {
		t.Fatalf("initial dc = %d, want 2", got)
	}
	if d.count() != 0 {
		t.Fatal("pool dialed before first invoker request")
	}

	first, err := p.Invoker(context.Background())
	if err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	second, err := p.Invoker(context.Background())
	if err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	if first != second {
		t.Fatal("repeated requests created distinct connections")
	}
	if d.count() != 1 {
		t.Fatalf("dialed %d times, want 1", d.count())
	}
	if d.dials[0] != ProductionDescriptors()[2].Addr {
		t.Fatalf("dialed %s, want the dc 2 address", d.dials[0])
	}
}

func TestUnknownDCRejected(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, Config{})
	if _, err := p.SessionFor(context.Background(), 9); !errors.Is(err, ErrUnknownDC) {
		t.Fatalf("error = %v, want ErrUnknownDC", err)
	}
	if _, err := p.MigrateTo(context.Background(), 9); !errors.Is(err, ErrUnknownDC) {
		t.Fatalf("MigrateTo error = %v, want ErrUnknownDC", err)
	}
}

func TestMigrateTransfersAuthorization(t *testing.T) {
	t.Parallel()

	type transferCall struct {
		from, to retry.Invoker
		dc       int
	}
	var (
		mu    sync.Mutex
		calls []transferCall
	)
	p, d := newTestPool(t, Config{
		Transfer: func(ctx context.Context, from, to retry.Invoker, dc int) error {
			mu.Lock()
			calls = append(calls, transferCall{from, to, dc})
			mu.Unlock()
			return nil
		},
	})

	src, err := p.Invoker(context.Background())
	if err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	dst, err := p.MigrateTo(context.Background(), 4)
	if err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}

	if got := p.Current(); got != 4 {
		t.Fatalf("current dc = %d, want 4", got)
	}
	if d.count() != 2 {
		t.Fatalf("dialed %d times, want 2", d.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("transfer ran %d times, want 1", len(calls))
	}
	if calls[0].from != src || calls[0].to != dst || calls[0].dc != 4 {
		t.Fatalf("transfer call = %+v", calls[0])
	}
}

func TestMigrateWithoutPriorConnectionSkipsTransfer(t *testing.T) {
	t.Parallel()

	transfers := 0
	p, _ := newTestPool(t, Config{
		Transfer: func(ctx context.Context, from, to retry.Invoker, dc int) error {
			transfers++
			return nil
		},
	})

	// No connection exists yet; there are no rights to move.
	if _, err := p.MigrateTo(context.Background(), 4); err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}
	if transfers != 0 {
		t.Fatalf("transfer ran %d times, want 0", transfers)
	}
	if got := p.Current(); got != 4 {
		t.Fatalf("current dc = %d, want 4", got)
	}
}

func TestRedialAfterConnectionLoss(t *testing.T) {
	t.Parallel()

	p, d := newTestPool(t, Config{})

	if _, err := p.Invoker(context.Background()); err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	d.last().Close()

	deadline := time.Now().Add(2 * time.Second)
	for d.count() < 2 && time.Now().Before(deadline) {
		if _, err := p.Invoker(context.Background()); err != nil {
			t.Fatalf("Invoker: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d.count() < 2 {
		t.Fatal("pool never redialed after connection loss")
	}
}

func TestClosedPoolRefusesInvokers(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, Config{})
	if _, err := p.Invoker(context.Background()); err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	p.Close()
	if _, err := p.Invoker(context.Background()); !errors.Is(err, session.ErrNotRunning) {
		t.Fatalf("Invoker after close = %v, want ErrNotRunning", err)
	}
}

func TestHandshakeKeyCached(t *testing.T) {
	t.Parallel()

	// Storage already has the key: connect must not redo the handshake,
	// which would block on the fake framer's silent Recv.
	st := seededStorage(t, 2)
	p, d := newTestPool(t, Config{Storage: st})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Invoker(ctx); err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	if d.count() != 1 {
		t.Fatalf("dialed %d times, want 1", d.count())
	}
}
