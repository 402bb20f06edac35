package keepalive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nexgram/nexgram/pkg/tl"
)

type fakePinger struct {
	mu    sync.Mutex
	reqs  []tl.Object
	fail  bool
	calls int
}

func (p *fakePinger) Invoke(ctx context.Context, req tl.Object) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	p.calls++
	if p.fail {
		return nil, errors.New("no pong")
	}
	return tl.Marshal(&tl.Pong{}), nil
}

func (p *fakePinger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePinger) setFail(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestPingsCarryDisconnectDelay(t *testing.T) {
	t.Parallel()

	p := &fakePinger{}
	k, err := New(Config{Interval: 20 * time.Millisecond, Logger: discardLogger()}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = k.Stop() })

	waitFor(t, func() bool { return p.callCount() >= 2 })

	p.mu.Lock()
	defer p.mu.Unlock()
	ping, ok := p.reqs[0].(*tl.PingDelayDisconnect)
	if !ok {
		t.Fatalf("request = %T, want *tl.PingDelayDisconnect", p.reqs[0])
	}
	// The server-side grace must exceed the ping interval.
	if time.Duration(ping.DisconnectDelay)*time.Second < 20*time.Millisecond {
		t.Fatalf("disconnect delay %d too small", ping.DisconnectDelay)
	}
	if ping.PingID == p.reqs[1].(*tl.PingDelayDisconnect).PingID {
		t.Fatal("ping ids repeat")
	}
}

func TestDeadAfterConsecutiveMisses(t *testing.T) {
	t.Parallel()

	p := &fakePinger{fail: true}
	var (
		mu   sync.Mutex
		dead int
	)
	k, err := New(Config{
		Interval:  10 * time.Millisecond,
		MaxMissed: 3,
		Logger:    discardLogger(),
		OnDead: func() {
			mu.Lock()
			dead++
			mu.Unlock()
		},
	}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = k.Stop() })

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dead > 0
	})

	// OnDead fires exactly once even as failures continue.
	waitFor(t, func() bool { return p.callCount() >= 6 })
	mu.Lock()
	defer mu.Unlock()
	if dead != 1 {
		t.Fatalf("OnDead fired %d times, want 1", dead)
	}
}

func TestSuccessResetsMissCounter(t *testing.T) {
	t.Parallel()

	p := &fakePinger{fail: true}
	deadCh := make(chan struct{}, 1)
	k, err := New(Config{
		Interval:  10 * time.Millisecond,
		MaxMissed: 3,
		Logger:    discardLogger(),
		OnDead:    func() { deadCh <- struct{}{} },
	}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = k.Stop() })

	// At least one miss, then recovery before the counter reaches three.
	waitFor(t, func() bool { return p.callCount() >= 1 })
	p.setFail(false)
	waitFor(t, func() bool { return !k.LastPong().IsZero() })

	select {
	case <-deadCh:
		t.Fatal("OnDead fired despite recovery")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	k, err := New(Config{Interval: time.Hour, Logger: discardLogger()}, &fakePinger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop before start = %v, want ErrNotStarted", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := k.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := k.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = k.Stop()
}
