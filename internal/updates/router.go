// Package updates fans server-pushed payloads out to subscribers and
// watches the running sequence number for gaps. It only detects gaps;
// resynchronization is the caller's job.
package updates

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nexgram/nexgram/internal/metrics"
)

// Top-level update container constructors. Only the tail sequence fields
// are read here; payloads stay opaque to the router.
const (
	idUpdatesTooLong  = 0xe317af7e
	idUpdateShort     = 0x78d4dec1
	idUpdatesCombined = 0x725b04c3
	idUpdates         = 0x74ae4240
)

// Handle identifies one subscription.
type Handle = uuid.UUID

// Config configures a Router.
type Config struct {
	Logger *slog.Logger

	// Workers drains the inbound queue. More than one worker relaxes
	// delivery ordering; the default of 1 preserves arrival order.
	Workers int

	// QueueSize bounds payloads waiting for fan-out. When the queue is
	// full, Deliver drops the payload rather than block the read loop.
	QueueSize int

	// SubscriberBuffer is each subscriber channel's capacity. A
	// subscriber that falls this far behind misses updates.
	SubscriberBuffer int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	return c
}

// Router distributes raw update payloads to the subscriber set captured
// at arrival time. A subscriber added while update N is in flight never
// receives N.
type Router struct {
	cfg    Config
	logger *slog.Logger

	queue chan []byte
	gap   chan struct{}

	mu   sync.Mutex
	subs map[Handle]chan []byte
	seq  int32
}

// NewRouter creates a router; Run must be started for delivery to happen.
func NewRouter(cfg Config) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "updates"),
		queue:  make(chan []byte, cfg.QueueSize),
		gap:    make(chan struct{}, 1),
		subs:   make(map[Handle]chan []byte),
	}
}

// Deliver enqueues one payload for fan-out. It never blocks: when the
// queue is full the payload is dropped and counted against the caller's
// next resynchronization.
func (r *Router) Deliver(body []byte) {
	select {
	case r.queue <- bytes.Clone(body):
	default:
		r.logger.Warn("update queue full, payload dropped", "size", len(body))
		metrics.RecordUpdate("dropped")
		r.signalGap()
	}
}

// Run drains the queue with the configured worker pool until ctx ends.
func (r *Router) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case body := <-r.queue:
					r.dispatch(body)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Subscribe registers a new subscriber and returns its handle and
// receive channel. The channel is closed on Unsubscribe.
func (r *Router) Subscribe() (Handle, <-chan []byte) {
	h := uuid.New()
	ch := make(chan []byte, r.cfg.SubscriberBuffer)
	r.mu.Lock()
	r.subs[h] = ch
	r.mu.Unlock()
	return h, ch
}

// Unsubscribe removes a subscriber. Unknown handles are a no-op.
func (r *Router) Unsubscribe(h Handle) {
	r.mu.Lock()
	ch, ok := r.subs[h]
	if ok {
		delete(r.subs, h)
	}
	r.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Gap yields one signal per detected sequence gap. Signals coalesce; the
// caller resynchronizes once per wakeup, not once per missed update.
func (r *Router) Gap() <-chan struct{} { return r.gap }

// SetSeq seeds the local sequence, typically from updates.getState after
// connecting or resolving a gap.
func (r *Router) SetSeq(seq int32) {
	r.mu.Lock()
	r.seq = seq
	r.mu.Unlock()
}

// Seq reports the last applied sequence number.
func (r *Router) Seq() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Router) dispatch(body []byte) {
	if len(body) < 4 {
		return
	}
	if binary.LittleEndian.Uint32(body) == idUpdatesTooLong {
		// Too many updates to push: the server wants a resync. The
		// payload still fans out so subscribers can observe it.
		r.signalGap()
	} else if !r.track(body) {
		return
	}

	r.mu.Lock()
	targets := make([]chan []byte, 0, len(r.subs))
	for _, ch := range r.subs {
		targets = append(targets, ch)
	}
	r.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- body:
		default:
			r.logger.Warn("slow subscriber, update dropped")
		}
	}
	metrics.RecordUpdate("delivered")
}

// track applies the payload's sequence numbers to the local state.
// It reports whether the payload should still be fanned out.
func (r *Router) track(body []byte) bool {
	seqStart, seq, ok := tailSeq(body)
	if !ok || seq == 0 {
		// Sequence-less payload; nothing to track.
		return true
	}

	gap := false
	deliver := true
	r.mu.Lock()
	switch {
	case r.seq == 0:
		// Not yet seeded; apply without gap judgment.
		r.seq = seq
	case seqStart > r.seq+1:
		gap = true
		r.logger.Warn("sequence gap detected", "local_seq", r.seq, "seq_start", seqStart)
		r.seq = seq
	case seq <= r.seq:
		r.logger.Debug("stale update dropped", "local_seq", r.seq, "seq", seq)
		deliver = false
	default:
		r.seq = seq
	}
	r.mu.Unlock()

	if gap {
		r.signalGap()
	}
	return deliver
}

// tailSeq extracts (seq_start, seq) for the containers that carry them as
// their final fields. ok is false for constructors with no sequence.
func tailSeq(body []byte) (seqStart, seq int32, ok bool) {
	switch binary.LittleEndian.Uint32(body) {
	case idUpdates:
		if len(body) < 12 {
			return 0, 0, false
		}
		seq = int32(binary.LittleEndian.Uint32(body[len(body)-4:]))
		return seq, seq, true
	case idUpdatesCombined:
		if len(body) < 16 {
			return 0, 0, false
		}
		seq = int32(binary.LittleEndian.Uint32(body[len(body)-4:]))
		seqStart = int32(binary.LittleEndian.Uint32(body[len(body)-8 : len(body)-4]))
		return seqStart, seq, true
	default:
		return 0, 0, false
	}
}

func (r *Router) signalGap() {
	metrics.RecordGap()
	select {
	case r.gap <- struct{}{}:
	default:
	}
}
