// Package transport turns a byte stream into discrete MTProto frames and
// back. Three framings exist on the wire: abridged, intermediate, and
// full; all three detect quick-acknowledgement tokens and negative-length
// error frames at this layer, before any crypto runs.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Framer sends and receives whole protocol frames. Implementations are
// safe for one concurrent reader plus one concurrent writer, matching the
// one-reader-one-writer connection model of the session layer.
type Framer interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error

	// SetQuickAckHandler registers a callback for quick-ack tokens.
	// Tokens arriving with no handler set are dropped.
	SetQuickAckHandler(fn func(token uint32))
}

// Mode selects the wire framing.
type Mode string

// Supported framings.
const (
	ModeAbridged     Mode = "abridged"
	ModeIntermediate Mode = "intermediate"
	ModeFull         Mode = "full"
)

// Error is a transport-level error frame: a 4-byte negative code sent by
// the server in place of a payload, e.g. -404 when the auth key is
// unknown.
type Error struct {
	Code int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: server error %d", e.Code)
}

// maxFrameSize bounds a single frame; anything larger is treated as a
// corrupt stream.
const maxFrameSize = 16 << 20 // 16 MiB, above the 1 MiB API limit plus envelope overhead

// New wraps conn in a framer for the given mode.
func New(mode Mode, conn net.Conn) (Framer, error) {
	switch mode {
	case ModeAbridged:
		return newAbridged(conn), nil
	case ModeIntermediate, "":
		return newIntermediate(conn), nil
	case ModeFull:
		return newFull(conn), nil
	default:
		return nil, fmt.Errorf("transport: unknown mode %q", mode)
	}
}

// Dial opens a TCP connection to addr and wraps it in a framer.
func Dial(ctx context.Context, mode Mode, addr string) (Framer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	fr, err := New(mode, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return fr, nil
}

// watchCancel arms conn's deadline when ctx is cancelled so a blocked
// read or write unblocks promptly. The returned stop func must be called
// once the I/O completes.
func watchCancel(ctx context.Context, conn net.Conn) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

// ctxErr prefers the context error over the raw I/O error once the
// context is done, so callers see context.Canceled rather than a
// deadline error from the poisoned connection.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
