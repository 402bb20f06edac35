package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// abridgedTag announces the abridged framing to the server.
const abridgedTag = 0xef

// abridged frames payloads with a length measured in 4-byte words: one
// byte for short frames, 0x7f plus three little-endian bytes otherwise.
// It is the cheapest framing and the default for mobile clients.
type abridged struct {
	conn net.Conn

	writeMu sync.Mutex
	tagged  bool

	ackMu sync.Mutex
	onAck func(uint32)
}

func newAbridged(conn net.Conn) *abridged {
	return &abridged{conn: conn}
}

func (t *abridged) SetQuickAckHandler(fn func(uint32)) {
	t.ackMu.Lock()
	t.onAck = fn
	t.ackMu.Unlock()
}

func (t *abridged) quickAck(token uint32) {
	t.ackMu.Lock()
	fn := t.onAck
	t.ackMu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (t *abridged) Send(ctx context.Context, payload []byte) error {
	if len(payload)%4 != 0 {
		return fmt.Errorf("transport: abridged payload %d not word aligned", len(payload))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stop := watchCancel(ctx, t.conn)
	defer stop()

	buf := make([]byte, 0, 5+len(payload))
	if !t.tagged {
		buf = append(buf, abridgedTag)
	}
	words := len(payload) / 4
	if words < 0x7f {
		buf = append(buf, byte(words))
	} else {
		buf = append(buf, 0x7f, byte(words), byte(words>>8), byte(words>>16))
	}
	buf = append(buf, payload...)

	if _, err := t.conn.Write(buf); err != nil {
		return ctxErr(ctx, fmt.Errorf("transport: write: %w", err))
	}
	t.tagged = true
	return nil
}

func (t *abridged) Recv(ctx context.Context) ([]byte, error) {
	stop := watchCancel(ctx, t.conn)
	defer stop()

	for {
		var first [1]byte
		if _, err := io.ReadFull(t.conn, first[:]); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("transport: read length: %w", err))
		}

		// High bit set: three more bytes follow to form a quick-ack token.
		if first[0]&0x80 != 0 {
			var rest [3]byte
			if _, err := io.ReadFull(t.conn, rest[:]); err != nil {
				return nil, ctxErr(ctx, fmt.Errorf("transport: read quick ack: %w", err))
			}
			t.quickAck(binary.BigEndian.Uint32([]byte{first[0], rest[0], rest[1], rest[2]}))
			continue
		}

		words := int(first[0])
		if words == 0x7f {
			var ext [3]byte
			if _, err := io.ReadFull(t.conn, ext[:]); err != nil {
				return nil, ctxErr(ctx, fmt.Errorf("transport: read extended length: %w", err))
			}
			words = int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16
		}
		size := words * 4
		if size > maxFrameSize {
			return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("transport: read payload: %w", err))
		}

		if size == 4 {
			if code := int32(binary.LittleEndian.Uint32(payload)); code < 0 {
				return nil, &Error{Code: code}
			}
		}
		return payload, nil
	}
}

func (t *abridged) Close() error { return t.conn.Close() }
