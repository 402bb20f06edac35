package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// intermediateTag announces the intermediate framing to the server.
var intermediateTag = [4]byte{0xee, 0xee, 0xee, 0xee}

// intermediate frames payloads with a 4-byte little-endian length prefix.
type intermediate struct {
	conn net.Conn

	writeMu sync.Mutex
	tagged  bool

	ackMu sync.Mutex
	onAck func(uint32)
}

func newIntermediate(conn net.Conn) *intermediate {
	return &intermediate{conn: conn}
}

func (t *intermediate) SetQuickAckHandler(fn func(uint32)) {
	t.ackMu.Lock()
	t.onAck = fn
	t.ackMu.Unlock()
}

func (t *intermediate) quickAck(token uint32) {
	t.ackMu.Lock()
	fn := t.onAck
	t.ackMu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (t *intermediate) Send(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stop := watchCancel(ctx, t.conn)
	defer stop()

	buf := make([]byte, 0, 8+len(payload))
	if !t.tagged {
		buf = append(buf, intermediateTag[:]...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	if _, err := t.conn.Write(buf); err != nil {
		return ctxErr(ctx, fmt.Errorf("transport: write: %w", err))
	}
	t.tagged = true
	return nil
}

func (t *intermediate) Recv(ctx context.Context) ([]byte, error) {
	stop := watchCancel(ctx, t.conn)
	defer stop()

	for {
		var hdr [4]byte
		if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("transport: read length: %w", err))
		}
		word := binary.LittleEndian.Uint32(hdr[:])

		// High bit set: this word is a quick-ack token, not a length.
		if word&0x80000000 != 0 {
			t.quickAck(word)
			continue
		}

		size := int(word)
		if size > maxFrameSize {
			return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("transport: read payload: %w", err))
		}

		// A 4-byte negative value is a transport error frame.
		if size == 4 {
			if code := int32(binary.LittleEndian.Uint32(payload)); code < 0 {
				return nil, &Error{Code: code}
			}
		}
		return payload, nil
	}
}

func (t *intermediate) Close() error { return t.conn.Close() }
