package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"sync"
)

// full frames payloads as length + sequence + payload + crc32, with
// independent sequence counters per direction. The length covers the
// whole frame including itself and the checksum.
type full struct {
	conn net.Conn

	writeMu  sync.Mutex
	writeSeq uint32

	readSeq uint32

	ackMu sync.Mutex
	onAck func(uint32)
}

func newFull(conn net.Conn) *full {
	return &full{conn: conn}
}

func (t *full) SetQuickAckHandler(fn func(uint32)) {
	t.ackMu.Lock()
	t.onAck = fn
	t.ackMu.Unlock()
}

func (t *full) Send(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stop := watchCancel(ctx, t.conn)
	defer stop()

	total := 4 + 4 + len(payload) + 4
	buf := make([]byte, 0, total)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(total))
	buf = binary.LittleEndian.AppendUint32(buf, t.writeSeq)
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	if _, err := t.conn.Write(buf); err != nil {
		return ctxErr(ctx, fmt.Errorf("transport: write: %w", err))
	}
	t.writeSeq++
	return nil
}

func (t *full) Recv(ctx context.Context) ([]byte, error) {
	stop := watchCancel(ctx, t.conn)
	defer stop()

	var hdr [8]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("transport: read header: %w", err))
	}
	total := int(binary.LittleEndian.Uint32(hdr[0:4]))
	seq := binary.LittleEndian.Uint32(hdr[4:8])

	if total < 12 || total > maxFrameSize {
		return nil, fmt.Errorf("transport: frame length %d out of range", total)
	}
	if seq != t.readSeq {
		return nil, fmt.Errorf("transport: frame seq %d, want %d", seq, t.readSeq)
	}

	rest := make([]byte, total-8)
	if _, err := io.ReadFull(t.conn, rest); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("transport: read payload: %w", err))
	}

	payload := rest[:len(rest)-4]
	sum := binary.LittleEndian.Uint32(rest[len(rest)-4:])

	crc := crc32.NewIEEE()
	crc.Write(hdr[:])
	crc.Write(payload)
	if crc.Sum32() != sum {
		return nil, fmt.Errorf("transport: frame crc mismatch")
	}
	t.readSeq++

	if len(payload) == 4 {
		if code := int32(binary.LittleEndian.Uint32(payload)); code < 0 {
			return nil, &Error{Code: code}
		}
	}
	return payload, nil
}

func (t *full) Close() error { return t.conn.Close() }
