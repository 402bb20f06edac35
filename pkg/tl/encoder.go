package tl

import (
	"encoding/binary"
	"math"
)

// Encoder builds a TL-serialized byte sequence. All scalar writes are
// little-endian; string writes apply the 4-byte alignment padding the wire
// format requires.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated serialization. The slice aliases the
// encoder's internal buffer; callers must not retain it across further writes.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// PutUint32 writes a 32-bit scalar (also used for constructor tags).
func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// PutInt writes a signed 32-bit scalar.
func (e *Encoder) PutInt(v int32) { e.PutUint32(uint32(v)) }

// PutLong writes a signed 64-bit scalar.
func (e *Encoder) PutLong(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

// PutUint64 writes an unsigned 64-bit scalar.
func (e *Encoder) PutUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// PutDouble writes an IEEE-754 64-bit float.
func (e *Encoder) PutDouble(v float64) {
	e.PutUint64(math.Float64bits(v))
}

// PutInt128 writes 16 raw bytes (nonces, msg_key).
func (e *Encoder) PutInt128(v [16]byte) { e.buf = append(e.buf, v[:]...) }

// PutInt256 writes 32 raw bytes.
func (e *Encoder) PutInt256(v [32]byte) { e.buf = append(e.buf, v[:]...) }

// PutRaw appends bytes verbatim, with no length prefix or padding.
func (e *Encoder) PutRaw(b []byte) { e.buf = append(e.buf, b...) }

// PutBytes writes a TL byte string: short form (1-byte length) for
// payloads under 254 bytes, long form (0xfe + 3-byte length) otherwise,
// both padded with zeros to a 4-byte boundary.
func (e *Encoder) PutBytes(b []byte) {
	n := len(b)
	if n < 254 {
		e.buf = append(e.buf, byte(n))
		e.buf = append(e.buf, b...)
		e.pad(1 + n)
		return
	}
	e.buf = append(e.buf, 0xfe, byte(n), byte(n>>8), byte(n>>16))
	e.buf = append(e.buf, b...)
	e.pad(n)
}

// PutString writes s as a TL byte string.
func (e *Encoder) PutString(s string) { e.PutBytes([]byte(s)) }

// PutBool writes the boolTrue/boolFalse constructor.
func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutUint32(boolTrueID)
	} else {
		e.PutUint32(boolFalseID)
	}
}

// PutVectorLong writes a vector<long>.
func (e *Encoder) PutVectorLong(vs []int64) {
	e.PutUint32(vectorID)
	e.PutInt(int32(len(vs)))
	for _, v := range vs {
		e.PutLong(v)
	}
}

// PutObject writes a tagged object inline.
func (e *Encoder) PutObject(obj Object) {
	e.PutUint32(obj.TypeID())
	obj.Encode(e)
}

func (e *Encoder) pad(written int) {
	for written%4 != 0 {
		e.buf = append(e.buf, 0)
		written++
	}
}

const (
	vectorID    = 0x1cb5c415
	boolTrueID  = 0x997275b5
	boolFalseID = 0xbc799737
)
