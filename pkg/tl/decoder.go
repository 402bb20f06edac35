package tl

import (
	"encoding/binary"
	"math"
)

// Decoder reads TL-serialized values from a byte slice. It carries a
// sticky error: after the first failed read every subsequent read returns
// a zero value, and Err reports the original failure. This keeps struct
// Decode methods free of per-field error plumbing.
type Decoder struct {
	data []byte
	off  int
	err  error
}

// NewDecoder wraps data without copying it.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first decoding failure, or nil.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.off }

func (d *Decoder) fail(reason string) {
	if d.err == nil {
		d.err = &SchemaError{Reason: reason}
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.data) {
		d.fail("truncated payload")
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

// Uint32 reads a 32-bit scalar.
func (d *Decoder) Uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Int reads a signed 32-bit scalar.
func (d *Decoder) Int() int32 { return int32(d.Uint32()) }

// Long reads a signed 64-bit scalar.
func (d *Decoder) Long() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// Double reads an IEEE-754 64-bit float.
func (d *Decoder) Double() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Int128 reads 16 raw bytes.
func (d *Decoder) Int128() (v [16]byte) {
	copy(v[:], d.take(16))
	return
}

// Int256 reads 32 raw bytes.
func (d *Decoder) Int256() (v [32]byte) {
	copy(v[:], d.take(32))
	return
}

// Raw reads n bytes verbatim. The slice aliases the decoder's input.
func (d *Decoder) Raw(n int) []byte { return d.take(n) }

// Rest returns all unread bytes and consumes them.
func (d *Decoder) Rest() []byte { return d.take(d.Remaining()) }

// Bytes reads a TL byte string and its alignment padding. The returned
// slice aliases the decoder's input.
func (d *Decoder) Bytes() []byte {
	hdr := d.take(1)
	if hdr == nil {
		return nil
	}
	var n, pre int
	if hdr[0] < 254 {
		n, pre = int(hdr[0]), 1
	} else {
		ext := d.take(3)
		if ext == nil {
			return nil
		}
		n = int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16
		pre = 4
	}
	b := d.take(n)
	if pad := (4 - (pre+n)%4) % 4; pad > 0 {
		d.take(pad)
	}
	return b
}

// String reads a TL byte string as a string.
func (d *Decoder) String() string { return string(d.Bytes()) }

// Bool reads a boolTrue/boolFalse constructor.
func (d *Decoder) Bool() bool {
	switch id := d.Uint32(); id {
	case boolTrueID:
		return true
	case boolFalseID:
		return false
	default:
		if d.err == nil {
			d.err = &SchemaError{Constructor: id, Reason: "expected bool constructor"}
		}
		return false
	}
}

// VectorLong reads a vector<long>.
func (d *Decoder) VectorLong() []int64 {
	if id := d.Uint32(); id != vectorID && d.err == nil {
		d.err = &SchemaError{Constructor: id, Reason: "expected vector"}
		return nil
	}
	n := int(d.Int())
	if d.err != nil || n < 0 || n > d.Remaining()/8 {
		d.fail("vector length out of range")
		return nil
	}
	vs := make([]int64, n)
	for i := range vs {
		vs[i] = d.Long()
	}
	return vs
}

// Object reads one tagged object using the constructor registry. Unknown
// tags produce a SchemaError wrapping ErrUnknownConstructor; the tag is
// still consumed so callers can choose to skip by outer length.
func (d *Decoder) Object() (Object, error) {
	id := d.Uint32()
	if d.err != nil {
		return nil, d.err
	}
	obj, ok := New(id)
	if !ok {
		return nil, &SchemaError{Constructor: id, Reason: "unknown constructor"}
	}
	if err := obj.Decode(d); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	return obj, nil
}

// ExpectID consumes a constructor tag and fails unless it matches want.
func (d *Decoder) ExpectID(want uint32) {
	got := d.Uint32()
	if d.err == nil && got != want {
		d.err = &SchemaError{Constructor: got, Reason: "unexpected constructor"}
	}
}
