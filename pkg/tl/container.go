package tl

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// maxContainerMessages bounds container decode to keep a corrupt count
// from allocating unbounded memory. The protocol caps containers at 1024.
const maxContainerMessages = 1024

// Message is one entry of a container: a payload with its own message id,
// sequence number, and declared byte length. Body is kept raw so unknown
// inner constructors can be skipped without failing the whole container.
type Message struct {
	MsgID int64
	SeqNo int32
	Body  []byte
}

// Container is the msg_container batching envelope. Decoding is recursive
// only in the sense that each Body may itself hold another container;
// callers unwrap level by level.
type Container struct {
	Messages []Message
}

func (*Container) TypeID() uint32 { return IDMsgContainer }

func (o *Container) Encode(e *Encoder) {
	e.PutInt(int32(len(o.Messages)))
	for i := range o.Messages {
		m := &o.Messages[i]
		e.PutLong(m.MsgID)
		e.PutInt(m.SeqNo)
		e.PutInt(int32(len(m.Body)))
		e.PutRaw(m.Body)
	}
}

func (o *Container) Decode(d *Decoder) error {
	n := int(d.Int())
	if n < 0 || n > maxContainerMessages {
		return &SchemaError{Constructor: IDMsgContainer, Reason: "message count out of range"}
	}
	o.Messages = make([]Message, 0, n)
	for i := 0; i < n; i++ {
		var m Message
		m.MsgID = d.Long()
		m.SeqNo = d.Int()
		size := int(d.Int())
		if size < 0 || size > d.Remaining() {
			return &SchemaError{Constructor: IDMsgContainer, Reason: "inner message length out of range"}
		}
		m.Body = d.Raw(size)
		if d.Err() != nil {
			return d.Err()
		}
		o.Messages = append(o.Messages, m)
	}
	return d.Err()
}

// RPCResult carries the answer to one call. The result body stays raw:
// it may be gzip-packed, an rpc_error, or an API object the transport
// layer has no schema for.
type RPCResult struct {
	ReqMsgID int64
	Result   []byte
}

func (*RPCResult) TypeID() uint32 { return IDRPCResult }

func (o *RPCResult) Encode(e *Encoder) {
	e.PutLong(o.ReqMsgID)
	e.PutRaw(o.Result)
}

func (o *RPCResult) Decode(d *Decoder) error {
	o.ReqMsgID = d.Long()
	o.Result = d.Rest()
	return d.Err()
}

func init() {
	Register(IDMsgContainer, func() Object { return &Container{} })
	Register(IDRPCResult, func() Object { return &RPCResult{} })
}

// UnwrapGzip transparently decompresses a gzip_packed payload. Payloads
// with any other constructor tag are returned unchanged.
func UnwrapGzip(data []byte) ([]byte, error) {
	if len(data) < 4 || binary.LittleEndian.Uint32(data) != IDGzipPacked {
		return data, nil
	}
	d := NewDecoder(data[4:])
	packed := d.Bytes()
	if d.Err() != nil {
		return nil, d.Err()
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("tl: gzip payload: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("tl: gzip payload: %w", err)
	}
	return out, nil
}

// GzipPack compresses body and wraps it in a gzip_packed constructor.
// Used for large outgoing requests.
func GzipPack(body []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(body)
	_ = zw.Close()

	e := NewEncoder()
	e.PutUint32(IDGzipPacked)
	e.PutBytes(buf.Bytes())
	return e.Bytes()
}
