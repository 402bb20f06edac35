// Package tl implements the TL binary serialization used on the MTProto
// wire: little-endian scalars, length-prefixed padded byte strings, and
// constructor objects tagged by a 32-bit type id.
package tl

import (
	"errors"
	"fmt"
	"sync"
)

// Object is any value that can travel inside an encrypted frame.
// TypeID returns the constructor tag written before the object's fields.
type Object interface {
	TypeID() uint32
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// SchemaError reports a payload that cannot be decoded against the
// registered schema. The session logs and drops such payloads; it never
// tears down the connection for them.
type SchemaError struct {
	Constructor uint32
	Reason      string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tl: constructor %#08x: %s", e.Constructor, e.Reason)
}

// ErrUnknownConstructor is wrapped by SchemaError values produced for
// constructor tags with no registered factory.
var ErrUnknownConstructor = errors.New("tl: unknown constructor")

func (e *SchemaError) Unwrap() error {
	if e.Reason == "unknown constructor" {
		return ErrUnknownConstructor
	}
	return nil
}

var (
	registryMu sync.RWMutex
	registry   = make(map[uint32]func() Object)
)

// Register associates a constructor id with a factory. Typically called
// from init() in the package defining the object. Re-registering an id
// panics: ids are stable schema identity and a clash is a programming error.
func Register(id uint32, fn func() Object) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("tl: duplicate constructor %#08x", id))
	}
	registry[id] = fn
}

// New returns a fresh object for the given constructor id, or false if the
// id is not registered.
func New(id uint32) (Object, bool) {
	registryMu.RLock()
	fn, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Marshal serializes obj with its constructor tag prefix.
func Marshal(obj Object) []byte {
	e := NewEncoder()
	e.PutUint32(obj.TypeID())
	obj.Encode(e)
	return e.Bytes()
}

// Unmarshal decodes one tagged object from data. Unknown constructors
// yield a SchemaError wrapping ErrUnknownConstructor.
func Unmarshal(data []byte) (Object, error) {
	d := NewDecoder(data)
	obj, err := d.Object()
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// RawObject carries a payload whose constructor has no registered
// factory. It round-trips byte-exact, letting callers pass schema this
// build does not model through to their own decoders.
type RawObject struct {
	ID      uint32
	Payload []byte
}

func (o *RawObject) TypeID() uint32    { return o.ID }
func (o *RawObject) Encode(e *Encoder) { e.PutRaw(o.Payload) }
func (o *RawObject) Decode(d *Decoder) error {
	o.Payload = append([]byte(nil), d.Rest()...)
	return d.Err()
}
