package msgnet

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// HeaderSize is the number of bytes a Header occupies on the wire:
// a 4-byte message id followed by a 4-byte payload length.
const HeaderSize = 8

// Errors returned by payload operations.
var (
	// ErrPayloadUnderflow is returned when popping more bytes than the payload holds.
	ErrPayloadUnderflow = errors.New("payload underflow")
	// ErrNotFixedSize is returned when a pushed or popped value has no fixed binary layout.
	ErrNotFixedSize = errors.New("value is not fixed size")
)

// byteOrder is the host's native order. Frames are written exactly as the
// host lays them out in memory, so peers must share endianness.
var byteOrder = binary.NativeEndian

// MessageType is the constraint for application-defined message ids.
// Any 4-byte integer enum satisfies it.
type MessageType interface {
	~uint32 | ~int32
}

// Header is the fixed-size prefix of every frame.
type Header[T MessageType] struct {
	// ID identifies the message type.
	ID T
	// Size is the payload length in bytes. It is maintained by the payload
	// helpers and resynchronised before a message is sent.
	Size uint32
}

// Message is a typed envelope: a header and a raw payload.
//
// The payload behaves like a stack. Push appends a value's bytes at the
// tail and Pop removes them from the tail, so values come back in the
// reverse order they were pushed.
type Message[T MessageType] struct {
	Header Header[T]
	Body   []byte
}

// NewMessage returns an empty message with the given id.
func NewMessage[T MessageType](id T) *Message[T] {
	return &Message[T]{Header: Header[T]{ID: id}}
}

// Size returns the length of the payload in bytes.
func (m *Message[T]) Size() int {
	return len(m.Body)
}

// Clone returns a deep copy of m.
func (m *Message[T]) Clone() *Message[T] {
	c := &Message[T]{Header: m.Header}
	if len(m.Body) > 0 {
		c.Body = make([]byte, len(m.Body))
		copy(c.Body, m.Body)
	}
	c.Header.Size = uint32(len(c.Body))
	return c
}

// Reset empties the payload, keeping the id.
func (m *Message[T]) Reset() {
	m.Body = m.Body[:0]
	m.Header.Size = 0
}

func (m *Message[T]) String() string {
	return fmt.Sprintf("ID:%d Size:%d", m.Header.ID, m.Header.Size)
}

func (m *Message[T]) sync() {
	m.Header.Size = uint32(len(m.Body))
}

// Push appends the binary representation of v to the payload.
// v must have a fixed size: numbers, bools, arrays or structs of them.
func Push[T MessageType, V any](m *Message[T], v V) error {
	if fixedSize[V]() < 0 {
		return errors.Wrapf(ErrNotFixedSize, "push %T", v)
	}

	body, err := binary.Append(m.Body, byteOrder, v)
	if err != nil {
		return errors.Wrapf(err, "push %T", v)
	}

	m.Body = body
	m.sync()
	return nil
}

// Pop removes a value of type V from the tail of the payload.
// The payload is left untouched when it holds fewer bytes than V needs.
func Pop[T MessageType, V any](m *Message[T]) (V, error) {
	var v V

	n := fixedSize[V]()
	if n < 0 {
		return v, errors.Wrapf(ErrNotFixedSize, "pop %T", v)
	}
	if n > len(m.Body) {
		return v, errors.Wrapf(ErrPayloadUnderflow, "pop %T: need %d bytes, have %d", v, n, len(m.Body))
	}

	off := len(m.Body) - n
	if _, err := binary.Decode(m.Body[off:], byteOrder, &v); err != nil {
		return v, errors.Wrapf(err, "pop %T", v)
	}

	m.Body = m.Body[:off]
	m.sync()
	return v, nil
}

// fixedSize returns the encoded size of a V, or -1 when V has no fixed
// layout. Slices are refused even though encoding/binary accepts them: their
// length is not recorded, so they could not be popped back.
func fixedSize[V any]() int {
	switch reflect.TypeFor[V]().Kind() {
	case reflect.Slice, reflect.Pointer, reflect.Interface:
		return -1
	}

	var v V
	return binary.Size(&v)
}

// PushBytes appends raw bytes to the payload.
func PushBytes[T MessageType](m *Message[T], b []byte) {
	m.Body = append(m.Body, b...)
	m.sync()
}

// PopBytes removes and returns the last n bytes of the payload.
func PopBytes[T MessageType](m *Message[T], n int) ([]byte, error) {
	if n < 0 || n > len(m.Body) {
		return nil, errors.Wrapf(ErrPayloadUnderflow, "pop %d bytes, have %d", n, len(m.Body))
	}

	off := len(m.Body) - n
	out := make([]byte, n)
	copy(out, m.Body[off:])

	m.Body = m.Body[:off]
	m.sync()
	return out, nil
}

// OwnedMessage is a received message tagged with the connection it came
// from. Remote is nil for messages received by a client.
type OwnedMessage[T MessageType] struct {
	Remote *Conn[T]
	Msg    *Message[T]
}

func (o OwnedMessage[T]) String() string {
	return o.Msg.String()
}

func encodeHeader[T MessageType](dst []byte, h Header[T]) {
	byteOrder.PutUint32(dst[0:4], uint32(h.ID))
	byteOrder.PutUint32(dst[4:8], h.Size)
}

func decodeHeader[T MessageType](src []byte) Header[T] {
	return Header[T]{
		ID:   T(byteOrder.Uint32(src[0:4])),
		Size: byteOrder.Uint32(src[4:8]),
	}
}
