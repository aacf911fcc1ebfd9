package msgnet

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// PushProto marshals pb and appends it to the payload followed by its
// length, so that PopProto can take it back off the tail.
func PushProto[T MessageType](m *Message[T], pb proto.Message) error {
	b, err := proto.Marshal(pb)
	if err != nil {
		return errors.Wrap(err, "marshal proto")
	}

	PushBytes(m, b)
	return Push(m, uint32(len(b)))
}

// PopProto removes a message pushed by PushProto and unmarshals it into pb.
// On error the payload is left as it was.
func PopProto[T MessageType](m *Message[T], pb proto.Message) error {
	if len(m.Body) < 4 {
		return errors.Wrap(ErrPayloadUnderflow, "pop proto length")
	}

	n := int(byteOrder.Uint32(m.Body[len(m.Body)-4:]))
	if n > len(m.Body)-4 {
		return errors.Wrapf(ErrPayloadUnderflow, "pop proto: need %d bytes, have %d", n, len(m.Body)-4)
	}

	end := len(m.Body) - 4
	if err := proto.Unmarshal(m.Body[end-n:end], pb); err != nil {
		return errors.Wrap(err, "unmarshal proto")
	}

	m.Body = m.Body[:end-n]
	m.sync()
	return nil
}
