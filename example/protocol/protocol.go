// Package protocol defines the message ids shared by the example server and
// client.
package protocol

import (
	"time"

	"github.com/Zereker/msgnet"
)

// MsgType identifies an example message.
type MsgType uint32

// Message ids. ServerAccept and ServerDeny answer a new connection,
// ServerPing is bounced back to its sender, and MessageAll asks the server
// to relay a ServerMessage to everyone else.
const (
	ServerAccept MsgType = iota
	ServerDeny
	ServerPing
	MessageAll
	ServerMessage
)

// String returns the id's name.
func (t MsgType) String() string {
	switch t {
	case ServerAccept:
		return "ServerAccept"
	case ServerDeny:
		return "ServerDeny"
	case ServerPing:
		return "ServerPing"
	case MessageAll:
		return "MessageAll"
	case ServerMessage:
		return "ServerMessage"
	default:
		return "Unknown"
	}
}

// NewPing returns a ping stamped with now.
func NewPing(now time.Time) *msgnet.Message[MsgType] {
	msg := msgnet.NewMessage(ServerPing)
	_ = msgnet.Push(msg, now.UnixNano())
	return msg
}

// PingRTT returns the time elapsed since the ping was stamped.
func PingRTT(msg *msgnet.Message[MsgType], now time.Time) (time.Duration, error) {
	sent, err := msgnet.Pop[MsgType, int64](msg)
	if err != nil {
		return 0, err
	}
	return now.Sub(time.Unix(0, sent)), nil
}

// NewServerMessage returns the broadcast the server relays on behalf of
// the client with the given id.
func NewServerMessage(from uint32) *msgnet.Message[MsgType] {
	msg := msgnet.NewMessage(ServerMessage)
	_ = msgnet.Push(msg, from)
	return msg
}

// Sender returns the client id carried by a ServerMessage.
func Sender(msg *msgnet.Message[MsgType]) (uint32, error) {
	return msgnet.Pop[MsgType, uint32](msg)
}
