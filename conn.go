// Package msgnet provides a binary message framework for building custom
// client/server applications, such as games, over TCP.
// It supports typed message envelopes, length-prefixed framing, thread-safe
// queues and connection management for servers multiplexing many peers.
package msgnet

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
)

// Errors returned by connection operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed payload size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrNotServerSide is returned when a server-only operation is used on a client connection.
	ErrNotServerSide = errors.New("connection is not server side")
	// ErrNotClientSide is returned when a client-only operation is used on a server connection.
	ErrNotClientSide = errors.New("connection is not client side")
	// ErrNoEndpoints is returned when there is nothing to dial.
	ErrNoEndpoints = errors.New("no endpoints to connect to")
)

// Role tells which side of the link created a connection.
type Role int

const (
	// ServerSide connections are accepted by a Server.
	ServerSide Role = iota
	// ClientSide connections are dialed by a Client.
	ClientSide
)

// String returns "server" or "client".
func (r Role) String() string {
	switch r {
	case ServerSide:
		return "server"
	case ClientSide:
		return "client"
	default:
		return "unknown"
	}
}

// owner is the role-specific behaviour of a connection.
type owner[T MessageType] interface {
	role() Role
	// tag wraps a completed inbound message for the owner's queue.
	tag(c *Conn[T], msg *Message[T]) OwnedMessage[T]
}

type serverOwner[T MessageType] struct{}

func (serverOwner[T]) role() Role { return ServerSide }

func (serverOwner[T]) tag(c *Conn[T], msg *Message[T]) OwnedMessage[T] {
	return OwnedMessage[T]{Remote: c, Msg: msg}
}

type clientOwner[T MessageType] struct{}

func (clientOwner[T]) role() Role { return ClientSide }

func (clientOwner[T]) tag(_ *Conn[T], msg *Message[T]) OwnedMessage[T] {
	return OwnedMessage[T]{Msg: msg}
}

// Conn is one end of a TCP link.
//
// Received frames are assembled into messages and pushed onto the owner's
// inbound queue. Messages passed to Send are queued and written in order by
// a write pump that runs only while the outbound queue is non-empty.
type Conn[T MessageType] struct {
	owner   owner[T]
	exec    *ioContext
	logger  Logger
	metrics *Metrics
	opts    options
	limiter ratelimit.Limiter

	mu      sync.Mutex
	rawConn net.Conn
	reader  *bufio.Reader

	id   atomic.Uint32
	open atomic.Bool

	outbound *Queue[*Message[T]]
	inbound  *Queue[OwnedMessage[T]]
}

func newConn[T MessageType](o owner[T], exec *ioContext, inbound *Queue[OwnedMessage[T]], opts options) *Conn[T] {
	c := &Conn[T]{
		owner:    o,
		exec:     exec,
		metrics:  opts.metrics,
		opts:     opts,
		outbound: NewQueue[*Message[T]](),
		inbound:  inbound,
	}

	c.logger = withAttrs(opts.logger, func() []any {
		return []any{"id", c.ID(), "role", c.owner.role()}
	})

	if opts.sendRate > 0 {
		c.limiter = ratelimit.New(opts.sendRate)
	}

	return c
}

// newServerConn wraps a freshly accepted socket.
func newServerConn[T MessageType](exec *ioContext, raw net.Conn, inbound *Queue[OwnedMessage[T]], opts options) *Conn[T] {
	c := newConn[T](serverOwner[T]{}, exec, inbound, opts)
	c.attach(raw)
	return c
}

// newClientConn returns a connection that is open once ConnectToServer succeeds.
func newClientConn[T MessageType](exec *ioContext, inbound *Queue[OwnedMessage[T]], opts options) *Conn[T] {
	return newConn[T](clientOwner[T]{}, exec, inbound, opts)
}

func (c *Conn[T]) attach(raw net.Conn) {
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}

	c.mu.Lock()
	c.rawConn = raw
	c.reader = bufio.NewReaderSize(raw, c.opts.readBufferSize)
	c.mu.Unlock()

	c.open.Store(true)
	c.metrics.connOpened()
}

// ID returns the id assigned by the server. It is zero on the client side.
func (c *Conn[T]) ID() uint32 {
	return c.id.Load()
}

// Role returns which side created the connection.
func (c *Conn[T]) Role() Role {
	return c.owner.role()
}

// RemoteAddr returns the peer address, or nil before the socket is open.
func (c *Conn[T]) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rawConn == nil {
		return nil
	}
	return c.rawConn.RemoteAddr()
}

// LocalAddr returns the local address, or nil before the socket is open.
func (c *Conn[T]) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rawConn == nil {
		return nil
	}
	return c.rawConn.LocalAddr()
}

// IsConnected reports whether the socket is open. The peer may already be
// gone; that is only noticed by the next failed read or write.
func (c *Conn[T]) IsConnected() bool {
	return c.open.Load()
}

// ConnectToClient assigns the connection id and starts reading.
// It is only valid for server-side connections whose socket came from a
// successful accept.
func (c *Conn[T]) ConnectToClient(id uint32) error {
	if c.owner.role() != ServerSide {
		return ErrNotServerSide
	}
	if !c.IsConnected() {
		return ErrConnectionClosed
	}

	c.id.Store(id)
	if !c.exec.spawn(c.readPump) {
		c.closeSocket()
		return ErrConnectionClosed
	}
	return nil
}

// ConnectToServer dials the endpoints in order and keeps the first one that
// answers. On success the read pump is started; on failure the connection
// stays closed and the last dial error is returned.
func (c *Conn[T]) ConnectToServer(ctx context.Context, endpoints []string) error {
	if c.owner.role() != ClientSide {
		return ErrNotClientSide
	}
	if len(endpoints) == 0 {
		return ErrNoEndpoints
	}

	var (
		dialer  net.Dialer
		lastErr error
	)
	for _, endpoint := range endpoints {
		raw, err := dialer.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			c.logger.Debug("dial failed", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}

		c.attach(raw)
		c.logger.Info("connected to server", "addr", raw.RemoteAddr())

		if !c.exec.spawn(c.readPump) {
			c.closeSocket()
			return ErrConnectionClosed
		}
		return nil
	}

	return errors.Wrapf(lastErr, "dial %v", endpoints)
}

// Disconnect asks the background context to close the socket and returns
// without waiting for it.
func (c *Conn[T]) Disconnect() {
	if !c.IsConnected() {
		return
	}
	if !c.exec.post(c.closeSocket) {
		c.closeSocket()
	}
}

// Send queues msg for transmission. It is safe for concurrent use. The
// message is copied, so the caller may reuse it once Send returns.
// A payload larger than the configured maximum is refused with
// ErrMessageTooLarge, since the peer would drop the link on reading it.
func (c *Conn[T]) Send(msg *Message[T]) error {
	if !c.IsConnected() {
		return ErrConnectionClosed
	}
	if len(msg.Body) > int(c.opts.maxPayloadSize) {
		return errors.Wrapf(ErrMessageTooLarge, "%d > %d", len(msg.Body), c.opts.maxPayloadSize)
	}

	if c.outbound.pushBackLen(msg.Clone()) == 0 {
		// The queue was empty, so no pump is running.
		if !c.exec.post(c.armWritePump) {
			c.outbound.Clear()
			return ErrConnectionClosed
		}
	}
	return nil
}

func (c *Conn[T]) armWritePump() {
	if !c.IsConnected() || !c.exec.spawn(c.writePump) {
		c.outbound.Clear()
	}
}

// readPump reads frames until the socket fails or is closed.
func (c *Conn[T]) readPump(_ context.Context) error {
	header := make([]byte, HeaderSize)

	for {
		c.setReadDeadline()
		if _, err := io.ReadFull(c.reader, header); err != nil {
			c.ioFailed("read header", err)
			return nil
		}

		msg := &Message[T]{Header: decodeHeader[T](header)}
		if msg.Header.Size > c.opts.maxPayloadSize {
			c.ioFailed("read header", errors.Wrapf(ErrMessageTooLarge, "%d > %d", msg.Header.Size, c.opts.maxPayloadSize))
			return nil
		}

		if msg.Header.Size > 0 {
			msg.Body = make([]byte, msg.Header.Size)
			c.setReadDeadline()
			if _, err := io.ReadFull(c.reader, msg.Body); err != nil {
				c.ioFailed("read body", err)
				return nil
			}
		}

		// Frames still buffered after a close are dropped.
		if !c.IsConnected() {
			return nil
		}

		c.metrics.messageIn(HeaderSize + len(msg.Body))
		c.inbound.PushBack(c.owner.tag(c, msg))
	}
}

// writePump drains the outbound queue front to back and goes idle once it
// is empty. Send arms a new pump on the next empty to non-empty transition.
func (c *Conn[T]) writePump(_ context.Context) error {
	header := make([]byte, HeaderSize)

	for {
		msg, ok := c.outbound.Front()
		if !ok {
			return nil
		}

		if c.limiter != nil {
			c.limiter.Take()
		}

		msg.sync()
		encodeHeader(header, msg.Header)

		c.setWriteDeadline()
		if _, err := c.rawConn.Write(header); err != nil {
			c.ioFailed("write header", err)
			return nil
		}

		if len(msg.Body) > 0 {
			if _, err := c.rawConn.Write(msg.Body); err != nil {
				c.ioFailed("write body", err)
				return nil
			}
		}

		c.metrics.messageOut(HeaderSize + len(msg.Body))
		if c.outbound.dropFront() == 0 {
			return nil
		}
	}
}

func (c *Conn[T]) ioFailed(op string, err error) {
	if c.IsConnected() {
		c.logger.Debug(op+" failed", "error", err)
		c.metrics.ioError(op)
	}
	c.closeSocket()
	c.outbound.Clear()
}

// closeSocket closes the socket and drops anything still queued for it.
func (c *Conn[T]) closeSocket() {
	if !c.open.Swap(false) {
		return
	}

	c.mu.Lock()
	raw := c.rawConn
	c.mu.Unlock()

	if raw != nil {
		_ = raw.Close()
	}
	c.outbound.Clear()
	c.metrics.connClosed()
	c.logger.Debug("connection closed")
}

func (c *Conn[T]) setReadDeadline() {
	if c.opts.heartbeat > 0 {
		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))
	}
}

func (c *Conn[T]) setWriteDeadline() {
	if c.opts.heartbeat > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat * 2))
	}
}
