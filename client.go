package msgnet

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// ErrAlreadyConnected is returned by Connect while the client is connected.
var ErrAlreadyConnected = errors.New("client already connected")

// Client owns a single connection to a server and the queue its messages
// arrive on.
type Client[T MessageType] struct {
	opts    options
	logger  Logger
	inbound *Queue[OwnedMessage[T]]

	mu   sync.Mutex
	exec *ioContext
	conn *Conn[T]
}

// NewClient creates a disconnected client.
func NewClient[T MessageType](opt ...Option) *Client[T] {
	opts := newOptions(opt)
	return &Client[T]{
		opts:    opts,
		logger:  opts.logger,
		inbound: NewQueue[OwnedMessage[T]](),
	}
}

// Connect resolves host, dials the first address that answers and starts
// the background context. It does not retry.
func (c *Client[T]) Connect(host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if c.conn.IsConnected() {
			return ErrAlreadyConnected
		}
		c.teardown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.dialTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		c.logger.Error("resolve failed", "host", host, "error", err)
		return errors.Wrapf(err, "resolve %s", host)
	}

	endpoints := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		endpoints = append(endpoints, net.JoinHostPort(addr, strconv.Itoa(int(port))))
	}

	exec := newIOContext()
	exec.run()

	conn := newClientConn(exec, c.inbound, c.opts)
	if err := conn.ConnectToServer(ctx, endpoints); err != nil {
		_ = exec.stop()
		c.logger.Error("connect failed", "host", host, "port", port, "error", err)
		return err
	}

	c.exec, c.conn = exec, conn
	return nil
}

// Disconnect closes the connection, stops the background context and
// waits for it. Messages still queued for sending are dropped.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

func (c *Client[T]) teardown() {
	if c.conn != nil && c.conn.IsConnected() {
		c.conn.Disconnect()
	}
	if c.exec != nil {
		if err := c.exec.stop(); err != nil {
			c.logger.Warn("background context stopped with error", "error", err)
		}
	}
	c.exec, c.conn = nil, nil
}

// IsConnected reports whether the client holds an open connection.
func (c *Client[T]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return false
	}
	return c.conn.IsConnected()
}

// Send queues msg for the server.
func (c *Client[T]) Send(msg *Message[T]) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrConnectionClosed
	}
	return conn.Send(msg)
}

// Incoming returns the queue messages from the server arrive on. The
// application drains it by polling or by blocking on PopFront.
func (c *Client[T]) Incoming() *Queue[OwnedMessage[T]] {
	return c.inbound
}
