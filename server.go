package msgnet

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
)

// FirstClientID is the id given to the first admitted client. Lower ids are
// left free for the application.
const FirstClientID uint32 = 10000

// ErrServerStarted is returned by Start on a running server.
var ErrServerStarted = errors.New("server already started")

// Server accepts clients on a TCP port and keeps a registry of the admitted
// ones. Every message they send lands on a single inbound queue that the
// application drains with Update.
type Server[T MessageType] struct {
	port    uint16
	handler Handler[T]
	opts    options
	logger  Logger
	metrics *Metrics

	inbound *Queue[OwnedMessage[T]]

	// listen opens the listening socket; net.Listen unless replaced in tests.
	listen func(network, address string) (net.Listener, error)

	mu       sync.Mutex
	conns    []*Conn[T]
	nextID   uint32
	listener net.Listener
	exec     *ioContext
}

// NewServer creates a server for the given port. A nil handler behaves
// like DefaultHandler and rejects everyone.
func NewServer[T MessageType](port uint16, handler Handler[T], opt ...Option) *Server[T] {
	if handler == nil {
		handler = DefaultHandler[T]{}
	}
	opts := newOptions(opt)

	return &Server[T]{
		port:    port,
		handler: handler,
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metrics,
		inbound: NewQueue[OwnedMessage[T]](),
		nextID:  FirstClientID,
		listen:  net.Listen,
	}
}

// Start binds the listening socket, starts the background context and
// begins accepting clients.
func (s *Server[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exec != nil {
		return ErrServerStarted
	}

	addr := net.JoinHostPort(s.opts.listenHost, strconv.Itoa(int(s.port)))
	listener, err := s.listen("tcp", addr)
	if err != nil {
		s.logger.Error("server start failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "listen %s", addr)
	}
	if s.opts.maxConnections > 0 {
		listener = netutil.LimitListener(listener, s.opts.maxConnections)
	}

	var limiter *rate.Limiter
	if s.opts.acceptRate > 0 {
		limiter = rate.NewLimiter(s.opts.acceptRate, s.opts.acceptBurst)
	}

	exec := newIOContext()
	exec.run()
	exec.spawn(func(ctx context.Context) error {
		return s.acceptLoop(ctx, exec, listener, limiter)
	})

	s.exec = exec
	s.listener = listener

	s.logger.Info("server started", "addr", listener.Addr())
	return nil
}

// Stop closes the listener and every registered connection, halts the
// background context and waits for it. Queued outbound messages are
// dropped. Stop on a stopped server does nothing.
func (s *Server[T]) Stop() {
	s.mu.Lock()
	exec, listener, conns := s.exec, s.listener, s.conns
	s.exec, s.listener, s.conns = nil, nil, nil
	s.mu.Unlock()

	if exec == nil {
		return
	}

	_ = listener.Close()
	for _, conn := range conns {
		conn.Disconnect()
	}

	if err := exec.stop(); err != nil {
		s.logger.Warn("background context stopped with error", "error", err)
	}
	s.logger.Info("server stopped", "addr", listener.Addr())
}

// Addr returns the listening address, or nil while the server is stopped.
func (s *Server[T]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns a snapshot of the registry in admission order.
func (s *Server[T]) Connections() []*Conn[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conns)
}

// ConnectionCount returns the number of registered connections.
func (s *Server[T]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Incoming returns the queue every client's messages are pushed onto.
func (s *Server[T]) Incoming() *Queue[OwnedMessage[T]] {
	return s.inbound
}

// acceptLoop waits for one client at a time. A failed accept is logged and
// the loop goes straight back to accepting; it only ends once the
// listener is closed by Stop.
func (s *Server[T]) acceptLoop(ctx context.Context, exec *ioContext, listener net.Listener, limiter *rate.Limiter) error {
	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			s.metrics.acceptError()
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				_ = raw.Close()
				return nil
			}
		}

		s.admit(exec, raw)
	}
}

func (s *Server[T]) admit(exec *ioContext, raw net.Conn) {
	s.logger.Info("new connection", "remote_addr", raw.RemoteAddr())

	conn := newServerConn(exec, raw, s.inbound, s.opts)
	if !s.handler.OnClientConnect(conn) {
		s.logger.Info("connection denied", "remote_addr", raw.RemoteAddr())
		s.metrics.connRejected()
		conn.closeSocket()
		return
	}

	s.mu.Lock()
	if s.exec != exec {
		// Stopped while the hook ran.
		s.mu.Unlock()
		conn.closeSocket()
		return
	}

	id := s.nextID
	err := conn.ConnectToClient(id)
	if err == nil {
		s.nextID++
		s.conns = append(s.conns, conn)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("connection lost before admission", "id", id, "error", err)
		return
	}

	s.metrics.connAccepted()
	s.logger.Info("connection approved", "id", id, "remote_addr", raw.RemoteAddr())
}

// MessageClient sends msg to client. A client that is no longer connected
// is reported through OnClientDisconnect and dropped from the registry.
func (s *Server[T]) MessageClient(client *Conn[T], msg *Message[T]) {
	if client == nil {
		return
	}

	if client.IsConnected() && client.Send(msg) == nil {
		return
	}
	s.dropClients(client)
}

// MessageAllClients sends msg to every registered client except exclude,
// which may be nil. Clients found disconnected during the sweep are
// reported and dropped once the sweep is over.
func (s *Server[T]) MessageAllClients(msg *Message[T], exclude *Conn[T]) {
	var gone []*Conn[T]

	for _, client := range s.Connections() {
		if !client.IsConnected() {
			gone = append(gone, client)
			continue
		}
		if client == exclude {
			continue
		}
		if err := client.Send(msg); err != nil {
			gone = append(gone, client)
		}
	}

	if len(gone) > 0 {
		s.dropClients(gone...)
	}
}

// dropClients removes clients from the registry and fires OnClientDisconnect
// for each one that was still registered.
func (s *Server[T]) dropClients(clients ...*Conn[T]) {
	s.mu.Lock()
	removed := make([]*Conn[T], 0, len(clients))
	s.conns = slices.DeleteFunc(s.conns, func(c *Conn[T]) bool {
		if slices.Contains(clients, c) {
			removed = append(removed, c)
			return true
		}
		return false
	})
	s.mu.Unlock()

	for _, client := range removed {
		s.logger.Info("client disconnected", "id", client.ID())
		s.metrics.clientDisconnected()
		s.handler.OnClientDisconnect(client)
	}
}

// Update dispatches up to maxMessages queued messages to OnMessage in
// arrival order and returns how many it handled. A maxMessages of zero or
// less drains the queue.
func (s *Server[T]) Update(maxMessages int) int {
	n := 0
	for maxMessages <= 0 || n < maxMessages {
		owned, ok := s.inbound.TryPopFront()
		if !ok {
			break
		}
		s.handler.OnMessage(owned.Remote, owned.Msg)
		n++
	}
	return n
}

// UpdateWait blocks until at least one message is queued, then behaves
// like Update.
func (s *Server[T]) UpdateWait(maxMessages int) int {
	s.inbound.Wait()
	return s.Update(maxMessages)
}
