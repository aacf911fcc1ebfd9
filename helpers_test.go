package msgnet

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMsg uint32

const (
	msgPing testMsg = iota + 1
	msgChat
	msgBroadcast
	msgEmpty
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	clientChan := make(chan net.Conn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	require.NoError(t, err)

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
	case <-time.After(waitFor):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
	}
	return nil, nil
}

func testOptions(opt ...Option) options {
	return newOptions(append([]Option{LoggerOption(DiscardLogger())}, opt...))
}

// startExec returns a running context that is stopped when the test ends.
func startExec(t *testing.T) *ioContext {
	t.Helper()

	exec := newIOContext()
	exec.run()
	t.Cleanup(func() { _ = exec.stop() })
	return exec
}

// writeFrame writes one raw frame to w.
func writeFrame(t *testing.T, w io.Writer, id testMsg, body []byte) {
	t.Helper()

	header := make([]byte, HeaderSize)
	encodeHeader(header, Header[testMsg]{ID: id, Size: uint32(len(body))})
	_, err := w.Write(append(header, body...))
	require.NoError(t, err)
}

// readFrame reads one raw frame from r.
func readFrame(t *testing.T, r io.Reader) (Header[testMsg], []byte) {
	t.Helper()

	header := make([]byte, HeaderSize)
	_, err := io.ReadFull(r, header)
	require.NoError(t, err)

	h := decodeHeader[testMsg](header)
	body := make([]byte, h.Size)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return h, body
}

// popWithin waits up to waitFor for an item on q.
func popWithin[E any](t *testing.T, q *Queue[E]) E {
	t.Helper()

	var item E
	require.Eventually(t, func() bool {
		var ok bool
		item, ok = q.TryPopFront()
		return ok
	}, waitFor, tick)
	return item
}

func newTextMessage(id testMsg, text string) *Message[testMsg] {
	m := NewMessage(id)
	PushBytes(m, []byte(text))
	return m
}

// recordingHandler accepts every client and records what it sees.
type recordingHandler struct {
	mu          sync.Mutex
	reject      bool
	connected   []*Conn[testMsg]
	disconnects map[*Conn[testMsg]]int
	messages    []*Message[testMsg]
	origins     []*Conn[testMsg]
	admitted    chan *Conn[testMsg]
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		disconnects: make(map[*Conn[testMsg]]int),
		admitted:    make(chan *Conn[testMsg], 16),
	}
}

func (h *recordingHandler) OnClientConnect(c *Conn[testMsg]) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reject {
		return false
	}
	h.connected = append(h.connected, c)
	h.admitted <- c
	return true
}

func (h *recordingHandler) OnClientDisconnect(c *Conn[testMsg]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects[c]++
}

func (h *recordingHandler) OnMessage(c *Conn[testMsg], msg *Message[testMsg]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	h.origins = append(h.origins, c)
}

func (h *recordingHandler) disconnectCount(c *Conn[testMsg]) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects[c]
}

func (h *recordingHandler) received() []*Message[testMsg] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Message[testMsg](nil), h.messages...)
}

// nextAdmitted waits for the server side of the next admitted client.
func (h *recordingHandler) nextAdmitted(t *testing.T) *Conn[testMsg] {
	t.Helper()

	select {
	case c := <-h.admitted:
		return c
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for client admission")
		return nil
	}
}

// startServer starts a loopback server on an ephemeral port.
func startServer(t *testing.T, handler Handler[testMsg], opt ...Option) (*Server[testMsg], uint16) {
	t.Helper()

	opts := append([]Option{LoggerOption(DiscardLogger()), ListenHostOption("127.0.0.1")}, opt...)
	server := NewServer[testMsg](0, handler, opts...)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	return server, uint16(server.Addr().(*net.TCPAddr).Port)
}

// connectClient connects a new client to the loopback server on port.
func connectClient(t *testing.T, port uint16, opt ...Option) *Client[testMsg] {
	t.Helper()

	opts := append([]Option{LoggerOption(DiscardLogger())}, opt...)
	client := NewClient[testMsg](opts...)
	require.NoError(t, client.Connect("127.0.0.1", port))
	t.Cleanup(client.Disconnect)
	return client
}
