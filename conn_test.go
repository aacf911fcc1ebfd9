package msgnet

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServerConn wraps one end of a TCP pair in a registered server
// connection and returns it with the raw peer socket.
func newTestServerConn(t *testing.T, opt ...Option) (*Conn[testMsg], net.Conn, *Queue[OwnedMessage[testMsg]]) {
	t.Helper()

	exec := startExec(t)
	serverRaw, peer := createTestTCPPair(t)
	inbound := NewQueue[OwnedMessage[testMsg]]()

	c := newServerConn(exec, serverRaw, inbound, testOptions(opt...))
	t.Cleanup(c.closeSocket)
	t.Cleanup(func() { _ = peer.Close() })

	require.NoError(t, c.ConnectToClient(FirstClientID))
	return c, peer, inbound
}

func TestConn_ServerSideTagsRemote(t *testing.T) {
	c, peer, inbound := newTestServerConn(t)

	writeFrame(t, peer, msgChat, []byte("hello"))

	owned := popWithin(t, inbound)
	assert.Same(t, c, owned.Remote)
	assert.Equal(t, msgChat, owned.Msg.Header.ID)
	assert.Equal(t, uint32(5), owned.Msg.Header.Size)
	assert.Equal(t, "hello", string(owned.Msg.Body))
}

func TestConn_EmptyFrame(t *testing.T) {
	_, peer, inbound := newTestServerConn(t)

	writeFrame(t, peer, msgEmpty, nil)
	writeFrame(t, peer, msgPing, []byte{1})

	first := popWithin(t, inbound)
	assert.Equal(t, msgEmpty, first.Msg.Header.ID)
	assert.Zero(t, first.Msg.Header.Size)
	assert.Empty(t, first.Msg.Body)

	second := popWithin(t, inbound)
	assert.Equal(t, msgPing, second.Msg.Header.ID)
	assert.Equal(t, []byte{1}, second.Msg.Body)
}

func TestConn_FramesSplitAcrossWrites(t *testing.T) {
	_, peer, inbound := newTestServerConn(t)

	header := make([]byte, HeaderSize)
	encodeHeader(header, Header[testMsg]{ID: msgChat, Size: 6})

	for _, part := range [][]byte{header[:3], header[3:], []byte("abc"), []byte("def")} {
		_, err := peer.Write(part)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	owned := popWithin(t, inbound)
	assert.Equal(t, "abcdef", string(owned.Msg.Body))
}

func TestConn_Accessors(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	assert.Equal(t, FirstClientID, c.ID())
	assert.Equal(t, ServerSide, c.Role())
	assert.True(t, c.IsConnected())
	assert.Equal(t, peer.LocalAddr().String(), c.RemoteAddr().String())
	assert.Equal(t, peer.RemoteAddr().String(), c.LocalAddr().String())
}

func TestConn_SendWritesInOrder(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	for i := 0; i < 3; i++ {
		m := NewMessage(msgChat)
		require.NoError(t, Push(m, uint32(i)))
		require.NoError(t, c.Send(m))
	}
	require.NoError(t, c.Send(NewMessage(msgEmpty)))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	for i := 0; i < 3; i++ {
		h, body := readFrame(t, peer)
		assert.Equal(t, Header[testMsg]{ID: msgChat, Size: 4}, h)

		m := &Message[testMsg]{Header: h, Body: body}
		v, err := Pop[testMsg, uint32](m)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), v)
	}

	h, body := readFrame(t, peer)
	assert.Equal(t, Header[testMsg]{ID: msgEmpty}, h)
	assert.Empty(t, body)
}

func TestConn_SendCopiesMessage(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	m := newTextMessage(msgChat, "abc")
	require.NoError(t, c.Send(m))
	m.Body[0] = 'x'

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	_, body := readFrame(t, peer)
	assert.Equal(t, "abc", string(body))
}

func TestConn_ConcurrentSendsKeepFramesWhole(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	const senders, perSender = 4, 50
	for s := 0; s < senders; s++ {
		go func() {
			for i := 0; i < perSender; i++ {
				_ = c.Send(newTextMessage(msgChat, "0123456789"))
			}
		}()
	}

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	for i := 0; i < senders*perSender; i++ {
		h, body := readFrame(t, peer)
		require.Equal(t, msgChat, h.ID)
		require.Equal(t, "0123456789", string(body))
	}
}

func TestConn_OversizedFrameCloses(t *testing.T) {
	c, peer, inbound := newTestServerConn(t, MessageMaxSize(16))

	writeFrame(t, peer, msgChat, make([]byte, 17))

	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)
	assert.True(t, inbound.Empty())
}

func TestConn_PeerCloseIsNoticed(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)

	assert.True(t, errors.Is(c.Send(NewMessage(msgPing)), ErrConnectionClosed))
}

func TestConn_TruncatedBodyCloses(t *testing.T) {
	c, peer, inbound := newTestServerConn(t)

	header := make([]byte, HeaderSize)
	encodeHeader(header, Header[testMsg]{ID: msgChat, Size: 10})
	_, err := peer.Write(append(header, "abc"...))
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)
	assert.True(t, inbound.Empty())
}

func TestConn_WriteFailureClosesAndDropsQueue(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	exec := startExec(t)
	serverRaw, peer := createTestTCPPair(t)

	// Without a read pump only the write pump can notice the reset.
	c := newServerConn(exec, serverRaw, NewQueue[OwnedMessage[testMsg]](), testOptions(MetricsOption(metrics)))
	t.Cleanup(c.closeSocket)

	require.NoError(t, peer.(*net.TCPConn).SetLinger(0))
	require.NoError(t, peer.Close())

	body := make([]byte, 512*1024)
	for i := 0; i < 16; i++ {
		m := NewMessage(msgChat)
		PushBytes(m, body)
		if c.Send(m) != nil {
			break
		}
	}

	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)
	require.Eventually(t, c.outbound.Empty, waitFor, tick)

	failures := testutil.ToFloat64(metrics.ioErrors.WithLabelValues("write header")) +
		testutil.ToFloat64(metrics.ioErrors.WithLabelValues("write body"))
	assert.GreaterOrEqual(t, failures, 1.0)
	assert.Zero(t, testutil.ToFloat64(metrics.active))
}

func TestConn_SendRefusesOversizedPayload(t *testing.T) {
	c, peer, _ := newTestServerConn(t, MessageMaxSize(16))

	err := c.Send(newTextMessage(msgChat, strings.Repeat("x", 17)))
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Send(newTextMessage(msgChat, strings.Repeat("y", 16))))
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	_, body := readFrame(t, peer)
	assert.Equal(t, strings.Repeat("y", 16), string(body))
}

func TestConn_BufferedFramesDroppedAfterClose(t *testing.T) {
	exec := startExec(t)
	serverRaw, peer := createTestTCPPair(t)
	t.Cleanup(func() { _ = peer.Close() })

	inbound := NewQueue[OwnedMessage[testMsg]]()
	c := newServerConn(exec, serverRaw, inbound, testOptions())

	writeFrame(t, peer, msgChat, []byte("one"))
	writeFrame(t, peer, msgChat, []byte("two"))

	// Pull what has arrived into the read buffer, then close.
	_, err := c.reader.Peek(HeaderSize)
	require.NoError(t, err)
	c.closeSocket()

	require.NoError(t, c.readPump(context.Background()))
	assert.True(t, inbound.Empty())
}

func TestConn_Disconnect(t *testing.T) {
	c, peer, _ := newTestServerConn(t)

	c.Disconnect()
	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := peer.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func TestConn_HeartbeatClosesIdleConnection(t *testing.T) {
	c, _, _ := newTestServerConn(t, HeartbeatOption(50*time.Millisecond))

	require.Eventually(t, func() bool { return !c.IsConnected() }, waitFor, tick)
}

func TestConn_RoleChecks(t *testing.T) {
	exec := startExec(t)
	inbound := NewQueue[OwnedMessage[testMsg]]()

	client := newClientConn(exec, inbound, testOptions())
	assert.Equal(t, ClientSide, client.Role())
	assert.True(t, errors.Is(client.ConnectToClient(1), ErrNotServerSide))

	serverRaw, peer := createTestTCPPair(t)
	defer peer.Close()
	server := newServerConn(exec, serverRaw, inbound, testOptions())
	defer server.closeSocket()

	err := server.ConnectToServer(context.Background(), []string{"127.0.0.1:1"})
	assert.True(t, errors.Is(err, ErrNotClientSide))
}

func TestConn_ClientSide(t *testing.T) {
	exec := startExec(t)
	inbound := NewQueue[OwnedMessage[testMsg]]()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	c := newClientConn(exec, inbound, testOptions())
	assert.False(t, c.IsConnected())
	assert.Nil(t, c.RemoteAddr())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.ConnectToServer(ctx, []string{listener.Addr().String()}))
	t.Cleanup(c.closeSocket)

	peer, err := listener.Accept()
	require.NoError(t, err)
	defer peer.Close()

	assert.True(t, c.IsConnected())
	assert.Zero(t, c.ID())

	writeFrame(t, peer, msgPing, []byte("pong"))
	owned := popWithin(t, inbound)
	assert.Nil(t, owned.Remote)
	assert.Equal(t, "pong", string(owned.Msg.Body))
}

func TestConn_ConnectToServerTriesEachEndpoint(t *testing.T) {
	exec := startExec(t)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	require.NoError(t, dead.Close())

	live, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer live.Close()

	c := newClientConn(exec, NewQueue[OwnedMessage[testMsg]](), testOptions())
	require.NoError(t, c.ConnectToServer(context.Background(), []string{deadAddr, live.Addr().String()}))
	t.Cleanup(c.closeSocket)

	assert.Equal(t, live.Addr().String(), c.RemoteAddr().String())
}

func TestConn_ConnectToServerFailure(t *testing.T) {
	exec := startExec(t)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	require.NoError(t, dead.Close())

	c := newClientConn(exec, NewQueue[OwnedMessage[testMsg]](), testOptions())

	assert.True(t, errors.Is(c.ConnectToServer(context.Background(), nil), ErrNoEndpoints))
	assert.Error(t, c.ConnectToServer(context.Background(), []string{deadAddr}))
	assert.False(t, c.IsConnected())
	assert.True(t, errors.Is(c.Send(NewMessage(msgPing)), ErrConnectionClosed))
}

func TestConn_SendAfterContextStopped(t *testing.T) {
	exec := newIOContext()
	exec.run()

	serverRaw, peer := createTestTCPPair(t)
	defer peer.Close()
	c := newServerConn(exec, serverRaw, NewQueue[OwnedMessage[testMsg]](), testOptions())

	c.closeSocket()
	require.NoError(t, exec.stop())

	assert.True(t, errors.Is(c.Send(NewMessage(msgPing)), ErrConnectionClosed))
	assert.True(t, errors.Is(c.ConnectToClient(1), ErrConnectionClosed))
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "server", ServerSide.String())
	assert.Equal(t, "client", ClientSide.String())
	assert.Equal(t, "unknown", Role(9).String())
}
