package engineio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	in     chan any
	out    chan *Packet
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan any, 64),
		out:    make(chan *Packet, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadPacket() (*Packet, error) {
	select {
	case item := <-f.in:
		if err, ok := item.(error); ok {
			return nil, err
		}
		return item.(*Packet), nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WritePacket(packet *Packet) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.out <- packet
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) next(t *testing.T) *Packet {
	t.Helper()
	select {
	case packet := <-f.out:
		return packet
	case <-time.After(time.Second):
		t.Fatal("no packet written")
		return nil
	}
}

func testConfig() *Config {
	return &Config{
		HandshakeTimeout: time.Second,
		SendBuffer:       16,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func openPacket(interval, timeout int) *Packet {
	return &Packet{
		Type: PacketTypeOpen,
		Data: []byte(fmt.Sprintf(`{"sid":"s1","upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`, interval, timeout)),
	}
}

type closeResult struct {
	reason string
	err    error
}

func openSession(t *testing.T, transport *fakeTransport, interval, timeout int) (*Session, chan closeResult) {
	t.Helper()
	transport.in <- openPacket(interval, timeout)

	session, err := Open(context.Background(), transport, testConfig())
	require.NoError(t, err)

	closed := make(chan closeResult, 1)
	session.OnClose(func(reason string, err error) {
		closed <- closeResult{reason, err}
	})
	return session, closed
}

func waitClose(t *testing.T, closed chan closeResult) closeResult {
	t.Helper()
	select {
	case result := <-closed:
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
		return closeResult{}
	}
}

func TestOpenHandshake(t *testing.T) {
	transport := newFakeTransport()
	session, _ := openSession(t, transport, 25000, 5000)

	assert.Equal(t, "s1", session.ID())
	handshake := session.Handshake()
	assert.Equal(t, 25*time.Second, handshake.Interval())
	assert.Equal(t, 5*time.Second, handshake.Timeout())
	assert.False(t, transport.isClosed())
}

func TestOpenRejectsNonOpenPacket(t *testing.T) {
	transport := newFakeTransport()
	transport.in <- &Packet{Type: PacketTypeMessage, Data: []byte("2[]")}

	_, err := Open(context.Background(), transport, testConfig())
	assert.ErrorIs(t, err, ErrUnexpectedPacket)
	assert.True(t, transport.isClosed())
}

func TestOpenRejectsBadHandshake(t *testing.T) {
	transport := newFakeTransport()
	transport.in <- &Packet{Type: PacketTypeOpen, Data: []byte(`{"sid":""}`)}

	_, err := Open(context.Background(), transport, testConfig())
	assert.ErrorIs(t, err, ErrInvalidPacket)
	assert.True(t, transport.isClosed())
}

func TestOpenTimeout(t *testing.T) {
	transport := newFakeTransport()
	config := testConfig()
	config.HandshakeTimeout = 20 * time.Millisecond

	_, err := Open(context.Background(), transport, config)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, transport.isClosed())
}

func TestOpenReadError(t *testing.T) {
	transport := newFakeTransport()
	transport.in <- errors.New("connection reset")

	_, err := Open(context.Background(), transport, testConfig())
	assert.ErrorContains(t, err, "connection reset")
}

func TestSessionAnswersPing(t *testing.T) {
	transport := newFakeTransport()
	session, _ := openSession(t, transport, 25000, 5000)
	session.Start()
	defer session.Abort("test done", nil)

	transport.in <- &Packet{Type: PacketTypePing, Data: []byte("probe")}

	pong := transport.next(t)
	assert.Equal(t, PacketTypePong, pong.Type)
	assert.Equal(t, []byte("probe"), pong.Data)
}

func TestSessionDeliversMessagesInOrder(t *testing.T) {
	transport := newFakeTransport()
	session, _ := openSession(t, transport, 25000, 5000)

	received := make(chan string, 3)
	session.OnMessage(func(packet *Packet) {
		received <- string(packet.Data)
	})
	session.Start()
	defer session.Abort("test done", nil)

	transport.in <- &Packet{Type: PacketTypeMessage, Data: []byte("a")}
	transport.in <- &Packet{Type: PacketTypeNoop}
	transport.in <- &Packet{Type: PacketTypeMessage, Data: []byte("b")}
	transport.in <- &Packet{Type: PacketTypeMessage, Data: []byte{0x01}, Binary: true}

	for _, want := range []string{"a", "b", "\x01"} {
		select {
		case have := <-received:
			assert.Equal(t, want, have)
		case <-time.After(time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestSessionHeartbeatTimeout(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 30, 20)
	session.Start()

	result := waitClose(t, closed)
	assert.Equal(t, "ping timeout", result.reason)
	assert.ErrorIs(t, result.err, ErrHeartbeatTimeout)
	assert.True(t, transport.isClosed())
}

func TestSessionPingKeepsAlive(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 40, 40)
	session.Start()
	defer session.Abort("test done", nil)

	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		transport.in <- &Packet{Type: PacketTypePing}
		transport.next(t)
	}

	select {
	case result := <-closed:
		t.Fatalf("session closed early: %s %v", result.reason, result.err)
	default:
	}
}

func TestSessionServerClose(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 25000, 5000)
	session.Start()

	transport.in <- &Packet{Type: PacketTypeClose}

	result := waitClose(t, closed)
	assert.ErrorIs(t, result.err, ErrServerClosed)
	<-session.Done()
}

func TestSessionSecondOpenIsViolation(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 25000, 5000)
	session.Start()

	transport.in <- openPacket(1, 1)

	result := waitClose(t, closed)
	assert.Equal(t, "parse error", result.reason)
	assert.ErrorIs(t, result.err, ErrUnexpectedPacket)
}

func TestSessionTransportError(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 25000, 5000)
	session.Start()

	transport.in <- io.ErrUnexpectedEOF

	result := waitClose(t, closed)
	assert.Equal(t, "transport close", result.reason)
	assert.ErrorIs(t, result.err, io.ErrUnexpectedEOF)
}

func TestSessionGracefulClose(t *testing.T) {
	transport := newFakeTransport()
	session, closed := openSession(t, transport, 25000, 5000)
	session.Start()

	require.NoError(t, session.Send(
		&Packet{Type: PacketTypeMessage, Data: []byte("text")},
		&Packet{Type: PacketTypeMessage, Data: []byte{1}, Binary: true},
	))
	session.Close("bye")

	assert.Equal(t, []byte("text"), transport.next(t).Data)
	assert.True(t, transport.next(t).Binary)
	assert.Equal(t, PacketTypeClose, transport.next(t).Type)

	result := waitClose(t, closed)
	assert.Equal(t, "bye", result.reason)
	assert.NoError(t, result.err)
	assert.True(t, transport.isClosed())

	assert.ErrorIs(t, session.Send(&Packet{Type: PacketTypeMessage}), ErrSessionClosed)
}

func TestSessionSendWaitsForQueue(t *testing.T) {
	transport := newFakeTransport()
	transport.in <- openPacket(25000, 5000)

	config := testConfig()
	config.SendBuffer = 1
	session, err := Open(context.Background(), transport, config)
	require.NoError(t, err)
	defer session.Abort("test done", nil)

	// not started: nothing drains the queue yet
	require.NoError(t, session.Send(&Packet{Type: PacketTypeMessage, Data: []byte("first")}))

	sent := make(chan error, 1)
	go func() {
		sent <- session.Send(&Packet{Type: PacketTypeMessage, Data: []byte("second")})
	}()

	select {
	case err := <-sent:
		t.Fatalf("send returned before the queue drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	session.Start()

	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send still blocked after start")
	}
	assert.Equal(t, []byte("first"), transport.next(t).Data)
	assert.Equal(t, []byte("second"), transport.next(t).Data)
}

func TestSessionSendBurst(t *testing.T) {
	transport := newFakeTransport()
	transport.out = make(chan *Packet, 2000)
	transport.in <- openPacket(25000, 5000)

	config := testConfig()
	config.SendBuffer = 4
	session, err := Open(context.Background(), transport, config)
	require.NoError(t, err)
	session.Start()
	defer session.Abort("test done", nil)

	for i := 0; i < 1000; i++ {
		require.NoError(t, session.Send(&Packet{Type: PacketTypeMessage, Data: []byte(fmt.Sprint(i))}))
	}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, []byte(fmt.Sprint(i)), transport.next(t).Data)
	}
}

func TestSessionSendReleasedOnClose(t *testing.T) {
	for name, stop := range map[string]func(*Session){
		"abort": func(s *Session) { s.Abort("gone", nil) },
		"close": func(s *Session) { s.Close("bye") },
	} {
		t.Run(name, func(t *testing.T) {
			transport := newFakeTransport()
			transport.in <- openPacket(25000, 5000)

			config := testConfig()
			config.SendBuffer = 1
			session, err := Open(context.Background(), transport, config)
			require.NoError(t, err)
			require.NoError(t, session.Send(&Packet{Type: PacketTypeMessage}))

			sent := make(chan error, 1)
			go func() {
				sent <- session.Send(&Packet{Type: PacketTypeMessage})
			}()
			time.Sleep(20 * time.Millisecond)

			stop(session)

			select {
			case err := <-sent:
				assert.ErrorIs(t, err, ErrSessionClosed)
			case <-time.After(time.Second):
				t.Fatal("send still blocked after close")
			}
			assert.True(t, transport.isClosed())
		})
	}
}
