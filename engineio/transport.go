package engineio

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport moves Engine.IO packets over a single underlying connection.
// ReadPacket is called from one goroutine only; WritePacket from one
// goroutine only. Close may be called from anywhere, more than once.
type Transport interface {
	ReadPacket() (*Packet, error)
	WritePacket(*Packet) error
	Close() error
}

// Dialer opens a Transport to an Engine.IO endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// WebSocketDialer dials the WebSocket transport.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// MaxPayload limits the size of a single inbound frame; 0 means no limit.
	MaxPayload int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   d.ReadBufferSize,
		WriteBufferSize:  d.WriteBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if d.MaxPayload > 0 {
		conn.SetReadLimit(d.MaxPayload)
	}

	return NewWebSocketTransport(conn), nil
}

type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadPacket() (*Packet, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		switch messageType {
		case websocket.TextMessage:
			return DecodePacket(data, false)
		case websocket.BinaryMessage:
			return DecodePacket(data, true)
		}
	}
}

func (t *wsTransport) WritePacket(packet *Packet) error {
	messageType := websocket.TextMessage
	if packet.Binary {
		messageType = websocket.BinaryMessage
	}
	return t.conn.WriteMessage(messageType, packet.Encode())
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
