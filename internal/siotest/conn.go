package siotest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	socketio "github.com/ramory-l/socketio-client"
	"github.com/ramory-l/socketio-client/engineio"
)

// Conn is the server side of one Engine.IO session
type Conn struct {
	sid       string
	transport engineio.Transport
	server    *Server
	logger    *slog.Logger
	decoder   *socketio.Decoder

	outgoing  chan []*engineio.Packet
	closed    chan struct{}
	closeOnce sync.Once
	pongs     atomic.Int64

	timerMu     sync.Mutex
	pingTimer   *time.Timer
	pingTimeout *time.Timer

	mu      sync.RWMutex
	sockets map[string]*Socket
}

func newConn(sid string, transport engineio.Transport, server *Server) *Conn {
	return &Conn{
		sid:       sid,
		transport: transport,
		server:    server,
		logger:    server.logger.With("sid", sid),
		decoder:   socketio.NewDecoder(),
		outgoing:  make(chan []*engineio.Packet, 256),
		closed:    make(chan struct{}),
		sockets:   make(map[string]*Socket),
	}
}

// ID returns the Engine.IO session ID
func (c *Conn) ID() string {
	return c.sid
}

// Pongs returns how many PONGs the client has sent
func (c *Conn) Pongs() int {
	return int(c.pongs.Load())
}

// Done is closed once the transport is gone
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Socket returns the socket of a connected namespace
func (c *Conn) Socket(namespace string) (*Socket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	socket, ok := c.sockets[namespace]
	return socket, ok
}

// Send queues Engine.IO packets, written back to back
func (c *Conn) Send(packets ...*engineio.Packet) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.outgoing <- packets:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowClient
	}
}

// SendRaw queues a text frame as an Engine.IO MESSAGE without any checks
func (c *Conn) SendRaw(text string) error {
	return c.Send(&engineio.Packet{Type: engineio.PacketTypeMessage, Data: []byte(text)})
}

// Close sends CLOSE after the queued packets and closes the transport
func (c *Conn) Close(reason string) {
	c.logger.Debug("closing", "reason", reason)
	if err := c.Send(&engineio.Packet{Type: engineio.PacketTypeClose}); err != nil {
		c.terminate(reason)
	}
}

func (c *Conn) drop(reason string) {
	c.terminate(reason)
}

func (c *Conn) start() {
	go c.writeLoop()
	go c.readLoop()
	if !c.server.config.SkipPings {
		c.schedulePing()
	}
}

func (c *Conn) terminate(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.timerMu.Lock()
		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		if c.pingTimeout != nil {
			c.pingTimeout.Stop()
		}
		c.timerMu.Unlock()

		c.transport.Close()
		c.server.removeConn(c.sid)

		c.mu.Lock()
		sockets := c.sockets
		c.sockets = make(map[string]*Socket)
		c.mu.Unlock()

		for _, socket := range sockets {
			socket.ns.disconnected(socket, reason)
		}
		c.logger.Debug("transport closed", "reason", reason)
	})
}

func (c *Conn) readLoop() {
	defer c.terminate("transport close")

	for {
		packet, err := c.transport.ReadPacket()
		if err != nil {
			return
		}

		switch packet.Type {
		case engineio.PacketTypePing:
			c.Send(&engineio.Packet{Type: engineio.PacketTypePong, Data: packet.Data})
		case engineio.PacketTypePong:
			c.handlePong()
		case engineio.PacketTypeClose:
			c.terminate("client close")
			return
		case engineio.PacketTypeMessage:
			if !c.handleMessage(packet) {
				c.terminate("parse error")
				return
			}
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case batch := <-c.outgoing:
			for _, packet := range batch {
				if err := c.transport.WritePacket(packet); err != nil {
					c.terminate("write error")
					return
				}
				if packet.Type == engineio.PacketTypeClose {
					c.terminate("server close")
					return
				}
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) handleMessage(message *engineio.Packet) bool {
	packet, err := c.decoder.Decode(message.Data, message.Binary)
	if err != nil {
		c.logger.Warn("bad packet from client", "error", err)
		return false
	}
	if packet == nil {
		return true
	}

	c.server.inspect(c, packet)

	switch packet.Type {
	case socketio.PacketTypeConnect:
		c.handleConnect(packet)
	case socketio.PacketTypeDisconnect:
		c.mu.Lock()
		socket, ok := c.sockets[packet.Namespace]
		delete(c.sockets, packet.Namespace)
		c.mu.Unlock()
		if ok {
			socket.ns.disconnected(socket, "client namespace disconnect")
		}
	case socketio.PacketTypeEvent, socketio.PacketTypeBinaryEvent:
		if socket, ok := c.Socket(packet.Namespace); ok {
			socket.ns.dispatch(socket, packet)
		}
	case socketio.PacketTypeAck, socketio.PacketTypeBinaryAck:
		if socket, ok := c.Socket(packet.Namespace); ok {
			socket.handleAck(packet)
		}
	}
	return true
}

func (c *Conn) handleConnect(packet *socketio.Packet) {
	ns := c.server.namespace(packet.Namespace)
	if ns == nil {
		c.sendPacket(&socketio.Packet{
			Type:      socketio.PacketTypeConnectError,
			Namespace: packet.Namespace,
			Data:      socketio.Object(map[string]socketio.Value{"message": socketio.String("Invalid namespace")}),
		})
		return
	}

	if err := ns.authorize(packet.Data); err != nil {
		c.sendPacket(&socketio.Packet{
			Type:      socketio.PacketTypeConnectError,
			Namespace: packet.Namespace,
			Data:      socketio.Object(map[string]socketio.Value{"message": socketio.String(err.Error())}),
		})
		return
	}

	socket := newSocket(uuid.NewString(), ns, c, packet.Data)

	c.mu.Lock()
	c.sockets[ns.name] = socket
	c.mu.Unlock()

	c.sendPacket(&socketio.Packet{
		Type:      socketio.PacketTypeConnect,
		Namespace: ns.name,
		Data:      socketio.Object(map[string]socketio.Value{"sid": socketio.String(socket.id)}),
	})

	ns.connected(socket)
}

func (c *Conn) sendPacket(packet *socketio.Packet) error {
	text, attachments, err := packet.Encode()
	if err != nil {
		return err
	}

	batch := make([]*engineio.Packet, 0, 1+len(attachments))
	batch = append(batch, &engineio.Packet{Type: engineio.PacketTypeMessage, Data: []byte(text)})
	for _, attachment := range attachments {
		batch = append(batch, &engineio.Packet{Type: engineio.PacketTypeMessage, Data: attachment, Binary: true})
	}
	return c.Send(batch...)
}

func (c *Conn) handlePong() {
	c.pongs.Add(1)

	c.timerMu.Lock()
	if c.pingTimeout != nil {
		c.pingTimeout.Stop()
	}
	c.timerMu.Unlock()

	c.schedulePing()
}

func (c *Conn) schedulePing() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	c.pingTimer = time.AfterFunc(c.server.config.PingInterval, func() {
		c.Send(&engineio.Packet{Type: engineio.PacketTypePing})
		c.schedulePingTimeout()
	})
}

func (c *Conn) schedulePingTimeout() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.pingTimeout = time.AfterFunc(c.server.config.PingTimeout, func() {
		c.terminate("ping timeout")
	})
}
