package siotest

import (
	"sync"
	"sync/atomic"

	socketio "github.com/ramory-l/socketio-client"
)

// Socket represents a client connected to one namespace
type Socket struct {
	id   string
	ns   *Namespace
	conn *Conn
	auth socketio.Value

	mu          sync.Mutex
	nextAck     uint64
	ackHandlers map[uint64]socketio.AckCallback
}

func newSocket(id string, ns *Namespace, conn *Conn, auth socketio.Value) *Socket {
	return &Socket{
		id:          id,
		ns:          ns,
		conn:        conn,
		auth:        auth,
		ackHandlers: make(map[uint64]socketio.AckCallback),
	}
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace path
func (s *Socket) Namespace() string {
	return s.ns.name
}

// Auth returns the payload the client sent with CONNECT
func (s *Socket) Auth() socketio.Value {
	return s.auth
}

// Conn returns the underlying Engine.IO connection
func (s *Socket) Conn() *Conn {
	return s.conn
}

// Emit sends an event to the client
func (s *Socket) Emit(event string, args ...any) error {
	packet, err := s.eventPacket(event, args)
	if err != nil {
		return err
	}
	return s.conn.sendPacket(packet)
}

// EmitWithAck sends an event and expects an acknowledgment
func (s *Socket) EmitWithAck(event string, ack socketio.AckCallback, args ...any) error {
	packet, err := s.eventPacket(event, args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	id := s.nextAck
	s.nextAck++
	s.ackHandlers[id] = ack
	s.mu.Unlock()

	packet.ID = &id
	return s.conn.sendPacket(packet)
}

// Disconnect removes the client from the namespace
func (s *Socket) Disconnect() {
	s.conn.mu.Lock()
	if s.conn.sockets[s.ns.name] == s {
		delete(s.conn.sockets, s.ns.name)
	}
	s.conn.mu.Unlock()

	s.conn.sendPacket(&socketio.Packet{Type: socketio.PacketTypeDisconnect, Namespace: s.ns.name})
	s.ns.disconnected(s, "server namespace disconnect")
}

func (s *Socket) eventPacket(event string, args []any) (*socketio.Packet, error) {
	values, err := socketio.ValuesOf(args...)
	if err != nil {
		return nil, err
	}

	data := socketio.Array(append([]socketio.Value{socketio.String(event)}, values...)...)
	packet := &socketio.Packet{Type: socketio.PacketTypeEvent, Namespace: s.ns.name, Data: data}
	if data.HasBinary() {
		packet.Type = socketio.PacketTypeBinaryEvent
	}
	return packet, nil
}

func (s *Socket) ackFunc(id uint64) socketio.AckFunc {
	var sent atomic.Bool
	return func(args ...any) error {
		if !sent.CompareAndSwap(false, true) {
			return socketio.ErrAckAlreadySent
		}

		values, err := socketio.ValuesOf(args...)
		if err != nil {
			return err
		}

		data := socketio.Array(values...)
		packet := &socketio.Packet{Type: socketio.PacketTypeAck, Namespace: s.ns.name, Data: data, ID: &id}
		if data.HasBinary() {
			packet.Type = socketio.PacketTypeBinaryAck
		}
		return s.conn.sendPacket(packet)
	}
}

func (s *Socket) handleAck(packet *socketio.Packet) {
	s.mu.Lock()
	handler, ok := s.ackHandlers[*packet.ID]
	delete(s.ackHandlers, *packet.ID)
	s.mu.Unlock()

	if ok {
		handler(packet.Args(), nil)
	}
}
