package siotest

import (
	"sync"

	socketio "github.com/ramory-l/socketio-client"
)

// Handler handles an event sent by a client. ack is nil unless the client
// asked for an acknowledgement.
type Handler func(socket *Socket, args []socketio.Value, ack socketio.AckFunc)

// Namespace represents a server namespace
type Namespace struct {
	name   string
	server *Server

	mu           sync.RWMutex
	handlers     map[string]Handler
	middleware   func(auth socketio.Value) error
	onConnect    []func(*Socket)
	onDisconnect []func(*Socket, string)
}

// Name returns the namespace path
func (ns *Namespace) Name() string {
	return ns.name
}

// On sets the handler of an event
func (ns *Namespace) On(event string, handler Handler) {
	ns.mu.Lock()
	ns.handlers[event] = handler
	ns.mu.Unlock()
}

// Use sets a CONNECT guard. A non-nil error is sent back as CONNECT_ERROR.
func (ns *Namespace) Use(fn func(auth socketio.Value) error) {
	ns.mu.Lock()
	ns.middleware = fn
	ns.mu.Unlock()
}

// OnConnect registers a connection handler
func (ns *Namespace) OnConnect(handler func(*Socket)) {
	ns.mu.Lock()
	ns.onConnect = append(ns.onConnect, handler)
	ns.mu.Unlock()
}

// OnDisconnect registers a disconnect handler
func (ns *Namespace) OnDisconnect(handler func(*Socket, string)) {
	ns.mu.Lock()
	ns.onDisconnect = append(ns.onDisconnect, handler)
	ns.mu.Unlock()
}

func (ns *Namespace) authorize(auth socketio.Value) error {
	ns.mu.RLock()
	middleware := ns.middleware
	ns.mu.RUnlock()

	if middleware == nil {
		return nil
	}
	return middleware(auth)
}

func (ns *Namespace) connected(socket *Socket) {
	ns.mu.RLock()
	handlers := append([]func(*Socket){}, ns.onConnect...)
	ns.mu.RUnlock()

	for _, handler := range handlers {
		handler(socket)
	}
}

func (ns *Namespace) disconnected(socket *Socket, reason string) {
	ns.mu.RLock()
	handlers := append([]func(*Socket, string){}, ns.onDisconnect...)
	ns.mu.RUnlock()

	for _, handler := range handlers {
		handler(socket, reason)
	}
}

func (ns *Namespace) dispatch(socket *Socket, packet *socketio.Packet) {
	event, _ := packet.Event()

	ns.mu.RLock()
	handler := ns.handlers[event]
	ns.mu.RUnlock()

	if handler == nil {
		socket.conn.logger.Debug("no handler for event", "namespace", ns.name, "event", event)
		return
	}

	var ack socketio.AckFunc
	if packet.ID != nil {
		ack = socket.ackFunc(*packet.ID)
	}
	handler(socket, packet.Args(), ack)
}
