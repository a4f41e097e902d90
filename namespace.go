package socketio

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramory-l/socketio-client/engineio"
)

// EventHandler handles Socket.IO events. ack is nil unless the server asked
// for an acknowledgement.
type EventHandler func(args []Value, ack AckFunc)

// AnyHandler receives events that have no handler of their own
type AnyHandler func(event string, args []Value, ack AckFunc)

// AckFunc answers an event that requested an acknowledgement. Only the
// first call sends anything.
type AckFunc func(args ...any) error

// Namespace is the client's session in one Socket.IO namespace. All
// namespaces of a Client share its transport.
type Namespace struct {
	name   string
	client *Client
	acks   *ackTracker
	logger *slog.Logger

	mu             sync.RWMutex
	id             string
	connected      bool
	removed        error
	handlers       map[string][]EventHandler
	anyHandlers    []AnyHandler
	onConnect      []func()
	onConnectError []func(*ConnectError)
	onDisconnect   []func(string)
	sendBuffer     []bufferedPacket
}

// bufferedPacket is an emit queued until the namespace is connected
type bufferedPacket struct {
	batch []*engineio.Packet
	ackID *uint64
}

func newNamespace(name string, client *Client) *Namespace {
	logger := client.logger.With("namespace", name)
	return &Namespace{
		name:     name,
		client:   client,
		logger:   logger,
		acks:     newAckTracker(name, logger, client.reportError),
		handlers: make(map[string][]EventHandler),
	}
}

func normalizeNamespace(name string) string {
	if name == "" {
		return "/"
	}
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// Name returns the namespace path
func (ns *Namespace) Name() string {
	return ns.name
}

// ID returns the socket id assigned by the server, empty while not connected
func (ns *Namespace) ID() string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.id
}

// Connected reports whether the server accepted the namespace on the
// current transport
func (ns *Namespace) Connected() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.connected
}

// On registers an event handler
func (ns *Namespace) On(event string, handler EventHandler) {
	ns.mu.Lock()
	ns.handlers[event] = append(ns.handlers[event], handler)
	ns.mu.Unlock()
}

// Off removes event handlers
func (ns *Namespace) Off(event string) {
	ns.mu.Lock()
	delete(ns.handlers, event)
	ns.mu.Unlock()
}

// OnAny registers a handler for events without a dedicated handler
func (ns *Namespace) OnAny(handler AnyHandler) {
	ns.mu.Lock()
	ns.anyHandlers = append(ns.anyHandlers, handler)
	ns.mu.Unlock()
}

// OnConnect registers a handler called each time the server accepts the
// namespace, including after reconnection
func (ns *Namespace) OnConnect(handler func()) {
	ns.mu.Lock()
	ns.onConnect = append(ns.onConnect, handler)
	ns.mu.Unlock()
}

// OnConnectError registers a handler for CONNECT_ERROR packets
func (ns *Namespace) OnConnectError(handler func(*ConnectError)) {
	ns.mu.Lock()
	ns.onConnectError = append(ns.onConnectError, handler)
	ns.mu.Unlock()
}

// OnDisconnect registers a disconnect handler
func (ns *Namespace) OnDisconnect(handler func(reason string)) {
	ns.mu.Lock()
	ns.onDisconnect = append(ns.onDisconnect, handler)
	ns.mu.Unlock()
}

// Emit sends an event. Binary arguments select BINARY_EVENT encoding.
func (ns *Namespace) Emit(event string, args ...any) error {
	return ns.emitter().Emit(event, args...)
}

// EmitWithAck sends an event and expects an acknowledgment
func (ns *Namespace) EmitWithAck(event string, ack AckCallback, args ...any) error {
	return ns.emitter().EmitWithAck(event, ack, args...)
}

// Binary returns an emitter that always uses BINARY_EVENT encoding
func (ns *Namespace) Binary() *Emitter {
	return ns.emitter().Binary()
}

// Timeout returns an emitter whose acks expire after d
func (ns *Namespace) Timeout(d time.Duration) *Emitter {
	return ns.emitter().Timeout(d)
}

// Disconnect leaves the namespace. Leaving the last namespace closes the
// client.
func (ns *Namespace) Disconnect() {
	if ns.Connected() {
		if batch, err := encodePacket(&Packet{Type: PacketTypeDisconnect, Namespace: ns.name}); err == nil {
			if err := ns.client.write(batch); err != nil {
				ns.logger.Debug("failed to send disconnect", "error", err)
			}
		}
	}
	ns.client.removeNamespace(ns, "io client disconnect", ErrNamespaceDisconnected)
}

func (ns *Namespace) emitter() *Emitter {
	return &Emitter{ns: ns}
}

// send writes the packet, or queues it until the namespace is connected.
func (ns *Namespace) send(packet *Packet) error {
	batch, err := encodePacket(packet)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.removed != nil {
		return ns.removed
	}
	if !ns.connected {
		ns.sendBuffer = append(ns.sendBuffer, bufferedPacket{batch: batch, ackID: packet.ID})
		return nil
	}
	return ns.client.write(batch)
}

func (ns *Namespace) sendConnect() {
	packet := &Packet{Type: PacketTypeConnect, Namespace: ns.name}
	if auth := ns.client.config.Auth; auth != nil {
		data, err := ValueOf(map[string]any(auth))
		if err != nil {
			ns.logger.Error("invalid auth payload", "error", err)
		} else {
			packet.Data = data
		}
	}

	batch, err := encodePacket(packet)
	if err != nil {
		ns.logger.Error("failed to encode connect", "error", err)
		return
	}
	if err := ns.client.write(batch); err != nil {
		ns.logger.Warn("failed to send connect", "error", err)
	}
}

func (ns *Namespace) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypeConnect:
		ns.handleConnect(packet)
	case PacketTypeConnectError:
		ns.handleConnectError(packet)
	case PacketTypeDisconnect:
		ns.logger.Info("namespace disconnected by server")
		ns.client.removeNamespace(ns, "io server disconnect", ErrNamespaceDisconnected)
	case PacketTypeEvent, PacketTypeBinaryEvent:
		ns.handleEvent(packet)
	case PacketTypeAck, PacketTypeBinaryAck:
		ns.acks.fulfill(*packet.ID, packet.Args())
	}
}

func (ns *Namespace) handleConnect(packet *Packet) {
	sid, _ := packet.Data.Get("sid").AsString()

	ns.mu.Lock()
	if ns.removed != nil {
		ns.mu.Unlock()
		return
	}
	ns.connected = true
	ns.id = sid
	buffered := ns.sendBuffer
	ns.sendBuffer = nil
	var failed []uint64
	var flushErr error
	for _, queued := range buffered {
		if err := ns.client.write(queued.batch); err != nil {
			flushErr = err
			if queued.ackID != nil {
				failed = append(failed, *queued.ackID)
			}
		}
	}
	handlers := slices.Clone(ns.onConnect)
	ns.mu.Unlock()

	if flushErr != nil {
		ns.logger.Warn("failed to flush buffered packets", "error", flushErr)
	}
	for _, id := range failed {
		ns.acks.expire(id, flushErr)
	}

	ns.logger.Info("namespace connected", "sid", sid, "flushed", len(buffered))

	for _, handler := range handlers {
		ns.client.safeCall("connect", handler)
	}
}

func (ns *Namespace) handleConnectError(packet *Packet) {
	connErr := &ConnectError{Namespace: ns.name, Data: packet.Data}
	if msg, ok := packet.Data.AsString(); ok {
		connErr.Message = msg
	} else if msg, ok := packet.Data.Get("message").AsString(); ok {
		connErr.Message = msg
	}

	ns.mu.Lock()
	ns.connected = false
	ns.id = ""
	ns.sendBuffer = nil
	handlers := slices.Clone(ns.onConnectError)
	ns.mu.Unlock()

	ns.logger.Warn("namespace connect refused", "message", connErr.Message)
	ns.acks.expireAll(connErr)
	ns.client.reportError(connErr)

	for _, handler := range handlers {
		ns.client.safeCall("connect_error", func() { handler(connErr) })
	}
}

func (ns *Namespace) handleEvent(packet *Packet) {
	event, _ := packet.Event()
	args := packet.Args()

	var ack AckFunc
	if packet.ID != nil {
		ack = ns.ackFunc(*packet.ID)
	}

	ns.mu.RLock()
	handlers := slices.Clone(ns.handlers[event])
	anyHandlers := slices.Clone(ns.anyHandlers)
	ns.mu.RUnlock()

	if len(handlers) == 0 {
		if len(anyHandlers) == 0 {
			ns.logger.Debug("no handler for event", "event", event)
			return
		}
		for _, handler := range anyHandlers {
			ns.client.safeCall(event, func() { handler(event, args, ack) })
		}
		return
	}

	for _, handler := range handlers {
		ns.client.safeCall(event, func() { handler(args, ack) })
	}
}

func (ns *Namespace) ackFunc(id uint64) AckFunc {
	var sent atomic.Bool
	return func(args ...any) error {
		if !sent.CompareAndSwap(false, true) {
			return ErrAckAlreadySent
		}

		values, err := ValuesOf(args...)
		if err != nil {
			sent.Store(false)
			return err
		}

		data := Array(values...)
		packet := &Packet{Type: PacketTypeAck, Namespace: ns.name, Data: data, ID: &id}
		if data.HasBinary() {
			packet.Type = PacketTypeBinaryAck
		}

		batch, err := encodePacket(packet)
		if err != nil {
			return err
		}
		return ns.client.write(batch)
	}
}

// transportClosed resets the namespace after the shared transport is lost.
// Handlers survive; the namespace is re-connected on the next transport.
func (ns *Namespace) transportClosed(reason string) {
	ns.mu.Lock()
	wasConnected := ns.connected
	ns.connected = false
	ns.id = ""
	ns.sendBuffer = nil
	handlers := slices.Clone(ns.onDisconnect)
	ns.mu.Unlock()

	ns.acks.expireAll(ErrTransportClosed)

	if wasConnected {
		for _, handler := range handlers {
			ns.client.safeCall("disconnect", func() { handler(reason) })
		}
	}
}

// destroy ends the namespace for good; later emits fail with err.
func (ns *Namespace) destroy(reason string, err error) {
	ns.mu.Lock()
	if ns.removed != nil {
		ns.mu.Unlock()
		return
	}
	ns.removed = err
	wasConnected := ns.connected
	ns.connected = false
	ns.sendBuffer = nil
	handlers := slices.Clone(ns.onDisconnect)
	ns.mu.Unlock()

	ns.acks.expireAll(err)

	if wasConnected {
		for _, handler := range handlers {
			ns.client.safeCall("disconnect", func() { handler(reason) })
		}
	}
}
