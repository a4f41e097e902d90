package socketio

import (
	"fmt"
	"time"
)

var reservedEvents = map[string]bool{
	"connect":        true,
	"connect_error":  true,
	"disconnect":     true,
	"disconnecting":  true,
	"newListener":    true,
	"removeListener": true,
}

// Emitter sends events on a namespace with per-call flags. Emitters are
// values; Binary and Timeout return modified copies.
type Emitter struct {
	ns         *Namespace
	binary     bool
	timeout    time.Duration
	hasTimeout bool
}

// Binary forces BINARY_EVENT encoding even when no argument holds bytes
func (e *Emitter) Binary() *Emitter {
	c := *e
	c.binary = true
	return &c
}

// Timeout overrides Config.AckTimeout for acks requested by this emitter.
// Zero disables the timeout.
func (e *Emitter) Timeout(d time.Duration) *Emitter {
	c := *e
	c.timeout = d
	c.hasTimeout = true
	return &c
}

// Emit sends an event without requesting an acknowledgement
func (e *Emitter) Emit(event string, args ...any) error {
	return e.emit(event, nil, args)
}

// EmitWithAck sends an event and calls ack exactly once, with the server's
// answer or with the reason it will never come.
func (e *Emitter) EmitWithAck(event string, ack AckCallback, args ...any) error {
	if ack == nil {
		return fmt.Errorf("nil ack callback for event %q", event)
	}
	return e.emit(event, ack, args)
}

func (e *Emitter) emit(event string, ack AckCallback, args []any) error {
	if reservedEvents[event] {
		return fmt.Errorf("%w: %q", ErrReservedEvent, event)
	}

	values, err := ValuesOf(args...)
	if err != nil {
		return fmt.Errorf("failed to encode arguments of %q: %w", event, err)
	}

	data := Array(append([]Value{String(event)}, values...)...)
	packet := &Packet{Type: PacketTypeEvent, Namespace: e.ns.name, Data: data}
	if e.binary || data.HasBinary() {
		packet.Type = PacketTypeBinaryEvent
	}

	if ack != nil {
		timeout := e.ns.client.config.AckTimeout
		if e.hasTimeout {
			timeout = e.timeout
		}
		id := e.ns.acks.register(ack, timeout)
		packet.ID = &id
	}

	if err := e.ns.send(packet); err != nil {
		if packet.ID != nil {
			e.ns.acks.cancel(*packet.ID)
		}
		return err
	}
	return nil
}
