package socketio

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeConnectError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

// IsBinary reports whether packets of this type carry attachments
func (pt PacketType) IsBinary() bool {
	return pt == PacketTypeBinaryEvent || pt == PacketTypeBinaryAck
}

// Packet represents a Socket.IO packet
type Packet struct {
	Type      PacketType
	Namespace string
	Data      Value
	ID        *uint64
	// Attachments is the attachment count announced by a decoded header.
	Attachments int
}

// Encode encodes a Socket.IO packet to its text frame followed by the
// attachments of a binary packet, in placeholder order.
func (p *Packet) Encode() (string, [][]byte, error) {
	var (
		attachments [][]byte
		payload     []byte
	)

	if !p.Data.IsNull() {
		var attach func([]byte) any
		if p.Type.IsBinary() {
			attach = func(b []byte) any {
				placeholder := map[string]any{"_placeholder": true, "num": len(attachments)}
				attachments = append(attachments, b)
				return placeholder
			}
		}

		tree, err := p.Data.tree(attach)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode %s packet: %w", p.Type, err)
		}
		payload, err = codec.Marshal(tree)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal packet data: %w", err)
		}
	}

	var builder strings.Builder

	// Packet type
	builder.WriteString(strconv.Itoa(int(p.Type)))

	// Attachment count
	if p.Type.IsBinary() {
		builder.WriteString(strconv.Itoa(len(attachments)))
		builder.WriteByte('-')
	}

	// Namespace (if not default)
	if p.Namespace != "" && p.Namespace != "/" {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	// Ack ID
	if p.ID != nil {
		builder.WriteString(strconv.FormatUint(*p.ID, 10))
	}

	builder.Write(payload)

	return builder.String(), attachments, nil
}

// DecodePacket decodes a Socket.IO packet from its text frame. Placeholders
// of a binary packet are left in place; see Decoder.
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	packet := &Packet{
		Namespace: "/",
	}

	pos := 0

	// Parse packet type
	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("invalid packet type: %c", data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	// Parse attachment count
	if packet.Type.IsBinary() {
		end := strings.IndexByte(data[pos:], '-')
		if end <= 0 || !isDigits(data[pos:pos+end]) {
			return nil, fmt.Errorf("missing attachment count")
		}
		n, err := strconv.Atoi(data[pos : pos+end])
		if err != nil {
			return nil, fmt.Errorf("invalid attachment count: %w", err)
		}
		if n > maxAttachments {
			return nil, fmt.Errorf("attachment count %d exceeds %d", n, maxAttachments)
		}
		packet.Attachments = n
		pos += end + 1
	}

	// Parse namespace
	if pos < len(data) && data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			// Namespace without data
			packet.Namespace = data[pos:]
			return packet, packet.validate()
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	// Parse ack ID
	if pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.ParseUint(data[pos:end], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		packet.ID = &id
		pos = end
	}

	// Parse data
	if pos < len(data) {
		value, err := parseValue([]byte(data[pos:]))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal packet data: %w", err)
		}
		packet.Data = value
	}

	return packet, packet.validate()
}

func (p *Packet) validate() error {
	switch p.Type {
	case PacketTypeEvent, PacketTypeBinaryEvent:
		if _, ok := p.Event(); !ok {
			return fmt.Errorf("%s packet without event name", p.Type)
		}
	case PacketTypeAck, PacketTypeBinaryAck:
		if p.ID == nil {
			return fmt.Errorf("%s packet without id", p.Type)
		}
		if p.Data.Kind() != KindArray {
			return fmt.Errorf("%s packet payload is %s, not array", p.Type, p.Data.Kind())
		}
	case PacketTypeConnect:
		if !p.Data.IsNull() && p.Data.Kind() != KindObject {
			return fmt.Errorf("connect packet payload is %s, not object", p.Data.Kind())
		}
	}
	return nil
}

// Event returns the event name of an EVENT or BINARY_EVENT packet
func (p *Packet) Event() (string, bool) {
	name, ok := p.Data.Index(0).AsString()
	if !ok || p.Data.Kind() != KindArray {
		return "", false
	}
	return name, true
}

// Args returns the event arguments (without the name), or the ack payload
func (p *Packet) Args() []Value {
	items, _ := p.Data.AsArray()
	switch p.Type {
	case PacketTypeEvent, PacketTypeBinaryEvent:
		if len(items) > 0 {
			return items[1:]
		}
	}
	return items
}

// Decoder reassembles Socket.IO packets from Engine.IO messages. A binary
// packet header is held back until all of its attachments have arrived.
type Decoder struct {
	pending *Packet
	buffers [][]byte
}

// NewDecoder returns an idle decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Buffering reports whether the decoder awaits attachments
func (d *Decoder) Buffering() bool {
	return d.pending != nil
}

// Decode consumes one message. It returns nil, nil while attachments are
// outstanding. Any error leaves the decoder idle.
func (d *Decoder) Decode(data []byte, binary bool) (*Packet, error) {
	if binary {
		if d.pending == nil {
			return nil, protocolError("binary frame without binary packet header", nil, nil)
		}
		d.buffers = append(d.buffers, data)
		if len(d.buffers) < d.pending.Attachments {
			return nil, nil
		}
		packet, buffers := d.pending, d.buffers
		d.reset()
		return assemble(packet, buffers)
	}

	if d.pending != nil {
		want, got := d.pending.Attachments, len(d.buffers)
		d.reset()
		return nil, protocolError(fmt.Sprintf("text frame while awaiting attachments (%d of %d received)", got, want), data, nil)
	}

	packet, err := DecodePacket(string(data))
	if err != nil {
		return nil, protocolError("malformed packet", data, err)
	}

	if packet.Type.IsBinary() {
		if packet.Attachments > 0 {
			d.pending = packet
			return nil, nil
		}
		return assemble(packet, nil)
	}

	return packet, nil
}

func (d *Decoder) reset() {
	d.pending = nil
	d.buffers = nil
}

func assemble(packet *Packet, buffers [][]byte) (*Packet, error) {
	data, err := reconstruct(packet.Data, buffers)
	if err != nil {
		return nil, protocolError("bad attachment placeholder", nil, err)
	}
	packet.Data = data
	return packet, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeConnectError:
		return "connect_error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
