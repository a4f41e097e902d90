package engineio

import (
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PacketType represents Engine.IO packet types
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

// Packet represents an Engine.IO packet.
//
// Binary packets travel as raw WebSocket binary frames. Engine.IO v4 gives
// them no type prefix and they are always messages.
type Packet struct {
	Type   PacketType
	Data   []byte
	Binary bool
}

// Encode encodes the packet to bytes
func (p *Packet) Encode() []byte {
	if p.Binary {
		return p.Data
	}
	result := make([]byte, 0, len(p.Data)+1)
	result = append(result, byte('0'+p.Type))
	result = append(result, p.Data...)
	return result
}

// DecodePacket decodes a frame into a packet
func DecodePacket(data []byte, binary bool) (*Packet, error) {
	if binary {
		return &Packet{Type: PacketTypeMessage, Data: data, Binary: true}, nil
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrInvalidPacket)
	}

	typeChar := data[0]
	if typeChar < '0' || typeChar > '6' {
		return nil, fmt.Errorf("%w: invalid packet type: %c", ErrInvalidPacket, typeChar)
	}

	packet := &Packet{
		Type: PacketType(typeChar - '0'),
	}

	if len(data) > 1 {
		packet.Data = data[1:]
	}

	return packet, nil
}

// HandshakeData represents the Engine.IO handshake carried by the OPEN packet
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// Interval returns the advertised ping interval.
func (h *HandshakeData) Interval() time.Duration {
	return time.Duration(h.PingInterval) * time.Millisecond
}

// Timeout returns the advertised ping timeout.
func (h *HandshakeData) Timeout() time.Duration {
	return time.Duration(h.PingTimeout) * time.Millisecond
}

// DecodeHandshake parses the payload of an OPEN packet
func DecodeHandshake(data []byte) (*HandshakeData, error) {
	var h HandshakeData
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handshake: %w", err)
	}
	if h.SID == "" {
		return nil, fmt.Errorf("handshake without sid")
	}
	if h.PingInterval <= 0 || h.PingTimeout <= 0 {
		return nil, fmt.Errorf("handshake with invalid ping settings: interval=%d timeout=%d", h.PingInterval, h.PingTimeout)
	}
	return &h, nil
}

// EncodeHandshake creates an open packet with handshake data
func EncodeHandshake(sid string, pingInterval, pingTimeout, maxPayload int) (*Packet, error) {
	data := HandshakeData{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
		MaxPayload:   maxPayload,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Type: PacketTypeOpen,
		Data: jsonData,
	}, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeOpen:
		return "open"
	case PacketTypeClose:
		return "close"
	case PacketTypePing:
		return "ping"
	case PacketTypePong:
		return "pong"
	case PacketTypeMessage:
		return "message"
	case PacketTypeUpgrade:
		return "upgrade"
	case PacketTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
