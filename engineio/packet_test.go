package engineio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncode(t *testing.T) {
	spec := map[string]struct {
		packet Packet
		want   []byte
	}{
		"ping":          {Packet{Type: PacketTypePing}, []byte("2")},
		"pong probe":    {Packet{Type: PacketTypePong, Data: []byte("probe")}, []byte("3probe")},
		"close":         {Packet{Type: PacketTypeClose}, []byte("1")},
		"message":       {Packet{Type: PacketTypeMessage, Data: []byte(`2["ev"]`)}, []byte(`42["ev"]`)},
		"binary as-is":  {Packet{Type: PacketTypeMessage, Data: []byte{0xde, 0xad}, Binary: true}, []byte{0xde, 0xad}},
		"noop":          {Packet{Type: PacketTypeNoop}, []byte("6")},
		"upgrade":       {Packet{Type: PacketTypeUpgrade}, []byte("5")},
		"open with sid": {Packet{Type: PacketTypeOpen, Data: []byte(`{"sid":"x"}`)}, []byte(`0{"sid":"x"}`)},
	}

	for name, tc := range spec {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.packet.Encode())
		})
	}
}

func TestDecodePacket(t *testing.T) {
	packet, err := DecodePacket([]byte(`42["ev"]`), false)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeMessage, packet.Type)
	assert.Equal(t, []byte(`2["ev"]`), packet.Data)
	assert.False(t, packet.Binary)

	packet, err = DecodePacket([]byte("2"), false)
	require.NoError(t, err)
	assert.Equal(t, PacketTypePing, packet.Type)
	assert.Empty(t, packet.Data)

	// binary frames carry no type prefix
	packet, err = DecodePacket([]byte{0x04, 0x01}, true)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeMessage, packet.Type)
	assert.Equal(t, []byte{0x04, 0x01}, packet.Data)
	assert.True(t, packet.Binary)

	_, err = DecodePacket(nil, false)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	_, err = DecodePacket([]byte("9"), false)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestDecodeHandshake(t *testing.T) {
	h, err := DecodeHandshake([]byte(`{"sid":"0vtWsEAcESDOoPs8AAAA","upgrades":[],"pingInterval":25000,"pingTimeout":5000,"maxPayload":1000000}`))
	require.NoError(t, err)
	assert.Equal(t, "0vtWsEAcESDOoPs8AAAA", h.SID)
	assert.Empty(t, h.Upgrades)
	assert.Equal(t, 25*time.Second, h.Interval())
	assert.Equal(t, 5*time.Second, h.Timeout())
	assert.Equal(t, 1000000, h.MaxPayload)

	for name, data := range map[string]string{
		"not json":      `{"sid":`,
		"missing sid":   `{"pingInterval":1,"pingTimeout":1}`,
		"zero interval": `{"sid":"a","pingInterval":0,"pingTimeout":1}`,
		"zero timeout":  `{"sid":"a","pingInterval":1,"pingTimeout":0}`,
	} {
		_, err := DecodeHandshake([]byte(data))
		assert.Error(t, err, name)
	}
}

func TestEncodeHandshake(t *testing.T) {
	packet, err := EncodeHandshake("abc", 25000, 20000, 1e6)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeOpen, packet.Type)

	h, err := DecodeHandshake(packet.Data)
	require.NoError(t, err)
	assert.Equal(t, HandshakeData{SID: "abc", Upgrades: []string{}, PingInterval: 25000, PingTimeout: 20000, MaxPayload: 1e6}, *h)
}
