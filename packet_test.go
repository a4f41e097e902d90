package socketio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ackID(id uint64) *uint64 { return &id }

func TestPacketEncode(t *testing.T) {
	spec := map[string]struct {
		packet      Packet
		want        string
		attachments [][]byte
	}{
		"CONNECT": {
			packet: Packet{Type: PacketTypeConnect, Namespace: "/"},
			want:   `0`,
		},
		"CONNECT /nsp": {
			packet: Packet{Type: PacketTypeConnect, Namespace: "/nsp"},
			want:   `0/nsp,`,
		},
		"CONNECT /admin with auth": {
			packet: Packet{Type: PacketTypeConnect, Namespace: "/admin", Data: Object(map[string]Value{"token": String("123")})},
			want:   `0/admin,{"token":"123"}`,
		},
		"DISCONNECT /nsp": {
			packet: Packet{Type: PacketTypeDisconnect, Namespace: "/nsp"},
			want:   `1/nsp,`,
		},
		"EVENT with ack": {
			packet: Packet{
				Type: PacketTypeEvent, Namespace: "/", ID: ackID(3),
				Data: Array(String("test"), String("hello"), Object(map[string]Value{"key": String("value")})),
			},
			want: `23["test","hello",{"key":"value"}]`,
		},
		"ACK": {
			packet: Packet{Type: PacketTypeAck, ID: ackID(3), Data: Array(String("test"), String("hello"))},
			want:   `33["test","hello"]`,
		},
		"EVENT keeps numbers verbatim": {
			packet: Packet{Type: PacketTypeEvent, Namespace: "/", ID: ackID(0), Data: Array(String("types"), Array(Int(0), Int(1), Int(2)), Float(1.5), number("4"))},
			want:   `20["types",[0,1,2],1.5,4]`,
		},
		"BINARY_EVENT": {
			packet:      Packet{Type: PacketTypeBinaryEvent, Data: Array(String("binary"), Bytes([]byte{1}), Bytes([]byte{2, 3}))},
			want:        `52-["binary",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`,
			attachments: [][]byte{{1}, {2, 3}},
		},
		"BINARY_EVENT nested object in key order": {
			packet: Packet{Type: PacketTypeBinaryEvent, Namespace: "/nsp", ID: ackID(7), Data: Array(
				String("upload"),
				Object(map[string]Value{"z": Bytes([]byte("z")), "a": Bytes([]byte("a"))}),
			)},
			want:        `51-/nsp,7["upload",{"a":{"_placeholder":true,"num":0},"z":{"_placeholder":true,"num":1}}]`,
			attachments: [][]byte{[]byte("a"), []byte("z")},
		},
		"BINARY_EVENT without blobs": {
			packet: Packet{Type: PacketTypeBinaryEvent, Namespace: "/nsp", ID: ackID(1), Data: Array(String("binary namespaced message with ack"))},
			want:   `50-/nsp,1["binary namespaced message with ack"]`,
		},
		"BINARY_ACK": {
			packet:      Packet{Type: PacketTypeBinaryAck, ID: ackID(15), Data: Array(Bytes([]byte{0xde, 0xad}))},
			want:        `61-15[{"_placeholder":true,"num":0}]`,
			attachments: [][]byte{{0xde, 0xad}},
		},
		"CONNECT_ERROR": {
			packet: Packet{Type: PacketTypeConnectError, Namespace: "/admin", Data: Object(map[string]Value{"message": String("unauthorized")})},
			want:   `4/admin,{"message":"unauthorized"}`,
		},
		"large ack id": {
			packet: Packet{Type: PacketTypeAck, ID: ackID(18446744073709551615), Data: Array()},
			want:   `318446744073709551615[]`,
		},
	}

	for name, tc := range spec {
		t.Run(name, func(t *testing.T) {
			text, attachments, err := tc.packet.Encode()
			require.NoError(t, err)
			assert.Equal(t, tc.want, text)
			assert.Equal(t, tc.attachments, attachments)
		})
	}
}

func TestPacketEncodeRejectsBinaryInPlainPacket(t *testing.T) {
	packet := Packet{Type: PacketTypeEvent, Data: Array(String("blob"), Bytes([]byte{1}))}
	_, _, err := packet.Encode()
	assert.ErrorIs(t, err, ErrUnexpectedBinary)
}

func TestDecodePacket(t *testing.T) {
	spec := map[string]struct {
		frame     string
		typ       PacketType
		namespace string
		id        *uint64
		data      Value
		attached  int
	}{
		"CONNECT /nsp": {
			frame: `0/nsp,`, typ: PacketTypeConnect, namespace: "/nsp",
		},
		"DISCONNECT /nsp without comma": {
			frame: `1/nsp`, typ: PacketTypeDisconnect, namespace: "/nsp",
		},
		"CONNECT with sid": {
			frame: `0{"sid":"abc"}`, typ: PacketTypeConnect, namespace: "/",
			data: Object(map[string]Value{"sid": String("abc")}),
		},
		"EVENT with ack": {
			frame: `20["types",[0,1,2],{"key":"value"},"hello",4]`, typ: PacketTypeEvent, namespace: "/", id: ackID(0),
			data: Array(
				String("types"),
				Array(Int(0), Int(1), Int(2)),
				Object(map[string]Value{"key": String("value")}),
				String("hello"),
				Int(4),
			),
		},
		"ACK": {
			frame: `33["test","hello",{"key":"value"}]`, typ: PacketTypeAck, namespace: "/", id: ackID(3),
			data: Array(String("test"), String("hello"), Object(map[string]Value{"key": String("value")})),
		},
		"BINARY_EVENT header": {
			frame: `52-["binary",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`,
			typ:   PacketTypeBinaryEvent, namespace: "/", attached: 2,
			data: Array(
				String("binary"),
				Object(map[string]Value{"_placeholder": Bool(true), "num": Int(0)}),
				Object(map[string]Value{"_placeholder": Bool(true), "num": Int(1)}),
			),
		},
		"BINARY_EVENT namespaced without attachments": {
			frame: `50-/nsp,1["binary namespaced message with ack"]`,
			typ:   PacketTypeBinaryEvent, namespace: "/nsp", id: ackID(1),
			data: Array(String("binary namespaced message with ack")),
		},
		"ack id beyond int64": {
			frame: `318446744073709551615[]`, typ: PacketTypeAck, namespace: "/", id: ackID(18446744073709551615),
			data: Array(),
		},
	}

	for name, tc := range spec {
		t.Run(name, func(t *testing.T) {
			packet, err := DecodePacket(tc.frame)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, packet.Type)
			assert.Equal(t, tc.namespace, packet.Namespace)
			assert.Equal(t, tc.id, packet.ID)
			assert.Equal(t, tc.attached, packet.Attachments)
			assert.True(t, tc.data.Equal(packet.Data), "data: want %s, have %s", tc.data, packet.Data)
		})
	}
}

func TestDecodePacketErrors(t *testing.T) {
	spec := map[string]string{
		"empty":                 ``,
		"bad type":              `7["x"]`,
		"non digit type":        `x`,
		"missing attachments":   `5["binary"]`,
		"bad attachment count":  `5a-["binary"]`,
		"malformed json":        `2["unterminated`,
		"event without name":    `2[]`,
		"event name not string": `2[1,2]`,
		"event object payload":  `2{"a":1}`,
		"ack without id":        `3["x"]`,
		"ack id overflow":       `318446744073709551616[]`,
		"connect array payload": `0["x"]`,
		"too many attachments":  `51001-["binary"]`,
		"huge attachment count": `59999999999-["binary"]`,
	}

	for name, frame := range spec {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePacket(frame)
			assert.Error(t, err)
		})
	}
}

func TestPacketRoundTrip(t *testing.T) {
	packets := []Packet{
		{Type: PacketTypeConnect, Namespace: "/"},
		{Type: PacketTypeConnect, Namespace: "/admin", Data: Object(map[string]Value{"token": String("t")})},
		{Type: PacketTypeDisconnect, Namespace: "/chat"},
		{Type: PacketTypeEvent, Namespace: "/", Data: Array(String("msg"), Null(), Bool(false), number("1e3"), number("-0.25"))},
		{Type: PacketTypeEvent, Namespace: "/nsp", ID: ackID(42), Data: Array(String("with ack"))},
		{Type: PacketTypeAck, Namespace: "/nsp", ID: ackID(42), Data: Array(String("ok"))},
		{Type: PacketTypeConnectError, Namespace: "/admin", Data: Object(map[string]Value{"message": String("no")})},
		{Type: PacketTypeBinaryEvent, Namespace: "/", ID: ackID(9), Data: Array(
			String("files"),
			Array(Bytes([]byte("one")), Object(map[string]Value{"inner": Bytes([]byte("two"))})),
			Bytes(nil),
		)},
		{Type: PacketTypeBinaryAck, Namespace: "/nsp", ID: ackID(1), Data: Array(Bytes([]byte{0xff}))},
	}

	for _, want := range packets {
		t.Run(want.Type.String()+want.Namespace, func(t *testing.T) {
			text, attachments, err := want.Encode()
			require.NoError(t, err)

			decoder := NewDecoder()
			have, err := decoder.Decode([]byte(text), false)
			require.NoError(t, err)
			for i, attachment := range attachments {
				require.Nil(t, have, "packet completed before attachment %d", i)
				have, err = decoder.Decode(attachment, true)
				require.NoError(t, err)
			}
			require.NotNil(t, have)

			assert.Equal(t, want.Type, have.Type)
			assert.Equal(t, want.Namespace, have.Namespace)
			assert.Equal(t, want.ID, have.ID)
			assert.True(t, want.Data.Equal(have.Data), "data: want %s, have %s", want.Data, have.Data)
			assert.False(t, decoder.Buffering())
		})
	}
}

func TestDecoderBuffersAttachments(t *testing.T) {
	decoder := NewDecoder()

	packet, err := decoder.Decode([]byte(`52-["binary",{"_placeholder":true,"num":1},{"_placeholder":true,"num":0}]`), false)
	require.NoError(t, err)
	assert.Nil(t, packet)
	assert.True(t, decoder.Buffering())

	packet, err = decoder.Decode([]byte{0xde, 0xad}, true)
	require.NoError(t, err)
	assert.Nil(t, packet)

	packet, err = decoder.Decode([]byte{0xbe, 0xef}, true)
	require.NoError(t, err)
	require.NotNil(t, packet)
	assert.False(t, decoder.Buffering())

	args := packet.Args()
	require.Len(t, args, 2)
	first, _ := args[0].AsBytes()
	second, _ := args[1].AsBytes()
	assert.Equal(t, []byte{0xbe, 0xef}, first)
	assert.Equal(t, []byte{0xde, 0xad}, second)
}

func TestDecoderProtocolViolations(t *testing.T) {
	t.Run("binary frame while idle", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte{1, 2, 3}, true)

		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.False(t, decoder.Buffering())
	})

	t.Run("text frame while buffering", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte(`51-["binary",{"_placeholder":true,"num":0}]`), false)
		require.NoError(t, err)

		_, err = decoder.Decode([]byte(`2["next"]`), false)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.Contains(t, protoErr.Error(), "0 of 1")
		assert.False(t, decoder.Buffering())

		// the decoder is usable again
		packet, err := decoder.Decode([]byte(`2["next"]`), false)
		require.NoError(t, err)
		name, _ := packet.Event()
		assert.Equal(t, "next", name)
	})

	t.Run("placeholder out of range", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte(`51-["binary",{"_placeholder":true,"num":3}]`), false)
		require.NoError(t, err)

		_, err = decoder.Decode([]byte{1}, true)
		assert.ErrorIs(t, err, errPlaceholderRange)
	})

	t.Run("attachment without placeholder", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte(`52-["binary",{"_placeholder":true,"num":0}]`), false)
		require.NoError(t, err)
		_, err = decoder.Decode([]byte{1}, true)
		require.NoError(t, err)

		_, err = decoder.Decode([]byte{2}, true)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.ErrorIs(t, err, errAttachmentUnused)
		assert.False(t, decoder.Buffering())
	})

	t.Run("placeholder used twice", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte(`52-["binary",{"_placeholder":true,"num":0},{"_placeholder":true,"num":0}]`), false)
		require.NoError(t, err)
		_, err = decoder.Decode([]byte{1}, true)
		require.NoError(t, err)

		_, err = decoder.Decode([]byte{2}, true)
		assert.ErrorIs(t, err, errPlaceholderDuplicate)
	})

	t.Run("attachment count above limit", func(t *testing.T) {
		decoder := NewDecoder()
		_, err := decoder.Decode([]byte(`59999999999-["binary"]`), false)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.False(t, decoder.Buffering())
	})

	t.Run("malformed text frame", func(t *testing.T) {
		_, err := NewDecoder().Decode([]byte(`2["broken`), false)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.Equal(t, "malformed packet", protoErr.Reason)
	})
}

func TestPacketArgs(t *testing.T) {
	event := &Packet{Type: PacketTypeEvent, Data: Array(String("name"), Int(1), Int(2))}
	name, ok := event.Event()
	assert.True(t, ok)
	assert.Equal(t, "name", name)
	assert.Len(t, event.Args(), 2)

	ack := &Packet{Type: PacketTypeAck, ID: ackID(0), Data: Array(Int(1), Int(2))}
	assert.Len(t, ack.Args(), 2)

	_, ok = ack.Event()
	assert.False(t, ok)
}
