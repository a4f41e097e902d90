package siotest

import (
	"errors"

	socketio "github.com/ramory-l/socketio-client"
)

// Blob is the binary payload used by the reference fixtures
var Blob = []byte{0xde, 0xad, 0xbe, 0xef}

// AdminToken is the auth token accepted by the /admin namespace
const AdminToken = "secret"

var errUnauthorized = errors.New("unauthorized")

// NewReference returns a server with the reference fixtures installed:
//
//	/       "test"   acks (or re-emits) its arguments
//	/       "binary" acks (or re-emits) Blob and "hello"
//	/       "types"  emits "types" with one argument of every kind and
//	                 requests an ack, whose payload comes back as "types-ack"
//	/nsp    "event"  acks its arguments
//	/admin           refuses CONNECT unless auth.token is AdminToken
//	/welcome         on connect emits "test" with "hello" and
//	                 {"key":"value"}, then "binary" with Blob, "hello"
//	                 and {"blob":Blob}
func NewReference(config *Config) *Server {
	s := NewServer(config)

	root := s.Of("/")
	root.On("test", func(socket *Socket, args []socketio.Value, ack socketio.AckFunc) {
		if ack != nil {
			ack(anys(args)...)
			return
		}
		socket.Emit("test", anys(args)...)
	})
	root.On("binary", func(socket *Socket, args []socketio.Value, ack socketio.AckFunc) {
		if ack != nil {
			ack(Blob, "hello")
			return
		}
		socket.Emit("binary", Blob, "hello")
	})
	root.On("types", func(socket *Socket, args []socketio.Value, ack socketio.AckFunc) {
		socket.EmitWithAck("types", func(reply []socketio.Value, err error) {
			if err == nil {
				socket.Emit("types-ack", anys(reply)...)
			}
		},
			"string", 42, 4.2, true, nil, Blob,
			map[string]any{"nested": []any{1, "two", []byte{3}}},
		)
	})

	s.Of("/nsp").On("event", func(socket *Socket, args []socketio.Value, ack socketio.AckFunc) {
		if ack != nil {
			ack(anys(args)...)
		}
	})

	s.Of("/admin").Use(func(auth socketio.Value) error {
		if token, _ := auth.Get("token").AsString(); token != AdminToken {
			return errUnauthorized
		}
		return nil
	})

	s.Of("/welcome").OnConnect(func(socket *Socket) {
		socket.Emit("test", "hello", map[string]any{"key": "value"})
		socket.Emit("binary", Blob, "hello", map[string]any{"blob": Blob})
	})

	return s
}

func anys(values []socketio.Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
