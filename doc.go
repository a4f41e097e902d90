// Package socketio provides a Socket.IO v5 client implementation in Go.
//
// This library implements the client side of the Socket.IO v5 protocol over
// Engine.IO v4 with WebSocket transport only. One client holds a single
// transport and multiplexes any number of namespaces over it.
//
// # Features
//
//   - Socket.IO v5 protocol support (Engine.IO v4)
//   - WebSocket transport only
//   - Namespaces over a shared connection
//   - Event acknowledgments in both directions, with timeouts
//   - Binary attachments anywhere inside event arguments
//   - Heartbeat supervision and automatic reconnection with backoff
//
// # Quick Start
//
//	client, err := socketio.NewClient("http://localhost:3000", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.On("message", func(args []socketio.Value, ack socketio.AckFunc) {
//	    log.Printf("Received: %v", args)
//	})
//
//	if err := client.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	client.Emit("message", "hello", 42)
//
// Handlers should be registered before Connect so that events the server
// sends right after accepting the connection are not missed.
//
// # Namespaces
//
// Every namespace shares the client's transport. A namespace created while
// the client is connected is joined immediately, otherwise on the next
// connection. Emits made before the server accepts the namespace are queued.
//
//	admin := client.Of("/admin")
//	admin.OnConnect(func() {
//	    log.Printf("admin sid: %s", admin.ID())
//	})
//	admin.OnConnectError(func(err *socketio.ConnectError) {
//	    log.Printf("refused: %s", err.Message)
//	})
//
// # Event Acknowledgments
//
// Request acknowledgments from the server:
//
//	client.Of("/").Timeout(5*time.Second).EmitWithAck("question",
//	    func(args []socketio.Value, err error) {
//	        if err != nil {
//	            log.Printf("no answer: %v", err)
//	            return
//	        }
//	        log.Printf("server answered: %v", args)
//	    }, "What's your name?")
//
// Answer acknowledgment requests from the server:
//
//	client.On("ping", func(args []socketio.Value, ack socketio.AckFunc) {
//	    if ack != nil {
//	        ack("pong")
//	    }
//	})
//
// # Binary Data
//
// []byte arguments are sent as binary attachments. Received blobs surface as
// values of KindBytes:
//
//	client.Emit("upload", map[string]any{"name": "a.bin", "data": []byte{1, 2, 3}})
//
// # Configuration
//
// Customize client behavior with Config. Zero fields keep their defaults:
//
//	config := &socketio.Config{
//	    Auth:                 map[string]any{"token": "secret"},
//	    AckTimeout:           10 * time.Second,
//	    ReconnectionAttempts: 5,
//	}
//	client, err := socketio.NewClient("https://example.com", config)
//
// # Thread Safety
//
// All operations are goroutine-safe. Event handlers run one at a time on the
// connection's read goroutine, in the order packets arrive, and must not
// block for long.
package socketio
