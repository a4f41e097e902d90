package socketio

import (
	"errors"
	"fmt"
)

var (
	ErrAckTimeout            = errors.New("ack timeout")
	ErrTransportClosed       = errors.New("transport closed")
	ErrNamespaceDisconnected = errors.New("namespace disconnected")
	ErrClientClosed          = errors.New("client closed")
	ErrNotConnected          = errors.New("not connected")
	ErrAckAlreadySent        = errors.New("ack already sent")
	ErrUnexpectedBinary      = errors.New("binary data in non-binary packet")
	ErrReservedEvent         = errors.New("reserved event name")
	ErrReconnectFailed       = errors.New("reconnection attempts exhausted")
)

// ProtocolError reports a frame the decoder cannot accept. The decoder
// state is lost, so the transport carrying the frame is closed.
type ProtocolError struct {
	Reason string
	Frame  string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol violation: " + e.Reason
	if e.Frame != "" {
		msg += fmt.Sprintf(" (frame %q)", e.Frame)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(reason string, frame []byte, err error) *ProtocolError {
	const maxFrame = 64
	f := string(frame)
	if len(f) > maxFrame {
		f = f[:maxFrame] + "..."
	}
	return &ProtocolError{Reason: reason, Frame: f, Err: err}
}

// TransportError reports a failure of the underlying connection: dial,
// handshake, read/write, server close or heartbeat timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op
	}
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectError is returned by the server when it refuses a namespace.
type ConnectError struct {
	Namespace string
	Message   string
	Data      Value
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to namespace %s refused: %s", e.Namespace, e.Message)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("handler panic: %w", err)
	}
	return fmt.Errorf("handler panic: %v", r)
}
