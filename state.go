package socketio

import "strconv"

// State is the lifecycle state of a Client
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateOpen
	StateClosing
	StateReconnecting
)

// String returns the state as a string
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}
