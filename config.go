package socketio

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ramory-l/socketio-client/engineio"
)

// Config represents Socket.IO client configuration. Zero fields take the
// value from DefaultConfig.
type Config struct {
	// Path is used when the URL has no path of its own.
	Path   string
	Query  url.Values
	Header http.Header
	// Auth is sent with every namespace CONNECT.
	Auth map[string]any

	HandshakeTimeout time.Duration
	// AckTimeout applies to every emit with an ack unless overridden with
	// Namespace.Timeout. 0 waits forever.
	AckTimeout time.Duration

	DisableReconnection  bool
	ReconnectionAttempts int // 0 means unlimited
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	RandomizationFactor  float64

	// SendBuffer is the number of queued outbound packets before emits wait
	// for the transport.
	SendBuffer int
	MaxPayload int64

	Logger *slog.Logger
	Dialer engineio.Dialer
}

// DefaultConfig returns default client configuration
func DefaultConfig() *Config {
	return &Config{
		Path:                 "/socket.io/",
		HandshakeTimeout:     20 * time.Second,
		ReconnectionDelay:    1 * time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RandomizationFactor:  0.5,
		SendBuffer:           256,
		MaxPayload:           1e6,
	}
}

func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		c = defaults
	} else {
		copied := *c
		c = &copied
	}

	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.ReconnectionDelay <= 0 {
		c.ReconnectionDelay = defaults.ReconnectionDelay
	}
	if c.ReconnectionDelayMax <= 0 {
		c.ReconnectionDelayMax = defaults.ReconnectionDelayMax
	}
	if c.ReconnectionDelayMax < c.ReconnectionDelay {
		c.ReconnectionDelayMax = c.ReconnectionDelay
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		c.RandomizationFactor = defaults.RandomizationFactor
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaults.SendBuffer
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaults.MaxPayload
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = &engineio.WebSocketDialer{
			HandshakeTimeout: c.HandshakeTimeout,
			MaxPayload:       c.MaxPayload,
		}
	}
	return c
}

func (c *Config) backoff() Backoff {
	return Backoff{
		Min:    c.ReconnectionDelay,
		Max:    c.ReconnectionDelayMax,
		Factor: 2,
		Jitter: c.RandomizationFactor,
	}
}
