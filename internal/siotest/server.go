// Package siotest provides a minimal Socket.IO v5 server speaking Engine.IO
// v4 over WebSocket. It exists to drive the client in tests and examples and
// is not meant for production traffic.
package siotest

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	socketio "github.com/ramory-l/socketio-client"
	"github.com/ramory-l/socketio-client/engineio"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowClient = errors.New("slow client")
)

// Config holds fixture server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int
	// SkipPings stops the server from sending PINGs, so clients run into
	// their heartbeat timeout.
	SkipPings bool
	Logger    *slog.Logger
}

// DefaultConfig returns default fixture configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6,
		Logger:       slog.Default(),
	}
}

// Server is an http.Handler accepting Engine.IO WebSocket connections
type Server struct {
	config   *Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	accepted atomic.Int64

	mu         sync.RWMutex
	namespaces map[string]*Namespace
	conns      map[string]*Conn
	onPacket   []func(*Conn, *socketio.Packet)
}

// NewServer creates a fixture server with the default namespace registered
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaults.PingTimeout
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = defaults.MaxPayload
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:     config.Logger.With("component", "siotest"),
		namespaces: make(map[string]*Namespace),
		conns:      make(map[string]*Conn),
	}
	s.Of("/")
	return s
}

// Of returns a namespace, creating it if it doesn't exist
func (s *Server) Of(name string) *Namespace {
	if name == "" {
		name = "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, exists := s.namespaces[name]; exists {
		return ns
	}
	ns := &Namespace{
		name:     name,
		server:   s,
		handlers: make(map[string]Handler),
	}
	s.namespaces[name] = ns
	return ns
}

// OnPacket registers a handler that sees every Socket.IO packet received
// from a client, before it is dispatched
func (s *Server) OnPacket(handler func(*Conn, *socketio.Packet)) {
	s.mu.Lock()
	s.onPacket = append(s.onPacket, handler)
	s.mu.Unlock()
}

// Accepted returns how many transports have completed the handshake
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Conns returns the live connections
func (s *Server) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns
}

// DropAll closes every transport without an Engine.IO CLOSE, as a crashed
// server or broken network would.
func (s *Server) DropAll() {
	for _, conn := range s.Conns() {
		conn.drop("dropped")
	}
}

// Close closes every connection gracefully
func (s *Server) Close() {
	for _, conn := range s.Conns() {
		conn.Close("server shutdown")
	}
}

// ServeHTTP handles HTTP requests and upgrades to WebSocket
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("transport") != "websocket" || query.Get("EIO") != "4" {
		http.Error(w, "Only Engine.IO v4 WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sid := uuid.NewString()
	open, err := engineio.EncodeHandshake(sid,
		int(s.config.PingInterval/time.Millisecond),
		int(s.config.PingTimeout/time.Millisecond),
		s.config.MaxPayload,
	)
	if err != nil {
		ws.Close()
		return
	}

	transport := engineio.NewWebSocketTransport(ws)
	conn := newConn(sid, transport, s)

	// registered before OPEN so the client never observes an uncounted session
	s.mu.Lock()
	s.conns[sid] = conn
	s.mu.Unlock()
	s.accepted.Add(1)

	if err := transport.WritePacket(open); err != nil {
		s.removeConn(sid)
		transport.Close()
		return
	}

	s.logger.Debug("transport accepted", "sid", sid)
	conn.start()
}

func (s *Server) namespace(name string) *Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespaces[name]
}

func (s *Server) inspect(conn *Conn, packet *socketio.Packet) {
	s.mu.RLock()
	handlers := append([]func(*Conn, *socketio.Packet){}, s.onPacket...)
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(conn, packet)
	}
}

func (s *Server) removeConn(sid string) {
	s.mu.Lock()
	delete(s.conns, sid)
	s.mu.Unlock()
}
