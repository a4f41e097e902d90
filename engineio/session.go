package engineio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrServerClosed     = errors.New("server closed the session")
	ErrInvalidPacket    = errors.New("invalid packet")
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

// Config holds Engine.IO client session configuration
type Config struct {
	HandshakeTimeout time.Duration
	SendBuffer       int // queued outbound batches before Send waits
	Logger           *slog.Logger
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 20 * time.Second,
		SendBuffer:       256,
		Logger:           slog.Default(),
	}
}

// Session is the client side of an Engine.IO session over one transport.
type Session struct {
	handshake *HandshakeData
	transport Transport
	logger    *slog.Logger

	outgoing chan []*Packet
	closing  chan struct{}
	done     chan struct{}
	started  atomic.Bool

	closeOnce   sync.Once
	closeReason string

	termOnce sync.Once
	reason   string
	err      error

	timerMu  sync.Mutex
	liveness *time.Timer

	mu        sync.RWMutex
	onMessage func(*Packet)
	onClose   func(reason string, err error)
}

// Open performs the Engine.IO handshake on a freshly dialed transport: the
// first packet must be OPEN. The transport is closed when the handshake fails.
func Open(ctx context.Context, transport Transport, config *Config) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	type result struct {
		packet *Packet
		err    error
	}
	first := make(chan result, 1)
	go func() {
		packet, err := transport.ReadPacket()
		first <- result{packet, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		transport.Close()
		return nil, ctx.Err()
	case r = <-first:
	}

	if r.err != nil {
		transport.Close()
		return nil, r.err
	}
	if r.packet.Type != PacketTypeOpen {
		transport.Close()
		return nil, fmt.Errorf("%w: expected open, got %s", ErrUnexpectedPacket, r.packet.Type)
	}

	handshake, err := DecodeHandshake(r.packet.Data)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	return &Session{
		handshake: handshake,
		transport: transport,
		logger:    config.Logger.With("sid", handshake.SID),
		outgoing:  make(chan []*Packet, config.SendBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.handshake.SID
}

// Handshake returns the parameters advertised by the server
func (s *Session) Handshake() HandshakeData {
	return *s.handshake
}

// Done is closed once the transport is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start starts the session loops. Handlers must be set before Start.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.resetLiveness()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(s.readLoop)
	g.Go(func() error { return s.writeLoop(ctx) })

	go func() {
		_ = g.Wait()
		s.stopLiveness()

		s.mu.RLock()
		handler := s.onClose
		s.mu.RUnlock()

		if handler != nil {
			handler(s.reason, s.err)
		}
	}()
}

// Send queues packets to be written back to back. A batch is never
// interleaved with another batch. When the queue is full Send waits for the
// write loop, until the session starts closing.
func (s *Session) Send(packets ...*Packet) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- packets:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close flushes queued packets, sends CLOSE and closes the transport.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		close(s.closing)
	})
	if !s.started.Load() {
		s.terminate(reason, nil)
	}
}

// Abort closes the transport immediately.
func (s *Session) Abort(reason string, err error) {
	s.terminate(reason, err)
}

// OnMessage sets the message handler. It runs on the read goroutine, so
// messages are delivered in arrival order.
func (s *Session) OnMessage(fn func(*Packet)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose sets the close handler. err is nil for a local graceful close.
func (s *Session) OnClose(fn func(reason string, err error)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) terminate(reason string, err error) {
	s.termOnce.Do(func() {
		s.reason = reason
		s.err = err
		close(s.done)
		s.transport.Close()
	})
}

func (s *Session) readLoop() error {
	for {
		packet, err := s.transport.ReadPacket()
		if err != nil {
			if errors.Is(err, ErrInvalidPacket) {
				s.terminate("parse error", err)
			} else {
				s.terminate("transport close", err)
			}
			return err
		}

		s.resetLiveness()

		switch packet.Type {
		case PacketTypePing:
			if err := s.Send(&Packet{Type: PacketTypePong, Data: packet.Data}); err != nil {
				s.logger.Warn("failed to answer ping", "error", err)
			}
		case PacketTypeMessage:
			s.handleMessage(packet)
		case PacketTypeClose:
			s.terminate("transport close", ErrServerClosed)
			return ErrServerClosed
		case PacketTypeOpen:
			err := fmt.Errorf("%w: open on established session", ErrUnexpectedPacket)
			s.terminate("parse error", err)
			return err
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case batch := <-s.outgoing:
			if err := s.write(batch); err != nil {
				s.terminate("transport error", err)
				return err
			}
		case <-s.closing:
			s.flush()
			if err := s.transport.WritePacket(&Packet{Type: PacketTypeClose}); err != nil {
				s.logger.Debug("failed to send close packet", "error", err)
			}
			s.terminate(s.closeReason, nil)
			return nil
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case batch := <-s.outgoing:
			if err := s.write(batch); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(batch []*Packet) error {
	for _, packet := range batch {
		if err := s.transport.WritePacket(packet); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleMessage(packet *Packet) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(packet)
	}
}

// resetLiveness rearms the dead-peer timer. The server pings every
// pingInterval and we must hear from it within pingInterval+pingTimeout.
func (s *Session) resetLiveness() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	d := s.handshake.Interval() + s.handshake.Timeout()
	if s.liveness == nil {
		s.liveness = time.AfterFunc(d, func() {
			s.terminate("ping timeout", ErrHeartbeatTimeout)
		})
		return
	}
	s.liveness.Reset(d)
}

func (s *Session) stopLiveness() {
	s.timerMu.Lock()
	if s.liveness != nil {
		s.liveness.Stop()
	}
	s.timerMu.Unlock()
}
