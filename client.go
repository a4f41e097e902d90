package socketio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramory-l/socketio-client/engineio"
)

// Client represents a Socket.IO client. It owns one Engine.IO transport at
// a time and multiplexes every namespace over it.
type Client struct {
	id      string
	url     *url.URL
	config  *Config
	backoff Backoff
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	session    *engineio.Session
	namespaces map[string]*Namespace
	attempts   int
	timer      *time.Timer
	cancelDial context.CancelFunc
	closed     bool
	done       chan struct{}

	hooksMu     sync.RWMutex
	onError     []func(error)
	onState     []func(State)
	onReconnect []func(attempt int)
}

// NewClient creates a new Socket.IO client for the server at rawURL. Nothing
// is dialed until Connect.
func NewClient(rawURL string, config *Config) (*Client, error) {
	config = config.withDefaults()

	u, err := endpointURL(rawURL, config)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Client{
		id:         id,
		url:        u,
		config:     config,
		backoff:    config.backoff(),
		logger:     config.Logger.With("client_id", id),
		namespaces: make(map[string]*Namespace),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the local instance id used in log records
func (c *Client) ID() string {
	return c.id
}

// URL returns the normalised Engine.IO endpoint
func (c *Client) URL() string {
	return c.url.String()
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the client reaches its terminal Disconnected state.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// OnError registers a handler for protocol violations, transport failures,
// refused namespaces and recovered handler panics.
func (c *Client) OnError(fn func(error)) {
	c.hooksMu.Lock()
	c.onError = append(c.onError, fn)
	c.hooksMu.Unlock()
}

// OnStateChange registers a handler called after every state transition
func (c *Client) OnStateChange(fn func(State)) {
	c.hooksMu.Lock()
	c.onState = append(c.onState, fn)
	c.hooksMu.Unlock()
}

// OnReconnect registers a handler called after a successful reconnection
func (c *Client) OnReconnect(fn func(attempt int)) {
	c.hooksMu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.hooksMu.Unlock()
}

// Of returns a namespace, creating it if it doesn't exist. A new namespace
// is connected on the current transport, or on the next one.
func (c *Client) Of(name string) *Namespace {
	name = normalizeNamespace(name)

	c.mu.Lock()
	if ns, exists := c.namespaces[name]; exists {
		c.mu.Unlock()
		return ns
	}

	ns := newNamespace(name, c)
	closed := c.closed
	if !closed {
		c.namespaces[name] = ns
	}
	open := c.session != nil
	c.mu.Unlock()

	if closed {
		ns.destroy("io client disconnect", ErrClientClosed)
		return ns
	}
	if open {
		ns.sendConnect()
	}
	return ns
}

// On registers an event handler on the default namespace
func (c *Client) On(event string, handler EventHandler) {
	c.Of("/").On(event, handler)
}

// Emit sends an event on the default namespace
func (c *Client) Emit(event string, args ...any) error {
	return c.Of("/").Emit(event, args...)
}

// EmitWithAck sends an event on the default namespace and expects an
// acknowledgment
func (c *Client) EmitWithAck(event string, ack AckCallback, args ...any) error {
	return c.Of("/").EmitWithAck(event, ack, args...)
}

// Connect dials the server and performs the Engine.IO handshake. The default
// namespace and every namespace created so far are then connected.
//
// A failure of this first attempt is returned. Unless reconnection is
// disabled or ctx was cancelled, the client keeps retrying in the background
// exactly as after a transport loss; OnReconnect reports the success and
// Done is closed once the attempts run out.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("client is %s", state)
	}
	c.mu.Unlock()

	c.Of("/")

	err := c.open(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClientClosed):
		return err
	case c.config.DisableReconnection || ctx.Err() != nil:
		c.setState(StateDisconnected)
		return err
	}

	c.logger.Warn("initial connection failed", "error", err)
	c.scheduleReconnect()
	return err
}

// Disconnect closes the client for good: backoff and in-flight dials are
// cancelled, connected namespaces are left, pending acks fail with
// ErrClientClosed. It is safe to call in any state and more than once.
func (c *Client) Disconnect() error {
	c.shutdown("io client disconnect", ErrClientClosed)
	return nil
}

func (c *Client) open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.cancelDial = cancel
	c.mu.Unlock()

	if !c.setState(StateConnecting) {
		return ErrClientClosed
	}

	c.logger.Debug("dialing", "url", c.url.String())
	transport, err := c.config.Dialer.Dial(ctx, c.url.String(), c.config.Header)
	if err != nil {
		return c.openFailed(&TransportError{Op: "dial", Err: err})
	}

	if !c.setState(StateHandshaking) {
		transport.Close()
		return ErrClientClosed
	}

	session, err := engineio.Open(ctx, transport, &engineio.Config{
		HandshakeTimeout: c.config.HandshakeTimeout,
		SendBuffer:       c.config.SendBuffer,
		Logger:           c.logger,
	})
	if err != nil {
		return c.openFailed(&TransportError{Op: "handshake", Err: err})
	}

	decoder := NewDecoder()
	session.OnMessage(func(packet *engineio.Packet) {
		c.handleMessage(session, decoder, packet)
	})
	session.OnClose(func(reason string, err error) {
		c.handleClose(session, reason, err)
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close("io client disconnect")
		return ErrClientClosed
	}
	c.cancelDial = nil
	c.session = session
	c.attempts = 0
	namespaces := c.namespaceList()
	changed := c.transition(StateOpen)
	c.mu.Unlock()

	if changed {
		c.notifyState(StateOpen)
	}

	handshake := session.Handshake()
	c.logger.Info("connected",
		"sid", session.ID(),
		"ping_interval", handshake.Interval(),
		"ping_timeout", handshake.Timeout(),
	)

	session.Start()
	for _, ns := range namespaces {
		ns.sendConnect()
	}
	return nil
}

func (c *Client) openFailed(err *TransportError) error {
	c.mu.Lock()
	closed := c.closed
	c.cancelDial = nil
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	return err
}

func (c *Client) handleMessage(session *engineio.Session, decoder *Decoder, message *engineio.Packet) {
	packet, err := decoder.Decode(message.Data, message.Binary)
	if err != nil {
		c.logger.Error("closing transport after protocol violation", "error", err)
		c.reportError(err)
		session.Abort("parse error", err)
		return
	}
	if packet == nil {
		return
	}

	c.mu.Lock()
	ns := c.namespaces[packet.Namespace]
	c.mu.Unlock()

	if ns == nil {
		c.logger.Warn("dropping packet for unknown namespace",
			"namespace", packet.Namespace,
			"type", packet.Type.String(),
		)
		return
	}
	ns.handlePacket(packet)
}

func (c *Client) handleClose(session *engineio.Session, reason string, err error) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.session = nil
	closed := c.closed
	namespaces := c.namespaceList()
	c.mu.Unlock()

	c.logger.Info("transport closed", "reason", reason, "error", err)

	for _, ns := range namespaces {
		ns.transportClosed(reason)
	}

	var protoErr *ProtocolError
	if err != nil && !errors.As(err, &protoErr) {
		c.reportError(&TransportError{Op: reason, Err: err})
	}

	if closed {
		return
	}
	if c.config.DisableReconnection {
		c.shutdown(reason, ErrTransportClosed)
		return
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if limit := c.config.ReconnectionAttempts; limit > 0 && c.attempts >= limit {
		c.mu.Unlock()
		c.logger.Error("giving up reconnection", "attempts", limit)
		c.reportError(ErrReconnectFailed)
		c.shutdown("reconnect failed", ErrReconnectFailed)
		return
	}

	delay := c.backoff.Duration(c.attempts)
	c.attempts++
	attempt := c.attempts
	c.timer = time.AfterFunc(delay, func() { c.reconnect(attempt) })
	changed := c.transition(StateReconnecting)
	c.mu.Unlock()

	if changed {
		c.notifyState(StateReconnecting)
	}
	c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
}

func (c *Client) reconnect(attempt int) {
	c.mu.Lock()
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()

	if err := c.open(ctx); err != nil {
		if errors.Is(err, ErrClientClosed) {
			return
		}
		c.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
		c.reportError(err)
		c.scheduleReconnect()
		return
	}

	c.logger.Info("reconnected", "attempt", attempt)

	c.hooksMu.RLock()
	hooks := slices.Clone(c.onReconnect)
	c.hooksMu.RUnlock()
	for _, hook := range hooks {
		c.safeCall("reconnect", func() { hook(attempt) })
	}
}

// shutdown moves the client to its terminal state. err is delivered to
// pending acks and returned by later emits.
func (c *Client) shutdown(reason string, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	session := c.session
	c.session = nil
	namespaces := c.namespaceList()
	c.namespaces = make(map[string]*Namespace)
	closing := session != nil && c.transition(StateClosing)
	c.mu.Unlock()

	if closing {
		c.notifyState(StateClosing)
	}

	if session != nil {
		for _, ns := range namespaces {
			if !ns.Connected() {
				continue
			}
			batch, encErr := encodePacket(&Packet{Type: PacketTypeDisconnect, Namespace: ns.name})
			if encErr == nil {
				if sendErr := session.Send(batch...); sendErr != nil {
					c.logger.Debug("failed to send disconnect", "namespace", ns.name, "error", sendErr)
				}
			}
		}
		session.Close(reason)
	}

	for _, ns := range namespaces {
		ns.destroy(reason, err)
	}

	c.mu.Lock()
	changed := c.transition(StateDisconnected)
	c.mu.Unlock()
	if changed {
		c.notifyState(StateDisconnected)
	}

	close(c.done)
	c.logger.Info("disconnected", "reason", reason)
}

func (c *Client) removeNamespace(ns *Namespace, reason string, err error) {
	c.mu.Lock()
	if c.namespaces[ns.name] != ns {
		c.mu.Unlock()
		ns.destroy(reason, err)
		return
	}
	delete(c.namespaces, ns.name)
	last := len(c.namespaces) == 0
	c.mu.Unlock()

	ns.destroy(reason, err)

	if last {
		c.logger.Info("last namespace left, closing")
		c.shutdown(reason, ErrClientClosed)
	}
}

// write queues one encoded Socket.IO packet on the current transport.
func (c *Client) write(batch []*engineio.Packet) error {
	c.mu.Lock()
	session := c.session
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if session == nil {
		return ErrNotConnected
	}
	if err := session.Send(batch...); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// encodePacket turns a Socket.IO packet into Engine.IO MESSAGE packets: the
// text frame first, then one binary frame per attachment.
func encodePacket(packet *Packet) ([]*engineio.Packet, error) {
	text, attachments, err := packet.Encode()
	if err != nil {
		return nil, err
	}

	batch := make([]*engineio.Packet, 0, 1+len(attachments))
	batch = append(batch, &engineio.Packet{Type: engineio.PacketTypeMessage, Data: []byte(text)})
	for _, attachment := range attachments {
		batch = append(batch, &engineio.Packet{Type: engineio.PacketTypeMessage, Data: attachment, Binary: true})
	}
	return batch, nil
}

func (c *Client) namespaceList() []*Namespace {
	namespaces := make([]*Namespace, 0, len(c.namespaces))
	for _, ns := range c.namespaces {
		namespaces = append(namespaces, ns)
	}
	slices.SortFunc(namespaces, func(a, b *Namespace) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return namespaces
}

// transition must be called with c.mu held.
func (c *Client) transition(state State) bool {
	if c.state == state {
		return false
	}
	c.state = state
	return true
}

func (c *Client) setState(state State) bool {
	c.mu.Lock()
	if c.closed && state != StateDisconnected {
		c.mu.Unlock()
		return false
	}
	changed := c.transition(state)
	c.mu.Unlock()

	if changed {
		c.notifyState(state)
	}
	return true
}

func (c *Client) notifyState(state State) {
	c.logger.Debug("state changed", "state", state.String())

	c.hooksMu.RLock()
	hooks := slices.Clone(c.onState)
	c.hooksMu.RUnlock()

	for _, hook := range hooks {
		c.safeCall("state", func() { hook(state) })
	}
}

func (c *Client) reportError(err error) {
	c.hooksMu.RLock()
	hooks := slices.Clone(c.onError)
	c.hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("error handler panicked", "panic", r)
				}
			}()
			hook(err)
		}()
	}
}

// safeCall runs a user handler, turning a panic into an error report.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "handler", name, "panic", r)
			c.reportError(panicError(r))
		}
	}()
	fn()
}
