package socketio

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// AckCallback receives the payload of an acknowledgement, or an error
// (ErrAckTimeout, ErrTransportClosed, ...) when the ack will never arrive.
// It is called exactly once.
type AckCallback func(args []Value, err error)

type pendingAck struct {
	callback AckCallback
	timer    *time.Timer
}

// ackTracker correlates outgoing ack ids of one namespace with callbacks.
// Ids are never reused within the life of a client.
type ackTracker struct {
	namespace string
	logger    *slog.Logger
	onPanic   func(error)

	mu      sync.Mutex
	next    uint64
	pending map[uint64]*pendingAck
}

func newAckTracker(namespace string, logger *slog.Logger, onPanic func(error)) *ackTracker {
	return &ackTracker{
		namespace: namespace,
		logger:    logger,
		onPanic:   onPanic,
		pending:   make(map[uint64]*pendingAck),
	}
}

// register allocates the next id for callback. A positive timeout expires
// the entry with ErrAckTimeout.
func (t *ackTracker) register(callback AckCallback, timeout time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++ // wraps to 0 after MaxUint64

	entry := &pendingAck{callback: callback}
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			t.expire(id, ErrAckTimeout)
		})
	}
	t.pending[id] = entry

	return id
}

// fulfill invokes and removes the callback for id. It reports false for an
// unknown or already completed id.
func (t *ackTracker) fulfill(id uint64, args []Value) bool {
	entry := t.take(id)
	if entry == nil {
		t.logger.Warn("dropping stale ack", "namespace", t.namespace, "ack_id", id)
		return false
	}
	t.invoke(id, entry.callback, args, nil)
	return true
}

// expire completes id with err instead of a payload.
func (t *ackTracker) expire(id uint64, err error) bool {
	entry := t.take(id)
	if entry == nil {
		return false
	}
	t.logger.Debug("ack expired", "namespace", t.namespace, "ack_id", id, "error", err)
	t.invoke(id, entry.callback, nil, err)
	return true
}

// cancel drops id without calling back.
func (t *ackTracker) cancel(id uint64) {
	t.take(id)
}

// expireAll completes every outstanding entry with err, in id order.
func (t *ackTracker) expireAll(err error) {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[uint64]*pendingAck)
	t.mu.Unlock()

	for _, id := range sortedIDs(entries) {
		entry := entries[id]
		if entry.timer != nil {
			entry.timer.Stop()
		}
		t.invoke(id, entry.callback, nil, err)
	}
}

func (t *ackTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *ackTracker) take(id uint64) *pendingAck {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

func (t *ackTracker) invoke(id uint64, callback AckCallback, args []Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("ack callback panicked", "namespace", t.namespace, "ack_id", id, "panic", r)
			if t.onPanic != nil {
				t.onPanic(panicError(r))
			}
		}
	}()
	callback(args, err)
}

func sortedIDs(entries map[uint64]*pendingAck) []uint64 {
	ids := make([]uint64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
