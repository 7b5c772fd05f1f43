// Package transport moves protocol envelopes between a content view and
// its host. Every implementation filters inbound traffic by namespace and
// reports host presence once, at construction.
package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

var ErrTransportClosed = errors.New("transport closed")

// Handler receives one inbound envelope. Handlers run on the transport's
// read goroutine and must not block for long.
type Handler func(msg protocol.Message)

type Transport interface {
	// Send writes one envelope to the host. It is a no-op returning nil
	// when no host is attached.
	Send(msg protocol.Message) error
	// OnMessage subscribes to inbound envelopes within the namespace.
	OnMessage(h Handler) (unsubscribe func())
	// HostAttached is fixed for the life of the transport.
	HostAttached() bool
	Name() string
	Close() error
}

// Starter is implemented by transports that own a read loop. Start it
// only after subscribing, so messages the host sends eagerly reach a
// handler.
type Starter interface {
	Start(ctx context.Context)
}

// base carries the subscriber set and namespace filter shared by every
// transport.
type base struct {
	name      string
	namespace protocol.Namespace
	attached  bool
	closed    atomic.Bool

	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
}

func newBase(name string, ns protocol.Namespace, attached bool) *base {
	return &base{
		name:      name,
		namespace: ns,
		attached:  attached,
		handlers:  make(map[uint64]Handler),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) HostAttached() bool { return b.attached }

func (b *base) OnMessage(h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *base) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// dispatch delivers msg to every subscriber. Messages outside the
// namespace are ignored without complaint.
func (b *base) dispatch(msg protocol.Message) {
	if b.closed.Load() {
		return
	}
	if !b.namespace.Contains(msg.Type) {
		logger.DebugCF("transport", "Ignoring foreign message", map[string]any{
			"transport": b.name,
			"type":      msg.Type,
		})
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	if len(handlers) == 0 {
		logger.DebugCF("transport", "No handler for message", map[string]any{
			"transport": b.name,
			"type":      msg.Type,
		})
		return
	}

	for _, h := range handlers {
		b.invoke(h, msg)
	}
}

func (b *base) invoke(h Handler, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("transport", "Message handler panicked", map[string]any{
				"transport": b.name,
				"type":      msg.Type,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			})
		}
	}()
	h(msg)
}

// dispatchRaw decodes one serialized envelope and dispatches it. Bad
// frames are logged and dropped.
func (b *base) dispatchRaw(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		logger.WarnCF("transport", "Dropping malformed message", map[string]any{
			"transport": b.name,
			"error":     err.Error(),
		})
		return
	}
	b.dispatch(msg)
}

// shutdown marks the transport closed and drops every subscriber. It
// reports whether this call performed the transition.
func (b *base) shutdown() bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	clear(b.handlers)
	b.mu.Unlock()
	return true
}
