// Package bus provides a pair of closable, bounded envelope queues. One
// queue carries host-to-content traffic and the other content-to-host.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultCapacity = 100

type MessageBus struct {
	toContent chan protocol.Message
	toHost    chan protocol.Message
	done      chan struct{}
	closed    atomic.Bool
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithCapacity(defaultCapacity)
}

func NewMessageBusWithCapacity(n int) *MessageBus {
	if n <= 0 {
		n = defaultCapacity
	}
	return &MessageBus{
		toContent: make(chan protocol.Message, n),
		toHost:    make(chan protocol.Message, n),
		done:      make(chan struct{}),
	}
}

// PublishToContent queues a host message for the content view.
func (mb *MessageBus) PublishToContent(ctx context.Context, msg protocol.Message) error {
	return mb.publish(ctx, mb.toContent, msg)
}

// ConsumeToContent blocks until a host message is available.
func (mb *MessageBus) ConsumeToContent(ctx context.Context) (protocol.Message, bool) {
	return mb.consume(ctx, mb.toContent)
}

// PublishToHost queues a content-view message for the host.
func (mb *MessageBus) PublishToHost(ctx context.Context, msg protocol.Message) error {
	return mb.publish(ctx, mb.toHost, msg)
}

// ConsumeToHost blocks until a content-view message is available.
func (mb *MessageBus) ConsumeToHost(ctx context.Context) (protocol.Message, bool) {
	return mb.consume(ctx, mb.toHost)
}

func (mb *MessageBus) publish(ctx context.Context, ch chan protocol.Message, msg protocol.Message) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case ch <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) consume(ctx context.Context, ch chan protocol.Message) (protocol.Message, bool) {
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-mb.done:
		return protocol.Message{}, false
	case <-ctx.Done():
		return protocol.Message{}, false
	}
}

func (mb *MessageBus) Closed() bool {
	return mb.closed.Load()
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
