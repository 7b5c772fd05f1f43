// Package telemetry sends one-way progress notifications to the host.
// Nothing here waits on a reply, and no failure reaches the caller.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

const DefaultQueueSize = 256

type item struct {
	msg     protocol.Message
	barrier chan struct{}
}

// Emitter queues notifications and writes them from one goroutine, so a
// slow transport never blocks form logic and correlated requests never
// wait behind telemetry.
type Emitter struct {
	transport transport.Transport
	queue     chan item
	onEmit    func(msgType string)
	now       func() time.Time

	sent    atomic.Int64
	dropped atomic.Int64

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

type Option func(*Emitter)

func WithQueueSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan item, n)
		}
	}
}

// WithActivityHook registers fn to run for every page or value change
// accepted into the queue.
func WithActivityHook(fn func(msgType string)) Option {
	return func(e *Emitter) { e.onEmit = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func NewEmitter(t transport.Transport, opts ...Option) *Emitter {
	e := &Emitter{
		transport: t,
		queue:     make(chan item, DefaultQueueSize),
		now:       time.Now,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

func (e *Emitter) PageChanged(pageNo, totalPages int, pageName string) {
	e.emit(protocol.TypePageChanged, protocol.PageChangedPayload{
		PageNo:     pageNo,
		TotalPages: totalPages,
		PageName:   pageName,
	}, true)
}

func (e *Emitter) ValueChanged(name string, value any, question string) {
	e.emit(protocol.TypeValueChanged, protocol.ValueChangedPayload{
		Name:     name,
		Value:    value,
		Question: question,
	}, true)
}

// SaveProgress sends a snapshot. A zero Timestamp is filled in.
func (e *Emitter) SaveProgress(snap protocol.ProgressSnapshot) {
	if snap.Timestamp == 0 {
		snap.Timestamp = e.now().UnixMilli()
	}
	if snap.Answers == nil {
		snap.Answers = map[string]any{}
	}
	e.emit(protocol.TypeSaveProgress, snap, false)
}

// Emit queues an arbitrary one-way message.
func (e *Emitter) Emit(msgType string, payload any) {
	e.emit(msgType, payload, false)
}

func (e *Emitter) emit(msgType string, payload any, activity bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("telemetry", "Emit panicked", map[string]any{
				"type":  msgType,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		logger.WarnCF("telemetry", "Dropping unencodable event", map[string]any{
			"type":  msgType,
			"error": err.Error(),
		})
		e.dropped.Add(1)
		return
	}

	if !e.enqueue(item{msg: msg}) {
		e.dropped.Add(1)
		logger.WarnCF("telemetry", "Telemetry queue full or closed, dropping event", map[string]any{"type": msgType})
		return
	}
	if activity && e.onEmit != nil {
		e.onEmit(msgType)
	}
}

func (e *Emitter) enqueue(it item) bool {
	select {
	case <-e.closing:
		return false
	default:
	}
	select {
	case e.queue <- it:
		return true
	default:
		return false
	}
}

func (e *Emitter) loop() {
	defer close(e.done)
	for {
		select {
		case it := <-e.queue:
			e.deliver(it)
		case <-e.closing:
			for {
				select {
				case it := <-e.queue:
					e.deliver(it)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) deliver(it item) {
	if it.barrier != nil {
		close(it.barrier)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("telemetry", "Transport panicked", map[string]any{
				"type":  it.msg.Type,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	if err := e.transport.Send(it.msg); err != nil {
		e.dropped.Add(1)
		logger.DebugCF("telemetry", "Send failed", map[string]any{
			"type":  it.msg.Type,
			"error": err.Error(),
		})
		return
	}
	e.sent.Add(1)
}

// Flush waits until everything queued before the call has been handed to
// the transport, or ctx ends.
func (e *Emitter) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case e.queue <- item{barrier: barrier}:
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and drains what is already queued.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.closing) })
	<-e.done
}

// Stats returns counts of delivered and dropped events.
func (e *Emitter) Stats() (sent, dropped int64) {
	return e.sent.Load(), e.dropped.Load()
}
