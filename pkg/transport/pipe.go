package transport

import (
	"context"
	"time"

	"github.com/tinyland-inc/formbridge/pkg/bus"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

const pipeSendTimeout = 5 * time.Second

// Pipe is an in-memory content-side transport. Its peer, HostEnd, plays
// the host. Used by embedding Go hosts, the console simulator and tests.
type Pipe struct {
	*base
	bus    *bus.MessageBus
	cancel context.CancelFunc
}

// HostEnd is the host side of a Pipe.
type HostEnd struct {
	bus *bus.MessageBus
}

// NewPipe returns a started content-side transport and its host end.
func NewPipe(ns protocol.Namespace) (*Pipe, *HostEnd) {
	mb := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		base:   newBase("pipe", ns, true),
		bus:    mb,
		cancel: cancel,
	}
	go p.readLoop(ctx)
	return p, &HostEnd{bus: mb}
}

func (p *Pipe) Send(msg protocol.Message) error {
	if p.closed.Load() {
		return ErrTransportClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), pipeSendTimeout)
	defer cancel()
	return p.bus.PublishToHost(ctx, msg)
}

func (p *Pipe) Close() error {
	if p.shutdown() {
		p.cancel()
		p.bus.Close()
	}
	return nil
}

func (p *Pipe) readLoop(ctx context.Context) {
	for {
		msg, ok := p.bus.ConsumeToContent(ctx)
		if !ok {
			return
		}
		p.dispatch(msg)
	}
}

// Send delivers msg to the content view.
func (h *HostEnd) Send(ctx context.Context, msg protocol.Message) error {
	return h.bus.PublishToContent(ctx, msg)
}

// SendPayload marshals payload and delivers it to the content view.
func (h *HostEnd) SendPayload(ctx context.Context, msgType string, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.Send(ctx, msg)
}

// Recv blocks until the content view sends something or ctx ends.
func (h *HostEnd) Recv(ctx context.Context) (protocol.Message, bool) {
	return h.bus.ConsumeToHost(ctx)
}

// Serve calls fn for every content-view message until ctx ends or the
// pipe closes.
func (h *HostEnd) Serve(ctx context.Context, fn func(protocol.Message)) {
	for {
		msg, ok := h.bus.ConsumeToHost(ctx)
		if !ok {
			return
		}
		fn(msg)
	}
}

var _ Transport = (*Pipe)(nil)
