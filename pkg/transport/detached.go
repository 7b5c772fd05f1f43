package transport

import "github.com/tinyland-inc/formbridge/pkg/protocol"

// Detached is the transport used when no host is present. Sends are
// dropped and nothing is ever received.
type Detached struct {
	*base
}

func NewDetached() *Detached {
	return &Detached{base: newBase("detached", nil, false)}
}

func (d *Detached) Send(protocol.Message) error { return nil }

func (d *Detached) Close() error {
	d.shutdown()
	return nil
}

var _ Transport = (*Detached)(nil)
