package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

// Host modes accepted by Open.
const (
	ModeNone      = "none"
	ModeStdio     = "stdio"
	ModeWebSocket = "websocket"
)

// Options describes how to reach the host. An empty Mode means no host
// injected anything and the content view runs detached.
type Options struct {
	Mode   string
	URL    string
	Header http.Header
	Stdin  io.Reader
	Stdout io.Writer
}

// Open builds the transport for one content-view lifetime. Host presence
// is decided here and never re-evaluated by the returned transport.
// Transports with a read loop implement Starter and are returned idle.
func Open(ctx context.Context, opts Options, ns protocol.Namespace) (Transport, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	switch mode {
	case "", ModeNone:
		logger.InfoC("transport", "No host attached, running detached")
		return NewDetached(), nil
	case ModeStdio:
		if opts.Stdin == nil || opts.Stdout == nil {
			return nil, fmt.Errorf("stdio transport requires stdin and stdout")
		}
		s := NewStdio(opts.Stdin, opts.Stdout, ns)
		logger.InfoC("transport", "Host attached over stdio")
		return s, nil
	case ModeWebSocket:
		if opts.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a host URL")
		}
		t, err := DialWebSocket(ctx, opts.URL, opts.Header, ns)
		if err != nil {
			// no host; t is Detached
			return t, nil
		}
		logger.InfoCF("transport", "Host attached over websocket", map[string]any{"url": opts.URL})
		return t, nil
	default:
		return nil, fmt.Errorf("unknown host mode %q", opts.Mode)
	}
}
