package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/pkg/contentview"
	"github.com/tinyland-inc/formbridge/pkg/lifecycle"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

func TestNewConsoleCommand(t *testing.T) {
	cmd := NewConsoleCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "console", cmd.Use)
	assert.Equal(t, []string{"c"}, cmd.Aliases)
	assert.True(t, cmd.HasExample())
	assert.False(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("debug"))
	assert.NotNil(t, cmd.Flags().Lookup("pages"))
}

type output struct {
	buf bytes.Buffer
	lw  *lockedWriter
}

func newOutput() *output {
	o := &output{}
	o.lw = &lockedWriter{w: &o.buf}
	return o
}

func (o *output) String() string {
	o.lw.mu.Lock()
	defer o.lw.mu.Unlock()
	return o.buf.String()
}

func newSession(t *testing.T, timeout time.Duration) (*session, *output) {
	t.Helper()
	out := newOutput()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pipe, end := transport.NewPipe(protocol.InboundNamespace())
	host := newSimHost(end, nil, out.lw)
	go host.serve(ctx)

	view, err := contentview.New(pipe, contentview.Options{
		RequestTimeout: timeout,
		Initializer:    internal.StaticForm(3),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = view.Close() })
	view.Start(ctx)

	return &session{view: view, host: host, out: out.lw}, out
}

func waitState(t *testing.T, s *session, state lifecycle.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.view.WaitFor(ctx, state)
	require.NoError(t, err)
}

func TestSession_FullFlow(t *testing.T) {
	s, out := newSession(t, time.Second)
	ctx := context.Background()

	assert.False(t, s.handle(ctx, "init sess-1 fr"))
	waitState(t, s, lifecycle.StateReady)
	assert.Equal(t, "sess-1", s.view.Machine().Config().SessionID)

	s.handle(ctx, "lookup baker")
	assert.Contains(t, out.String(), "#1 221B Baker Street")

	s.handle(ctx, "resolve #1")
	assert.Contains(t, out.String(), "221B Baker Street, London, ENG NW1 6XE, GB")

	s.handle(ctx, "set age 42")
	s.handle(ctx, "set subscribe true")
	s.handle(ctx, "page 2 3 details")
	waitState(t, s, lifecycle.StateActive)

	s.handle(ctx, "complete")
	assert.Contains(t, out.String(), "completed with 2 answer(s)")
	assert.Equal(t, lifecycle.StateCompleted, s.view.State())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "host <- COMPLETE")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "host <- PAGE_LOADED")
	assert.Contains(t, out.String(), "host <- VALUE_CHANGED")

	s.handle(ctx, "complete")
	assert.Contains(t, out.String(), "already completed")
}

func TestSession_SilentHostTimesOut(t *testing.T) {
	s, out := newSession(t, 100*time.Millisecond)
	ctx := context.Background()

	s.handle(ctx, "silent on")
	s.handle(ctx, "lookup evergreen")
	assert.Contains(t, out.String(), "no reply after")

	s.handle(ctx, "silent off")
	s.handle(ctx, "lookup evergreen")
	assert.Contains(t, out.String(), "#1 742 Evergreen Terrace")
}

func TestSession_UsageErrors(t *testing.T) {
	s, out := newSession(t, time.Second)
	ctx := context.Background()

	s.handle(ctx, "")
	s.handle(ctx, "bogus")
	s.handle(ctx, "set onlyname")
	s.handle(ctx, "page x y")
	s.handle(ctx, "resolve #4")
	s.handle(ctx, "resolve nowhere")
	s.handle(ctx, "complete")

	text := out.String()
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "usage: set")
	assert.Contains(t, text, "page numbers must be integers")
	assert.Contains(t, text, "no candidate #4")
	assert.Contains(t, text, `unknown place "nowhere"`)
	assert.Contains(t, text, "not ready")
	assert.True(t, s.handle(ctx, "exit"))
}

func TestSimpleInteractiveMode(t *testing.T) {
	s, out := newSession(t, time.Second)

	simpleInteractiveMode(context.Background(), s, strings.NewReader("help\nstate\nquit\n"))

	text := out.String()
	assert.Contains(t, text, "Commands:")
	assert.Contains(t, text, "state=awaiting_config mode=bridged")
	assert.Contains(t, text, "Goodbye!")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, 1.0, parseValue("1"))
	assert.Equal(t, "Baker St", parseValue("Baker St"))
}
