package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

// stubTransport records sends and lets the test inject inbound messages.
type stubTransport struct {
	mu      sync.Mutex
	handler transport.Handler
	sent    chan protocol.Message
	sendErr error
}

func newStub() *stubTransport {
	return &stubTransport{sent: make(chan protocol.Message, 16)}
}

func (s *stubTransport) Send(msg protocol.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent <- msg
	return nil
}

func (s *stubTransport) OnMessage(h transport.Handler) func() {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.handler = nil
		s.mu.Unlock()
	}
}

func (s *stubTransport) HostAttached() bool { return true }
func (s *stubTransport) Name() string       { return "stub" }
func (s *stubTransport) Close() error       { return nil }

func (s *stubTransport) deliver(msgType string, payload any) {
	raw, _ := json.Marshal(payload)
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(protocol.Message{Type: msgType, Payload: raw})
	}
}

func (s *stubTransport) nextSent(t *testing.T) (protocol.Message, string) {
	t.Helper()
	select {
	case msg := <-s.sent:
		return msg, protocol.RequestIDOf(msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return protocol.Message{}, ""
	}
}

type result struct {
	payload json.RawMessage
	err     error
}

func goRequest(c *Correlator, msgType string, payload any, timeout time.Duration) <-chan result {
	ch := make(chan result, 1)
	go func() {
		p, err := c.Request(context.Background(), msgType, payload, timeout)
		ch <- result{p, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request never settled")
		return result{}
	}
}

func TestRequest_ResolvesWithReply(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ch := goRequest(c, protocol.TypeDetailsRequest, map[string]any{"placeId": "p1"}, time.Second)
	sent, id := stub.nextSent(t)
	require.NotEmpty(t, id)
	assert.Equal(t, protocol.TypeDetailsRequest, sent.Type)
	assert.JSONEq(t, `{"placeId":"p1","requestId":"`+id+`"}`, string(sent.Payload))

	stub.deliver(protocol.TypeDetailsResult, map[string]any{"requestId": id, "details": map[string]any{"placeId": "p1"}})

	r := await(t, ch)
	require.NoError(t, r.err)
	assert.Contains(t, string(r.payload), `"placeId":"p1"`)
	assert.Equal(t, 0, c.Pending())
}

func TestRequest_HostError(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ch := goRequest(c, protocol.TypeAutocompleteRequest, map[string]any{"input": "x"}, time.Second)
	_, id := stub.nextSent(t)
	stub.deliver(protocol.TypeError, protocol.ErrorPayload{RequestID: id, Error: "OVER_QUERY_LIMIT"})

	r := await(t, ch)
	var hostErr *HostError
	require.True(t, errors.As(r.err, &hostErr))
	assert.Equal(t, "OVER_QUERY_LIMIT", hostErr.Message)
	assert.Equal(t, id, hostErr.RequestID)
	assert.Equal(t, 0, c.Pending())
}

func TestRequest_Timeout(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	start := time.Now()
	_, err := c.Request(context.Background(), protocol.TypeAutocompleteRequest, nil, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, protocol.TypeAutocompleteRequest, te.Type)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestRequest_LateReplyIgnored(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ch := goRequest(c, protocol.TypeDetailsRequest, nil, 30*time.Millisecond)
	_, id := stub.nextSent(t)
	r := await(t, ch)
	require.ErrorIs(t, r.err, ErrTimeout)

	assert.NotPanics(t, func() {
		stub.deliver(protocol.TypeDetailsResult, map[string]any{"requestId": id})
	})
	assert.Equal(t, 0, c.Pending())
}

func TestRequest_DuplicateReplySettlesOnce(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ch := goRequest(c, protocol.TypeDetailsRequest, nil, time.Second)
	_, id := stub.nextSent(t)

	stub.deliver(protocol.TypeDetailsResult, map[string]any{"requestId": id, "n": 1})
	stub.deliver(protocol.TypeDetailsResult, map[string]any{"requestId": id, "n": 2})
	stub.deliver(protocol.TypeError, map[string]any{"requestId": id, "error": "late"})

	r := await(t, ch)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"requestId":"`+id+`","n":1}`, string(r.payload))

	select {
	case extra := <-ch:
		t.Fatalf("settled twice: %+v", extra)
	default:
	}
}

func TestRequest_OutOfOrder(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ch1 := goRequest(c, protocol.TypeAutocompleteRequest, map[string]any{"input": "one"}, time.Second)
	_, id1 := stub.nextSent(t)
	ch2 := goRequest(c, protocol.TypeAutocompleteRequest, map[string]any{"input": "two"}, time.Second)
	_, id2 := stub.nextSent(t)
	require.NotEqual(t, id1, id2)
	assert.Equal(t, 2, c.Pending())

	stub.deliver(protocol.TypeAutocompleteResult, map[string]any{"requestId": id2, "answer": "two"})
	stub.deliver(protocol.TypeAutocompleteResult, map[string]any{"requestId": id1, "answer": "one"})

	r1 := await(t, ch1)
	r2 := await(t, ch2)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Contains(t, string(r1.payload), `"answer":"one"`)
	assert.Contains(t, string(r2.payload), `"answer":"two"`)
}

func TestHandleMessage_IgnoresUnknownAndUnrelated(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	assert.NotPanics(t, func() {
		stub.deliver(protocol.TypeDetailsResult, map[string]any{"requestId": "nope"})
		stub.deliver(protocol.TypeDetailsResult, map[string]any{})
		stub.deliver(protocol.TypeInit, map[string]any{"requestId": "x"})
		c.HandleMessage(protocol.Message{Type: protocol.TypeError, Payload: json.RawMessage(`garbage`)})
	})
}

func TestRequest_SendFailure(t *testing.T) {
	stub := newStub()
	stub.sendErr = errors.New("pipe broken")
	c := New(stub)
	defer c.Close()

	_, err := c.Request(context.Background(), protocol.TypeDetailsRequest, nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe broken")
	assert.Equal(t, 0, c.Pending())
}

func TestRequest_CallerCancelStillCleansUp(t *testing.T) {
	stub := newStub()
	c := New(stub)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, protocol.TypeDetailsRequest, nil, 300*time.Millisecond)
		done <- err
	}()
	stub.nextSent(t)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, c.Pending())
	assert.Eventually(t, func() bool { return c.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClose_RejectsPending(t *testing.T) {
	stub := newStub()
	c := New(stub)

	ch := goRequest(c, protocol.TypeDetailsRequest, nil, time.Minute)
	stub.nextSent(t)

	c.Close()
	c.Close()

	r := await(t, ch)
	assert.ErrorIs(t, r.err, ErrClosed)
	assert.Equal(t, 0, c.Pending())

	_, err := c.Request(context.Background(), protocol.TypeDetailsRequest, nil, time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	stub.mu.Lock()
	assert.Nil(t, stub.handler)
	stub.mu.Unlock()
}

func TestDefaultTimeout(t *testing.T) {
	stub := newStub()
	c := New(stub, WithDefaultTimeout(20*time.Millisecond))
	defer c.Close()

	_, err := c.Request(context.Background(), protocol.TypeDetailsRequest, nil, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestIDGeneratorCollision(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
	stub := newStub()
	c := New(stub, WithIDGenerator(next))
	defer c.Close()

	goRequest(c, protocol.TypeDetailsRequest, nil, time.Second)
	_, first := stub.nextSent(t)
	goRequest(c, protocol.TypeDetailsRequest, nil, time.Second)
	_, second := stub.nextSent(t)

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
}

func TestWithRequestID(t *testing.T) {
	raw, err := withRequestID(nil, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"r1"}`, string(raw))

	raw, err = withRequestID(struct {
		Input string `json:"input"`
	}{"abc"}, "r2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"input":"abc","requestId":"r2"}`, string(raw))

	_, err = withRequestID([]int{1}, "r3")
	assert.Error(t, err)
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^\d+-[0-9a-f]{12}$`, a)
}
