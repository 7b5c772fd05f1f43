// Package correlator matches outbound bridge requests to inbound replies
// by correlation id, rejecting any request whose reply does not arrive in
// time.
//
// Every pending request is settled exactly once: by its reply, by an
// error reply, by its timer, or by Close. Whichever removes the entry
// from the pending set first wins; everything after is ignored.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

// DefaultTimeout applies when a request is issued with timeout <= 0.
const DefaultTimeout = 10 * time.Second

type outcome struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	id        string
	msgType   string
	createdAt time.Time
	timer     *time.Timer
	result    chan outcome
}

// Correlator owns the pending-request set for one content view.
type Correlator struct {
	transport      transport.Transport
	defaultTimeout time.Duration
	replyTypes     map[string]struct{}
	errorTypes     map[string]struct{}
	newID          func() string

	mu          sync.Mutex
	pending     map[string]*pendingRequest
	closed      bool
	unsubscribe func()
}

// Option configures a Correlator.
type Option func(*Correlator)

func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithReplyTypes replaces the set of inbound types treated as successful
// replies.
func WithReplyTypes(types ...string) Option {
	return func(c *Correlator) { c.replyTypes = toSet(types) }
}

// WithErrorTypes replaces the set of inbound types treated as error
// replies.
func WithErrorTypes(types ...string) Option {
	return func(c *Correlator) { c.errorTypes = toSet(types) }
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) { c.newID = fn }
}

// New subscribes a correlator to t. Close unsubscribes it.
func New(t transport.Transport, opts ...Option) *Correlator {
	c := &Correlator{
		transport:      t,
		defaultTimeout: DefaultTimeout,
		replyTypes:     toSet([]string{protocol.TypeAutocompleteResult, protocol.TypeDetailsResult}),
		errorTypes:     toSet([]string{protocol.TypeError}),
		newID:          NewRequestID,
		pending:        make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = t.OnMessage(c.HandleMessage)
	return c
}

// NewRequestID returns "<unix-millis>-<random>", unique enough within one
// content-view session. The host echoes it back verbatim.
func NewRequestID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// Request sends msgType with payload plus a requestId and waits for the
// matching reply payload.
//
// If ctx ends first the caller stops waiting, but the request stays
// pending until its reply or timer settles it.
func (c *Correlator) Request(ctx context.Context, msgType string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p, err := c.register(msgType, timeout)
	if err != nil {
		return nil, err
	}

	body, err := withRequestID(payload, p.id)
	if err != nil {
		c.settle(p.id, outcome{err: err})
		return nil, err
	}

	logger.DebugCF("correlator", "Sending request", map[string]any{
		"type":       msgType,
		"request_id": p.id,
		"timeout_ms": timeout.Milliseconds(),
	})

	if err := c.transport.Send(protocol.Message{Type: msgType, Payload: body}); err != nil {
		sendErr := fmt.Errorf("failed to send %s: %w", msgType, err)
		c.settle(p.id, outcome{err: sendErr})
	}

	select {
	case res := <-p.result:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Correlator) register(msgType string, timeout time.Duration) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	id := c.newID()
	for _, exists := c.pending[id]; exists; _, exists = c.pending[id] {
		id = c.newID()
	}

	p := &pendingRequest{
		id:        id,
		msgType:   msgType,
		createdAt: time.Now(),
		result:    make(chan outcome, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if c.settle(id, outcome{err: &TimeoutError{RequestID: id, Type: msgType, After: timeout}}) {
			logger.WarnCF("correlator", "Request timed out", map[string]any{
				"type":       msgType,
				"request_id": id,
				"timeout_ms": timeout.Milliseconds(),
			})
		}
	})
	c.pending[id] = p
	return p, nil
}

// settle removes id from the pending set and delivers res. It reports
// false when id was already settled or never existed.
func (c *Correlator) settle(id string, res outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.result <- res
	return true
}

// HandleMessage routes one inbound envelope. Unknown, duplicate and late
// replies are dropped.
func (c *Correlator) HandleMessage(msg protocol.Message) {
	_, isReply := c.replyTypes[msg.Type]
	_, isError := c.errorTypes[msg.Type]
	if !isReply && !isError {
		return
	}

	id := protocol.RequestIDOf(msg.Payload)
	if id == "" {
		if isReply {
			logger.WarnCF("correlator", "Reply without requestId", map[string]any{"type": msg.Type})
		}
		return
	}

	var res outcome
	if isError {
		var ep protocol.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &ep); err != nil {
			logger.WarnCF("correlator", "Malformed error reply", map[string]any{
				"request_id": id,
				"error":      err.Error(),
			})
		}
		res.err = &HostError{RequestID: id, Message: ep.Error}
	} else {
		res.payload = msg.Payload
	}

	if !c.settle(id, res) {
		logger.DebugCF("correlator", "No pending request for reply", map[string]any{
			"type":       msg.Type,
			"request_id": id,
		})
	}
}

// Pending returns the number of unsettled requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every pending request with ErrClosed, stops their timers
// and unsubscribes from the transport. Safe to call more than once.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, outcome{err: ErrClosed})
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if len(ids) > 0 {
		logger.InfoCF("correlator", "Rejected pending requests on close", map[string]any{"count": len(ids)})
	}
}

// withRequestID returns payload as a JSON object with requestId set.
func withRequestID(payload any, id string) (json.RawMessage, error) {
	raw := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if string(b) != "null" {
			if !gjson.ParseBytes(b).IsObject() {
				return nil, fmt.Errorf("payload must be a JSON object, got %s", gjson.ParseBytes(b).Type)
			}
			raw = b
		}
	}
	out, err := sjson.SetBytes(raw, "requestId", id)
	if err != nil {
		return nil, fmt.Errorf("failed to set requestId: %w", err)
	}
	return out, nil
}

func toSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
