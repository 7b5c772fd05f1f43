// Package lifecycle drives the content view's handshake with its host:
// announce the page, wait for configuration, initialize, report ready,
// and finally report completion or a fatal error.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

const DefaultInitTimeout = 30 * time.Second

// InitResult describes the form an Initializer loaded.
type InitResult struct {
	PageCount   int
	CurrentPage int
	// Defaults are filled into the final answers for fields the
	// respondent never reached.
	Defaults map[string]any
}

// Initializer performs the asynchronous, possibly failing setup that
// follows INIT (brand module loading, theming, form loading).
type Initializer interface {
	Initialize(ctx context.Context, cfg protocol.RuntimeConfig) (InitResult, error)
}

type InitializerFunc func(ctx context.Context, cfg protocol.RuntimeConfig) (InitResult, error)

func (f InitializerFunc) Initialize(ctx context.Context, cfg protocol.RuntimeConfig) (InitResult, error) {
	return f(ctx, cfg)
}

type Options struct {
	// AllowReinit lets an INIT received after the handshake restart
	// initialization with the new configuration. When false such
	// messages are logged and ignored.
	AllowReinit bool
	InitTimeout time.Duration
	Brand       string
}

// Machine is the handshake and lifecycle state machine for one content
// view.
type Machine struct {
	transport   transport.Transport
	initializer Initializer
	opts        Options
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	initPending     bool
	generation      int
	cfg             *protocol.RuntimeConfig
	result          InitResult
	readyAt         time.Time
	registrations   []*Registration
	nextSubID       int
	subscribers     []subscriber
	deviceSessionID string
	unsubscribe     func()
}

type subscriber struct {
	id int
	fn func(Transition)
}

func NewMachine(t transport.Transport, init Initializer, opts Options) *Machine {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		transport:       t,
		initializer:     init,
		opts:            opts,
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
		state:           StateUninitialized,
		deviceSessionID: uuid.NewString(),
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the accepted runtime configuration, or nil before INIT.
func (m *Machine) Config() *protocol.RuntimeConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil
	}
	cfg := *m.cfg
	return &cfg
}

func (m *Machine) DeviceSessionID() string { return m.deviceSessionID }

// Subscribe registers fn for every transition. fn runs synchronously on
// the goroutine performing the transition. The returned func removes it.
func (m *Machine) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subscribers = slices.DeleteFunc(m.subscribers, func(s subscriber) bool { return s.id == id })
	}
}

// SubscriberCount reports how many transition subscribers are registered.
func (m *Machine) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// AddRegistration adds a plugin registration the machine must await
// before entering Initializing.
func (m *Machine) AddRegistration(r *Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations = append(m.registrations, r)
}

// Start announces the page and begins waiting for INIT. Calling it again
// only repeats the announcement.
func (m *Machine) Start() {
	m.mu.Lock()
	first := m.state == StateUninitialized
	m.mu.Unlock()

	m.announce(protocol.TypePageLoaded, protocol.PageLoadedPayload{
		Ready:     true,
		Timestamp: m.now().UnixMilli(),
		Brand:     m.opts.Brand,
	})
	if first {
		m.transition(StateUninitialized, StateAwaitingConfig, nil)
	}
}

// Attach subscribes the machine to INIT messages on its transport.
func (m *Machine) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe == nil {
		m.unsubscribe = m.transport.OnMessage(m.HandleMessage)
	}
}

// HandleMessage accepts INIT envelopes and ignores everything else.
func (m *Machine) HandleMessage(msg protocol.Message) {
	if msg.Type != protocol.TypeInit {
		return
	}
	var cfg protocol.RuntimeConfig
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
			logger.WarnCF("lifecycle", "Malformed INIT payload", map[string]any{"error": err.Error()})
			return
		}
	}
	m.HandleInit(cfg)
}

// HandleInit starts initialization with cfg. It reports whether cfg was
// accepted. Only the first INIT is honored unless AllowReinit is set, and
// an INIT arriving while initialization is in flight is always ignored.
func (m *Machine) HandleInit(cfg protocol.RuntimeConfig) bool {
	m.mu.Lock()
	state := m.state
	accept := false
	switch {
	case m.initPending || state == StateInitializing || state == StateCompleting:
	case state == StateAwaitingConfig:
		accept = true
	case m.opts.AllowReinit && state != StateUninitialized:
		accept = true
	}
	if !accept {
		m.mu.Unlock()
		logger.WarnCF("lifecycle", "Ignoring INIT", map[string]any{
			"state":        state.String(),
			"session_id":   cfg.SessionID,
			"allow_reinit": m.opts.AllowReinit,
		})
		return false
	}

	m.initPending = true
	m.generation++
	gen := m.generation
	m.cfg = &cfg
	regs := append([]*Registration(nil), m.registrations...)
	m.mu.Unlock()

	logger.InfoCF("lifecycle", "INIT accepted", map[string]any{
		"session_id": cfg.SessionID,
		"locale":     cfg.Locale,
		"brand":      cfg.Brand,
		"reinit":     state != StateAwaitingConfig,
	})

	go m.run(gen, cfg, regs)
	return true
}

func (m *Machine) run(gen int, cfg protocol.RuntimeConfig, regs []*Registration) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.InitTimeout)
	defer cancel()

	if err := awaitRegistrations(ctx, regs); err != nil {
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	from := m.state
	m.mu.Unlock()
	if !m.transitionIf(gen, from, StateInitializing, func() { m.initPending = false }) {
		return
	}

	result, err := m.initialize(ctx, cfg)
	if err != nil {
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.generation || m.state != StateInitializing {
		m.mu.Unlock()
		return
	}
	m.result = result
	m.readyAt = m.now()
	m.mu.Unlock()

	if !m.transitionIf(gen, StateInitializing, StateReady, nil) {
		return
	}
	m.announce(protocol.TypeReady, protocol.ReadyPayload{
		PageCount:   result.PageCount,
		CurrentPage: result.CurrentPage,
		SessionID:   cfg.SessionID,
	})
}

func awaitRegistrations(ctx context.Context, regs []*Registration) error {
	if len(regs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range regs {
		g.Go(func() error { return r.Wait(gctx) })
	}
	return g.Wait()
}

// initialize runs the Initializer, converting panics and timeouts into
// errors so the machine never stays in Initializing.
func (m *Machine) initialize(ctx context.Context, cfg protocol.RuntimeConfig) (InitResult, error) {
	if m.initializer == nil {
		return InitResult{PageCount: 1}, nil
	}

	type initOutcome struct {
		result InitResult
		err    error
	}
	done := make(chan initOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- initOutcome{err: &PanicError{Value: p, Stack: string(debug.Stack())}}
			}
		}()
		res, err := m.initializer.Initialize(ctx, cfg)
		done <- initOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return InitResult{}, fmt.Errorf("%w after %v", ErrInitTimeout, m.opts.InitTimeout)
		}
		return InitResult{}, ctx.Err()
	}
}

func (m *Machine) fail(gen int, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.initPending = false
	m.mu.Unlock()

	// Close cancelled the run; the view is going away, not failing
	if m.ctx.Err() != nil {
		logger.DebugCF("lifecycle", "Initialization abandoned on close", map[string]any{
			"state": from.String(),
			"error": err.Error(),
		})
		return
	}

	if !m.transitionIf(gen, from, StateErrored, nil, err) {
		return
	}

	logger.ErrorCF("lifecycle", "Initialization failed", map[string]any{"error": err.Error()})
	m.announce(protocol.TypeError, protocol.ErrorPayload{
		Error: err.Error(),
		Stack: stackOf(err),
	})
}

// NoteActivity moves Ready to Active. Telemetry calls it on every page or
// value change; only the first one has an effect.
func (m *Machine) NoteActivity() {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	m.transitionIf(gen, StateReady, StateActive, nil)
}

// Complete enriches answers with closing metadata and announces COMPLETE
// exactly once.
func (m *Machine) Complete(answers map[string]any) (*protocol.CompletePayload, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady, StateActive:
	case StateCompleting, StateCompleted:
		m.mu.Unlock()
		return nil, ErrAlreadyCompleted
	default:
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	from := m.state
	gen := m.generation
	cfg := *m.cfg
	defaults := m.result.Defaults
	readyAt := m.readyAt
	m.mu.Unlock()

	if !m.transitionIf(gen, from, StateCompleting, nil) {
		return nil, ErrAlreadyCompleted
	}

	now := m.now()
	final := make(map[string]any, len(answers)+len(defaults))
	maps.Copy(final, answers)
	for k, v := range defaults {
		if _, ok := final[k]; !ok {
			final[k] = v
		}
	}

	payload := &protocol.CompletePayload{
		Answers:         final,
		EventID:         cfg.EventID,
		ResponseID:      cfg.ResponseID,
		CompletedAt:     now.UnixMilli(),
		Duration:        now.Sub(readyAt).Milliseconds(),
		DeviceSessionID: m.deviceSessionID,
	}
	m.announce(protocol.TypeComplete, payload)
	m.transitionIf(gen, StateCompleting, StateCompleted, nil)
	return payload, nil
}

// Close stops any in-flight initialization and detaches from the
// transport.
func (m *Machine) Close() {
	m.cancel()
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// WaitFor blocks until the machine reaches one of states or ctx ends.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	ch := make(chan State, 16)
	unsubscribe := m.Subscribe(func(tr Transition) {
		select {
		case ch <- tr.To:
		default:
		}
	})
	defer unsubscribe()
	want := func(s State) bool {
		for _, w := range states {
			if s == w {
				return true
			}
		}
		return false
	}
	if s := m.State(); want(s) {
		return s, nil
	}
	for {
		select {
		case s := <-ch:
			if want(s) {
				return s, nil
			}
		case <-ctx.Done():
			return m.State(), ctx.Err()
		}
	}
}

func (m *Machine) transition(from, to State, err error) bool {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	return m.transitionIf(gen, from, to, nil, err)
}

// transitionIf moves from -> to only when the machine is still in from
// and gen is current. locked runs under the lock on success.
func (m *Machine) transitionIf(gen int, from, to State, locked func(), errs ...error) bool {
	m.mu.Lock()
	if gen != m.generation || m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	if locked != nil {
		locked()
	}
	subs := slices.Clone(m.subscribers)
	m.mu.Unlock()

	tr := Transition{From: from, To: to, At: m.now()}
	if len(errs) > 0 {
		tr.Err = errs[0]
	}
	logger.DebugCF("lifecycle", "State transition", map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
	for _, s := range subs {
		s.fn(tr)
	}
	return true
}

// announce sends a one-way message. Failures are logged and dropped.
func (m *Machine) announce(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		logger.ErrorCF("lifecycle", "Failed to build announcement", map[string]any{
			"type":  msgType,
			"error": err.Error(),
		})
		return
	}
	if err := m.transport.Send(msg); err != nil {
		logger.WarnCF("lifecycle", "Failed to send announcement", map[string]any{
			"type":  msgType,
			"error": err.Error(),
		})
	}
}

type stackTracer interface {
	StackTrace() string
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}
