// Package contentview assembles one bridged content view: transport,
// request correlation, session tokens, the places resolver, the
// lifecycle machine and telemetry, all bound to a single lifetime.
package contentview

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/tinyland-inc/formbridge/pkg/correlator"
	"github.com/tinyland-inc/formbridge/pkg/lifecycle"
	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/places"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/session"
	"github.com/tinyland-inc/formbridge/pkg/telemetry"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

const completeFlushTimeout = 2 * time.Second

type Options struct {
	RequestTimeout time.Duration
	InitTimeout    time.Duration
	AllowReinit    bool
	Brand          string
	// CacheMode fixes the resolver mode at construction instead of
	// checking host presence before every call.
	CacheMode bool
	// Provider is used for lookups when no host is attached. Nil means
	// fallback lookups return nothing.
	Provider         places.Provider
	Initializer      lifecycle.Initializer
	TelemetryQueue   int
	AutosaveSchedule string
}

// View is one content-view lifetime. Close releases everything it holds.
type View struct {
	transport transport.Transport
	corr      *correlator.Correlator
	tokens    *session.Manager
	resolver  *places.Resolver
	machine   *lifecycle.Machine
	emitter   *telemetry.Emitter
	autosaver *telemetry.Autosaver

	mu          sync.Mutex
	answers     map[string]any
	currentPage int
	dirty       bool

	closeOnce sync.Once
}

// New wires a view onto t. The view does not announce itself until Start.
func New(t transport.Transport, opts Options) (*View, error) {
	if t == nil {
		t = transport.NewDetached()
	}

	v := &View{
		transport: t,
		tokens:    session.NewManager(),
		answers:   make(map[string]any),
	}

	var corrOpts []correlator.Option
	if opts.RequestTimeout > 0 {
		corrOpts = append(corrOpts, correlator.WithDefaultTimeout(opts.RequestTimeout))
	}
	v.corr = correlator.New(t, corrOpts...)

	resolverOpts := []places.ResolverOption{places.WithTimeout(opts.RequestTimeout)}
	if opts.CacheMode {
		resolverOpts = append(resolverOpts, places.WithCachedMode())
	}
	if opts.Provider != nil {
		resolverOpts = append(resolverOpts, places.WithProvider(opts.Provider))
	}
	v.resolver = places.NewResolver(v.corr, t.HostAttached, v.tokens, resolverOpts...)

	v.machine = lifecycle.NewMachine(t, opts.Initializer, lifecycle.Options{
		AllowReinit: opts.AllowReinit,
		InitTimeout: opts.InitTimeout,
		Brand:       opts.Brand,
	})
	v.machine.Subscribe(v.onTransition)

	v.emitter = telemetry.NewEmitter(t,
		telemetry.WithQueueSize(opts.TelemetryQueue),
		telemetry.WithActivityHook(func(string) { v.machine.NoteActivity() }),
	)

	if opts.AutosaveSchedule != "" {
		a, err := telemetry.NewAutosaver(opts.AutosaveSchedule, v.emitter, v.snapshotIfDirty)
		if err != nil {
			v.corr.Close()
			v.emitter.Close()
			return nil, err
		}
		v.autosaver = a
	}

	return v, nil
}

// Start subscribes to INIT, starts the transport's read loop and
// announces PAGE_LOADED. ctx bounds the read loop.
func (v *View) Start(ctx context.Context) {
	v.machine.Attach()
	if s, ok := v.transport.(transport.Starter); ok {
		s.Start(ctx)
	}
	v.machine.Start()
	logger.InfoCF("contentview", "Content view started", map[string]any{
		"transport":     v.transport.Name(),
		"host_attached": v.transport.HostAttached(),
		"mode":          v.resolver.Mode().String(),
	})
}

// RunAutosave emits periodic SAVE_PROGRESS until ctx ends. It returns
// immediately when no schedule is configured.
func (v *View) RunAutosave(ctx context.Context) {
	if v.autosaver == nil {
		return
	}
	v.autosaver.Run(ctx)
}

// Register adds a plugin whose registration must finish before the view
// starts initializing.
func (v *View) Register(ctx context.Context, name string, fn func(context.Context) error) *lifecycle.Registration {
	r := lifecycle.Register(ctx, name, fn)
	v.machine.AddRegistration(r)
	return r
}

func (v *View) onTransition(tr lifecycle.Transition) {
	if tr.To != lifecycle.StateReady {
		return
	}
	cfg := v.machine.Config()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.answers = make(map[string]any)
	if cfg != nil {
		maps.Copy(v.answers, cfg.Answers)
		v.currentPage = cfg.CurrentPage
	}
	v.dirty = false
}

func (v *View) Lookup(ctx context.Context, query string) ([]places.Candidate, error) {
	return v.resolver.Lookup(ctx, query)
}

func (v *View) Resolve(ctx context.Context, placeID string) (*places.Details, error) {
	return v.resolver.Resolve(ctx, placeID)
}

// PageChanged records navigation and notifies the host.
func (v *View) PageChanged(pageNo, totalPages int, pageName string) {
	v.mu.Lock()
	v.currentPage = pageNo
	v.dirty = true
	v.mu.Unlock()
	v.emitter.PageChanged(pageNo, totalPages, pageName)
}

// ValueChanged records an answer and notifies the host.
func (v *View) ValueChanged(name string, value any, question string) {
	v.mu.Lock()
	v.answers[name] = value
	v.dirty = true
	v.mu.Unlock()
	v.emitter.ValueChanged(name, value, question)
}

// SaveProgress sends the current progress snapshot now.
func (v *View) SaveProgress() {
	snap := v.Snapshot()
	v.mu.Lock()
	v.dirty = false
	v.mu.Unlock()
	v.emitter.SaveProgress(snap)
}

// Snapshot returns the progress recorded so far.
func (v *View) Snapshot() protocol.ProgressSnapshot {
	v.mu.Lock()
	snap := protocol.ProgressSnapshot{
		Answers:     maps.Clone(v.answers),
		CurrentPage: v.currentPage,
	}
	v.mu.Unlock()

	if cfg := v.machine.Config(); cfg != nil {
		snap.EventID = cfg.EventID
		snap.ResponseID = cfg.ResponseID
	}
	snap.IsCompleted = v.machine.State() == lifecycle.StateCompleted
	return snap
}

func (v *View) snapshotIfDirty() (protocol.ProgressSnapshot, bool) {
	v.mu.Lock()
	dirty := v.dirty
	v.dirty = false
	v.mu.Unlock()
	if !dirty {
		return protocol.ProgressSnapshot{}, false
	}
	return v.Snapshot(), true
}

// Complete flushes pending telemetry so the host sees every change before
// COMPLETE, then announces completion. A nil answers map submits the
// answers recorded through ValueChanged.
func (v *View) Complete(ctx context.Context, answers map[string]any) (*protocol.CompletePayload, error) {
	if answers == nil {
		v.mu.Lock()
		answers = maps.Clone(v.answers)
		v.mu.Unlock()
	}

	flushCtx, cancel := context.WithTimeout(ctx, completeFlushTimeout)
	if err := v.emitter.Flush(flushCtx); err != nil {
		logger.WarnCF("contentview", "Telemetry flush before COMPLETE did not finish", map[string]any{
			"error": err.Error(),
		})
	}
	cancel()

	return v.machine.Complete(answers)
}

func (v *View) State() lifecycle.State { return v.machine.State() }

// WaitFor blocks until the view reaches one of states.
func (v *View) WaitFor(ctx context.Context, states ...lifecycle.State) (lifecycle.State, error) {
	return v.machine.WaitFor(ctx, states...)
}

func (v *View) Resolver() *places.Resolver { return v.resolver }

func (v *View) Machine() *lifecycle.Machine { return v.machine }

func (v *View) Transport() transport.Transport { return v.transport }

// PendingRequests returns the number of correlated requests awaiting a
// reply.
func (v *View) PendingRequests() int { return v.corr.Pending() }

// TelemetryStats returns delivered and dropped telemetry counts.
func (v *View) TelemetryStats() (sent, dropped int64) { return v.emitter.Stats() }

// Close rejects pending requests, drains telemetry, detaches every
// handler and closes the transport.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.corr.Close()
		v.machine.Close()
		v.emitter.Close()
		err = v.transport.Close()
		logger.InfoC("contentview", "Content view closed")
	})
	return err
}
