package places

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/session"
)

type Mode int

const (
	ModeFallback Mode = iota
	ModeBridged
)

func (m Mode) String() string {
	if m == ModeBridged {
		return "bridged"
	}
	return "fallback"
}

// Requester issues one correlated bridge request.
type Requester interface {
	Request(ctx context.Context, msgType string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// HostDetector reports whether a host is currently attached.
type HostDetector func() bool

type autocompleteRequest struct {
	Input        string `json:"input"`
	SessionToken string `json:"sessionToken"`
}

type detailsRequest struct {
	PlaceID      string `json:"placeId"`
	SessionToken string `json:"sessionToken"`
}

type autocompleteResult struct {
	Predictions []Candidate `json:"predictions"`
}

type detailsResult struct {
	Details *Details `json:"details"`
}

// Resolver exposes Lookup and Resolve with one contract in both modes.
//
// By default the mode is re-checked on every call, so a host that
// attaches or detaches later is picked up. WithCachedMode pins the mode
// at construction; RefreshMode then re-evaluates on demand.
type Resolver struct {
	requester Requester
	provider  Provider
	tokens    *session.Manager
	detect    HostDetector
	timeout   time.Duration

	mu     sync.Mutex
	cached bool
	mode   Mode
}

type ResolverOption func(*Resolver)

// WithTimeout sets the per-request timeout for bridged calls.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithCachedMode evaluates host presence once, at construction.
func WithCachedMode() ResolverOption {
	return func(r *Resolver) { r.cached = true }
}

// WithProvider sets the local provider used in fallback mode.
func WithProvider(p Provider) ResolverOption {
	return func(r *Resolver) { r.provider = p }
}

// NewResolver builds a resolver. requester may be nil, in which case the
// resolver always falls back.
func NewResolver(requester Requester, detect HostDetector, tokens *session.Manager, opts ...ResolverOption) *Resolver {
	if tokens == nil {
		tokens = session.NewManager()
	}
	if detect == nil {
		detect = func() bool { return false }
	}
	r := &Resolver{
		requester: requester,
		tokens:    tokens,
		detect:    detect,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mode = r.evaluate()
	logger.InfoCF("places", "Resolver created", map[string]any{
		"mode":   r.mode.String(),
		"cached": r.cached,
	})
	return r
}

// Mode returns the mode the next call will use.
func (r *Resolver) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached {
		return r.mode
	}
	return r.evaluate()
}

// RefreshMode re-evaluates host presence and returns the new mode.
func (r *Resolver) RefreshMode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.mode
	r.mode = r.evaluate()
	if prev != r.mode {
		logger.InfoCF("places", "Resolver mode changed", map[string]any{
			"from": prev.String(),
			"to":   r.mode.String(),
		})
	}
	return r.mode
}

// Tokens exposes the session token manager.
func (r *Resolver) Tokens() *session.Manager { return r.tokens }

func (r *Resolver) evaluate() Mode {
	if r.requester != nil && r.detect() {
		return ModeBridged
	}
	return ModeFallback
}

// Lookup returns candidates for a partial query. It does not consume the
// session token.
func (r *Resolver) Lookup(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Candidate{}, nil
	}
	token := r.tokens.Current().Value

	if r.Mode() == ModeBridged {
		raw, err := r.requester.Request(ctx, protocol.TypeAutocompleteRequest,
			autocompleteRequest{Input: query, SessionToken: token}, r.timeout)
		if err != nil {
			return nil, err
		}
		var res autocompleteResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if res.Predictions == nil {
			res.Predictions = []Candidate{}
		}
		return res.Predictions, nil
	}

	if r.provider == nil {
		logger.DebugC("places", "No local provider, returning no candidates")
		return []Candidate{}, nil
	}
	out, err := r.provider.Autocomplete(ctx, query, token)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Candidate{}
	}
	return out, nil
}

// Resolve fetches full details for a candidate and, on success, rotates
// the session token.
func (r *Resolver) Resolve(ctx context.Context, placeID string) (*Details, error) {
	if placeID == "" {
		return nil, ErrEmptyPlace
	}
	token := r.tokens.Current().Value

	var details *Details
	if r.Mode() == ModeBridged {
		raw, err := r.requester.Request(ctx, protocol.TypeDetailsRequest,
			detailsRequest{PlaceID: placeID, SessionToken: token}, r.timeout)
		if err != nil {
			return nil, err
		}
		var res detailsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if res.Details == nil {
			return nil, fmt.Errorf("%w: reply has no details", ErrBadResponse)
		}
		details = res.Details
	} else {
		if r.provider == nil {
			return nil, ErrNoProvider
		}
		d, err := r.provider.Details(ctx, placeID, token)
		if err != nil {
			return nil, err
		}
		details = d
	}

	r.tokens.Rotate()
	return details, nil
}
