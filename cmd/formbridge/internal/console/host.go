package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/places"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

var demoCandidates = []places.Candidate{
	{PlaceID: "demo-1", Description: "221B Baker Street, London, UK", MainText: "221B Baker Street", SecondaryText: "London, UK"},
	{PlaceID: "demo-2", Description: "742 Evergreen Terrace, Springfield, USA", MainText: "742 Evergreen Terrace", SecondaryText: "Springfield, USA"},
}

var demoDetails = map[string]places.Details{
	"demo-1": {
		PlaceID:          "demo-1",
		FormattedAddress: "221B Baker Street, London NW1 6XE, UK",
		AddressComponents: []places.AddressComponent{
			{LongName: "221B", ShortName: "221B", Types: []string{"street_number"}},
			{LongName: "Baker Street", ShortName: "Baker St", Types: []string{"route"}},
			{LongName: "London", ShortName: "London", Types: []string{"locality"}},
			{LongName: "England", ShortName: "ENG", Types: []string{"administrative_area_level_1"}},
			{LongName: "NW1 6XE", ShortName: "NW1 6XE", Types: []string{"postal_code"}},
			{LongName: "United Kingdom", ShortName: "GB", Types: []string{"country"}},
		},
	},
	"demo-2": {
		PlaceID:          "demo-2",
		FormattedAddress: "742 Evergreen Terrace, Springfield, OR 97477, USA",
		AddressComponents: []places.AddressComponent{
			{LongName: "742", ShortName: "742", Types: []string{"street_number"}},
			{LongName: "Evergreen Terrace", ShortName: "Evergreen Ter", Types: []string{"route"}},
			{LongName: "Springfield", ShortName: "Springfield", Types: []string{"locality"}},
			{LongName: "Oregon", ShortName: "OR", Types: []string{"administrative_area_level_1"}},
			{LongName: "97477", ShortName: "97477", Types: []string{"postal_code"}},
			{LongName: "United States", ShortName: "US", Types: []string{"country"}},
		},
	},
}

// simHost plays the host side of a pipe: it prints what the content
// view sends and answers correlated requests from provider, or from
// built-in demo data when provider is nil.
type simHost struct {
	end      *transport.HostEnd
	provider places.Provider
	out      io.Writer

	mu     sync.Mutex
	silent bool
}

func newSimHost(end *transport.HostEnd, provider places.Provider, out io.Writer) *simHost {
	return &simHost{end: end, provider: provider, out: out}
}

// setSilent makes the host stop answering requests, to exercise timeouts.
func (h *simHost) setSilent(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.silent = on
}

func (h *simHost) isSilent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.silent
}

func (h *simHost) serve(ctx context.Context) {
	h.end.Serve(ctx, func(msg protocol.Message) {
		fmt.Fprintf(h.out, "  host <- %s %s\n", msg.Type, compact(msg.Payload))
		switch msg.Type {
		case protocol.TypeAutocompleteRequest, protocol.TypeDetailsRequest:
			if h.isSilent() {
				return
			}
			go h.answer(ctx, msg)
		}
	})
}

func (h *simHost) answer(ctx context.Context, msg protocol.Message) {
	id := protocol.RequestIDOf(msg.Payload)
	var req struct {
		Input        string `json:"input"`
		PlaceID      string `json:"placeId"`
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.reply(ctx, protocol.TypeError, protocol.ErrorPayload{RequestID: id, Error: err.Error()})
		return
	}

	switch msg.Type {
	case protocol.TypeAutocompleteRequest:
		candidates, err := h.autocomplete(ctx, req.Input, req.SessionToken)
		if err != nil {
			h.reply(ctx, protocol.TypeError, protocol.ErrorPayload{RequestID: id, Error: err.Error()})
			return
		}
		h.reply(ctx, protocol.TypeAutocompleteResult, map[string]any{"requestId": id, "predictions": candidates})
	case protocol.TypeDetailsRequest:
		details, err := h.details(ctx, req.PlaceID, req.SessionToken)
		if err != nil {
			h.reply(ctx, protocol.TypeError, protocol.ErrorPayload{RequestID: id, Error: err.Error()})
			return
		}
		h.reply(ctx, protocol.TypeDetailsResult, map[string]any{"requestId": id, "details": details})
	}
}

func (h *simHost) autocomplete(ctx context.Context, input, token string) ([]places.Candidate, error) {
	if h.provider != nil {
		return h.provider.Autocomplete(ctx, input, token)
	}
	q := strings.ToLower(input)
	out := []places.Candidate{}
	for _, c := range demoCandidates {
		if strings.Contains(strings.ToLower(c.Description), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *simHost) details(ctx context.Context, placeID, token string) (*places.Details, error) {
	if h.provider != nil {
		return h.provider.Details(ctx, placeID, token)
	}
	d, ok := demoDetails[placeID]
	if !ok {
		return nil, fmt.Errorf("unknown place %q", placeID)
	}
	return &d, nil
}

func (h *simHost) reply(ctx context.Context, msgType string, payload any) {
	if err := h.end.SendPayload(ctx, msgType, payload); err != nil {
		logger.WarnCF("console", "Simulated host reply failed", map[string]any{
			"type":  msgType,
			"error": err.Error(),
		})
	}
}

func (h *simHost) init(ctx context.Context, cfg protocol.RuntimeConfig) error {
	return h.end.SendPayload(ctx, protocol.TypeInit, cfg)
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	const limit = 160
	s := string(raw)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
