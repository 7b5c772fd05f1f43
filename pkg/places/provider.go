package places

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/tinyland-inc/formbridge/pkg/logger"
)

const (
	DefaultProviderBaseURL = "https://maps.googleapis.com/maps/api/place"
	defaultProviderTimeout = 10 * time.Second
	detailsFields          = "place_id,formatted_address,address_components,geometry"
)

// Provider is the local, direct places client used when no host is
// attached.
type Provider interface {
	Autocomplete(ctx context.Context, input, sessionToken string) ([]Candidate, error)
	Details(ctx context.Context, placeID, sessionToken string) (*Details, error)
}

type ProviderConfig struct {
	BaseURL  string
	APIKey   string
	Language string
	// Countries restricts autocomplete, e.g. []string{"us","ca"}.
	Countries []string
	Timeout   time.Duration
}

// HTTPProvider calls a places web API and normalizes its native response
// shape into Candidate and Details.
type HTTPProvider struct {
	cfg    ProviderConfig
	client *resty.Client
}

func NewHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultProviderBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &HTTPProvider{cfg: cfg, client: client}
}

func (p *HTTPProvider) Autocomplete(ctx context.Context, input, sessionToken string) ([]Candidate, error) {
	params := map[string]string{
		"input":        input,
		"sessiontoken": sessionToken,
		"key":          p.cfg.APIKey,
	}
	if p.cfg.Language != "" {
		params["language"] = p.cfg.Language
	}
	if len(p.cfg.Countries) > 0 {
		parts := make([]string, 0, len(p.cfg.Countries))
		for _, c := range p.cfg.Countries {
			parts = append(parts, "country:"+strings.ToLower(c))
		}
		params["components"] = strings.Join(parts, "|")
	}

	body, err := p.get(ctx, "/autocomplete/json", params)
	if err != nil {
		return nil, err
	}
	return ParseAutocomplete(body)
}

func (p *HTTPProvider) Details(ctx context.Context, placeID, sessionToken string) (*Details, error) {
	if placeID == "" {
		return nil, ErrEmptyPlace
	}
	params := map[string]string{
		"place_id":     placeID,
		"sessiontoken": sessionToken,
		"fields":       detailsFields,
		"key":          p.cfg.APIKey,
	}
	if p.cfg.Language != "" {
		params["language"] = p.cfg.Language
	}

	body, err := p.get(ctx, "/details/json", params)
	if err != nil {
		return nil, err
	}
	return ParseDetails(body)
}

func (p *HTTPProvider) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("places request %s: %w", path, err)
	}
	if resp.IsError() {
		logger.WarnCF("places", "Provider returned HTTP error", map[string]any{
			"path":   path,
			"status": resp.StatusCode(),
		})
		return nil, fmt.Errorf("places request %s: HTTP %d", path, resp.StatusCode())
	}
	return resp.Body(), nil
}

// ParseAutocomplete normalizes a native autocomplete response.
func ParseAutocomplete(body []byte) ([]Candidate, error) {
	if err := checkStatus(body); err != nil {
		return nil, err
	}
	preds := gjson.GetBytes(body, "predictions")
	out := make([]Candidate, 0, len(preds.Array()))
	for _, p := range preds.Array() {
		main := p.Get("structured_formatting.main_text").String()
		if main == "" {
			main = p.Get("description").String()
		}
		out = append(out, Candidate{
			PlaceID:       p.Get("place_id").String(),
			Description:   p.Get("description").String(),
			MainText:      main,
			SecondaryText: p.Get("structured_formatting.secondary_text").String(),
		})
	}
	return out, nil
}

// ParseDetails normalizes a native place details response.
func ParseDetails(body []byte) (*Details, error) {
	if err := checkStatus(body); err != nil {
		return nil, err
	}
	res := gjson.GetBytes(body, "result")
	if !res.Exists() {
		return nil, fmt.Errorf("%w: missing result", ErrBadResponse)
	}

	d := &Details{
		PlaceID:          res.Get("place_id").String(),
		FormattedAddress: res.Get("formatted_address").String(),
	}
	for _, c := range res.Get("address_components").Array() {
		comp := AddressComponent{
			LongName:  c.Get("long_name").String(),
			ShortName: c.Get("short_name").String(),
		}
		for _, t := range c.Get("types").Array() {
			comp.Types = append(comp.Types, t.String())
		}
		d.AddressComponents = append(d.AddressComponents, comp)
	}
	if loc := res.Get("geometry.location"); loc.Exists() {
		d.Geometry = &Geometry{Location: LatLng{
			Lat: loc.Get("lat").Float(),
			Lng: loc.Get("lng").Float(),
		}}
	}
	return d, nil
}

// checkStatus treats OK and ZERO_RESULTS as success. A body without a
// status field is accepted as-is.
func checkStatus(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("%w: invalid JSON", ErrBadResponse)
	}
	status := gjson.GetBytes(body, "status")
	if !status.Exists() {
		return nil
	}
	switch status.String() {
	case "OK", "ZERO_RESULTS":
		return nil
	default:
		msg := gjson.GetBytes(body, "error_message").String()
		if msg == "" {
			return fmt.Errorf("places provider status %s", status.String())
		}
		return fmt.Errorf("places provider status %s: %s", status.String(), msg)
	}
}

var _ Provider = (*HTTPProvider)(nil)
