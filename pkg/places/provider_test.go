package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const autocompleteBody = `{
  "status": "OK",
  "predictions": [
    {
      "place_id": "ChIJ2eUgeAK6j4ARbn5u_wAGqWA",
      "description": "1600 Amphitheatre Parkway, Mountain View, CA, USA",
      "structured_formatting": {
        "main_text": "1600 Amphitheatre Parkway",
        "secondary_text": "Mountain View, CA, USA"
      }
    },
    {
      "place_id": "p2",
      "description": "1600 Amphitheatre Pkwy Bldg 40"
    }
  ]
}`

const detailsBody = `{
  "status": "OK",
  "result": {
    "place_id": "p1",
    "formatted_address": "1600 Amphitheatre Pkwy, Mountain View, CA 94043, USA",
    "address_components": [
      {"long_name": "1600", "short_name": "1600", "types": ["street_number"]},
      {"long_name": "Amphitheatre Parkway", "short_name": "Amphitheatre Pkwy", "types": ["route"]},
      {"long_name": "California", "short_name": "CA", "types": ["administrative_area_level_1", "political"]},
      {"long_name": "United States", "short_name": "US", "types": ["country", "political"]}
    ],
    "geometry": {"location": {"lat": 37.422, "lng": -122.084}}
  }
}`

func TestParseAutocomplete(t *testing.T) {
	got, err := ParseAutocomplete([]byte(autocompleteBody))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Candidate{
		PlaceID:       "ChIJ2eUgeAK6j4ARbn5u_wAGqWA",
		Description:   "1600 Amphitheatre Parkway, Mountain View, CA, USA",
		MainText:      "1600 Amphitheatre Parkway",
		SecondaryText: "Mountain View, CA, USA",
	}, got[0])
	assert.Equal(t, "1600 Amphitheatre Pkwy Bldg 40", got[1].MainText)
}

func TestParseAutocomplete_ZeroResults(t *testing.T) {
	got, err := ParseAutocomplete([]byte(`{"status":"ZERO_RESULTS","predictions":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseAutocomplete_ProviderError(t *testing.T) {
	_, err := ParseAutocomplete([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
	assert.Contains(t, err.Error(), "bad key")

	_, err = ParseAutocomplete([]byte(`{oops`))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestParseDetails(t *testing.T) {
	d, err := ParseDetails([]byte(detailsBody))
	require.NoError(t, err)
	assert.Equal(t, "p1", d.PlaceID)
	require.Len(t, d.AddressComponents, 4)
	assert.Equal(t, []string{"administrative_area_level_1", "political"}, d.AddressComponents[2].Types)
	require.NotNil(t, d.Geometry)
	assert.InDelta(t, 37.422, d.Geometry.Location.Lat, 1e-9)

	addr := d.Address()
	assert.Equal(t, "CA", addr.Region)
	assert.Equal(t, "US", addr.CountryCode)
	assert.Equal(t, "Amphitheatre Parkway", addr.Route)
}

func TestParseDetails_MissingResult(t *testing.T) {
	_, err := ParseDetails([]byte(`{"status":"OK"}`))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestHTTPProvider(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{}
		for k := range q {
			gotQuery[k] = q.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/autocomplete/json":
			_, _ = w.Write([]byte(autocompleteBody))
		case "/details/json":
			_, _ = w.Write([]byte(detailsBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{
		BaseURL:   srv.URL + "/",
		APIKey:    "k",
		Language:  "es",
		Countries: []string{"US", "CA"},
	})
	ctx := context.Background()

	cands, err := p.Autocomplete(ctx, "1600 Amph", "tok-1")
	require.NoError(t, err)
	assert.Len(t, cands, 2)
	assert.Equal(t, "1600 Amph", gotQuery["input"])
	assert.Equal(t, "tok-1", gotQuery["sessiontoken"])
	assert.Equal(t, "country:us|country:ca", gotQuery["components"])
	assert.Equal(t, "es", gotQuery["language"])

	d, err := p.Details(ctx, "p1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", d.PlaceID)
	assert.Equal(t, "p1", gotQuery["place_id"])
	assert.Equal(t, detailsFields, gotQuery["fields"])

	_, err = p.Details(ctx, "", "tok-1")
	assert.ErrorIs(t, err, ErrEmptyPlace)
}

func TestHTTPProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL})
	_, err := p.Autocomplete(context.Background(), "x", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
