package lookup

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const autocompleteBody = `{
  "status": "OK",
  "predictions": [
    {
      "place_id": "p1",
      "description": "1600 Amphitheatre Parkway, Mountain View, CA, USA",
      "structured_formatting": {"main_text": "1600 Amphitheatre Parkway", "secondary_text": "Mountain View, CA, USA"}
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
      {"long_name": "Mountain View", "short_name": "Mountain View", "types": ["locality", "political"]},
      {"long_name": "California", "short_name": "CA", "types": ["administrative_area_level_1", "political"]},
      {"long_name": "94043", "short_name": "94043", "types": ["postal_code"]},
      {"long_name": "United States", "short_name": "US", "types": ["country", "political"]}
    ]
  }
}`

func TestNewLookupCommand(t *testing.T) {
	cmd := NewLookupCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "lookup <query>", cmd.Use)
	assert.Equal(t, []string{"l"}, cmd.Aliases)
	assert.True(t, cmd.HasExample())
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("resolve"))
	assert.NotNil(t, cmd.Flags().Lookup("json"))
	assert.NotNil(t, cmd.Flags().Lookup("debug"))
}

func withProviderConfig(t *testing.T) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := `{"host":{"mode":"none"},"provider":{"base_url":"` + srv.URL + `","api_key":"k"},"log":{"level":"error"}}`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	t.Setenv("FORMBRIDGE_CONFIG", path)
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewLookupCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestLookup_Text(t *testing.T) {
	withProviderConfig(t)

	out := execute(t, "1600", "Amphitheatre")
	assert.Contains(t, out, "1 candidate(s) via fallback")
	assert.Contains(t, out, "[p1]")

	out = execute(t, "--resolve", "1600 Amphitheatre")
	assert.Contains(t, out, "street:   1600 Amphitheatre Parkway")
	assert.Contains(t, out, "region:   CA")
	assert.Contains(t, out, "country:  US")
}

func TestLookup_JSON(t *testing.T) {
	withProviderConfig(t)

	out := execute(t, "--json", "--resolve", "1600 Amphitheatre")

	var res result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "fallback", res.Mode)
	require.Len(t, res.Candidates, 1)
	require.NotNil(t, res.Address)
	assert.Equal(t, "94043", res.Address.PostalCode)
	assert.Equal(t, "Mountain View", res.Address.Locality)
}

func TestLookup_NoProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log":{"level":"error"}}`), 0o600))
	t.Setenv("FORMBRIDGE_CONFIG", path)

	out := execute(t, "anything")
	assert.Contains(t, out, "0 candidate(s)")
}
