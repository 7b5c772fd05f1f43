package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/pkg/places"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

type result struct {
	Mode       string             `json:"mode"`
	Candidates []places.Candidate `json:"candidates"`
	Details    *places.Details    `json:"details,omitempty"`
	Address    *places.Address    `json:"address,omitempty"`
}

func lookupCmd(cmd *cobra.Command, query string, opts options) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	closeLog, err := internal.SetupLogging(cfg, opts.debug)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	t, err := internal.OpenTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error opening transport: %w", err)
	}
	view, err := internal.NewView(cfg, t, nil)
	if err != nil {
		t.Close()
		return fmt.Errorf("error creating content view: %w", err)
	}
	defer view.Close()
	// the correlator is subscribed; replies can now be read
	if s, ok := t.(transport.Starter); ok {
		s.Start(ctx)
	}

	res, err := lookup(ctx, view.Resolver(), query, opts.resolve)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, opts.asJSON)
}

func lookup(ctx context.Context, r *places.Resolver, query string, resolve bool) (*result, error) {
	res := &result{Mode: r.Mode().String()}

	candidates, err := r.Lookup(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	res.Candidates = candidates

	if resolve && len(candidates) > 0 {
		details, err := r.Resolve(ctx, candidates[0].PlaceID)
		if err != nil {
			return nil, fmt.Errorf("resolve failed: %w", err)
		}
		addr := details.Address()
		res.Details = details
		res.Address = &addr
	}
	return res, nil
}

func printResult(w io.Writer, res *result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "%s %d candidate(s) via %s\n", internal.Logo, len(res.Candidates), res.Mode)
	for i, c := range res.Candidates {
		fmt.Fprintf(w, "  %d. %s  [%s]\n", i+1, c.Description, c.PlaceID)
	}
	if res.Details != nil {
		fmt.Fprintf(w, "\n%s\n", res.Details.FormattedAddress)
		a := res.Address
		fmt.Fprintf(w, "  street:   %s %s\n", a.StreetNumber, a.Route)
		fmt.Fprintf(w, "  locality: %s\n", a.Locality)
		fmt.Fprintf(w, "  region:   %s\n", a.Region)
		fmt.Fprintf(w, "  postal:   %s\n", a.PostalCode)
		fmt.Fprintf(w, "  country:  %s\n", a.CountryCode)
	}
	return nil
}
