// Package places resolves free-text address input into candidates and
// structured details, either through the host bridge or through a local
// provider client. Both paths return the same shapes.
package places

import "errors"

var (
	ErrNoProvider  = errors.New("no local places provider configured")
	ErrEmptyPlace  = errors.New("place id is required")
	ErrBadResponse = errors.New("malformed places response")
)

type Candidate struct {
	PlaceID       string `json:"placeId"`
	Description   string `json:"description"`
	MainText      string `json:"mainText"`
	SecondaryText string `json:"secondaryText"`
}

type AddressComponent struct {
	LongName  string   `json:"longName"`
	ShortName string   `json:"shortName"`
	Types     []string `json:"types"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Geometry struct {
	Location LatLng `json:"location"`
}

type Details struct {
	PlaceID           string             `json:"placeId"`
	FormattedAddress  string             `json:"formattedAddress"`
	AddressComponents []AddressComponent `json:"addressComponents"`
	Geometry          *Geometry          `json:"geometry,omitempty"`
}

// Address is the fixed record a form field stores.
type Address struct {
	StreetNumber string `json:"streetNumber"`
	Route        string `json:"route"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	PostalCode   string `json:"postalCode"`
	CountryCode  string `json:"countryCode"`
}

// Address normalizes the details' components.
func (d *Details) Address() Address {
	if d == nil {
		return Address{}
	}
	return NormalizeAddress(d.AddressComponents)
}

type addressField struct {
	tag   string
	short bool
	set   func(*Address, string)
}

var addressFields = []addressField{
	{"street_number", false, func(a *Address, v string) { a.StreetNumber = v }},
	{"route", false, func(a *Address, v string) { a.Route = v }},
	{"locality", false, func(a *Address, v string) { a.Locality = v }},
	{"administrative_area_level_1", true, func(a *Address, v string) { a.Region = v }},
	{"postal_code", false, func(a *Address, v string) { a.PostalCode = v }},
	{"country", true, func(a *Address, v string) { a.CountryCode = v }},
}

// NormalizeAddress maps components onto Address by type tag. For each tag
// the first component carrying it wins. Region and country use the short
// form, everything else the long form.
func NormalizeAddress(components []AddressComponent) Address {
	var addr Address
	for _, f := range addressFields {
		for _, c := range components {
			if !hasType(c.Types, f.tag) {
				continue
			}
			v := c.LongName
			if f.short {
				v = c.ShortName
			}
			f.set(&addr, v)
			break
		}
	}
	return addr
}

func hasType(types []string, tag string) bool {
	for _, t := range types {
		if t == tag {
			return true
		}
	}
	return false
}
