// README: Google Maps geocoding fallback for place names missing from the location tables.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"roam/internal/modules/query"
)

// Geocoder implements query.Geocoder against the Geocoding API.
type Geocoder struct {
	client *maps.Client
	region string
}

// NewGeocoder creates a new Geocoder with the given API Key. Results are biased to region
// (a ccTLD such as "us").
func NewGeocoder(apiKey, region string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	if region == "" {
		region = "us"
	}
	return &Geocoder{client: client, region: region}, nil
}

func (g *Geocoder) Geocode(ctx context.Context, text string) (query.Place, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: text,
		Region:  g.region,
	})
	if err != nil {
		return query.Place{}, fmt.Errorf("maps api error: %w", err)
	}
	for _, r := range results {
		if p, ok := placeFromResult(r); ok {
			return p, nil
		}
	}
	return query.Place{}, query.ErrUnknownLocation
}

// placeFromResult needs both a locality and a first-level region.
func placeFromResult(r maps.GeocodingResult) (query.Place, bool) {
	var p query.Place
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			switch t {
			case "locality":
				p.City = c.LongName
			case "postal_town", "sublocality":
				if p.City == "" {
					p.City = c.LongName
				}
			case "administrative_area_level_1":
				p.Region = c.ShortName
			}
		}
	}
	if p.City == "" || p.Region == "" {
		return query.Place{}, false
	}
	p.Lat = r.Geometry.Location.Lat
	p.Lng = r.Geometry.Location.Lng
	return p, true
}
