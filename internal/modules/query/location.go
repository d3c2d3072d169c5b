// README: Location normalization, metro expansion and service-area checks.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roam/internal/modules/validate"
)

// noiseWords are dropped when an exact alias lookup misses ("the Scottsdale airport").
var noiseWords = map[string]bool{
	"the": true, "city": true, "of": true, "downtown": true, "near": true,
	"airport": true, "international": true, "intl": true, "area": true,
}

// Place is a geocoder result.
type Place struct {
	City   string
	Region string // two-letter state code
	Lat    float64
	Lng    float64
}

// Geocoder resolves free-form place names the alias table does not know.
type Geocoder interface {
	Geocode(ctx context.Context, text string) (Place, error)
}

// ErrUnknownLocation is returned when no table entry or geocoder match exists.
var ErrUnknownLocation = errors.New("unknown location")

// NormalizeLocation maps an alias, misspelling or canonical name to "City, ST".
// Unknown input is returned trimmed with ok=false. NormalizeLocation(NormalizeLocation(x)) == NormalizeLocation(x).
func (t *Tables) NormalizeLocation(raw string) (string, bool) {
	key := normKey(raw)
	if key == "" {
		return "", false
	}
	if c, ok := t.locIndex[key]; ok {
		return c, true
	}
	words := strings.Fields(key)
	kept := words[:0:0]
	for _, w := range words {
		if !noiseWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) > 0 && len(kept) < len(words) {
		if c, ok := t.locIndex[strings.Join(kept, " ")]; ok {
			return c, true
		}
	}
	return strings.TrimSpace(raw), false
}

// Serves reports whether canonical is a configured service-area city.
func (t *Tables) Serves(canonical string) bool {
	_, ok := t.centers[canonical]
	return ok
}

// Metro returns every city in canonical's metro cluster, or just canonical when it has none.
func (t *Tables) Metro(canonical string) []string {
	if members, ok := t.metroOf[canonical]; ok {
		return append([]string(nil), members...)
	}
	return []string{canonical}
}

// Center returns the coordinates used for distance ranking.
func (t *Tables) Center(canonical string) (lat, lng float64, ok bool) {
	e, ok := t.centers[canonical]
	return e.Lat, e.Lng, ok
}

// LocationResolver normalizes against the tables and falls back to a geocoder.
type LocationResolver struct {
	tables   *Tables
	geocoder Geocoder
}

// NewLocationResolver accepts a nil geocoder.
func NewLocationResolver(t *Tables, g Geocoder) *LocationResolver {
	return &LocationResolver{tables: t, geocoder: g}
}

// Resolve returns the canonical served location or a *validate.ValidationError.
func (r *LocationResolver) Resolve(ctx context.Context, raw string) (string, error) {
	if c, ok := r.tables.NormalizeLocation(raw); ok {
		return c, nil
	}
	canonical := strings.TrimSpace(raw)
	if r.geocoder != nil && canonical != "" {
		place, err := r.geocoder.Geocode(ctx, canonical)
		switch {
		case err == nil && place.City != "" && place.Region != "":
			canonical = fmt.Sprintf("%s, %s", place.City, strings.ToUpper(place.Region))
			if c, ok := r.tables.NormalizeLocation(canonical); ok {
				canonical = c
			}
		case err != nil && !errors.Is(err, ErrUnknownLocation):
			return "", fmt.Errorf("geocode %q: %w", raw, err)
		}
	}
	if err := validate.ValidateLocation(canonical, r.tables); err != nil {
		return "", err
	}
	return canonical, nil
}

// Serves implements validate.ServiceArea.
func (r *LocationResolver) Serves(canonical string) bool {
	return r.tables.Serves(canonical)
}
