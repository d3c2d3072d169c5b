package maps

import (
	"testing"

	"googlemaps.github.io/maps"

	"roam/internal/modules/query"
)

func TestPlaceFromResult(t *testing.T) {
	tests := []struct {
		name   string
		result maps.GeocodingResult
		want   query.Place
		ok     bool
	}{
		{
			name: "locality and state",
			result: maps.GeocodingResult{
				AddressComponents: []maps.AddressComponent{
					{LongName: "Scottsdale", ShortName: "Scottsdale", Types: []string{"locality", "political"}},
					{LongName: "Maricopa County", ShortName: "Maricopa County", Types: []string{"administrative_area_level_2"}},
					{LongName: "Arizona", ShortName: "AZ", Types: []string{"administrative_area_level_1", "political"}},
				},
				Geometry: maps.AddressGeometry{Location: maps.LatLng{Lat: 33.4942, Lng: -111.9261}},
			},
			want: query.Place{City: "Scottsdale", Region: "AZ", Lat: 33.4942, Lng: -111.9261},
			ok:   true,
		},
		{
			name: "sublocality fallback",
			result: maps.GeocodingResult{
				AddressComponents: []maps.AddressComponent{
					{LongName: "Venice", Types: []string{"sublocality"}},
					{LongName: "California", ShortName: "CA", Types: []string{"administrative_area_level_1"}},
				},
			},
			want: query.Place{City: "Venice", Region: "CA"},
			ok:   true,
		},
		{
			name: "state only",
			result: maps.GeocodingResult{
				AddressComponents: []maps.AddressComponent{
					{LongName: "Arizona", ShortName: "AZ", Types: []string{"administrative_area_level_1"}},
				},
			},
		},
	}
	for _, tt := range tests {
		got, ok := placeFromResult(tt.result)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: placeFromResult() = %+v, %v; want %+v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
