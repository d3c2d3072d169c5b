// README: In-memory inventory used by the CLI, demos and tests.
package inventory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"roam/internal/modules/query"
	"roam/internal/types"
)

//go:embed seed.json
var seedJSON []byte

type MemoryStore struct {
	mu       sync.RWMutex
	listings []Listing
	locator  Locator
}

// NewMemoryStore accepts a nil locator; distances are then reported as zero.
func NewMemoryStore(locator Locator, listings ...Listing) *MemoryStore {
	return &MemoryStore{locator: locator, listings: append([]Listing(nil), listings...)}
}

// LoadListings decodes a JSON array of listings.
func LoadListings(r io.Reader) ([]Listing, error) {
	var out []Listing
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return out, nil
}

// DemoListings returns the embedded demo fleet.
func DemoListings() []Listing {
	out, err := LoadListings(bytes.NewReader(seedJSON))
	if err != nil {
		panic(err)
	}
	return out
}

func (s *MemoryStore) Add(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, l)
}

// Block marks a vehicle unavailable for [start, end).
func (s *MemoryStore) Block(id types.ID, start, end types.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.listings {
		if s.listings[i].ID == id {
			s.listings[i].Blocked = append(s.listings[i].Blocked, BlockedRange{Start: start, End: end})
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listings {
		if l.ID == id {
			return l, nil
		}
	}
	return Listing{}, ErrNotFound
}

// Query evaluates set against every listing.
func (s *MemoryStore) Query(ctx context.Context, set query.PredicateSet) ([]VehicleSummary, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	lat, lng, hasOrigin := 0.0, 0.0, false
	if s.locator != nil {
		lat, lng, hasOrigin = s.locator.Center(set.Origin)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VehicleSummary
	for _, l := range s.listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := Matches(l, set)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dist := 0.0
		if hasOrigin {
			dist = roundKm(haversineKm(lat, lng, l.Lat, l.Lng))
		}
		out = append(out, l.Summary(dist))
	}
	rank(out, set.Sort)
	if set.Limit > 0 && len(out) > set.Limit {
		out = out[:set.Limit]
	}
	return out, nil
}
