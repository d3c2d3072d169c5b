package prompt

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/modules/inventory"
	"roam/internal/modules/query"
	"roam/internal/modules/session"
	"roam/internal/modules/tools"
	"roam/internal/modules/validate"
	"roam/internal/types"
)

var contracts = []tools.Contract{
	{Name: "calculate", Description: "Evaluate arithmetic."},
	{Name: "search_vehicles", Description: "Search available vehicles."},
}

func TestDefaultPersona(t *testing.T) {
	p, err := DefaultPersona()
	require.NoError(t, err)
	assert.Equal(t, "Roam", p.Name)
	assert.NotEmpty(t, p.Rules)
	assert.NotEmpty(t, p.Examples)
	assert.Contains(t, p.OutputSchema, "searchVehicles")
}

func TestLoadPersonaRejects(t *testing.T) {
	cases := map[string]string{
		"no name":       "guardrails: [x]\noutput_schema: '{}'\n",
		"no guardrails": "name: A\noutput_schema: '{}'\n",
		"no schema":     "name: A\nguardrails: [x]\n",
		"unknown field": "name: A\nguardrails: [x]\noutput_schema: '{}'\ncolour: red\n",
	}
	for name, doc := range cases {
		_, err := LoadPersona(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestBuildStaticIsDeterministic(t *testing.T) {
	p := MustDefaultPersona()
	a := BuildStatic(p, contracts)
	b := BuildStatic(p, contracts)
	assert.Equal(t, a, b)
	assert.Len(t, a.Fingerprint, 16)
	assert.Contains(t, a.Text, "## Output schema")
	assert.Contains(t, a.Text, "- search_vehicles: Search available vehicles.")
	for _, g := range p.Guardrails {
		assert.Contains(t, a.Text, g)
	}

	p.Rules = append(p.Rules, "Always mention the weather.")
	assert.NotEqual(t, a.Fingerprint, BuildStatic(p, contracts).Fingerprint)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (Static, bool, error) {
	return Static{}, false, errors.New("redis down")
}
func (failingCache) Set(context.Context, string, Static) error { return errors.New("redis down") }

func TestAssemblerStaticCaching(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	a := NewAssembler(MustDefaultPersona(), contracts, cache, nil)

	first := a.Static(ctx, "conv-1")
	assert.Empty(t, first.Handle)
	_, ok, _ := cache.Get(ctx, cacheKey("conv-1", first.Fingerprint))
	assert.True(t, ok)

	a.RememberHandle(ctx, "conv-1", first, "cachedContents/abc")
	assert.Equal(t, "cachedContents/abc", a.Static(ctx, "conv-1").Handle)
	assert.Empty(t, a.Static(ctx, "conv-2").Handle, "handles are per conversation")

	degraded := NewAssembler(MustDefaultPersona(), contracts, failingCache{}, nil)
	assert.Equal(t, first.Text, degraded.Static(ctx, "conv-1").Text)
}

func TestDynamicTier(t *testing.T) {
	a := NewAssembler(MustDefaultPersona(), nil, nil, nil)
	s := session.New("conv-1", time.Now())
	s.State = session.StateCollectingVehicle
	s.Mode = session.ModeBooking
	s.Location = "Scottsdale, AZ"
	s.StartDate = types.Date{Year: 2026, Month: 11, Day: 6}
	s.EndDate = types.Date{Year: 2026, Month: 11, Day: 9}
	s.Filters = query.SearchQuery{Category: "suv", NoDeposit: types.Some(true), PriceMax: types.Some(87.0), Delivery: types.Some(false)}

	out := a.Dynamic(DynamicInput{
		Session:  s,
		Caller:   session.Caller{LoggedIn: true},
		Today:    types.Date{Year: 2026, Month: 10, Day: 14},
		Detected: []string{"noDeposit", "suv"},
		Nearby: []inventory.VehicleSummary{
			{ID: "veh_001", Year: 2022, Make: "Kia", Model: "Sportage", DailyRate: 45, Rating: 4.8, TripCount: 31, City: "Scottsdale, AZ", DistanceKm: 0.4},
		},
		Weather: &tools.Forecast{Location: "Scottsdale, AZ", Days: []tools.DailyForecast{
			{Date: "2026-11-06", HighC: 27, LowC: 13, PrecipitationPercent: 5, Summary: "clear sky"},
		}},
		Reviews: &inventory.ReviewSummary{VehicleID: "veh_001", Count: 2, AverageRating: 4.5, Recent: []inventory.Review{
			{Author: "Luis", Rating: 4, Body: "Clean car."},
		}},
		Flags: []validate.SecurityFlag{{Kind: validate.FlagInjection, Pattern: "ignore_instructions"}},
	})

	for _, want := range []string{
		"Today: 2026-10-14",
		"State: COLLECTING_VEHICLE",
		"Dates: 2026-11-06 to 2026-11-09 (3 days)",
		"Active filters: priceMax=87, vehicleType=suv, noDeposit=true, delivery=false",
		"Caller: logged in, identity not verified",
		"veh_001: 2022 Kia Sportage, $45/day, rated 4.8 over 31 trips, Scottsdale, AZ, 0.4 km away, no deposit",
		"- 2026-11-06: high 27C, low 13C, 5% precipitation, clear sky",
		"(injection)",
		"Average 4.5 from 2 reviews",
		"- 4/5 Luis: Clean car.",
	} {
		assert.Contains(t, out, want)
	}
	// Guardrails close the dynamic tier.
	last := a.Persona().Guardrails[len(a.Persona().Guardrails)-1]
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), last))
}

func TestDynamicTierEmptySession(t *testing.T) {
	a := NewAssembler(MustDefaultPersona(), nil, nil, nil)
	out := a.Dynamic(DynamicInput{Session: session.New("c", time.Now()), Today: types.Date{Year: 2026, Month: 10, Day: 14}})
	assert.Contains(t, out, "Location: none")
	assert.Contains(t, out, "Dates: none")
	assert.Contains(t, out, "Active filters: none")
	assert.Contains(t, out, "Caller: not logged in")
	assert.NotContains(t, out, "## Weather")
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("ROAM_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROAM_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	cache := NewRedisCache(rdb, time.Minute)
	key := cacheKey(types.NewID(), "f00d")

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := Static{Text: "rules", Fingerprint: "f00d", Handle: "cachedContents/x"}
	require.NoError(t, cache.Set(ctx, key, want))
	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
