package extraction

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/modules/intent"
	"roam/internal/modules/query"
	"roam/internal/types"
)

func TestParseToleratesFences(t *testing.T) {
	raw := "```json\n{\"reply\":\"Looking now\",\"action\":\"show_vehicles\",\"mode\":\"booking\"," +
		"\"extractedData\":{\"location\":\"Scottsdale\",\"startDate\":\"2026-11-06\",\"endDate\":\"2026-11-09\",\"priceMax\":50,\"noDeposit\":true}}\n```"
	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "SHOW_VEHICLES", c.Action)
	assert.Equal(t, "BOOKING", c.Mode)

	q := c.Query()
	assert.Equal(t, "Scottsdale", q.Location)
	assert.Equal(t, types.Date{Year: 2026, Month: 11, Day: 6}, q.StartDate)
	assert.Equal(t, types.Some(50.0), q.PriceMax)
	assert.True(t, q.NoDeposit.Is(true))
	assert.False(t, q.InstantBook.Valid, "unmentioned flag stays unset")
}

func TestParseFailsClosed(t *testing.T) {
	cases := map[string]string{
		"empty":            "  ",
		"not json":         "Sure! Here are some cars.",
		"truncated":        `{"reply": "hi", "extractedData": {`,
		"bad date":         `{"extractedData":{"startDate":"11/06/2026"}}`,
		"bad time":         `{"extractedData":{"startTime":"9am"}}`,
		"unknown action":   `{"action":"LAUNCH_ROCKET"}`,
		"negative price":   `{"extractedData":{"priceMax":-5}}`,
		"inverted price":   `{"extractedData":{"priceMin":90,"priceMax":40}}`,
		"unknown clear":    `{"clearFilters":["color"]}`,
		"zero duration":    `{"extractedData":{"durationDays":0}}`,
		"wrong field type": `{"extractedData":{"seats":"four"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, raw, e.Raw)
		})
	}
}

func TestMergeBackfill(t *testing.T) {
	cases := []struct {
		name     string
		l1       types.Optional[bool]
		detected bool
		want     types.Optional[bool]
	}{
		{"unset + detected", types.None[bool](), true, types.Some(true)},
		{"false + detected", types.Some(false), true, types.Some(true)},
		{"true + not detected", types.Some(true), false, types.Some(true)},
		{"unset + not detected", types.None[bool](), false, types.None[bool]()},
		{"false + not detected", types.Some(false), false, types.Some(false)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(query.SearchQuery{NoDeposit: tc.l1}, intent.DetectedIntents{NoDeposit: tc.detected})
			assert.Equal(t, tc.want, got.NoDeposit)
		})
	}
}

func TestMergeCategoryGapFill(t *testing.T) {
	d := intent.DetectedIntents{SUV: true, Luxury: true}
	assert.Equal(t, "suv", Merge(query.SearchQuery{}, d).Category)
	assert.Equal(t, "convertible", Merge(query.SearchQuery{Category: "convertible"}, d).Category, "model category wins")
	assert.Equal(t, "electric", Merge(query.SearchQuery{}, intent.DetectedIntents{Electric: true, Luxury: true}).Category)
}

func TestScenarioAEndToEnd(t *testing.T) {
	text := "cheap SUV under $50/day in Scottsdale, no deposit"
	detected := intent.MustDefault().Detect(text)
	// The model caught the price and place but missed the deposit and category.
	raw := []byte(`{"reply":"On it","extractedData":{"location":"Scottsdale","priceMax":50}}`)

	res, err := Run(raw, detected, query.SearchQuery{})
	require.NoError(t, err)
	want := query.SearchQuery{
		Location:    "Scottsdale",
		PriceMax:    types.Some(50.0),
		Category:    "suv",
		NoDeposit:   types.Some(true),
		LowestPrice: types.Some(true),
	}
	if diff := cmp.Diff(want, res.Filters); diff != "" {
		t.Fatalf("filters (-want +got):\n%s", diff)
	}
}

func TestPriorFiltersSurvive(t *testing.T) {
	prior := query.SearchQuery{NoDeposit: types.Some(true), Category: "suv", PriceMax: types.Some(50.0)}

	res, err := Run([]byte(`{"extractedData":{"priceMax":87}}`), intent.DetectedIntents{}, prior)
	require.NoError(t, err)
	assert.True(t, res.Filters.NoDeposit.Is(true))
	assert.Equal(t, "suv", res.Filters.Category)
	assert.Equal(t, 87.0, res.Filters.PriceMax.Value)

	res, err = Run([]byte(`{"clearFilters":["vehicleType","price"]}`), intent.DetectedIntents{}, prior)
	require.NoError(t, err)
	assert.Empty(t, res.Filters.Category)
	assert.False(t, res.Filters.PriceMax.Valid)
	assert.True(t, res.Filters.NoDeposit.Is(true), "only named filters are cleared")
	assert.Equal(t, []query.Field{query.FieldCategory, query.FieldPrice}, res.Cleared)
}

func TestDetectorOnly(t *testing.T) {
	prior := query.SearchQuery{Location: "Tempe, AZ", PriceMax: types.Some(60.0)}
	res := DetectorOnly(intent.DetectedIntents{InstantBook: true}, prior)
	assert.True(t, res.Filters.InstantBook.Is(true))
	assert.Equal(t, prior.PriceMax, res.Filters.PriceMax)
	assert.Empty(t, res.Candidate.Reply)
}
