package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	d := MustDefault()
	cases := []struct {
		msg  string
		want []Intent
	}{
		{"cheap SUV under $50/day in Scottsdale, no deposit", []Intent{NoDeposit, LowestPrice, SUV}},
		{"I need something without a deposit please", []Intent{NoDeposit}},
		{"a deposit is fine, I want a Tesla", []Intent{Electric}},
		{"I don't mind paying a deposit", nil},
		{"need a car right now, can you deliver it to my hotel?", []Intent{InstantBook, Delivery}},
		{"looking for a luxury convertible for the weekend", []Intent{Luxury}},
		{"I drive for Uber and DoorDash", []Intent{Rideshare}},
		{"delivery driver gig, need a cheap sedan", []Intent{LowestPrice, Rideshare}},
		{"Something fun for the weekend", nil},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			got := d.Detect(tc.msg)
			var names []Intent
			for _, n := range got.Names() {
				names = append(names, Intent(n))
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestCategoryPrecedence(t *testing.T) {
	assert.Equal(t, "suv", DetectedIntents{SUV: true, Electric: true, Luxury: true}.Category())
	assert.Equal(t, "electric", DetectedIntents{Electric: true, Luxury: true}.Category())
	assert.Equal(t, "luxury", DetectedIntents{Luxury: true}.Category())
	assert.Equal(t, "", DetectedIntents{NoDeposit: true}.Category())
}

func TestNewDetector_RejectsBadTables(t *testing.T) {
	_, err := NewDetector(Patterns{"teleport": {Patterns: []string{"beam"}}})
	assert.Error(t, err)

	_, err = NewDetector(Patterns{NoDeposit: {Patterns: []string{"("}}})
	assert.Error(t, err)
}

func TestLoadPatterns_Custom(t *testing.T) {
	p, err := LoadPatterns(strings.NewReader("suv:\n  patterns: ['\\btruckish\\b']\n"))
	require.NoError(t, err)
	d, err := NewDetector(p)
	require.NoError(t, err)
	assert.True(t, d.Detect("something truckish").SUV)
	assert.False(t, d.Detect("an SUV").SUV)
}
