// README: Layer 1 extractor output: tolerant JSON parsing plus schema validation. Fails closed.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"roam/internal/modules/query"
	"roam/internal/types"
)

// ErrMalformed matches every *Error via errors.Is.
var ErrMalformed = errors.New("malformed extractor output")

// Error carries the raw model output that could not be used. Nothing from it is merged.
type Error struct {
	Raw string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrMalformed }

// Candidate is the structured turn proposed by the language model.
type Candidate struct {
	Reply        string   `json:"reply" validate:"max=4000"`
	Action       string   `json:"action" validate:"omitempty,oneof=NONE SHOW_VEHICLES START_OVER REQUIRE_LOGIN REQUIRE_VERIFICATION REQUIRE_EMAIL_OTP FLAG_HIGH_RISK PROCEED_TO_PAYMENT"`
	Mode         string   `json:"mode" validate:"omitempty,oneof=GENERAL BOOKING PERSONAL HOST"`
	Data         Data     `json:"extractedData"`
	ClearFilters []string `json:"clearFilters" validate:"dive,required"`
	Search       bool     `json:"searchVehicles"`
}

// Data holds extracted booking fields. Pointers distinguish "not mentioned" from zero.
type Data struct {
	Location          string   `json:"location" validate:"max=120"`
	StartDate         string   `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate           string   `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	StartTime         string   `json:"startTime" validate:"omitempty,datetime=15:04"`
	EndTime           string   `json:"endTime" validate:"omitempty,datetime=15:04"`
	DurationDays      *int     `json:"durationDays" validate:"omitempty,min=1,max=90"`
	VehicleType       string   `json:"vehicleType" validate:"max=60"`
	Make              string   `json:"make" validate:"max=60"`
	Model             string   `json:"model" validate:"max=60"`
	PriceMin          *float64 `json:"priceMin" validate:"omitempty,gte=0,lte=100000"`
	PriceMax          *float64 `json:"priceMax" validate:"omitempty,gte=0,lte=100000"`
	Seats             *int     `json:"seats" validate:"omitempty,min=1,max=15"`
	Transmission      string   `json:"transmission" validate:"max=30"`
	NoDeposit         *bool    `json:"noDeposit"`
	InstantBook       *bool    `json:"instantBook"`
	RideshareEligible *bool    `json:"rideshareEligible"`
	Delivery          *bool    `json:"delivery"`
	LowestPrice       *bool    `json:"lowestPrice"`
	SelectedVehicleID string   `json:"selectedVehicleId" validate:"max=64"`
	Confirmed         *bool    `json:"confirmed"`
}

var schema = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates raw model output, tolerating markdown code fences.
func Parse(raw []byte) (Candidate, error) {
	cleaned := cleanJSONString(string(raw))
	if cleaned == "" {
		return Candidate{}, &Error{Raw: string(raw), Err: errors.New("empty output")}
	}
	var c Candidate
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return Candidate{}, &Error{Raw: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	c.Action = strings.ToUpper(strings.TrimSpace(c.Action))
	c.Mode = strings.ToUpper(strings.TrimSpace(c.Mode))
	if err := schema.Struct(c); err != nil {
		return Candidate{}, &Error{Raw: string(raw), Err: fmt.Errorf("validate: %w", err)}
	}
	d := c.Data
	if d.PriceMin != nil && d.PriceMax != nil && *d.PriceMin > *d.PriceMax {
		return Candidate{}, &Error{Raw: string(raw), Err: fmt.Errorf("priceMin %g exceeds priceMax %g", *d.PriceMin, *d.PriceMax)}
	}
	for _, f := range c.ClearFilters {
		if _, err := query.ParseField(f); err != nil {
			return Candidate{}, &Error{Raw: string(raw), Err: err}
		}
	}
	return c, nil
}

// cleanJSONString removes markdown code blocks if present (e.g. ```json ... ```)
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}

// Query converts the extracted filters. Location is left raw for the session machine to resolve.
func (c Candidate) Query() query.SearchQuery {
	d := c.Data
	q := query.SearchQuery{
		Location:     strings.TrimSpace(d.Location),
		Category:     strings.TrimSpace(d.VehicleType),
		Make:         strings.TrimSpace(d.Make),
		Model:        strings.TrimSpace(d.Model),
		Transmission: strings.TrimSpace(d.Transmission),
		PriceMin:     optional(d.PriceMin),
		PriceMax:     optional(d.PriceMax),
		Seats:        optional(d.Seats),
		NoDeposit:    optional(d.NoDeposit),
		InstantBook:  optional(d.InstantBook),
		Rideshare:    optional(d.RideshareEligible),
		Delivery:     optional(d.Delivery),
		LowestPrice:  optional(d.LowestPrice),
	}
	// Formats were validated in Parse.
	q.StartDate, _ = parseDate(d.StartDate)
	q.EndDate, _ = parseDate(d.EndDate)
	return q
}

// Cleared returns the filters the model asked to remove.
func (c Candidate) Cleared() []query.Field {
	var out []query.Field
	for _, f := range c.ClearFilters {
		if field, err := query.ParseField(f); err == nil {
			out = append(out, field)
		}
	}
	return out
}

func optional[T comparable](p *T) types.Optional[T] {
	if p == nil {
		return types.None[T]()
	}
	return types.Some(*p)
}

func parseDate(s string) (types.Date, error) {
	if s == "" {
		return types.Date{}, nil
	}
	return types.ParseDate(s)
}
