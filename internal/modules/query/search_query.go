// README: SearchQuery value object and the field-level merge used across turns.
package query

import (
	"fmt"
	"strings"

	"roam/internal/types"
)

// SearchQuery is a value: methods return modified copies and never mutate the receiver.
type SearchQuery struct {
	Location     string                  `json:"location,omitempty"`
	StartDate    types.Date              `json:"startDate"`
	EndDate      types.Date              `json:"endDate"`
	PriceMin     types.Optional[float64] `json:"priceMin"`
	PriceMax     types.Optional[float64] `json:"priceMax"`
	Category     string                  `json:"vehicleType,omitempty"`
	Make         string                  `json:"make,omitempty"`
	Model        string                  `json:"model,omitempty"`
	Seats        types.Optional[int]     `json:"seats"`
	Transmission string                  `json:"transmission,omitempty"`
	NoDeposit    types.Optional[bool]    `json:"noDeposit"`
	InstantBook  types.Optional[bool]    `json:"instantBook"`
	Rideshare    types.Optional[bool]    `json:"rideshareEligible"`
	Delivery     types.Optional[bool]    `json:"delivery"`
	LowestPrice  types.Optional[bool]    `json:"lowestPrice"`
}

// Field names a clearable filter, as sent in an extractor's clearFilters list.
type Field string

const (
	FieldPriceMin     Field = "priceMin"
	FieldPriceMax     Field = "priceMax"
	FieldPrice        Field = "price"
	FieldCategory     Field = "vehicleType"
	FieldMake         Field = "make"
	FieldModel        Field = "model"
	FieldSeats        Field = "seats"
	FieldTransmission Field = "transmission"
	FieldNoDeposit    Field = "noDeposit"
	FieldInstantBook  Field = "instantBook"
	FieldRideshare    Field = "rideshareEligible"
	FieldDelivery     Field = "delivery"
	FieldLowestPrice  Field = "lowestPrice"
)

// ParseField accepts the JSON names above plus a few spoken forms.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pricemin", "min_price", "minprice":
		return FieldPriceMin, nil
	case "pricemax", "max_price", "maxprice", "budget":
		return FieldPriceMax, nil
	case "price":
		return FieldPrice, nil
	case "vehicletype", "category", "type":
		return FieldCategory, nil
	case "make", "manufacturer", "brand":
		return FieldMake, nil
	case "model":
		return FieldModel, nil
	case "seats":
		return FieldSeats, nil
	case "transmission":
		return FieldTransmission, nil
	case "nodeposit", "deposit":
		return FieldNoDeposit, nil
	case "instantbook":
		return FieldInstantBook, nil
	case "rideshareeligible", "rideshare":
		return FieldRideshare, nil
	case "delivery":
		return FieldDelivery, nil
	case "lowestprice", "sort":
		return FieldLowestPrice, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// Merge overlays next on prev field by field. Unset fields in next keep prev's value;
// an explicitly false flag in next replaces a true one. Nothing else removes a filter.
func Merge(prev, next SearchQuery) SearchQuery {
	out := prev
	if next.Location != "" {
		out.Location = next.Location
	}
	if !next.StartDate.IsZero() {
		out.StartDate = next.StartDate
	}
	if !next.EndDate.IsZero() {
		out.EndDate = next.EndDate
	}
	out.PriceMin = overlay(prev.PriceMin, next.PriceMin)
	out.PriceMax = overlay(prev.PriceMax, next.PriceMax)
	if next.Category != "" {
		out.Category = next.Category
	}
	if next.Make != "" {
		if next.Make != prev.Make && next.Model == "" {
			out.Model = ""
		}
		out.Make = next.Make
	}
	if next.Model != "" {
		out.Model = next.Model
	}
	out.Seats = overlay(prev.Seats, next.Seats)
	if next.Transmission != "" {
		out.Transmission = next.Transmission
	}
	out.NoDeposit = overlay(prev.NoDeposit, next.NoDeposit)
	out.InstantBook = overlay(prev.InstantBook, next.InstantBook)
	out.Rideshare = overlay(prev.Rideshare, next.Rideshare)
	out.Delivery = overlay(prev.Delivery, next.Delivery)
	out.LowestPrice = overlay(prev.LowestPrice, next.LowestPrice)
	return out
}

func overlay[T comparable](prev, next types.Optional[T]) types.Optional[T] {
	if next.Valid {
		return next
	}
	return prev
}

// Clear drops the named filters.
func (q SearchQuery) Clear(fields ...Field) SearchQuery {
	for _, f := range fields {
		switch f {
		case FieldPriceMin:
			q.PriceMin = types.None[float64]()
		case FieldPriceMax:
			q.PriceMax = types.None[float64]()
		case FieldPrice:
			q.PriceMin, q.PriceMax = types.None[float64](), types.None[float64]()
		case FieldCategory:
			q.Category = ""
		case FieldMake:
			q.Make, q.Model = "", ""
		case FieldModel:
			q.Model = ""
		case FieldSeats:
			q.Seats = types.None[int]()
		case FieldTransmission:
			q.Transmission = ""
		case FieldNoDeposit:
			q.NoDeposit = types.None[bool]()
		case FieldInstantBook:
			q.InstantBook = types.None[bool]()
		case FieldRideshare:
			q.Rideshare = types.None[bool]()
		case FieldDelivery:
			q.Delivery = types.None[bool]()
		case FieldLowestPrice:
			q.LowestPrice = types.None[bool]()
		}
	}
	return q
}

// HasLocationAndDates reports whether the query can be sent to inventory.
func (q SearchQuery) HasLocationAndDates() bool {
	return q.Location != "" && !q.StartDate.IsZero() && !q.EndDate.IsZero()
}

// HasRestrictiveFilters reports a filter that relaxation may loosen.
func (q SearchQuery) HasRestrictiveFilters() bool {
	return q.PriceMin.Valid || q.PriceMax.Valid || q.Category != "" || q.Make != "" ||
		q.Model != "" || q.Seats.Valid || q.Transmission != ""
}

// Unconstrained reports that only location and dates limit the result set.
func (q SearchQuery) Unconstrained() bool {
	return !q.HasRestrictiveFilters() && !q.NoDeposit.Is(true) && !q.InstantBook.Is(true) &&
		!q.Rideshare.Is(true) && !q.Delivery.Is(true)
}

// Minimal keeps only location and dates.
func (q SearchQuery) Minimal() SearchQuery {
	return SearchQuery{Location: q.Location, StartDate: q.StartDate, EndDate: q.EndDate}
}

func (q SearchQuery) IsMinimal() bool {
	return q == q.Minimal()
}

// WithLocation returns a copy with location set.
func (q SearchQuery) WithLocation(loc string) SearchQuery {
	q.Location = loc
	return q
}

// WithDates returns a copy with the rental range set.
func (q SearchQuery) WithDates(start, end types.Date) SearchQuery {
	q.StartDate, q.EndDate = start, end
	return q
}

// WithPriceMax returns a copy with the daily upper bound set.
func (q SearchQuery) WithPriceMax(v float64) SearchQuery {
	q.PriceMax = types.Some(v)
	return q
}

// Days is the rental length in days, or 0 without a valid range.
func (q SearchQuery) Days() int {
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return 0
	}
	if n := q.StartDate.DaysUntil(q.EndDate); n > 0 {
		return n
	}
	return 0
}
