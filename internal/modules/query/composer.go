// README: Translates a SearchQuery into a PredicateSet using the lookup tables.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteQuery guards the inventory boundary: location and dates are mandatory.
var ErrIncompleteQuery = errors.New("query needs location and date range")

const DefaultLimit = 20

type Composer struct {
	tables *Tables
	limit  int
}

func NewComposer(t *Tables) *Composer {
	return &Composer{tables: t, limit: DefaultLimit}
}

func (c *Composer) Tables() *Tables {
	return c.tables
}

// Normalize canonicalizes location, make, category and transmission. Idempotent.
func (c *Composer) Normalize(q SearchQuery) SearchQuery {
	if q.Location != "" {
		q.Location, _ = c.tables.NormalizeLocation(q.Location)
	}
	if q.Make != "" {
		q.Make = c.tables.NormalizeMake(q.Make)
	}
	q.Model = strings.TrimSpace(q.Model)
	if q.Category != "" {
		if rule, ok := c.tables.Category(q.Category); ok {
			q.Category = rule.Name
		} else {
			q.Category = normKey(q.Category)
		}
	}
	q.Transmission = normalizeTransmission(q.Transmission)
	return q
}

func normalizeTransmission(s string) string {
	switch k := normKey(s); k {
	case "":
		return ""
	case "auto", "automatic", "automatic transmission", "at":
		return "automatic"
	case "manual", "stick", "stick shift", "stickshift", "standard", "mt", "manual transmission":
		return "manual"
	default:
		return k
	}
}

// Compose builds the predicate set for q. The returned set always constrains city and dates.
func (c *Composer) Compose(q SearchQuery) (PredicateSet, error) {
	q = c.Normalize(q)
	if !q.HasLocationAndDates() {
		return PredicateSet{}, ErrIncompleteQuery
	}
	if !q.EndDate.After(q.StartDate) {
		return PredicateSet{}, fmt.Errorf("%w: end %s is not after start %s", ErrIncompleteQuery, q.EndDate, q.StartDate)
	}

	preds := []Predicate{
		{Kind: KindCityIn, Values: c.tables.Metro(q.Location)},
		{Kind: KindAvailable, Values: []string{q.StartDate.String(), q.EndDate.String()}},
	}
	if v, ok := q.PriceMin.Get(); ok {
		preds = append(preds, Predicate{Kind: KindRateAtLeast, Number: v})
	}
	if v, ok := q.PriceMax.Get(); ok {
		preds = append(preds, Predicate{Kind: KindRateAtMost, Number: v})
	}
	if q.Category != "" {
		preds = append(preds, c.categoryPredicate(q.Category))
	}
	if q.Make != "" {
		preds = append(preds, Predicate{Kind: KindMakeIn, Values: []string{q.Make}})
	}
	if q.Model != "" {
		preds = append(preds, Predicate{Kind: KindModelContains, Values: []string{strings.ToLower(q.Model)}})
	}
	if v, ok := q.Seats.Get(); ok && v > 0 {
		preds = append(preds, Predicate{Kind: KindSeatsAtLeast, Number: float64(v)})
	}
	if q.Transmission != "" {
		preds = append(preds, Predicate{Kind: KindTransmissionIs, Values: []string{q.Transmission}})
	}
	if q.NoDeposit.Is(true) {
		preds = append(preds, DepositFree())
	}
	if q.InstantBook.Is(true) {
		preds = append(preds, Predicate{Kind: KindInstantBook})
	}
	if q.Rideshare.Is(true) {
		preds = append(preds, Predicate{Kind: KindRideshare})
	}
	if q.Delivery.Is(true) {
		preds = append(preds, Predicate{Kind: KindDelivery})
	}

	sort := SortRelevance
	if q.LowestPrice.Is(true) {
		sort = SortPriceAsc
	}
	return PredicateSet{Predicates: preds, Sort: sort, Origin: q.Location, Limit: c.limit}, nil
}

// DepositFree matches an effective deposit of zero: a zero per-vehicle override, or no
// override and a zero host default.
func DepositFree() Predicate {
	return Predicate{Kind: KindAny, Children: []Predicate{
		{Kind: KindVehicleDepositZero},
		{Kind: KindHostDepositZero},
	}}
}

func (c *Composer) categoryPredicate(name string) Predicate {
	rule, ok := c.tables.Category(name)
	if !ok {
		return Predicate{Kind: KindCategoryContains, Values: []string{name}}
	}
	var parts []Predicate
	if len(rule.BodyStyles) > 0 {
		parts = append(parts, Predicate{Kind: KindBodyStyleIn, Values: lowerAll(rule.BodyStyles)})
	}
	if len(rule.FuelTypes) > 0 {
		parts = append(parts, Predicate{Kind: KindFuelTypeIn, Values: lowerAll(rule.FuelTypes)})
	}
	if len(rule.Makes) > 0 {
		parts = append(parts, Predicate{Kind: KindMakeIn, Values: append([]string(nil), rule.Makes...)})
	}
	if rule.MinPrice > 0 {
		parts = append(parts, Predicate{Kind: KindRateAtLeast, Number: rule.MinPrice})
	}
	if rule.MaxPrice > 0 {
		parts = append(parts, Predicate{Kind: KindRateAtMost, Number: rule.MaxPrice})
	}
	switch len(parts) {
	case 0:
		return Predicate{Kind: KindCategoryContains, Values: []string{rule.Name}}
	case 1:
		return parts[0]
	}
	kind := KindAll
	if rule.Match == MatchAny {
		kind = KindAny
	}
	return Predicate{Kind: kind, Children: parts}
}

// Label is the human name of a category for explanations ("SUV").
func (c *Composer) Label(category string) string {
	if rule, ok := c.tables.Category(category); ok {
		return rule.Label
	}
	return category
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
