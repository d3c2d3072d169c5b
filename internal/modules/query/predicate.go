// README: Store-agnostic predicate set produced by the composer and executed by inventory adapters.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindCityIn           Kind = "city_in"
	KindAvailable        Kind = "available_between"
	KindRateAtLeast      Kind = "daily_rate_gte"
	KindRateAtMost       Kind = "daily_rate_lte"
	KindBodyStyleIn      Kind = "body_style_in"
	KindFuelTypeIn       Kind = "fuel_type_in"
	KindMakeIn           Kind = "make_in"
	KindModelContains    Kind = "model_contains"
	KindCategoryContains Kind = "category_contains"
	KindSeatsAtLeast     Kind = "seats_gte"
	KindTransmissionIs   Kind = "transmission_eq"
	// KindVehicleDepositZero: the vehicle overrides the deposit and the override is zero.
	KindVehicleDepositZero Kind = "vehicle_deposit_zero"
	// KindHostDepositZero: no vehicle override and the host default deposit is zero.
	KindHostDepositZero Kind = "host_deposit_zero"
	KindInstantBook     Kind = "instant_book"
	KindRideshare       Kind = "rideshare_eligible"
	KindDelivery        Kind = "delivery_available"
	KindAny             Kind = "any"
	KindAll             Kind = "all"
)

// Predicate is one node of a conjunctive filter tree. Values carries string operands
// (dates as YYYY-MM-DD), Number numeric operands, Children the members of any/all groups.
type Predicate struct {
	Kind     Kind        `json:"kind"`
	Values   []string    `json:"values,omitempty"`
	Number   float64     `json:"number,omitempty"`
	Children []Predicate `json:"children,omitempty"`
}

type Sort string

const (
	SortRelevance Sort = "relevance"
	SortPriceAsc  Sort = "price_asc"
)

// PredicateSet is the conjunction handed to an inventory adapter. Origin is the
// searched city, used for distance ranking.
type PredicateSet struct {
	Predicates []Predicate `json:"predicates"`
	Sort       Sort        `json:"sort"`
	Origin     string      `json:"origin"`
	Limit      int         `json:"limit,omitempty"`
}

func (p Predicate) String() string {
	switch p.Kind {
	case KindAny, KindAll:
		parts := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			parts = append(parts, c.String())
		}
		return fmt.Sprintf("%s(%s)", p.Kind, strings.Join(parts, ", "))
	case KindRateAtLeast, KindRateAtMost, KindSeatsAtLeast:
		return fmt.Sprintf("%s %g", p.Kind, p.Number)
	case KindVehicleDepositZero, KindHostDepositZero, KindInstantBook, KindRideshare, KindDelivery:
		return string(p.Kind)
	}
	return fmt.Sprintf("%s [%s]", p.Kind, strings.Join(p.Values, " "))
}

func (s PredicateSet) String() string {
	parts := make([]string, 0, len(s.Predicates))
	for _, p := range s.Predicates {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, " AND ") + " ORDER BY " + string(s.Sort)
}

// Find returns the first top-level predicate of kind k.
func (s PredicateSet) Find(k Kind) (Predicate, bool) {
	for _, p := range s.Predicates {
		if p.Kind == k {
			return p, true
		}
	}
	return Predicate{}, false
}

// Validate checks structural soundness, e.g. after decoding a set from JSON.
func (s PredicateSet) Validate() error {
	if _, ok := s.Find(KindCityIn); !ok {
		return fmt.Errorf("%w: no city predicate", ErrIncompleteQuery)
	}
	if p, ok := s.Find(KindAvailable); !ok || len(p.Values) != 2 {
		return fmt.Errorf("%w: no availability window", ErrIncompleteQuery)
	}
	for _, p := range s.Predicates {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p Predicate) validate() error {
	switch p.Kind {
	case KindAny, KindAll:
		if len(p.Children) == 0 {
			return fmt.Errorf("empty %s group", p.Kind)
		}
		for _, c := range p.Children {
			if err := c.validate(); err != nil {
				return err
			}
		}
	case KindCityIn, KindBodyStyleIn, KindFuelTypeIn, KindMakeIn, KindModelContains,
		KindCategoryContains, KindTransmissionIs, KindAvailable:
		if len(p.Values) == 0 {
			return fmt.Errorf("%s without values", p.Kind)
		}
	case KindRateAtLeast, KindRateAtMost, KindSeatsAtLeast, KindVehicleDepositZero,
		KindHostDepositZero, KindInstantBook, KindRideshare, KindDelivery:
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	return nil
}

// DecodePredicateSet parses and validates a serialized set.
func DecodePredicateSet(b []byte) (PredicateSet, error) {
	var s PredicateSet
	if err := json.Unmarshal(b, &s); err != nil {
		return PredicateSet{}, fmt.Errorf("decode predicate set: %w", err)
	}
	if err := s.Validate(); err != nil {
		return PredicateSet{}, err
	}
	return s, nil
}
