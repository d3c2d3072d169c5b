// README: In-process evaluation of composed predicates against listings.
package inventory

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"roam/internal/modules/query"
	"roam/internal/types"
)

// Matches reports whether l satisfies every predicate in set.
func Matches(l Listing, set query.PredicateSet) (bool, error) {
	for _, p := range set.Predicates {
		ok, err := match(l, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(l Listing, p query.Predicate) (bool, error) {
	switch p.Kind {
	case query.KindAll:
		for _, c := range p.Children {
			ok, err := match(l, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case query.KindAny:
		for _, c := range p.Children {
			ok, err := match(l, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.KindCityIn:
		return slices.Contains(p.Values, l.City), nil
	case query.KindAvailable:
		if len(p.Values) != 2 {
			return false, fmt.Errorf("%s needs two dates", p.Kind)
		}
		start, err := types.ParseDate(p.Values[0])
		if err != nil {
			return false, err
		}
		end, err := types.ParseDate(p.Values[1])
		if err != nil {
			return false, err
		}
		return l.AvailableBetween(start, end), nil
	case query.KindRateAtLeast:
		return l.DailyRate >= p.Number, nil
	case query.KindRateAtMost:
		return l.DailyRate <= p.Number, nil
	case query.KindBodyStyleIn:
		return containsFold(p.Values, l.BodyStyle), nil
	case query.KindFuelTypeIn:
		return containsFold(p.Values, l.FuelType), nil
	case query.KindMakeIn:
		return containsFold(p.Values, l.Make), nil
	case query.KindModelContains:
		return anyContains(l.Model, p.Values), nil
	case query.KindCategoryContains:
		return anyContains(l.Category, p.Values) || containsFold(p.Values, l.BodyStyle), nil
	case query.KindSeatsAtLeast:
		return float64(l.Seats) >= p.Number, nil
	case query.KindTransmissionIs:
		return containsFold(p.Values, l.Transmission), nil
	case query.KindVehicleDepositZero:
		return l.DepositOverride != nil && *l.DepositOverride == 0, nil
	case query.KindHostDepositZero:
		return l.DepositOverride == nil && l.HostDeposit == 0, nil
	case query.KindInstantBook:
		return l.InstantBook, nil
	case query.KindRideshare:
		return l.RideshareEligible, nil
	case query.KindDelivery:
		return l.Delivery, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownPredicate, p.Kind)
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func anyContains(field string, needles []string) bool {
	field = strings.ToLower(field)
	for _, n := range needles {
		if n != "" && strings.Contains(field, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// rank orders summaries by the set's sort: price ascending, or distance then rating.
func rank(items []VehicleSummary, sort query.Sort) {
	if sort == query.SortPriceAsc {
		slices.SortStableFunc(items, func(a, b VehicleSummary) int {
			if c := cmp.Compare(a.DailyRate, b.DailyRate); c != 0 {
				return c
			}
			return cmp.Compare(a.DistanceKm, b.DistanceKm)
		})
		return
	}
	slices.SortStableFunc(items, func(a, b VehicleSummary) int {
		if c := cmp.Compare(a.DistanceKm, b.DistanceKm); c != 0 {
			return c
		}
		return cmp.Compare(b.Rating, a.Rating)
	})
}
