// README: Date and time validators for rental windows.
package validate

import (
	"regexp"

	"roam/internal/types"
)

// DefaultMaxRentalDays bounds a single reservation.
const DefaultMaxRentalDays = 30

// DateRange is a rental window; End is the return date and is exclusive of pickup day.
type DateRange struct {
	Start types.Date
	End   types.Date
}

func (r DateRange) Days() int {
	return r.Start.DaysUntil(r.End)
}

// OneDayRental returns a range whose End is exactly one calendar day after start.
func OneDayRental(start types.Date) DateRange {
	return RentalOfDays(start, 1)
}

// RentalOfDays returns a range of n days starting at start. n < 1 is treated as 1.
func RentalOfDays(start types.Date, n int) DateRange {
	if n < 1 {
		n = 1
	}
	return DateRange{Start: start, End: start.AddDays(n)}
}

// DateRangeRule holds the policy knobs for ValidateDateRange.
type DateRangeRule struct {
	Today   types.Date
	MaxDays int
}

// ValidateDateRange rejects ranges that end on or before their start, start in the past,
// or exceed the maximum rental length. startDate == endDate is never valid.
func ValidateDateRange(r DateRange, rule DateRangeRule) error {
	if r.Start.IsZero() || r.End.IsZero() {
		return invalid("dates", ErrInvalidDateRange, "start and end date are required")
	}
	if !r.End.After(r.Start) {
		return invalid("endDate", ErrInvalidDateRange, "end date %s must be after start date %s", r.End, r.Start)
	}
	if !rule.Today.IsZero() && r.Start.Before(rule.Today) {
		return invalid("startDate", ErrInvalidDateRange, "start date %s is in the past", r.Start)
	}
	maxDays := rule.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultMaxRentalDays
	}
	if r.Days() > maxDays {
		return invalid("endDate", ErrInvalidDateRange, "rental of %d days exceeds %d day limit", r.Days(), maxDays)
	}
	return nil
}

// ValidateStartDate checks a lone start date (end not known yet).
func ValidateStartDate(d types.Date, today types.Date) error {
	if !today.IsZero() && d.Before(today) {
		return invalid("startDate", ErrInvalidDateRange, "start date %s is in the past", d)
	}
	return nil
}

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateTime accepts 24h HH:MM. Empty means unset and is valid.
func ValidateTime(field, v string) error {
	if v == "" || clockPattern.MatchString(v) {
		return nil
	}
	return invalid(field, ErrInvalidTime, "%q is not HH:MM", v)
}
