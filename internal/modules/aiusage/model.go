package aiusage

import (
	"errors"
	"time"
)

// ErrExhausted is returned when a caller has no model-backed turns left this month.
var ErrExhausted = errors.New("monthly model allowance exhausted")

// DefaultAllowance is the number of model-backed turns granted per caller per month.
const DefaultAllowance = 200

// Period is the allowance window a moment falls in, e.g. "2026-10".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
