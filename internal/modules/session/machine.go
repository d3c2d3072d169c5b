// README: Machine validates one turn's fields, merges them into the session and computes the next state.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"roam/internal/modules/validate"
	"roam/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNotFound          = errors.New("session not found")
	ErrConflict          = errors.New("session version conflict")
)

// LocationResolver turns free text into a served canonical "City, ST" location.
// It returns a *validate.ValidationError for unserved places.
type LocationResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

type Machine struct {
	resolver LocationResolver
	maxDays  int
}

// NewMachine builds a state machine. maxDays <= 0 uses validate.DefaultMaxRentalDays.
func NewMachine(resolver LocationResolver, maxDays int) *Machine {
	if maxDays <= 0 {
		maxDays = validate.DefaultMaxRentalDays
	}
	return &Machine{resolver: resolver, maxDays: maxDays}
}

// ApplyTurn returns the updated session and its state. On any error the input session is
// returned unchanged together with its current state.
func (m *Machine) ApplyTurn(ctx context.Context, s BookingSession, t Turn) (BookingSession, State, error) {
	now := t.Now
	if now.IsZero() {
		now = time.Now()
	}
	if t.Action == ActionStartOver {
		fresh := New(s.ID, now)
		fresh.Version = s.Version
		if !s.CreatedAt.IsZero() {
			fresh.CreatedAt = s.CreatedAt
		}
		return fresh, StateInit, nil
	}

	next := s
	f := t.Fields

	if loc := strings.TrimSpace(f.Location); loc != "" {
		canonical, err := m.resolveLocation(ctx, loc)
		if err != nil {
			return s, s.State, err
		}
		next.Location = canonical
	}

	start, end, pending, err := m.mergeDates(s, f, t.Today)
	if err != nil {
		return s, s.State, err
	}
	next.StartDate, next.EndDate, next.PendingDurationDays = start, end, pending

	if err := validate.ValidateTime("startTime", f.StartTime); err != nil {
		return s, s.State, err
	}
	if err := validate.ValidateTime("endTime", f.EndTime); err != nil {
		return s, s.State, err
	}
	if f.StartTime != "" {
		next.StartTime = f.StartTime
	}
	if f.EndTime != "" {
		next.EndTime = f.EndTime
	}

	if t.Filters != nil {
		next.Filters = *t.Filters
		if next.Filters.Category != "" {
			next.VehicleCategoryPreference = next.Filters.Category
		}
	}
	if f.VehicleCategory != "" {
		next.VehicleCategoryPreference = f.VehicleCategory
	}

	if next.Location != s.Location || next.StartDate != s.StartDate || next.EndDate != s.EndDate {
		// A pick made for another place or window is stale.
		next.SelectedVehicleID = ""
		next.Confirmed = false
	}
	if f.SelectedVehicleID != "" {
		if f.SelectedVehicleID != next.SelectedVehicleID {
			next.Confirmed = false
		}
		next.SelectedVehicleID = f.SelectedVehicleID
	}
	if v, ok := f.Confirmed.Get(); ok {
		next.Confirmed = v && next.SelectedVehicleID != ""
	}

	if t.Mode != "" {
		next.Mode = t.Mode
	}
	if next.Mode == "" {
		next.Mode = ModeGeneral
	}
	if next.Mode == ModeGeneral && next.HasBookingFields() {
		next.Mode = ModeBooking
	}

	state := m.nextState(s, next, t)
	if !CanTransition(s.State, state) {
		return s, s.State, ErrInvalidTransition
	}
	next.State = state
	next.UpdatedAt = now
	return next, state, nil
}

func (m *Machine) resolveLocation(ctx context.Context, raw string) (string, error) {
	if m.resolver == nil {
		return raw, validate.ValidateLocation(raw, nil)
	}
	return m.resolver.Resolve(ctx, raw)
}

// mergeDates overlays incoming dates on existing ones and validates the candidate window.
// A duration given before any start date is returned as pending and applied once a start arrives.
// Nothing is validated when the turn carries no date information.
func (m *Machine) mergeDates(s BookingSession, f Fields, today types.Date) (types.Date, types.Date, int, error) {
	if f.StartDate.IsZero() && f.EndDate.IsZero() && f.DurationDays <= 0 {
		return s.StartDate, s.EndDate, s.PendingDurationDays, nil
	}
	start, end, pending := s.StartDate, s.EndDate, s.PendingDurationDays
	if f.DurationDays > 0 {
		pending = f.DurationDays
	}
	if !f.StartDate.IsZero() {
		start = f.StartDate
	}
	if !f.EndDate.IsZero() {
		end, pending = f.EndDate, 0
	} else if pending > 0 && !start.IsZero() {
		end, pending = validate.RentalOfDays(start, pending).End, 0
	}
	if start.IsZero() {
		return s.StartDate, end, pending, nil
	}
	if end.IsZero() {
		return start, end, 0, validate.ValidateStartDate(start, today)
	}
	rule := validate.DateRangeRule{Today: today, MaxDays: m.maxDays}
	if err := validate.ValidateDateRange(validate.DateRange{Start: start, End: end}, rule); err != nil {
		return s.StartDate, s.EndDate, s.PendingDurationDays, err
	}
	return start, end, 0, nil
}

func (m *Machine) nextState(prev, next BookingSession, t Turn) State {
	if prev.State == StateHighRiskReview {
		return StateHighRiskReview
	}
	switch t.Action {
	case ActionRequireLogin:
		return StateNeedsLogin
	case ActionRequireVerification:
		return StateNeedsVerification
	case ActionRequireEmailOTP:
		return StateNeedsEmailOTP
	case ActionFlagHighRisk:
		return StateHighRiskReview
	}
	if !next.HasBookingFields() && next.Mode != ModeBooking {
		return StateInit
	}
	state := progress(next)
	if state == StateReadyForPayment {
		switch {
		case !t.Caller.LoggedIn:
			return StateNeedsLogin
		case !t.Caller.Verified:
			return StateNeedsVerification
		}
	}
	return state
}

// progress returns the first missing stage; stages already filled are skipped.
func progress(s BookingSession) State {
	switch {
	case s.Location == "":
		return StateCollectingLocation
	case !s.HasDates():
		return StateCollectingDates
	case s.SelectedVehicleID == "":
		return StateCollectingVehicle
	case !s.Confirmed:
		return StateConfirming
	}
	return StateReadyForPayment
}
