// README: Booking session aggregate, state/mode/action definitions and the transition table.
package session

import (
	"fmt"
	"strings"
	"time"

	"roam/internal/modules/query"
	"roam/internal/types"
)

type State string

const (
	StateInit               State = "INIT"
	StateCollectingLocation State = "COLLECTING_LOCATION"
	StateCollectingDates    State = "COLLECTING_DATES"
	StateCollectingVehicle  State = "COLLECTING_VEHICLE"
	StateConfirming         State = "CONFIRMING"
	StateReadyForPayment    State = "READY_FOR_PAYMENT"
	StateNeedsLogin         State = "NEEDS_LOGIN"
	StateNeedsVerification  State = "NEEDS_VERIFICATION"
	StateNeedsEmailOTP      State = "NEEDS_EMAIL_OTP"
	StateHighRiskReview     State = "HIGH_RISK_REVIEW"
)

type Mode string

const (
	ModeGeneral  Mode = "GENERAL"
	ModeBooking  Mode = "BOOKING"
	ModePersonal Mode = "PERSONAL"
	ModeHost     Mode = "HOST"
)

// Action is the structured instruction returned to the rendering layer.
type Action string

const (
	ActionNone                Action = "NONE"
	ActionShowVehicles        Action = "SHOW_VEHICLES"
	ActionStartOver           Action = "START_OVER"
	ActionRequireLogin        Action = "REQUIRE_LOGIN"
	ActionRequireVerification Action = "REQUIRE_VERIFICATION"
	ActionRequireEmailOTP     Action = "REQUIRE_EMAIL_OTP"
	ActionFlagHighRisk        Action = "FLAG_HIGH_RISK"
	ActionProceedToPayment    Action = "PROCEED_TO_PAYMENT"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case "":
		return ActionNone, nil
	case ActionNone, ActionShowVehicles, ActionStartOver, ActionRequireLogin, ActionRequireVerification,
		ActionRequireEmailOTP, ActionFlagHighRisk, ActionProceedToPayment:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case "":
		return "", nil
	case ModeGeneral, ModeBooking, ModePersonal, ModeHost:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// BookingSession is one conversation's progress toward a reservation. It is mutated
// only through Machine.ApplyTurn. PendingDurationDays holds a rental length given
// before the start date.
type BookingSession struct {
	ID                        types.ID          `json:"id"`
	State                     State             `json:"state"`
	Location                  string            `json:"location,omitempty"`
	StartDate                 types.Date        `json:"startDate"`
	EndDate                   types.Date        `json:"endDate"`
	StartTime                 string            `json:"startTime,omitempty"`
	EndTime                   string            `json:"endTime,omitempty"`
	VehicleCategoryPreference string            `json:"vehicleCategoryPreference,omitempty"`
	SelectedVehicleID         types.ID          `json:"selectedVehicleId,omitempty"`
	Mode                      Mode              `json:"conversationMode"`
	Confirmed                 bool              `json:"confirmed"`
	PendingDurationDays       int               `json:"pendingDurationDays,omitempty"`
	Filters                   query.SearchQuery `json:"filters"`
	Version                   int               `json:"version"`
	CreatedAt                 time.Time         `json:"createdAt"`
	UpdatedAt                 time.Time         `json:"updatedAt"`
}

// New returns a fresh INIT session.
func New(id types.ID, now time.Time) BookingSession {
	return BookingSession{ID: id, State: StateInit, Mode: ModeGeneral, CreatedAt: now, UpdatedAt: now}
}

func (s BookingSession) HasBookingFields() bool {
	return s.Location != "" || !s.StartDate.IsZero() || !s.EndDate.IsZero() || s.SelectedVehicleID != ""
}

func (s BookingSession) HasDates() bool {
	return !s.StartDate.IsZero() && !s.EndDate.IsZero()
}

// Query is the session's filters anchored to its location and dates.
func (s BookingSession) Query() query.SearchQuery {
	return s.Filters.WithLocation(s.Location).WithDates(s.StartDate, s.EndDate)
}

// Fields are booking values extracted from one turn. Zero values mean "not mentioned".
type Fields struct {
	Location          string
	StartDate         types.Date
	EndDate           types.Date
	DurationDays      int
	StartTime         string
	EndTime           string
	VehicleCategory   string
	SelectedVehicleID types.ID
	Confirmed         types.Optional[bool]
}

// Caller is the identity state supplied by the rendering layer.
type Caller struct {
	LoggedIn bool   `json:"loggedIn"`
	Verified bool   `json:"verified"`
	Email    string `json:"accountEmail,omitempty"`
}

type Turn struct {
	Fields Fields
	// Filters replaces the session filters when set.
	Filters *query.SearchQuery
	Mode    Mode
	Action  Action
	Caller  Caller
	Today   types.Date
	Now     time.Time
}

var sideStates = []State{StateNeedsLogin, StateNeedsVerification, StateNeedsEmailOTP, StateHighRiskReview}

var progressStates = []State{
	StateInit, StateCollectingLocation, StateCollectingDates, StateCollectingVehicle,
	StateConfirming, StateReadyForPayment,
}

func concat(groups ...[]State) []State {
	var out []State
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// AllowedTransitions is the booking flow as code. Collection stages may be skipped or
// revisited; READY_FOR_PAYMENT is a handoff and only re-enters itself, a side state or INIT.
var AllowedTransitions = map[State][]State{
	StateInit:               concat(progressStates, sideStates),
	StateCollectingLocation: concat(progressStates, sideStates),
	StateCollectingDates:    concat(progressStates, sideStates),
	StateCollectingVehicle:  concat(progressStates, sideStates),
	StateConfirming:         concat(progressStates, sideStates),
	StateReadyForPayment:    concat([]State{StateReadyForPayment, StateInit}, sideStates),
	StateNeedsLogin:         concat(progressStates, sideStates),
	StateNeedsVerification:  concat(progressStates, sideStates),
	StateNeedsEmailOTP:      concat(progressStates, sideStates),
	StateHighRiskReview:     {StateHighRiskReview, StateInit},
}

func CanTransition(from, to State) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
