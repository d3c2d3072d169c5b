// README: Turn request/response types exchanged with the rendering layer.
package service

import (
	"encoding/json"

	"roam/internal/modules/inventory"
	"roam/internal/modules/pricing"
	"roam/internal/modules/query"
	"roam/internal/modules/session"
	"roam/internal/modules/validate"
	"roam/internal/types"
)

type TurnRequest struct {
	Message   string
	SessionID types.ID
	Locale    string
	Caller    session.Caller
}

// ExtractedData is the session's booking fields after the turn.
type ExtractedData struct {
	Location          string     `json:"location,omitempty"`
	StartDate         types.Date `json:"startDate"`
	EndDate           types.Date `json:"endDate"`
	StartTime         string     `json:"startTime,omitempty"`
	EndTime           string     `json:"endTime,omitempty"`
	VehicleType       string     `json:"vehicleType,omitempty"`
	SelectedVehicleID types.ID   `json:"selectedVehicleId,omitempty"`
	Confirmed         bool       `json:"confirmed"`
}

func extractedData(s session.BookingSession) ExtractedData {
	return ExtractedData{
		Location:          s.Location,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		VehicleType:       s.VehicleCategoryPreference,
		SelectedVehicleID: s.SelectedVehicleID,
		Confirmed:         s.Confirmed,
	}
}

type Fallback struct {
	Level       int    `json:"level"`
	Explanation string `json:"explanation"`
	// NoAvailability means even the minimal search came back empty.
	NoAvailability bool `json:"noAvailability,omitempty"`
}

// Error codes returned in-band.
const (
	CodeInvalidInput      = "invalid_input"
	CodeInvalidTransition = "invalid_transition"
	CodeSearchUnavailable = "search_unavailable"
	CodeExtraction        = "unclear_message"
)

type TurnError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

// TurnResponse is one turn's structured output. Cards is nil when no search ran.
type TurnResponse struct {
	SessionID     types.ID                   `json:"sessionId"`
	Reply         string                     `json:"reply"`
	NextState     session.State              `json:"nextState"`
	ExtractedData ExtractedData              `json:"extractedData"`
	Action        session.Action             `json:"action"`
	SearchQuery   query.SearchQuery          `json:"searchQuery"`
	Cards         []inventory.VehicleSummary `json:"cards"`
	Mode          session.Mode               `json:"mode"`
	Fallback      *Fallback                  `json:"fallback,omitempty"`
	Quote         *pricing.Quote             `json:"quote,omitempty"`
	Flags         []validate.SecurityFlag    `json:"flags,omitempty"`
	Error         *TurnError                 `json:"error,omitempty"`
}

// MarshalJSON renders NONE as a null action and an empty search context as a null searchQuery.
func (r TurnResponse) MarshalJSON() ([]byte, error) {
	type plain TurnResponse
	wire := struct {
		plain
		Action      *session.Action    `json:"action"`
		SearchQuery *query.SearchQuery `json:"searchQuery"`
	}{plain: plain(r)}
	if r.Action != "" && r.Action != session.ActionNone {
		wire.Action = &r.Action
	}
	if r.SearchQuery != (query.SearchQuery{}) {
		wire.SearchQuery = &r.SearchQuery
	}
	return json.Marshal(wire)
}

