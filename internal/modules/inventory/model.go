// README: Inventory listing rows and the read-only summary returned to the booking flow.
package inventory

import (
	"errors"

	"roam/internal/types"
)

var (
	ErrNotFound         = errors.New("vehicle not found")
	ErrUnknownPredicate = errors.New("unknown predicate")
)

// BlockedRange is a booked or host-blocked interval. End is exclusive.
type BlockedRange struct {
	Start types.Date `json:"start"`
	End   types.Date `json:"end"`
}

// Listing is the full inventory row predicates are evaluated against.
type Listing struct {
	ID                types.ID       `json:"id"`
	HostID            types.ID       `json:"hostId"`
	Make              string         `json:"make"`
	Model             string         `json:"model"`
	Year              int            `json:"year"`
	City              string         `json:"city"`
	Category          string         `json:"category"`
	BodyStyle         string         `json:"bodyStyle"`
	FuelType          string         `json:"fuelType"`
	Seats             int            `json:"seats"`
	Transmission      string         `json:"transmission"`
	DailyRate         float64        `json:"dailyRate"`
	Rating            float64        `json:"rating"`
	TripCount         int            `json:"tripCount"`
	DepositOverride   *float64       `json:"depositOverride,omitempty"`
	HostDeposit       float64        `json:"hostDeposit"`
	InstantBook       bool           `json:"instantBook"`
	RideshareEligible bool           `json:"rideshareEligible"`
	Delivery          bool           `json:"delivery"`
	Lat               float64        `json:"lat"`
	Lng               float64        `json:"lng"`
	Blocked           []BlockedRange `json:"blocked,omitempty"`
}

// EffectiveDeposit is the per-vehicle override when present, else the host default.
func (l Listing) EffectiveDeposit() float64 {
	if l.DepositOverride != nil {
		return *l.DepositOverride
	}
	return l.HostDeposit
}

// AvailableBetween reports no blocked range overlaps [start, end).
func (l Listing) AvailableBetween(start, end types.Date) bool {
	for _, b := range l.Blocked {
		if b.Start.Before(end) && start.Before(b.End) {
			return false
		}
	}
	return true
}

func (l Listing) Summary(distanceKm float64) VehicleSummary {
	return VehicleSummary{
		ID:          l.ID,
		Make:        l.Make,
		Model:       l.Model,
		Year:        l.Year,
		DailyRate:   l.DailyRate,
		Rating:      l.Rating,
		TripCount:   l.TripCount,
		DistanceKm:  distanceKm,
		Deposit:     l.EffectiveDeposit(),
		InstantBook: l.InstantBook,
		Category:    l.Category,
		City:        l.City,
	}
}

// VehicleSummary is the projection shown to users and the model.
type VehicleSummary struct {
	ID          types.ID `json:"id"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Year        int      `json:"year"`
	DailyRate   float64  `json:"dailyRate"`
	Rating      float64  `json:"rating"`
	TripCount   int      `json:"tripCount"`
	DistanceKm  float64  `json:"distanceKm"`
	Deposit     float64  `json:"deposit"`
	InstantBook bool     `json:"instantBook"`
	Category    string   `json:"category"`
	City        string   `json:"city"`
}

// Locator gives the coordinates of a canonical city; query.Tables implements it.
type Locator interface {
	Center(canonical string) (lat, lng float64, ok bool)
}
