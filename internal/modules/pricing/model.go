// README: Rental quote: daily rate times days plus the service fee; the deposit is listed separately.
package pricing

import "roam/internal/types"

const Currency = "USD"

type Quote struct {
	VehicleID  types.ID `json:"vehicleId"`
	Days       int      `json:"days"`
	DailyRate  float64  `json:"dailyRate"`
	Subtotal   float64  `json:"subtotal"`
	ServiceFee float64  `json:"serviceFee"`
	// Deposit is refundable and not part of Total.
	Deposit  float64 `json:"deposit"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}
