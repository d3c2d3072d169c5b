// README: Pricing service computes rental quotes for a selected vehicle and window.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"roam/internal/modules/inventory"
	"roam/internal/types"
)

// DefaultServiceFeeRate is the platform fee as a share of the subtotal.
const DefaultServiceFeeRate = 0.10

var (
	ErrBadRequest  = errors.New("quote needs a vehicle and a date range")
	ErrUnavailable = errors.New("vehicle is not available for those dates")
)

type Lister interface {
	Get(ctx context.Context, id types.ID) (inventory.Listing, error)
}

type Service struct {
	listings Lister
	feeRate  float64
}

// NewService builds a quoting service. feeRate < 0 uses DefaultServiceFeeRate.
func NewService(listings Lister, feeRate float64) *Service {
	if feeRate < 0 {
		feeRate = DefaultServiceFeeRate
	}
	return &Service{listings: listings, feeRate: feeRate}
}

// Estimate quotes vehicle id for [start, end).
func (s *Service) Estimate(ctx context.Context, id types.ID, start, end types.Date) (Quote, error) {
	if id == "" || start.IsZero() || end.IsZero() || !start.Before(end) {
		return Quote{}, ErrBadRequest
	}
	l, err := s.listings.Get(ctx, id)
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s: %w", id, err)
	}
	if !l.AvailableBetween(start, end) {
		return Quote{}, ErrUnavailable
	}
	return Compute(l, start.DaysUntil(end), s.feeRate), nil
}

// Compute prices l for days; amounts are rounded to cents.
func Compute(l inventory.Listing, days int, feeRate float64) Quote {
	subtotal := cents(l.DailyRate * float64(days))
	fee := cents(subtotal * feeRate)
	return Quote{
		VehicleID:  l.ID,
		Days:       days,
		DailyRate:  l.DailyRate,
		Subtotal:   subtotal,
		ServiceFee: fee,
		Deposit:    cents(l.EffectiveDeposit()),
		Total:      cents(subtotal + fee),
		Currency:   Currency,
	}
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
