package tools

import (
	"context"
	"fmt"

	"roam/internal/modules/inventory"
	"roam/internal/types"
)

const ReviewsToolName = "get_reviews"

// ReviewLister is satisfied by inventory.ReviewStore and inventory.MemoryReviews.
type ReviewLister interface {
	ListByVehicle(ctx context.Context, id types.ID) ([]inventory.Review, error)
}

type ReviewsTool struct {
	reviews ReviewLister
	limit   int
}

func NewReviewsTool(r ReviewLister) *ReviewsTool {
	return &ReviewsTool{reviews: r, limit: 3}
}

func (t *ReviewsTool) Contract() Contract {
	return Contract{
		Name:        ReviewsToolName,
		Description: "Fetch the average rating and most recent guest reviews for a vehicle.",
		Params: []Param{
			{Name: "vehicleId", Type: TypeString, Required: true},
		},
	}
}

func (t *ReviewsTool) Call(ctx context.Context, args map[string]any, _ *Workspace) (any, error) {
	var a struct {
		VehicleID string `json:"vehicleId"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.VehicleID == "" {
		return nil, fmt.Errorf("%w: vehicleId is required", ErrBadArguments)
	}
	list, err := t.reviews.ListByVehicle(ctx, types.ID(a.VehicleID))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return inventory.Summarize(types.ID(a.VehicleID), list, t.limit), nil
}
