package tools

import (
	"context"
	"errors"
	"fmt"

	"roam/internal/modules/inventory"
	"roam/internal/modules/query"
	"roam/internal/modules/relax"
)

const SearchToolName = "search_vehicles"

// Searcher is satisfied by *relax.Engine.
type Searcher interface {
	Search(ctx context.Context, q query.SearchQuery) (relax.FallbackResult, error)
}

type SearchTool struct {
	engine Searcher
}

func NewSearchTool(engine Searcher) *SearchTool {
	return &SearchTool{engine: engine}
}

func (t *SearchTool) Contract() Contract {
	return Contract{
		Name: SearchToolName,
		Description: "Search available vehicles. Location and dates come from the conversation; " +
			"pass only filters the user stated this turn. Prior filters are kept automatically.",
		Params: []Param{
			{Name: "vehicleType", Type: TypeString, Description: "Category such as suv, electric, luxury, convertible"},
			{Name: "make", Type: TypeString, Description: "Manufacturer"},
			{Name: "model", Type: TypeString, Description: "Model name"},
			{Name: "priceMin", Type: TypeNumber, Description: "Minimum daily rate in USD"},
			{Name: "priceMax", Type: TypeNumber, Description: "Maximum daily rate in USD"},
			{Name: "seats", Type: TypeInteger, Description: "Minimum seat count"},
			{Name: "transmission", Type: TypeString, Enum: []string{"automatic", "manual"}},
			{Name: "noDeposit", Type: TypeBoolean, Description: "Only vehicles without a security deposit"},
			{Name: "instantBook", Type: TypeBoolean},
			{Name: "rideshareEligible", Type: TypeBoolean},
			{Name: "delivery", Type: TypeBoolean},
			{Name: "lowestPrice", Type: TypeBoolean, Description: "Sort by daily rate"},
		},
	}
}

type searchArgs struct {
	VehicleType       string   `json:"vehicleType"`
	Make              string   `json:"make"`
	Model             string   `json:"model"`
	PriceMin          *float64 `json:"priceMin"`
	PriceMax          *float64 `json:"priceMax"`
	Seats             *int     `json:"seats"`
	Transmission      string   `json:"transmission"`
	NoDeposit         *bool    `json:"noDeposit"`
	InstantBook       *bool    `json:"instantBook"`
	RideshareEligible *bool    `json:"rideshareEligible"`
	Delivery          *bool    `json:"delivery"`
	LowestPrice       *bool    `json:"lowestPrice"`
}

func (a searchArgs) query() query.SearchQuery {
	return query.SearchQuery{
		Category:     a.VehicleType,
		Make:         a.Make,
		Model:        a.Model,
		PriceMin:     optional(a.PriceMin),
		PriceMax:     optional(a.PriceMax),
		Seats:        optional(a.Seats),
		Transmission: a.Transmission,
		NoDeposit:    optional(a.NoDeposit),
		InstantBook:  optional(a.InstantBook),
		Rideshare:    optional(a.RideshareEligible),
		Delivery:     optional(a.Delivery),
		LowestPrice:  optional(a.LowestPrice),
	}
}

// SearchResponse is what the model sees.
type SearchResponse struct {
	Vehicles    []inventory.VehicleSummary `json:"vehicles"`
	Level       int                        `json:"relaxationLevel"`
	Explanation string                     `json:"explanation,omitempty"`
	PriceMax    *float64                   `json:"appliedPriceMax,omitempty"`
}

func (t *SearchTool) Call(ctx context.Context, args map[string]any, ws *Workspace) (any, error) {
	var a searchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	q := ws.Apply(a.query())
	var applied *float64
	if v, ok := q.PriceMax.Get(); ok {
		applied = &v
	}

	res, err := t.engine.Search(ctx, q)
	var zr *relax.ZeroResultError
	switch {
	case err == nil:
		ws.recordSearch(SearchOutcome{Query: q, Result: res})
		return SearchResponse{Vehicles: res.Vehicles, Level: res.Level, Explanation: res.Explanation, PriceMax: applied}, nil
	case errors.As(err, &zr):
		ws.recordSearch(SearchOutcome{Query: q, Err: zr})
		return SearchResponse{Vehicles: []inventory.VehicleSummary{}, Level: relax.LevelMinimal, Explanation: zr.Error(), PriceMax: applied}, nil
	case errors.Is(err, query.ErrIncompleteQuery):
		return nil, err
	}
	wrapped := fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	ws.recordSearch(SearchOutcome{Query: q, Err: wrapped})
	return nil, wrapped
}
