// README: Progressive relaxation: loosen restrictive filters level by level until inventory returns results.
package relax

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"roam/internal/modules/inventory"
	"roam/internal/modules/query"
)

const (
	LevelNone     = 0
	LevelPrice    = 1
	LevelCategory = 2
	LevelMake     = 3
	LevelMinimal  = 4
)

// Inventory executes a composed predicate set.
type Inventory interface {
	Query(ctx context.Context, set query.PredicateSet) ([]inventory.VehicleSummary, error)
}

// Step is one planned query. Removed accumulates every constraint dropped so far.
type Step struct {
	Level   int
	Query   query.SearchQuery
	Removed []string
}

type Attempt struct {
	Level   int `json:"level"`
	Results int `json:"results"`
}

type FallbackResult struct {
	Level       int                        `json:"level"`
	Vehicles    []inventory.VehicleSummary `json:"vehicles"`
	Explanation string                     `json:"explanation,omitempty"`
	Removed     []string                   `json:"removed,omitempty"`
	Query       query.SearchQuery          `json:"query"`
	Attempts    []Attempt                  `json:"attempts"`
}

// Relaxed reports whether any constraint was loosened.
func (r FallbackResult) Relaxed() bool {
	return r.Level > LevelNone
}

// ZeroResultError means even the minimal query found nothing.
type ZeroResultError struct {
	Query       query.SearchQuery
	Explanation string
	Attempts    []Attempt
}

func (e *ZeroResultError) Error() string {
	msg := fmt.Sprintf("no availability in %s from %s to %s", e.Query.Location, e.Query.StartDate, e.Query.EndDate)
	if e.Explanation != "" {
		msg += " (" + e.Explanation + ")"
	}
	return msg
}

type Engine struct {
	composer *query.Composer
	inv      Inventory
	log      *zap.Logger
}

func NewEngine(c *query.Composer, inv Inventory, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{composer: c, inv: inv, log: log}
}

// Plan returns the queries Search would try, in order. Levels that drop nothing are
// skipped, and a relaxed query equal to the minimal one is reported as level 4.
func (e *Engine) Plan(q query.SearchQuery) []Step {
	q = e.composer.Normalize(q)
	steps := []Step{{Level: LevelNone, Query: q}}
	if !q.HasRestrictiveFilters() {
		return steps
	}

	stages := []struct {
		level int
		relax func(query.SearchQuery) (query.SearchQuery, []string)
	}{
		{LevelPrice, dropPrice},
		{LevelCategory, e.dropCategory},
		{LevelMake, dropMake},
		{LevelMinimal, dropRest},
	}
	cur := q
	var removed []string
	for _, st := range stages {
		next, dropped := st.relax(cur)
		if len(dropped) == 0 {
			continue
		}
		removed = append(removed, dropped...)
		cur = next
		level := st.level
		if cur.Unconstrained() {
			level = LevelMinimal
		}
		steps = append(steps, Step{Level: level, Query: cur, Removed: append([]string(nil), removed...)})
		if level == LevelMinimal {
			break
		}
	}
	return steps
}

func dropPrice(q query.SearchQuery) (query.SearchQuery, []string) {
	var dropped []string
	if q.PriceMin.Valid {
		dropped = append(dropped, "minimum price")
	}
	if q.PriceMax.Valid {
		dropped = append(dropped, "maximum price")
	}
	return q.Clear(query.FieldPrice), dropped
}

func (e *Engine) dropCategory(q query.SearchQuery) (query.SearchQuery, []string) {
	if q.Category == "" {
		return q, nil
	}
	return q.Clear(query.FieldCategory), []string{e.composer.Label(q.Category) + " type"}
}

func dropMake(q query.SearchQuery) (query.SearchQuery, []string) {
	var dropped []string
	if q.Make != "" {
		dropped = append(dropped, q.Make+" make")
	}
	if q.Model != "" {
		dropped = append(dropped, q.Model+" model")
	}
	return q.Clear(query.FieldMake), dropped
}

// dropRest keeps location and dates only. The sort preference survives since it excludes nothing.
func dropRest(q query.SearchQuery) (query.SearchQuery, []string) {
	next := q.Minimal()
	next.LowestPrice = q.LowestPrice
	return next, minimalDrops(q)
}

func minimalDrops(q query.SearchQuery) []string {
	var out []string
	if n, ok := q.Seats.Get(); ok {
		out = append(out, fmt.Sprintf("%d-seat", n))
	}
	if q.Transmission != "" {
		out = append(out, q.Transmission+" transmission")
	}
	if q.NoDeposit.Is(true) {
		out = append(out, "no-deposit")
	}
	if q.InstantBook.Is(true) {
		out = append(out, "instant-book")
	}
	if q.Rideshare.Is(true) {
		out = append(out, "rideshare")
	}
	if q.Delivery.Is(true) {
		out = append(out, "delivery")
	}
	return out
}

// Search runs the plan and returns the first level with at least one vehicle.
func (e *Engine) Search(ctx context.Context, q query.SearchQuery) (FallbackResult, error) {
	steps := e.Plan(q)
	attempts := make([]Attempt, 0, len(steps))
	for _, step := range steps {
		set, err := e.composer.Compose(step.Query)
		if err != nil {
			return FallbackResult{}, err
		}
		vehicles, err := e.inv.Query(ctx, set)
		if err != nil {
			return FallbackResult{}, fmt.Errorf("inventory query at level %d: %w", step.Level, err)
		}
		attempts = append(attempts, Attempt{Level: step.Level, Results: len(vehicles)})
		e.log.Debug("relaxation attempt",
			zap.Int("level", step.Level),
			zap.Int("results", len(vehicles)),
			zap.Strings("removed", step.Removed),
		)
		if len(vehicles) == 0 {
			continue
		}
		return FallbackResult{
			Level:       step.Level,
			Vehicles:    vehicles,
			Explanation: Explain(step.Removed),
			Removed:     step.Removed,
			Query:       step.Query,
			Attempts:    attempts,
		}, nil
	}
	last := steps[len(steps)-1]
	return FallbackResult{}, &ZeroResultError{
		Query:       last.Query,
		Explanation: Explain(last.Removed),
		Attempts:    attempts,
	}
}

// Explain renders "removed maximum price, SUV type, and Bugatti make filters".
func Explain(removed []string) string {
	switch len(removed) {
	case 0:
		return ""
	case 1:
		return "removed " + removed[0] + " filter"
	case 2:
		return "removed " + removed[0] + " and " + removed[1] + " filters"
	}
	return "removed " + strings.Join(removed[:len(removed)-1], ", ") + ", and " + removed[len(removed)-1] + " filters"
}
