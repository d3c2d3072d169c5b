// README: Per-turn working context shared by tool calls (prior filters, budget bound, last search).
package tools

import (
	"context"
	"errors"
	"sync"

	"roam/internal/modules/query"
	"roam/internal/modules/relax"
	"roam/internal/types"
)

// SearchOutcome is the last search_vehicles execution.
type SearchOutcome struct {
	Query  query.SearchQuery
	Result relax.FallbackResult
	Err    error
}

// Workspace lives for one turn. Safe for concurrent tool calls.
type Workspace struct {
	mu            sync.Mutex
	prior         query.SearchQuery
	budget        types.Optional[float64]
	budgetPending bool
	search        *SearchOutcome
	records       []Record
	risk          RiskInput
}

// NewWorkspace starts a turn from the filters established so far, including location and dates.
func NewWorkspace(prior query.SearchQuery) *Workspace {
	return &Workspace{prior: prior}
}

func (w *Workspace) Prior() query.SearchQuery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prior
}

// SetPrior replaces the base filters, e.g. once the model's extraction has been merged.
func (w *Workspace) SetPrior(q query.SearchQuery) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prior = q
}

// Budget is the daily bound computed by the calculator this turn, if any.
func (w *Workspace) Budget() types.Optional[float64] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.budget
}

func (w *Workspace) setBudget(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.budget = types.Some(v)
	w.budgetPending = true
}

// Apply overlays q on the prior filters. A computed budget overrides any price bound in q.
func (w *Workspace) Apply(q query.SearchQuery) query.SearchQuery {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := query.Merge(w.prior, q)
	if v, ok := w.budget.Get(); ok {
		out.PriceMax = types.Some(v)
	}
	return out
}

// NeedsFollowUpSearch reports a budget computed after the last search.
func (w *Workspace) NeedsFollowUpSearch() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.budgetPending
}

// SetRiskInput supplies the caller facts score_risk reads.
func (w *Workspace) SetRiskInput(in RiskInput) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.risk = in
}

func (w *Workspace) RiskInput() RiskInput {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.risk
}

func (w *Workspace) LastSearch() *SearchOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.search == nil {
		return nil
	}
	s := *w.search
	return &s
}

func (w *Workspace) recordSearch(s SearchOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.search = &s
	w.budgetPending = false
}

func (w *Workspace) record(r Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
}

func (w *Workspace) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.records...)
}

// Finalize enforces the budget chain: a budget computed without a later search
// triggers one carrying the bound and every prior filter.
func (r *Registry) Finalize(ctx context.Context, ws *Workspace) error {
	if !ws.NeedsFollowUpSearch() || !ws.Prior().HasLocationAndDates() || !r.Has(SearchToolName) {
		return nil
	}
	_, err := r.Call(ctx, ws, SearchToolName, nil)
	return err
}

// EnsureSearch returns a search for q, reusing the turn's last search when it ran the same
// query. Zero results are reported in the outcome's Err, not as an error.
func (r *Registry) EnsureSearch(ctx context.Context, ws *Workspace, q query.SearchQuery) (SearchOutcome, error) {
	ws.SetPrior(q)
	want := ws.Apply(query.SearchQuery{})
	if last := ws.LastSearch(); last != nil && last.Query == want && !errors.Is(last.Err, ErrSearchUnavailable) {
		return *last, nil
	}
	_, err := r.Call(ctx, ws, SearchToolName, nil)
	if last := ws.LastSearch(); last != nil && last.Query == want {
		return *last, err
	}
	return SearchOutcome{Query: want, Err: err}, err
}
