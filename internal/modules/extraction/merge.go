// README: Merges Layer 1 (model) and Layer 2 (detector) signals, then overlays the result on prior filters.
package extraction

import (
	"roam/internal/modules/intent"
	"roam/internal/modules/query"
	"roam/internal/types"
)

// Merge backfills l1 from the detector. A flag the model left unset or false becomes true
// on a positive detection; a true flag is never downgraded. The category is only gap-filled.
func Merge(l1 query.SearchQuery, d intent.DetectedIntents) query.SearchQuery {
	out := l1
	out.NoDeposit = backfill(l1.NoDeposit, d.NoDeposit)
	out.LowestPrice = backfill(l1.LowestPrice, d.LowestPrice)
	out.InstantBook = backfill(l1.InstantBook, d.InstantBook)
	out.Delivery = backfill(l1.Delivery, d.Delivery)
	out.Rideshare = backfill(l1.Rideshare, d.Rideshare)
	if out.Category == "" {
		out.Category = d.Category()
	}
	return out
}

func backfill(o types.Optional[bool], detected bool) types.Optional[bool] {
	if detected && !o.Is(true) {
		return types.Some(true)
	}
	return o
}

// Result is one turn's extraction.
type Result struct {
	Candidate Candidate
	Detected  intent.DetectedIntents
	// Turn is this message's filters after backfill.
	Turn query.SearchQuery
	// Filters is Turn overlaid on the prior filters, after any explicit clears.
	Filters query.SearchQuery
	Cleared []query.Field
}

// Run parses raw model output and merges it with detected intents and prior filters.
// A parse failure returns *Error and no Result.
func Run(raw []byte, detected intent.DetectedIntents, prior query.SearchQuery) (Result, error) {
	c, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	return Combine(c, detected, prior), nil
}

// Combine is Run for an already parsed candidate.
func Combine(c Candidate, detected intent.DetectedIntents, prior query.SearchQuery) Result {
	turn := Merge(c.Query(), detected)
	cleared := c.Cleared()
	return Result{
		Candidate: c,
		Detected:  detected,
		Turn:      turn,
		Filters:   query.Merge(prior.Clear(cleared...), turn),
		Cleared:   cleared,
	}
}

// DetectorOnly builds a result when the model is unavailable: the detector's signals
// merged over prior filters, with no reply, action or booking fields.
func DetectorOnly(detected intent.DetectedIntents, prior query.SearchQuery) Result {
	return Combine(Candidate{}, detected, prior)
}
