package tools

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Call names one tool invocation.
type Call struct {
	Tool string
	Args map[string]any
}

// DefaultAuxParallelism bounds concurrent auxiliary calls per turn.
const DefaultAuxParallelism = 3

// RunAux executes independent calls with bounded parallelism. The result is aligned with
// calls; a call that failed or timed out leaves nil and the turn proceeds without it.
func (r *Registry) RunAux(ctx context.Context, ws *Workspace, limit int, calls ...Call) []any {
	if limit <= 0 {
		limit = DefaultAuxParallelism
	}
	results := make([]any, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range calls {
		g.Go(func() error {
			res, err := r.Call(gctx, ws, c.Tool, c.Args)
			if err != nil {
				r.log.Info("auxiliary tool omitted", zap.String("tool", c.Tool), zap.Error(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
