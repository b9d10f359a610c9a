package async

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

// Map applies fn to every item with at most workers calls in flight.
// Results and errors are indexed like items. A panic in fn becomes that
// item's error. Once ctx is done, items not yet started fail with
// ctx.Err(); calls already running are waited for.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					errs[i] = observability.MustRecover(r)
				}
			}()
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
