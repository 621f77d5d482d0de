package kldd

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// InspectAll inspects paths with up to jobs files in flight and returns the
// reports in input order.
//
// With jobs <= 1 files are processed one after the other. The only error
// returned is ctx's; per-file failures stay in each report.
func (in *Inspector) InspectAll(ctx context.Context, paths []string, jobs int) ([]*Report, error) {
	reports := make([]*Report, len(paths))

	if jobs <= 1 {
		for i, p := range paths {
			if err := ctx.Err(); err != nil {
				return reports[:i], err
			}
			reports[i] = in.Inspect(p)
		}
		return reports, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = in.Inspect(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
