package drive

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
)

// PrefetchReport counts the outcome of one Prefetch.
type PrefetchReport struct {
	Directories  int
	Materialized int64
	Failed       int64
}

// Prefetch lists h and its subdirectories down to depth levels below h,
// then materializes every leaf found with bounded parallelism. depth 0 only
// covers h's direct children. A leaf h is materialized on its own.
//
// Failures of individual leaves do not stop the others; their errors are
// joined into the returned error.
func (d *Drive) Prefetch(ctx context.Context, h graph.Handle, depth int) (PrefetchReport, error) {
	var report PrefetchReport

	isDir, err := d.tree.IsDir(h)
	if err != nil {
		return report, err
	}

	var leaves []graph.Handle
	if !isDir {
		leaves = []graph.Handle{h}
	} else {
		level := []graph.Handle{h}
		for lvl := 0; lvl <= depth && len(level) > 0; lvl++ {
			var next []graph.Handle
			for _, dir := range level {
				hs, err := d.GetChildren(ctx, dir)
				if err != nil {
					return report, err
				}
				report.Directories++
				for _, ch := range hs {
					chDir, err := d.tree.IsDir(ch)
					if err != nil {
						return report, err
					}
					if chDir {
						next = append(next, ch)
					} else {
						leaves = append(leaves, ch)
					}
				}
			}
			level = next
		}
	}

	var ok, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(d.concurrency).WithContext(ctx)
	for _, leaf := range leaves {
		p.Go(func(ctx context.Context) error {
			if _, err := d.GetContentPath(ctx, leaf); err != nil {
				failed.Add(1)
				return err
			}
			ok.Add(1)
			return nil
		})
	}
	err = p.Wait()

	report.Materialized = ok.Load()
	report.Failed = failed.Load()
	d.log.Info("prefetch complete", logging.Handle(h),
		zap.Int("directories", report.Directories),
		zap.Int64("materialized", report.Materialized),
		zap.Int64("failed", report.Failed))
	return report, err
}
