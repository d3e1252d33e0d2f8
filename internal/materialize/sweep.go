package materialize

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Removed []string       // orphaned files deleted
	Cleared []graph.Handle // committed paths whose file was gone
}

// Sweep reconciles the content directory with the tree. It removes .part
// leftovers and <handle>.* files of handles with no committed content, and
// clears committed content whose file no longer exists so the next request
// re-fetches it. Files not named after a handle are left alone.
//
// Run it before serving requests; it does not coordinate with in-flight
// materializations.
func (p *Pipeline) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	committed := make(map[graph.Handle]string)
	for _, e := range p.tree.Snapshot() {
		if e.IsDir || !e.Content.Loaded() {
			continue
		}
		if _, err := os.Stat(e.Content.Path()); err != nil {
			if err := p.tree.ClearContent(ctx, e.Handle); err != nil {
				return report, err
			}
			p.log.Warn("committed file missing, cleared", logging.Handle(e.Handle), zap.String("path", e.Content.Path()))
			report.Cleared = append(report.Cleared, e.Handle)
			continue
		}
		committed[e.Handle] = e.Content.Path()
	}

	des, err := os.ReadDir(p.dir)
	if err != nil {
		return report, err
	}
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		h, ok := handleOf(name)
		if !ok {
			continue
		}
		_, keep := committed[h]
		if keep && !strings.HasSuffix(name, partSuffix) {
			continue
		}
		path := filepath.Join(p.dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return report, err
		}
		report.Removed = append(report.Removed, path)
	}

	p.log.Info("sweep complete", zap.Int("removed", len(report.Removed)), zap.Int("cleared", len(report.Cleared)))
	return report, nil
}

// handleOf parses the leading handle of a cache file name such as "12.nef",
// "12.jpg.part" or "12-preview3.jpg".
func handleOf(name string) (graph.Handle, bool) {
	i := strings.IndexAny(name, ".-")
	if i <= 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(name[:i], 10, 32)
	if err != nil {
		return 0, false
	}
	return graph.Handle(v), true
}
