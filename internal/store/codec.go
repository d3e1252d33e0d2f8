package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/photoman/internal/graph"
)

// FormatHandles renders handles as the comma-joined text stored in the
// children column. An empty list renders as "" (loaded, no children), which
// is distinct from NULL (not loaded).
func FormatHandles(hs []graph.Handle) string {
	var b strings.Builder
	for i, h := range hs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(h), 10))
	}
	return b.String()
}

// ParseHandles is the inverse of FormatHandles. Surrounding whitespace around
// each element is tolerated; anything else that is not a uint32 fails.
func ParseHandles(s string) ([]graph.Handle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []graph.Handle{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]graph.Handle, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse handle %q: %w", p, err)
		}
		out = append(out, graph.Handle(v))
	}
	return out, nil
}
