package materialize

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/photoman/internal/graph"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote)
	require.NoError(t, err)

	committed, err := p.Materialize(ctx, jpegH)
	require.NoError(t, err)

	// A crashed NEF run: raw written, never committed.
	touch(t, filepath.Join(f.dir, "3.nef"))
	touch(t, filepath.Join(f.dir, "3-preview3.jpg"))
	touch(t, filepath.Join(f.dir, "2.jpg.part"))
	touch(t, filepath.Join(f.dir, "notes.txt"))

	report, err := p.Sweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(f.dir, "3.nef"),
		filepath.Join(f.dir, "3-preview3.jpg"),
		filepath.Join(f.dir, "2.jpg.part"),
	}, report.Removed)
	assert.Empty(t, report.Cleared)

	assert.FileExists(t, committed)
	assert.FileExists(t, filepath.Join(f.dir, "notes.txt"))
}

func TestSweep_ClearsMissingCommittedFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote)
	require.NoError(t, err)

	path, err := p.Materialize(ctx, jpegH)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	report, err := p.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.Handle{jpegH}, report.Cleared)

	loaded, err := f.tree.IsFullyLoaded(jpegH)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestHandleOf(t *testing.T) {
	tests := []struct {
		name string
		want graph.Handle
		ok   bool
	}{
		{"12.nef", 12, true},
		{"12.jpg.part", 12, true},
		{"12-preview3.jpg", 12, true},
		{"index.db", 0, false},
		{".lock", 0, false},
		{"x12.jpg", 0, false},
		{"12", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := handleOf(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, h)
		})
	}
}
