package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/remote"
	"github.com/agentic-research/photoman/internal/store"
	"github.com/agentic-research/photoman/internal/tree"
)

const (
	picsH graph.Handle = 1
	jpegH graph.Handle = 2
	nefH  graph.Handle = 3
)

type fixture struct {
	tree   *tree.Cache
	remote *remote.Memory
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	base := t.TempDir()

	s, err := store.Open(filepath.Join(base, "index.db"))
	require.NoError(t, err)
	c, err := tree.Open(ctx, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	r := remote.NewMemory().
		AddFolder(api.RootID, "d1", "Pics").
		AddFile(api.RootID, "f1", "a.jpg", "image/jpeg", []byte("jpeg-bytes")).
		AddFile(api.RootID, "f2", "b.NEF", "image/x-nikon-nef", []byte("nef-bytes"))
	items, err := r.List(ctx, api.RootID)
	require.NoError(t, err)
	_, err = c.RecordChildren(ctx, graph.RootHandle, items)
	require.NoError(t, err)

	return &fixture{tree: c, remote: r, dir: filepath.Join(base, "cache")}
}

// fakeExiv2 writes a shell script that mimics `exiv2 -ep3 -l <dir> <file>`.
func fakeExiv2(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script extractor")
	}
	path := filepath.Join(t.TempDir(), "exiv2")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

const previewScript = `stem=$(basename "$4"); stem=${stem%.*}; printf preview > "$3/$stem-preview3.jpg"`

type recorder struct {
	states []State
}

func (r *recorder) observe(_ graph.Handle, s State) { r.states = append(r.states, s) }

func TestMaterialize_PlainJPEG(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &recorder{}
	p, err := New(f.dir, f.tree, f.remote, WithObserver(rec.observe))
	require.NoError(t, err)

	path, err := p.Materialize(ctx, jpegH)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "2.jpg"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(b))
	assert.Equal(t, []State{Fetching, Plain, Loaded}, rec.states)

	content, err := f.tree.ContentPath(jpegH)
	require.NoError(t, err)
	assert.Equal(t, path, content.Path())

	again, err := p.Materialize(ctx, jpegH)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, f.remote.Fetches("f1"))
}

func TestMaterialize_NEFExtractsPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &recorder{}
	p, err := New(f.dir, f.tree, f.remote,
		WithExtractor(Exiv2Extractor{Bin: fakeExiv2(t, previewScript)}),
		WithObserver(rec.observe))
	require.NoError(t, err)

	path, err := p.Materialize(ctx, nefH)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "3.jpg"), path)
	assert.FileExists(t, filepath.Join(f.dir, "3.nef"))
	assert.NoFileExists(t, filepath.Join(f.dir, "3-preview3.jpg"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "preview", string(b))
	assert.Equal(t, []State{Fetching, RawWithPreview, Loaded}, rec.states)

	loaded, err := f.tree.IsFullyLoaded(nefH)
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestMaterialize_ExtractorFailureIsConversionError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote,
		WithExtractor(Exiv2Extractor{Bin: fakeExiv2(t, "echo corrupt >&2; exit 1")}))
	require.NoError(t, err)

	_, err = p.Materialize(ctx, nefH)
	require.Error(t, err)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageConvert, serr.Stage)
	assert.Equal(t, nefH, serr.Handle)
	assert.ErrorIs(t, err, ErrConversion)
	assert.Contains(t, err.Error(), "corrupt")

	loaded, err := f.tree.IsFullyLoaded(nefH)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestMaterialize_ExtractorWithoutOutput(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote,
		WithExtractor(Exiv2Extractor{Bin: fakeExiv2(t, "exit 0")}))
	require.NoError(t, err)

	_, err = p.Materialize(context.Background(), nefH)
	assert.ErrorIs(t, err, ErrConversion)
}

type stubExtractor struct{ err error }

func (s stubExtractor) Extract(context.Context, string, graph.Handle) (string, error) {
	return "", s.err
}

func TestMaterialize_ForeignExtractorErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote, WithExtractor(stubExtractor{err: errors.New("nope")}))
	require.NoError(t, err)

	_, err = p.Materialize(context.Background(), nefH)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestMaterialize_RawKindsConfigurable(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote, WithRawKinds(), WithExtractor(stubExtractor{err: errors.New("unused")}))
	require.NoError(t, err)

	path, err := p.Materialize(context.Background(), nefH)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "3.nef"), path)
}

func TestMaterialize_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail("f1", errors.New("503"))
	p, err := New(f.dir, f.tree, f.remote)
	require.NoError(t, err)

	_, err = p.Materialize(context.Background(), jpegH)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageFetch, serr.Stage)
	assert.ErrorIs(t, err, remote.ErrRemote)
}

type failingCommit struct {
	*tree.Cache
}

func (failingCommit) RecordContent(context.Context, graph.Handle, string) error {
	return store.ErrPersist
}

func TestMaterialize_CommitFailureLeavesUnloaded(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.dir, failingCommit{f.tree}, f.remote)
	require.NoError(t, err)

	_, err = p.Materialize(context.Background(), jpegH)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageCommit, serr.Stage)
	assert.ErrorIs(t, err, store.ErrPersist)

	loaded, err := f.tree.IsFullyLoaded(jpegH)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestMaterialize_Directory(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote)
	require.NoError(t, err)

	_, err = p.Materialize(context.Background(), picsH)
	assert.ErrorIs(t, err, graph.ErrIsDirectory)
	assert.ErrorIs(t, err, graph.ErrProgramming)
	assert.Equal(t, 0, f.remote.Fetches("d1"))
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := New(f.dir, f.tree, f.remote)
	require.NoError(t, err)

	path, err := p.Materialize(ctx, jpegH)
	require.NoError(t, err)
	require.NoError(t, p.Evict(ctx, jpegH))
	assert.NoFileExists(t, path)

	loaded, err := f.tree.IsFullyLoaded(jpegH)
	require.NoError(t, err)
	assert.False(t, loaded)

	_, err = p.Materialize(ctx, jpegH)
	require.NoError(t, err)
	assert.Equal(t, 2, f.remote.Fetches("f1"))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name, kind, want string
	}{
		{"a.jpg", "image/jpeg", "jpg"},
		{"DSC_0001.NEF", "image/x-nikon-nef", "nef"},
		{"noext", "application/x-unknown-kind", "bin"},
		{"archive.tar.gz", "application/gzip", "gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extension(tt.name, tt.kind))
		})
	}
}

func TestExifThumbnailExtractor_RejectsNonExif(t *testing.T) {
	raw := filepath.Join(t.TempDir(), "5.nef")
	require.NoError(t, os.WriteFile(raw, []byte("not a tiff"), 0o644))

	_, err := ExifThumbnailExtractor{}.Extract(context.Background(), raw, 5)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestNewExtractor(t *testing.T) {
	x, err := NewExtractor("exif", "")
	require.NoError(t, err)
	assert.IsType(t, ExifThumbnailExtractor{}, x)

	x, err = NewExtractor("", "/opt/exiv2")
	require.NoError(t, err)
	assert.Equal(t, Exiv2Extractor{Bin: "/opt/exiv2"}, x)

	_, err = NewExtractor("magick", "")
	assert.Error(t, err)
}
