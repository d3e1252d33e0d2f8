// Package materialize fetches leaf content into the local cache directory,
// normalizes raw camera files to JPEG, and commits the resulting path.
package materialize

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/metrics"
	"github.com/agentic-research/photoman/internal/remote"
)

// DefaultRawKinds are the MIME types normalized through the Extractor.
var DefaultRawKinds = []string{"image/x-nikon-nef"}

const partSuffix = ".part"

// State is the load state of one leaf as it moves through the pipeline.
type State int

const (
	Unloaded State = iota
	Fetching
	Plain
	RawWithPreview
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Fetching:
		return "fetching"
	case Plain:
		return "plain"
	case RawWithPreview:
		return "raw-with-preview"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tree is the part of the tree cache the pipeline reads and commits to.
type Tree interface {
	Entry(h graph.Handle) (graph.Entry, error)
	RecordContent(ctx context.Context, h graph.Handle, path string) error
	ClearContent(ctx context.Context, h graph.Handle) error
	Snapshot() []graph.Entry
}

// Options configures a Pipeline.
type Options struct {
	Extractor Extractor
	RawKinds  []string
	Observer  func(h graph.Handle, s State)
}

// Option is a functional option for New.
type Option func(*Options)

// WithExtractor replaces the default exiv2 extractor.
func WithExtractor(x Extractor) Option {
	return func(o *Options) {
		if x != nil {
			o.Extractor = x
		}
	}
}

// WithRawKinds sets which MIME types are treated as raw containers.
func WithRawKinds(kinds ...string) Option {
	return func(o *Options) { o.RawKinds = kinds }
}

// WithObserver is called on every state transition. Used by tests and
// progress reporting.
func WithObserver(fn func(h graph.Handle, s State)) Option {
	return func(o *Options) { o.Observer = fn }
}

// Pipeline materializes leaves. It does not serialize callers: two
// concurrent calls for the same handle would both fetch, so the caller
// de-duplicates.
type Pipeline struct {
	dir       string
	tree      Tree
	remote    remote.Remote
	extractor Extractor
	rawKinds  map[string]bool
	observe   func(graph.Handle, State)
	log       *zap.Logger
}

// New creates dir if needed and returns a pipeline writing into it.
func New(dir string, t Tree, r remote.Remote, opts ...Option) (*Pipeline, error) {
	o := &Options{Extractor: Exiv2Extractor{}, RawKinds: DefaultRawKinds}
	for _, opt := range opts {
		opt(o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	kinds := make(map[string]bool, len(o.RawKinds))
	for _, k := range o.RawKinds {
		kinds[k] = true
	}
	observe := o.Observer
	if observe == nil {
		observe = func(graph.Handle, State) {}
	}
	return &Pipeline{
		dir:       dir,
		tree:      t,
		remote:    r,
		extractor: o.Extractor,
		rawKinds:  kinds,
		observe:   observe,
		log:       logging.Named("materialize"),
	}, nil
}

// Dir is the content directory.
func (p *Pipeline) Dir() string { return p.dir }

// IsRaw reports whether kind goes through the extractor.
func (p *Pipeline) IsRaw(kind string) bool { return p.rawKinds[kind] }

// Materialize returns the local path of leaf h, fetching and normalizing it
// first if needed. The entry reports fully loaded only after the path has
// been committed.
func (p *Pipeline) Materialize(ctx context.Context, h graph.Handle) (string, error) {
	e, err := p.tree.Entry(h)
	if err != nil {
		return "", err
	}
	if e.IsDir {
		return "", fmt.Errorf("%w: handle %d", graph.ErrIsDirectory, h)
	}
	if e.Content.Loaded() {
		return e.Content.Path(), nil
	}

	start := time.Now()
	p.observe(h, Fetching)

	rc, err := p.remote.Fetch(ctx, e.RemoteID)
	if err != nil {
		return "", p.fail(StageFetch, h, err)
	}
	rawPath := filepath.Join(p.dir, fmt.Sprintf("%d.%s", h, extension(e.Name, e.Kind)))
	n, err := writeAtomic(rawPath, rc)
	_ = rc.Close()
	if err != nil {
		return "", p.fail(StageWrite, h, err)
	}
	metrics.RecordContentDownload(n)

	final := rawPath
	if p.rawKinds[e.Kind] {
		p.observe(h, RawWithPreview)
		final, err = p.extractor.Extract(ctx, rawPath, h)
		metrics.RecordExtraction(err)
		if err != nil {
			return "", p.fail(StageConvert, h, err)
		}
	} else {
		p.observe(h, Plain)
	}

	if err := p.tree.RecordContent(ctx, h, final); err != nil {
		return "", p.fail(StageCommit, h, err)
	}
	p.observe(h, Loaded)

	elapsed := time.Since(start)
	metrics.RecordMaterialize(e.Kind, elapsed)
	p.log.Info("materialized", logging.Handle(h),
		zap.String("kind", e.Kind), zap.String("path", final),
		zap.Int64("bytes", n), zap.Duration("elapsed", elapsed))
	return final, nil
}

// Evict returns leaf h to not loaded and removes its files. The durable
// row is cleared before any file is touched.
func (p *Pipeline) Evict(ctx context.Context, h graph.Handle) error {
	if err := p.tree.ClearContent(ctx, h); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(p.dir, fmt.Sprintf("%d.*", h)))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			p.log.Warn("remove evicted file", logging.Handle(h), zap.Error(err))
		}
	}
	p.log.Debug("evicted", logging.Handle(h), zap.Int("files", len(matches)))
	return nil
}

func (p *Pipeline) fail(s Stage, h graph.Handle, err error) error {
	p.observe(h, Unloaded)
	serr := stageErr(s, h, err)
	p.log.Warn("materialize failed", logging.Handle(h), zap.Stringer("stage", s), zap.Error(err))
	return serr
}

// extension picks the cache file extension: the name's own, else the MIME
// type's registered one, else "bin".
func extension(name, kind string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" && !strings.ContainsAny(ext, `/\ `) {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(kind); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// writeAtomic streams r to path through a sibling .part file so a crash
// never leaves a truncated file under the final name.
func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp := path + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write content: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return n, nil
}
