// Package drive is the facade host surfaces call: children and content of a
// handle, loaded from the remote service at most once.
package drive

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/materialize"
	"github.com/agentic-research/photoman/internal/metrics"
	"github.com/agentic-research/photoman/internal/remote"
	"github.com/agentic-research/photoman/internal/store"
	"github.com/agentic-research/photoman/internal/tree"
)

const DefaultPrefetchConcurrency = 4

// Options configures Open.
type Options struct {
	Pipeline            []materialize.Option
	PrefetchConcurrency int
}

// Option is a functional option for Open.
type Option func(*Options)

// WithPipelineOptions forwards options to the materialization pipeline.
func WithPipelineOptions(opts ...materialize.Option) Option {
	return func(o *Options) { o.Pipeline = append(o.Pipeline, opts...) }
}

// WithPrefetchConcurrency bounds the number of parallel downloads in Prefetch.
func WithPrefetchConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.PrefetchConcurrency = n
		}
	}
}

// Drive serves handles out of the tree cache, consulting the remote service
// only for nodes that are not fully loaded.
type Drive struct {
	tree        *tree.Cache
	remote      remote.Remote
	pipe        *materialize.Pipeline
	flight      singleflight.Group
	concurrency int
	log         *zap.Logger
}

// Open opens the durable store at dbPath, replays it, and prepares the
// pipeline to write content under contentDir.
func Open(ctx context.Context, dbPath, contentDir string, r remote.Remote, opts ...Option) (*Drive, error) {
	o := &Options{PrefetchConcurrency: DefaultPrefetchConcurrency}
	for _, opt := range opts {
		opt(o)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	t, err := tree.Open(ctx, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	p, err := materialize.New(contentDir, t, r, o.Pipeline...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return New(t, r, p, o.PrefetchConcurrency), nil
}

// New assembles a Drive from already-open parts.
func New(t *tree.Cache, r remote.Remote, p *materialize.Pipeline, concurrency int) *Drive {
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}
	metrics.SetEntries(t.Len())
	return &Drive{
		tree:        t,
		remote:      r,
		pipe:        p,
		concurrency: concurrency,
		log:         logging.Named("drive"),
	}
}

// Close closes the durable store.
func (d *Drive) Close() error {
	return d.tree.Close()
}

// Tree exposes the underlying cache for read-only inspection.
func (d *Drive) Tree() *tree.Cache { return d.tree }

// Pipeline exposes the materialization pipeline (sweep, content dir).
func (d *Drive) Pipeline() *materialize.Pipeline { return d.pipe }

// GetChildren returns the children of directory h, listing the remote folder
// only the first time. Concurrent first calls share one listing.
func (d *Drive) GetChildren(ctx context.Context, h graph.Handle) ([]graph.Handle, error) {
	set, err := d.tree.ChildrenOf(h)
	if err != nil {
		return nil, err
	}
	if set.Loaded() {
		metrics.RecordCacheHit("children")
		return set.Handles(), nil
	}

	v, err, _ := d.flight.Do(fmt.Sprintf("children/%d", h), func() (any, error) {
		// Another flight may have finished between the check above and here.
		set, err := d.tree.ChildrenOf(h)
		if err != nil {
			return nil, err
		}
		if set.Loaded() {
			return set.Handles(), nil
		}
		rid, err := d.tree.RemoteID(h)
		if err != nil {
			return nil, err
		}
		items, err := d.remote.List(ctx, rid)
		if err != nil {
			d.log.Warn("list failed", logging.Handle(h), zap.Error(err))
			return nil, err
		}
		hs, err := d.tree.RecordChildren(ctx, h, items)
		if err != nil {
			return nil, err
		}
		metrics.SetEntries(d.tree.Len())
		return hs, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]graph.Handle)
	out := make([]graph.Handle, len(shared))
	copy(out, shared)
	return out, nil
}

// GetContentPath returns the local path of leaf h, materializing it the
// first time. Concurrent first calls share one download.
func (d *Drive) GetContentPath(ctx context.Context, h graph.Handle) (string, error) {
	c, err := d.tree.ContentPath(h)
	if err != nil {
		return "", err
	}
	if c.Loaded() {
		metrics.RecordCacheHit("content")
		return c.Path(), nil
	}

	v, err, _ := d.flight.Do(fmt.Sprintf("content/%d", h), func() (any, error) {
		return d.pipe.Materialize(ctx, h)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forgets what was loaded for h so the next request goes back to
// the remote service: a directory's listing, or a leaf's local files.
// Entries themselves are never removed.
func (d *Drive) Invalidate(ctx context.Context, h graph.Handle) error {
	isDir, err := d.tree.IsDir(h)
	if err != nil {
		return err
	}
	if isDir {
		err = d.tree.ClearChildren(ctx, h)
	} else {
		err = d.pipe.Evict(ctx, h)
	}
	if err != nil {
		return err
	}
	d.log.Info("invalidated", logging.Handle(h), zap.Bool("dir", isDir))
	return nil
}

// Resolve walks a slash-separated path from the root, listing directories
// on the way as needed. "" and "/" resolve to the root. When two siblings
// share a name the lower handle wins.
func (d *Drive) Resolve(ctx context.Context, path string) (graph.Handle, error) {
	cur := graph.RootHandle
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if _, err := d.GetChildren(ctx, cur); err != nil {
			return 0, err
		}
		next, ok, err := d.tree.Lookup(cur, part)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", os.ErrNotExist, path)
		}
		cur = next
	}
	return cur, nil
}

// Children returns copies of the child entries of h in handle order.
func (d *Drive) Children(ctx context.Context, h graph.Handle) ([]graph.Entry, error) {
	hs, err := d.GetChildren(ctx, h)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Entry, 0, len(hs))
	for _, ch := range hs {
		e, err := d.tree.Entry(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *Drive) Entry(h graph.Handle) (graph.Entry, error) { return d.tree.Entry(h) }

func (d *Drive) Name(h graph.Handle) (string, error) { return d.tree.Name(h) }

func (d *Drive) Parent(h graph.Handle) (graph.Handle, error) { return d.tree.Parent(h) }

func (d *Drive) IsDir(h graph.Handle) (bool, error) { return d.tree.IsDir(h) }

func (d *Drive) Kind(h graph.Handle) (string, error) { return d.tree.Kind(h) }

func (d *Drive) IsFullyLoaded(h graph.Handle) (bool, error) { return d.tree.IsFullyLoaded(h) }
