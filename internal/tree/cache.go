// Package tree composes the in-memory entry table with the durable store.
// Every mutation is written through to the store first; memory changes only
// after the write commits, so a failed call leaves both sides untouched.
package tree

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/store"
)

// Durable is what the cache needs from persistent storage.
// *store.SQLiteStore satisfies it.
type Durable interface {
	store.Writer
	LoadAll(ctx context.Context) ([]*graph.Entry, error)
	AppendRoot(ctx context.Context) (*graph.Entry, error)
	WithTx(ctx context.Context, fn func(w store.Writer) error) error
	Close() error
}

// Cache is the goroutine-safe tree of cached remote nodes.
type Cache struct {
	mu      sync.RWMutex
	entries *graph.EntryStore
	durable Durable
	log     *zap.Logger
}

// Open replays the durable store into memory. An empty store is bootstrapped
// with the root directory.
func Open(ctx context.Context, d Durable) (*Cache, error) {
	c := &Cache{
		entries: graph.NewEntryStore(),
		durable: d,
		log:     logging.Named("tree"),
	}

	rows, err := d.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	if len(rows) == 0 {
		root, err := d.AppendRoot(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.entries.Insert(root); err != nil {
			return nil, err
		}
		c.log.Info("bootstrapped empty store")
		return c, nil
	}

	for _, e := range rows {
		if err := c.entries.Insert(e); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}

	root, err := c.entries.Get(graph.RootHandle)
	if err != nil {
		return nil, fmt.Errorf("replay: root missing: %w", err)
	}
	if !root.IsDir {
		return nil, fmt.Errorf("replay: root %w", graph.ErrNotDirectory)
	}

	// A children set naming a handle that was never persisted cannot be
	// served. Drop it back to not loaded; the next listing rewrites it.
	c.entries.Range(func(e *graph.Entry) bool {
		if !e.IsDir || !e.Children.Loaded() {
			return true
		}
		for _, ch := range e.Children.Handles() {
			if _, err := c.entries.Get(ch); err != nil {
				c.log.Warn("children reference unknown handle, marking not loaded",
					logging.Handle(e.Handle), zap.Uint32("child", uint32(ch)))
				e.Children = graph.ChildSet{}
				break
			}
		}
		return true
	})

	c.log.Info("replayed store", zap.Int("entries", c.entries.Len()))
	return c, nil
}

// Close closes the durable store.
func (c *Cache) Close() error {
	return c.durable.Close()
}

// Len is the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// IsFullyLoaded reports whether h needs no further remote call.
func (c *Cache) IsFullyLoaded(h graph.Handle) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.IsFullyLoaded(h)
}

// RecordChildren resolves or creates an entry for every item, then marks
// parent's children as exactly that set. New rows and the parent's children
// column are written in one transaction.
//
// Items with an empty remote id are skipped and duplicates within one
// listing collapse. An item already known under a different parent keeps its
// original parent but is still listed here.
//
// If parent is already loaded the call is a no-op returning the current set.
func (c *Cache) RecordChildren(ctx context.Context, parent graph.Handle, items []api.RemoteItem) ([]graph.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.entries.Get(parent)
	if err != nil {
		return nil, err
	}
	if !p.IsDir {
		return nil, fmt.Errorf("%w: handle %d", graph.ErrNotDirectory, parent)
	}
	if p.Children.Loaded() {
		c.log.Debug("children already recorded", logging.Handle(parent))
		return p.Children.Handles(), nil
	}

	var (
		known   []graph.Handle
		created []*graph.Entry
		seen    = make(map[string]struct{}, len(items))
	)
	for _, it := range items {
		if it.RemoteID == "" {
			c.log.Warn("skipping listing item without id", logging.Handle(parent), zap.String("name", it.Name))
			continue
		}
		if _, dup := seen[it.RemoteID]; dup {
			continue
		}
		seen[it.RemoteID] = struct{}{}

		if h, ok := c.entries.Resolve(it.RemoteID); ok {
			if e, _ := c.entries.Get(h); e != nil && e.Parent != parent {
				c.log.Warn("item listed under a second parent, keeping first",
					logging.Handle(h), zap.Uint32("parent", uint32(e.Parent)), zap.Uint32("listed_under", uint32(parent)))
			}
			known = append(known, h)
			continue
		}
		created = append(created, graph.NewEntry(it.Name, it.RemoteID, it.Kind, parent))
	}

	var children graph.ChildSet
	err = c.durable.WithTx(ctx, func(w store.Writer) error {
		hs := append([]graph.Handle(nil), known...)
		for _, e := range created {
			h, err := w.Append(ctx, e)
			if err != nil {
				return err
			}
			e.Handle = h
			hs = append(hs, h)
		}
		children = graph.LoadedChildren(hs...)
		return w.UpdateChildren(ctx, parent, children)
	})
	if err != nil {
		c.log.Error("record children failed", logging.Handle(parent), zap.Error(err))
		return nil, err
	}

	for _, e := range created {
		if err := c.entries.Insert(e); err != nil {
			// Memory and disk disagree on numbering; nothing sensible to do.
			return nil, fmt.Errorf("insert committed entry %s: %w", e, err)
		}
	}
	p.Children = children

	c.log.Debug("recorded children", logging.Handle(parent),
		zap.Int("count", children.Len()), zap.Int("new", len(created)))
	return children.Handles(), nil
}

// ClearChildren returns h to not loaded. Child entries stay in the table.
func (c *Cache) ClearChildren(ctx context.Context, h graph.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return err
	}
	if !e.IsDir {
		return fmt.Errorf("%w: handle %d", graph.ErrNotDirectory, h)
	}
	if err := c.durable.UpdateChildren(ctx, h, graph.ChildSet{}); err != nil {
		return err
	}
	return c.entries.ClearChildren(h)
}

// RecordContent marks leaf h as materialized at path.
func (c *Cache) RecordContent(ctx context.Context, h graph.Handle, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return err
	}
	if e.IsDir {
		return fmt.Errorf("%w: handle %d", graph.ErrIsDirectory, h)
	}
	if err := c.durable.UpdateContentPath(ctx, h, graph.LoadedContent(path)); err != nil {
		return err
	}
	return c.entries.SetContent(h, path)
}

// ClearContent returns leaf h to not loaded. The file itself is not touched.
func (c *Cache) ClearContent(ctx context.Context, h graph.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return err
	}
	if e.IsDir {
		return fmt.Errorf("%w: handle %d", graph.ErrIsDirectory, h)
	}
	if err := c.durable.UpdateContentPath(ctx, h, graph.Content{}); err != nil {
		return err
	}
	return c.entries.ClearContent(h)
}

// ChildrenOf returns the load state of directory h's children.
func (c *Cache) ChildrenOf(h graph.Handle) (graph.ChildSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return graph.ChildSet{}, err
	}
	if !e.IsDir {
		return graph.ChildSet{}, fmt.Errorf("%w: handle %d", graph.ErrNotDirectory, h)
	}
	return e.Children, nil
}

// ContentPath returns the load state of leaf h's content.
func (c *Cache) ContentPath(h graph.Handle) (graph.Content, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return graph.Content{}, err
	}
	if e.IsDir {
		return graph.Content{}, fmt.Errorf("%w: handle %d", graph.ErrIsDirectory, h)
	}
	return e.Content, nil
}

// Entry returns a copy of h's entry.
func (c *Cache) Entry(h graph.Handle) (graph.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.entries.Get(h)
	if err != nil {
		return graph.Entry{}, err
	}
	return e.Clone(), nil
}

// Snapshot copies every entry in ascending handle order.
func (c *Cache) Snapshot() []graph.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]graph.Entry, 0, c.entries.Len())
	c.entries.Range(func(e *graph.Entry) bool {
		out = append(out, e.Clone())
		return true
	})
	return out
}

func (c *Cache) Name(h graph.Handle) (string, error) {
	e, err := c.Entry(h)
	return e.Name, err
}

func (c *Cache) RemoteID(h graph.Handle) (string, error) {
	e, err := c.Entry(h)
	return e.RemoteID, err
}

func (c *Cache) Kind(h graph.Handle) (string, error) {
	e, err := c.Entry(h)
	return e.Kind, err
}

func (c *Cache) Parent(h graph.Handle) (graph.Handle, error) {
	e, err := c.Entry(h)
	return e.Parent, err
}

func (c *Cache) IsDir(h graph.Handle) (bool, error) {
	e, err := c.Entry(h)
	return e.IsDir, err
}

// Lookup finds the child of parent called name. Only loaded children are
// searched; ok is false when the set is not loaded or has no match. Remote
// folders may hold several items with one name: the lowest handle wins.
func (c *Cache) Lookup(parent graph.Handle, name string) (h graph.Handle, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, err := c.entries.Get(parent)
	if err != nil {
		return 0, false, err
	}
	if !p.IsDir {
		return 0, false, fmt.Errorf("%w: handle %d", graph.ErrNotDirectory, parent)
	}
	for _, ch := range p.Children.Handles() {
		e, err := c.entries.Get(ch)
		if err != nil {
			continue
		}
		if e.Name == name {
			return ch, true, nil
		}
	}
	return 0, false, nil
}
