package graph

import (
	"github.com/RoaringBitmap/roaring"
)

// ChildSet is the load state of a directory's children: either not loaded
// (never queried) or loaded with a possibly empty set of handles.
// The zero value is not loaded. A loaded set is never mutated in place.
type ChildSet struct {
	bm *roaring.Bitmap
}

// LoadedChildren returns a loaded set holding hs. Duplicates collapse.
func LoadedChildren(hs ...Handle) ChildSet {
	bm := roaring.New()
	for _, h := range hs {
		bm.Add(uint32(h))
	}
	return ChildSet{bm: bm}
}

// Loaded distinguishes "queried and empty" from "never queried".
func (c ChildSet) Loaded() bool {
	return c.bm != nil
}

// Handles returns the set in ascending order, or nil when not loaded.
func (c ChildSet) Handles() []Handle {
	if c.bm == nil {
		return nil
	}
	out := make([]Handle, 0, c.bm.GetCardinality())
	it := c.bm.Iterator()
	for it.HasNext() {
		out = append(out, Handle(it.Next()))
	}
	return out
}

// Len is the number of children; zero when not loaded.
func (c ChildSet) Len() int {
	if c.bm == nil {
		return 0
	}
	return int(c.bm.GetCardinality())
}

// Contains reports whether h is a loaded child.
func (c ChildSet) Contains(h Handle) bool {
	return c.bm != nil && c.bm.Contains(uint32(h))
}

// Content is the load state of a leaf's local materialization: either not
// loaded or loaded at a local filesystem path. The zero value is not loaded.
type Content struct {
	path   string
	loaded bool
}

// LoadedContent returns a loaded state pointing at path.
func LoadedContent(path string) Content {
	return Content{path: path, loaded: true}
}

func (c Content) Loaded() bool { return c.loaded }

// Path is the local file path; empty when not loaded.
func (c Content) Path() string { return c.path }
