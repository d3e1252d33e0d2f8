package graph

import (
	"fmt"
	"sort"

	"github.com/agentic-research/photoman/api"
)

// Handle is the dense local identifier of a cached remote node.
type Handle uint32

// RootHandle always addresses the root directory.
const RootHandle Handle = 0

// Entry is the universal primitive: one cached remote file-system object.
// IsDir is fixed at construction and decides which of Children or Content
// carries meaning.
type Entry struct {
	Handle   Handle
	Name     string   // display name at discovery time
	RemoteID string   // opaque remote identifier, unique
	Kind     string   // MIME type
	Parent   Handle   // containing directory; the root is its own parent
	IsDir    bool     // Kind == api.FolderKind
	Children ChildSet // directories only
	Content  Content  // leaves only
}

// NewEntry builds an unloaded entry. IsDir is derived from kind.
func NewEntry(name, remoteID, kind string, parent Handle) *Entry {
	return &Entry{
		Name:     name,
		RemoteID: remoteID,
		Kind:     kind,
		Parent:   parent,
		IsDir:    kind == api.FolderKind,
	}
}

// NewRoot builds the implicit root directory.
func NewRoot() *Entry {
	e := NewEntry(api.RootID, api.RootID, api.FolderKind, RootHandle)
	e.Handle = RootHandle
	return e
}

// IsFullyLoaded reports whether no further remote call is needed for this
// entry: children loaded for a directory, content loaded for a leaf.
func (e *Entry) IsFullyLoaded() bool {
	if e.IsDir {
		return e.Children.Loaded()
	}
	return e.Content.Loaded()
}

// Clone returns a copy that shares no mutable state with e.
// ChildSet and Content are immutable values, so a shallow copy suffices.
func (e *Entry) Clone() Entry {
	return *e
}

func (e *Entry) String() string {
	return fmt.Sprintf("%d:%s(%s)", e.Handle, e.Name, e.RemoteID)
}

// -----------------------------------------------------------------------------
// EntryStore: the authoritative in-memory table, keyed by handle.
// -----------------------------------------------------------------------------

// EntryStore maps handles to entries and keeps its IDMap in agreement.
// It is not safe for concurrent use; the tree cache serializes access.
type EntryStore struct {
	ids     *IDMap
	entries map[Handle]*Entry
}

func NewEntryStore() *EntryStore {
	return &EntryStore{
		ids:     NewIDMap(),
		entries: make(map[Handle]*Entry),
	}
}

// Create allocates a handle through the IDMap and inserts e under it.
// Callers must check Resolve first: an already-mapped remote id fails.
func (s *EntryStore) Create(e *Entry) (Handle, error) {
	if _, ok := s.ids.Resolve(e.RemoteID); ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateRemoteID, e.RemoteID)
	}
	h := s.ids.Assign(e.RemoteID)
	e.Handle = h
	s.entries[h] = e
	return h, nil
}

// Insert adopts e.Handle as assigned elsewhere (the durable store) and
// records the remote id mapping for it.
func (s *EntryStore) Insert(e *Entry) error {
	if _, ok := s.entries[e.Handle]; ok {
		return fmt.Errorf("%w: handle %d already present", ErrDuplicateHandle, e.Handle)
	}
	if err := s.ids.Bind(e.RemoteID, e.Handle); err != nil {
		return err
	}
	s.entries[e.Handle] = e
	return nil
}

// Resolve maps a remote id to its handle.
func (s *EntryStore) Resolve(remoteID string) (Handle, bool) {
	return s.ids.Resolve(remoteID)
}

// Get returns the live entry for h. The pointer must not escape the caller's
// critical section.
func (s *EntryStore) Get(h Handle) (*Entry, error) {
	e, ok := s.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrNotFound, h)
	}
	return e, nil
}

// IsFullyLoaded reports the load state of h.
func (s *EntryStore) IsFullyLoaded(h Handle) (bool, error) {
	e, err := s.Get(h)
	if err != nil {
		return false, err
	}
	return e.IsFullyLoaded(), nil
}

// SetChildren marks h's children as loaded with exactly hs.
func (s *EntryStore) SetChildren(h Handle, hs []Handle) error {
	e, err := s.dir(h)
	if err != nil {
		return err
	}
	e.Children = LoadedChildren(hs...)
	return nil
}

// ClearChildren returns h's children to the not-loaded state.
func (s *EntryStore) ClearChildren(h Handle) error {
	e, err := s.dir(h)
	if err != nil {
		return err
	}
	e.Children = ChildSet{}
	return nil
}

// SetContent marks h's content as materialized at path.
func (s *EntryStore) SetContent(h Handle, path string) error {
	e, err := s.leaf(h)
	if err != nil {
		return err
	}
	e.Content = LoadedContent(path)
	return nil
}

// ClearContent returns h's content to the not-loaded state.
func (s *EntryStore) ClearContent(h Handle) error {
	e, err := s.leaf(h)
	if err != nil {
		return err
	}
	e.Content = Content{}
	return nil
}

// Len returns the number of entries.
func (s *EntryStore) Len() int {
	return len(s.entries)
}

// Range calls fn for every entry in ascending handle order until fn returns
// false. fn must not mutate the store.
func (s *EntryStore) Range(fn func(e *Entry) bool) {
	for _, h := range s.Handles() {
		if !fn(s.entries[h]) {
			return
		}
	}
}

// Handles returns every handle in ascending order.
func (s *EntryStore) Handles() []Handle {
	hs := make([]Handle, 0, len(s.entries))
	for h := range s.entries {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

func (s *EntryStore) dir(h Handle) (*Entry, error) {
	e, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, fmt.Errorf("%w: handle %d", ErrNotDirectory, h)
	}
	return e, nil
}

func (s *EntryStore) leaf(h Handle) (*Entry, error) {
	e, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if e.IsDir {
		return nil, fmt.Errorf("%w: handle %d", ErrIsDirectory, h)
	}
	return e, nil
}
