package graph

import "fmt"

// IDMap compresses variable-length remote identifiers into dense handles.
// Handles are handed out monotonically and never reused; there is no removal.
// Not safe for concurrent mutation.
type IDMap struct {
	ids  map[string]Handle
	next Handle
}

func NewIDMap() *IDMap {
	return &IDMap{ids: make(map[string]Handle)}
}

// Resolve returns the handle bound to remoteID, if any.
func (m *IDMap) Resolve(remoteID string) (Handle, bool) {
	h, ok := m.ids[remoteID]
	return h, ok
}

// Assign returns the handle for remoteID, allocating the next one if the id
// has not been seen. Idempotent.
func (m *IDMap) Assign(remoteID string) Handle {
	if h, ok := m.ids[remoteID]; ok {
		return h
	}
	h := m.next
	m.next++
	m.ids[remoteID] = h
	return h
}

// Bind records a handle chosen by another authority. Rebinding the same pair
// is a no-op; binding a mapped id to a different handle fails. The allocation
// counter moves past h so Assign never collides with adopted handles.
func (m *IDMap) Bind(remoteID string, h Handle) error {
	if cur, ok := m.ids[remoteID]; ok {
		if cur == h {
			return nil
		}
		return fmt.Errorf("%w: %q is %d, not %d", ErrDuplicateRemoteID, remoteID, cur, h)
	}
	m.ids[remoteID] = h
	if h >= m.next {
		m.next = h + 1
	}
	return nil
}

// Next is the handle Assign would hand out for an unseen id.
func (m *IDMap) Next() Handle {
	return m.next
}

// Len is the number of mapped ids.
func (m *IDMap) Len() int {
	return len(m.ids)
}
