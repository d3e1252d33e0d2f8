package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/agentic-research/photoman/api"
)

// Memory is an in-process Remote for tests and offline use. It counts calls
// so callers can assert that cached data is never re-fetched.
type Memory struct {
	mu       sync.Mutex
	children map[string][]api.RemoteItem
	content  map[string][]byte
	failures map[string]error
	lists    map[string]int
	fetches  map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		children: make(map[string][]api.RemoteItem),
		content:  make(map[string][]byte),
		failures: make(map[string]error),
		lists:    make(map[string]int),
		fetches:  make(map[string]int),
	}
}

// AddFolder registers a folder under parent and returns m for chaining.
func (m *Memory) AddFolder(parent, id, name string) *Memory {
	return m.add(parent, api.RemoteItem{RemoteID: id, Name: name, Kind: api.FolderKind}, nil)
}

// AddFile registers a file with its bytes under parent.
func (m *Memory) AddFile(parent, id, name, kind string, data []byte) *Memory {
	return m.add(parent, api.RemoteItem{RemoteID: id, Name: name, Kind: kind}, data)
}

func (m *Memory) add(parent string, it api.RemoteItem, data []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parent] = append(m.children[parent], it)
	if data != nil {
		m.content[it.RemoteID] = data
	}
	return m
}

// Fail makes every List and Fetch of remoteID return err (wrapped in
// ErrRemote). A nil err clears the failure.
func (m *Memory) Fail(remoteID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, remoteID)
		return
	}
	m.failures[remoteID] = err
}

func (m *Memory) List(ctx context.Context, remoteID string) ([]api.RemoteItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[remoteID]++
	if err := m.failures[remoteID]; err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", ErrRemote, remoteID, err)
	}
	return append([]api.RemoteItem(nil), m.children[remoteID]...), nil
}

func (m *Memory) Fetch(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[remoteID]++
	if err := m.failures[remoteID]; err != nil {
		return nil, fmt.Errorf("%w: fetch %q: %w", ErrRemote, remoteID, err)
	}
	data, ok := m.content[remoteID]
	if !ok {
		return nil, fmt.Errorf("%w: fetch %q: no such file", ErrRemote, remoteID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Lists is how many times remoteID was listed.
func (m *Memory) Lists(remoteID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[remoteID]
}

// Fetches is how many times remoteID was downloaded.
func (m *Memory) Fetches(remoteID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[remoteID]
}

// Calls is the total number of List and Fetch calls.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.lists {
		n += c
	}
	for _, c := range m.fetches {
		n += c
	}
	return n
}

// Interface compliance
var _ Remote = (*Memory)(nil)
