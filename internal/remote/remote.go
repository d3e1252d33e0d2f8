// Package remote is the boundary to the hierarchical file service the cache
// mirrors. Calls are made exactly as requested: no retry, no caching.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/metrics"
)

// ErrRemote wraps every transport, authentication or service failure.
var ErrRemote = errors.New("remote")

// Remote lists folders and downloads file bytes.
type Remote interface {
	// List returns the non-trashed direct children of remoteID, all pages.
	List(ctx context.Context, remoteID string) ([]api.RemoteItem, error)
	// Fetch opens the raw bytes of remoteID. The caller closes the reader.
	Fetch(ctx context.Context, remoteID string) (io.ReadCloser, error)
}

// Instrument records request counts and latency for r.
func Instrument(r Remote) Remote {
	return instrumented{r}
}

type instrumented struct {
	r Remote
}

func (i instrumented) List(ctx context.Context, remoteID string) ([]api.RemoteItem, error) {
	start := time.Now()
	items, err := i.r.List(ctx, remoteID)
	metrics.RecordRemoteRequest("list", time.Since(start), err)
	return items, err
}

func (i instrumented) Fetch(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.r.Fetch(ctx, remoteID)
	metrics.RecordRemoteRequest("fetch", time.Since(start), err)
	return rc, err
}

// ErrOffline is returned by Offline for every call.
var ErrOffline = errors.New("offline")

// Offline serves nothing. A cache opened over it answers only from what is
// already stored; anything else fails as a remote error.
type Offline struct{}

func (Offline) List(context.Context, string) ([]api.RemoteItem, error) {
	return nil, fmt.Errorf("%w: %w", ErrRemote, ErrOffline)
}

func (Offline) Fetch(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%w: %w", ErrRemote, ErrOffline)
}
