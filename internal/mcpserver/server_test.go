package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/materialize"
	"github.com/agentic-research/photoman/internal/remote"
)

func newTestServer(t *testing.T) (*Server, *remote.Memory) {
	t.Helper()
	r := remote.NewMemory().
		AddFolder(api.RootID, "d1", "Pics").
		AddFile(api.RootID, "f1", "a.jpg", "image/jpeg", []byte("a")).
		AddFile(api.RootID, "f9", "broken.jpg", "image/jpeg", []byte("x")).
		AddFile("d1", "f3", "c.jpg", "image/jpeg", []byte("c"))
	r.Fail("f9", errors.New("503"))

	dir := t.TempDir()
	d, err := drive.Open(context.Background(),
		filepath.Join(dir, "index.db"), filepath.Join(dir, "cache"), r,
		drive.WithPipelineOptions(materialize.WithRawKinds()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return New(d, "test"), r
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestGetChildren(t *testing.T) {
	s, r := newTestServer(t)
	ctx := context.Background()

	res, err := s.getChildren(ctx, call(map[string]any{"handle": float64(0)}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got []ChildInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "Pics", got[0].Name)
	assert.True(t, got[0].IsDir)
	assert.Equal(t, "a.jpg", got[1].Name)
	assert.False(t, got[1].Loaded)

	_, err = s.getChildren(ctx, call(map[string]any{"handle": float64(0)}))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Lists(api.RootID))
}

func TestGetContentPath(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.resolve(ctx, call(map[string]any{"path": "a.jpg"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "2", text(t, res))

	res, err = s.getContentPath(ctx, call(map[string]any{"handle": float64(2)}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	data, err := os.ReadFile(text(t, res))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestToolErrors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, err := s.getChildren(ctx, call(map[string]any{"handle": float64(0)}))
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() (*mcp.CallToolResult, error)
	}{
		{"missing handle", func() (*mcp.CallToolResult, error) {
			return s.getName(ctx, call(map[string]any{}))
		}},
		{"negative handle", func() (*mcp.CallToolResult, error) {
			return s.getName(ctx, call(map[string]any{"handle": float64(-1)}))
		}},
		{"fractional handle", func() (*mcp.CallToolResult, error) {
			return s.getName(ctx, call(map[string]any{"handle": 1.5}))
		}},
		{"unknown handle", func() (*mcp.CallToolResult, error) {
			return s.getName(ctx, call(map[string]any{"handle": float64(99)}))
		}},
		{"children of a file", func() (*mcp.CallToolResult, error) {
			return s.getChildren(ctx, call(map[string]any{"handle": float64(2)}))
		}},
		{"content of a directory", func() (*mcp.CallToolResult, error) {
			return s.getContentPath(ctx, call(map[string]any{"handle": float64(1)}))
		}},
		{"remote failure", func() (*mcp.CallToolResult, error) {
			return s.getContentPath(ctx, call(map[string]any{"handle": float64(3)}))
		}},
		{"unresolvable path", func() (*mcp.CallToolResult, error) {
			return s.resolve(ctx, call(map[string]any{"path": "Pics/nope.jpg"}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run()
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestNavigation(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.resolve(ctx, call(map[string]any{"path": "/Pics/c.jpg"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "4", text(t, res))

	res, err = s.getParent(ctx, call(map[string]any{"handle": float64(4)}))
	require.NoError(t, err)
	assert.Equal(t, "1", text(t, res))

	res, err = s.getName(ctx, call(map[string]any{"handle": float64(1)}))
	require.NoError(t, err)
	assert.Equal(t, "Pics", text(t, res))

	res, err = s.isDirectory(ctx, call(map[string]any{"handle": float64(1)}))
	require.NoError(t, err)
	assert.Equal(t, "true", text(t, res))

	res, err = s.getParent(ctx, call(map[string]any{"handle": float64(0)}))
	require.NoError(t, err)
	assert.Equal(t, "0", text(t, res), "root is its own parent")
}

func TestPrefetchAndInvalidate(t *testing.T) {
	s, r := newTestServer(t)
	ctx := context.Background()

	res, err := s.prefetch(ctx, call(map[string]any{"handle": float64(0), "depth": float64(1)}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var report drive.PrefetchReport
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &report))
	assert.Equal(t, 2, report.Directories)
	assert.Equal(t, int64(2), report.Materialized)
	assert.Equal(t, int64(1), report.Failed)

	res, err = s.invalidate(ctx, call(map[string]any{"handle": float64(1)}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	_, err = s.getChildren(ctx, call(map[string]any{"handle": float64(1)}))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Lists("d1"))
}
