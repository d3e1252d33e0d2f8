// Package mcpserver exposes the Drive facade as Model Context Protocol tools
// so agents can browse and fetch photos without a mount.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
)

// ChildInfo is one element of the get_children result.
type ChildInfo struct {
	Handle graph.Handle `json:"handle"`
	Name   string       `json:"name"`
	Kind   string       `json:"kind"`
	IsDir  bool         `json:"is_dir"`
	Loaded bool         `json:"loaded"`
}

// Server binds a Drive to an MCP server.
type Server struct {
	drive *drive.Drive
	mcp   *server.MCPServer
	log   *zap.Logger
}

// New registers the photoman tools on a fresh MCP server.
func New(d *drive.Drive, version string) *Server {
	s := &Server{
		drive: d,
		mcp:   server.NewMCPServer("photoman", version, server.WithToolCapabilities(false)),
		log:   logging.Named("mcp"),
	}

	handle := mcp.WithNumber("handle", mcp.Required(), mcp.Description("Local handle; the root is 0"))

	s.mcp.AddTool(mcp.NewTool("get_children",
		mcp.WithDescription("List a directory, fetching it from Drive the first time"),
		handle,
	), s.getChildren)
	s.mcp.AddTool(mcp.NewTool("get_content_path",
		mcp.WithDescription("Return the local path of a file, downloading it the first time"),
		handle,
	), s.getContentPath)
	s.mcp.AddTool(mcp.NewTool("get_name",
		mcp.WithDescription("Return the display name of a handle"),
		handle,
	), s.getName)
	s.mcp.AddTool(mcp.NewTool("get_parent",
		mcp.WithDescription("Return the parent handle; the root is its own parent"),
		handle,
	), s.getParent)
	s.mcp.AddTool(mcp.NewTool("is_directory",
		mcp.WithDescription("Report whether a handle is a directory"),
		handle,
	), s.isDirectory)
	s.mcp.AddTool(mcp.NewTool("resolve",
		mcp.WithDescription("Resolve a slash-separated path from the root to a handle"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path such as Pics/2024/a.jpg")),
	), s.resolve)
	s.mcp.AddTool(mcp.NewTool("invalidate",
		mcp.WithDescription("Forget a directory listing or a file's local copy"),
		handle,
	), s.invalidate)
	s.mcp.AddTool(mcp.NewTool("prefetch",
		mcp.WithDescription("Download every file below a handle"),
		handle,
		mcp.WithNumber("depth", mcp.Description("Directory levels to descend below the handle (default 0)")),
	), s.prefetch)

	return s
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves requests on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	s.log.Info("serving MCP on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) getChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	entries, err := s.drive.Children(ctx, h)
	if err != nil {
		return s.toolError("get_children", h, err), nil
	}
	out := make([]ChildInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ChildInfo{
			Handle: e.Handle,
			Name:   e.Name,
			Kind:   e.Kind,
			IsDir:  e.IsDir,
			Loaded: e.IsFullyLoaded(),
		})
	}
	return jsonResult(out)
}

func (s *Server) getContentPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	path, err := s.drive.GetContentPath(ctx, h)
	if err != nil {
		return s.toolError("get_content_path", h, err), nil
	}
	return mcp.NewToolResultText(path), nil
}

func (s *Server) getName(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	name, err := s.drive.Name(h)
	if err != nil {
		return s.toolError("get_name", h, err), nil
	}
	return mcp.NewToolResultText(name), nil
}

func (s *Server) getParent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	p, err := s.drive.Parent(h)
	if err != nil {
		return s.toolError("get_parent", h, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(p)), nil
}

func (s *Server) isDirectory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	dir, err := s.drive.IsDir(h)
	if err != nil {
		return s.toolError("is_directory", h, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(dir)), nil
}

func (s *Server) resolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := s.drive.Resolve(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(h)), nil
}

func (s *Server) invalidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	if err := s.drive.Invalidate(ctx, h); err != nil {
		return s.toolError("invalidate", h, err), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) prefetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, res := requireHandle(req)
	if res != nil {
		return res, nil
	}
	depth := req.GetFloat("depth", 0)
	if depth < 0 || depth != math.Trunc(depth) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid depth %v", depth)), nil
	}
	report, err := s.drive.Prefetch(ctx, h, int(depth))
	if err != nil && report.Materialized == 0 && report.Failed == 0 {
		return s.toolError("prefetch", h, err), nil
	}
	return jsonResult(report)
}

func (s *Server) toolError(tool string, h graph.Handle, err error) *mcp.CallToolResult {
	s.log.Debug("tool failed", zap.String("tool", tool), logging.Handle(h), zap.Error(err))
	return mcp.NewToolResultError(err.Error())
}

// requireHandle reads the handle argument. A non-nil result reports an
// invalid argument to the caller.
func requireHandle(req mcp.CallToolRequest) (graph.Handle, *mcp.CallToolResult) {
	v, err := req.RequireFloat("handle")
	if err != nil {
		return 0, mcp.NewToolResultError(err.Error())
	}
	if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		return 0, mcp.NewToolResultError(fmt.Sprintf("invalid handle %v", v))
	}
	return graph.Handle(v), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
