// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Arbor forest tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/forestservice"
	"github.com/starford/arbor/internal/textview"
)

// StatusResourceURI is the resource carrying the cache status.
const StatusResourceURI = "arbor://forest-status"

// Server wraps the MCP server with Arbor tools.
type Server struct {
	mcp *server.MCPServer
	svc *forestservice.Service
}

// New creates a new MCP server with all Arbor tools registered.
func New(svc *forestservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Arbor",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("forest_status",
		mcp.WithDescription("Report whether the cached forest is valid, updating or invalid, with the failure reason."),
	), s.forestStatus)

	s.mcp.AddTool(mcp.NewTool("list_trees",
		mcp.WithDescription("List trees of the forest ordered by URI."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
		mcp.WithString("taxon", mcp.Description("Only trees with this taxon (e.g. theorem)")),
	), s.listTrees)

	s.mcp.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Read one tree: metadata, source text and its transclusion neighbours."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Tree URI (e.g. jms-0001)")),
	), s.getTree)

	s.mcp.AddTool(mcp.NewTool("search_trees",
		mcp.WithDescription("Full-text search through tree titles, tags and source."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchTrees)

	s.mcp.AddTool(mcp.NewTool("find_root",
		mcp.WithDescription("Find the root tree a tree is shown under."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Tree URI")),
	), s.findRoot)

	s.mcp.AddTool(mcp.NewTool("get_transclusions",
		mcp.WithDescription("List the trees a tree transcludes, or the trees that transclude it."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Tree URI")),
		mcp.WithString("direction", mcp.Description("children (default) or parents"), mcp.Enum("children", "parents")),
	), s.getTransclusions)

	s.mcp.AddTool(mcp.NewTool("render_graph",
		mcp.WithDescription("Render the transclusion view as an indented text tree."),
		mcp.WithString("current", mcp.Description("Tree the view is centred on")),
	), s.renderGraph)

	s.mcp.AddResource(
		mcp.NewResource(StatusResourceURI, "Forest Status",
			mcp.WithResourceDescription("Freshness of the cached forest."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readStatusResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(uri string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", uri))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) forestStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	forest := s.svc.Forest(ctx, true)
	st := s.svc.Status()
	return jsonResult(map[string]any{
		"status":     st.String(),
		"trees":      forest.Len(),
		"updated_at": st.UpdatedAt,
	})
}

func (s *Server) listTrees(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	offset := req.GetInt("offset", 0)
	taxon := req.GetString("taxon", "")

	trees, total, err := s.svc.ListTrees(ctx, limit, offset, taxon)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"trees": trees, "total": total})
}

func (s *Server) getTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Tree(ctx, uri)
	if err != nil {
		return errorResult(uri, err), nil
	}
	return jsonResult(d)
}

func (s *Server) searchTrees(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) findRoot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_ = s.svc.Forest(ctx, true)
	root, err := s.svc.FindRoot(uri)
	if err != nil {
		return errorResult(uri, err), nil
	}
	return mcp.NewToolResultText(root), nil
}

func (s *Server) getTransclusions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Tree(ctx, uri)
	if err != nil {
		return errorResult(uri, err), nil
	}

	uris := d.Transcludes
	if req.GetString("direction", "children") == "parents" {
		uris = d.TranscludedBy
	}
	if len(uris) == 0 {
		return mcp.NewToolResultText("no transclusions found"), nil
	}
	return mcp.NewToolResultText(strings.Join(uris, "\n")), nil
}

func (s *Server) renderGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_ = s.svc.Forest(ctx, true)
	v := s.svc.Render(req.GetString("current", ""))
	return mcp.NewToolResultText(textview.Render(v, textview.PlainStyles())), nil
}

func (s *Server) readStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusResourceURI,
			MIMEType: "text/plain",
			Text:     s.svc.Status().String(),
		},
	}, nil
}
