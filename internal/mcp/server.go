package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/service"
)

// Backend is the part of service.Service the tools call.
type Backend interface {
	Ask(ctx context.Context, q model.RagQuery) (*model.RagResponse, error)
	Query(ctx context.Context, req service.QueryRequest) ([]model.Match, error)
	Dispatch(ctx context.Context, contentID string) (string, error)
	Check(ctx context.Context, taskID string) (model.TaskStatus, error)
	Task(ctx context.Context, taskID string) (*model.IndexingTask, error)
	Health(ctx context.Context) service.Health
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	backend Backend
}

// Config holds server dependencies.
type Config struct {
	Backend Backend
	Version string
	Logger  *slog.Logger
}

// Tool names.
const (
	ToolAskQuestion     = "ask_question"
	ToolSearchMaterials = "search_materials"
	ToolDispatchContent = "dispatch_content"
	ToolCheckTask       = "check_task"
)

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "confrag", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAskQuestion,
		Description: "Answer a question from indexed conference talks, slides and papers. Returns the answer with cited passages, a relevance score and a grounding score.",
	}, makeAskHandler(cfg.Backend, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSearchMaterials,
		Description: "Semantic search over indexed conference materials. Returns matching slides, pages and sections.",
	}, makeSearchHandler(cfg.Backend))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolDispatchContent,
		Description: "Send the not yet indexed files of a conference content item to the indexing service.",
	}, makeDispatchHandler(cfg.Backend))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolCheckTask,
		Description: "Check the status of an indexing task once and record the result.",
	}, makeCheckHandler(cfg.Backend))

	return &Server{server: server, backend: cfg.Backend}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
