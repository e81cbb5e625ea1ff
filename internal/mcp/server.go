// Package mcp exposes records and semantic search as MCP tools and resources
// over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
)

// Server implements the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	indexer   *indexer.Indexer
	search    *search.Service
	storage   storage.Storage
	config    *config.Config
	logger    *zap.Logger
}

// Config contains server dependencies.
type Config struct {
	Indexer *indexer.Indexer
	Search  *search.Service
	Storage storage.Storage
	Config  *config.Config
	Logger  *zap.Logger
	Version string
}

// New creates an MCP server with all tools registered.
func New(cfg Config) *Server {
	s := &Server{
		indexer: cfg.Indexer,
		search:  cfg.Search,
		storage: cfg.Storage,
		config:  cfg.Config,
		logger:  cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s.mcpServer = server.NewMCPServer("kioku", version,
		server.WithLogging(),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools(s.mcpServer)
	s.registerResources(s.mcpServer)
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Find notes, tasks and resources by meaning"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity in [-1, 1]")),
	), s.handleSearchNotes)

	mcpServer.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Save a note, task or resource. Tags @task, @note and @res set the type"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to save")),
		mcp.WithString("type", mcp.Description("Force the type: note, task or resource")),
	), s.handleAddNote)

	mcpServer.AddTool(mcp.NewTool("get_item",
		mcp.WithDescription("Fetch one record by ID"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Record ID")),
	), s.handleGetItem)

	mcpServer.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a record by ID"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Record ID")),
	), s.handleDeleteNote)

	mcpServer.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task as done, or reopen it"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Record ID")),
		mcp.WithBoolean("reopen", mcp.Description("Reopen instead of completing")),
	), s.handleCompleteTask)

	mcpServer.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List recent records, newest first"),
		mcp.WithString("type", mcp.Description("Filter by type: note, task or resource")),
		mcp.WithBoolean("pending_only", mcp.Description("Only tasks that are not completed")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.handleListNotes)

	mcpServer.AddTool(mcp.NewTool("index_stats",
		mcp.WithDescription("Record counts and vector index status"),
	), s.handleIndexStats)

	mcpServer.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Re-embed every record with the active provider"),
	), s.handleRebuildIndex)
}

// Resource URIs. Each list resource returns records newest first as JSON.
const (
	uriAll       = "notes://all"
	uriTasks     = "notes://tasks"
	uriNotes     = "notes://notes"
	uriResources = "notes://resources"
	uriStats     = "notes://stats"
)

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	lists := []struct {
		uri, name, desc string
		kind            models.ItemType
	}{
		{uriAll, "All records", "Every stored note, task and resource", ""},
		{uriTasks, "Tasks", "Task records only", models.ItemTask},
		{uriNotes, "Notes", "Note records only", models.ItemNote},
		{uriResources, "Resources", "Resource records only", models.ItemResource},
	}
	for _, l := range lists {
		mcpServer.AddResource(mcp.NewResource(l.uri, l.name,
			mcp.WithResourceDescription(l.desc),
			mcp.WithMIMEType("application/json"),
		), s.listResource(l.kind))
	}
	mcpServer.AddResource(mcp.NewResource(uriStats, "Statistics",
		mcp.WithResourceDescription("Record counts and vector index status"),
		mcp.WithMIMEType("application/json"),
	), s.handleStatsResource)
}

// listResource returns a handler listing records of kind, or all records when
// kind is empty.
func (s *Server) listResource(kind models.ItemType) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := s.storage.ListRecords(ctx, models.ListFilter{Type: kind})
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		if recs == nil {
			recs = []*models.Record{}
		}
		return jsonResource(req.Params.URI, map[string]any{"records": recs, "total": len(recs)})
	}
}

func (s *Server) handleStatsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return jsonResource(req.Params.URI, map[string]any{"records": records, "index": s.search.Stats()})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(data),
	}}, nil
}

// ServeStdio serves MCP over stdin and stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleSearchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := models.SearchQuery{
		Query: req.GetString("query", ""),
		Limit: req.GetInt("limit", 0),
	}
	if args := req.GetArguments(); args["threshold"] != nil {
		th := req.GetFloat("threshold", 0)
		query.Threshold = &th
	}
	if err := query.Validate(s.config.Search.DefaultLimit, s.config.Search.MaxLimit); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.search.Search(ctx, query.Query, query.Limit, query.ThresholdOr(s.config.Search.DefaultThreshold))
	if err != nil {
		return toolError("search failed", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleAddNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := &models.RecordInput{
		Content: req.GetString("content", ""),
		Type:    req.GetString("type", ""),
	}
	rec, err := s.indexer.AddRecord(ctx, input)
	if rec == nil {
		return toolError("add failed", err), nil
	}
	out := map[string]any{"record": rec, "indexed": err == nil}
	if err != nil {
		s.logger.Warn("Record stored without embedding", zap.Int64("id", rec.ID), zap.Error(err))
		out["warning"] = err.Error()
	}
	return jsonResult(out)
}

func (s *Server) handleGetItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := recordID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.storage.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("record %d not found", id)), nil
	}
	if err != nil {
		return toolError("get failed", err), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleDeleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := recordID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.indexer.DeleteRecord(ctx, id); err != nil {
		return toolError("delete failed", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted record %d", id)), nil
}

func (s *Server) handleCompleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := recordID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.indexer.SetCompleted(ctx, id, !req.GetBool("reopen", false))
	if err != nil {
		return toolError("update failed", err), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleListNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.ListFilter{
		PendingOnly: req.GetBool("pending_only", false),
		Limit:       req.GetInt("limit", 20),
	}
	if t := req.GetString("type", ""); t != "" {
		kind, err := models.ParseItemType(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Type = kind
	}
	recs, err := s.storage.ListRecords(ctx, filter)
	if err != nil {
		return toolError("list failed", err), nil
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	return jsonResult(map[string]any{"records": recs, "total": len(recs)})
}

func (s *Server) handleIndexStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.storage.Stats(ctx)
	if err != nil {
		return toolError("stats failed", err), nil
	}
	return jsonResult(map[string]any{"records": records, "index": s.search.Stats()})
}

func (s *Server) handleRebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.indexer.RebuildAll(ctx)
	if err != nil {
		return toolError("rebuild failed", err), nil
	}
	return jsonResult(report)
}

func recordID(req mcp.CallToolRequest) (int64, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return int64(id), nil
}

// toolError reports err to the client with its error kind, so agents can
// tell a down provider (retry later) from bad input.
func toolError(prefix string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	if search.Retryable(err) {
		msg += " (" + search.Kind(err).String() + ", retry later)"
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
