package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/queue"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

// Server wraps the osp catalog and refresh queue and exposes them as MCP tools.
type Server struct {
	store     store.Store
	refresher *refresh.Refresher
	runner    *queue.Runner
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, r *refresh.Refresher, q *queue.Runner) *Server {
	return &Server{store: s, refresher: r, runner: q}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("osp", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.refreshProgressTool())
	srv.AddTool(s.enqueueRefreshTool())
	srv.AddTool(s.refreshProjectTool())
	srv.AddTool(s.importProjectTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type projectOut struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	RepoURL     string     `json:"repo_url"`
	Status      string     `json:"status"`
	Version     string     `json:"version,omitempty"`
	License     string     `json:"license,omitempty"`
	Language    string     `json:"language,omitempty"`
	Excerpt     string     `json:"excerpt,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Error       string     `json:"error,omitempty"`
	LastCommit  string     `json:"last_commit,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

func toProjectOut(p *models.Project) projectOut {
	return projectOut{
		ID:          p.ID,
		Title:       refresh.DisplayTitle(p.Title, p.RepoURL, p.ID),
		RepoURL:     p.RepoURL,
		Status:      string(p.Status),
		Version:     p.Version,
		License:     p.License,
		Language:    p.Language,
		Excerpt:     p.Excerpt,
		Tags:        p.Tags,
		Error:       p.Error,
		LastCommit:  p.LastCommitHash,
		RefreshedAt: p.RefreshedAt,
	}
}

// osp_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("osp_list_projects",
		mcp.WithDescription("List cataloged open-source projects with their cached repository metadata."),
		mcp.WithString("status", mcp.Description("Comma-separated statuses to include: publish, draft, ignored, trash")),
		mcp.WithString("tag", mcp.Description("Only projects carrying this tag")),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ProjectListFilter{Tag: request.GetString("tag", "")}
	if raw := request.GetString("status", ""); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			status := models.ProjectStatus(strings.TrimSpace(st))
			if !status.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", status)), nil
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	projects, err := s.store.ListProjects(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}
	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = toProjectOut(p)
	}
	return jsonResult(out)
}

// osp_refresh_progress
func (s *Server) refreshProgressTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("osp_refresh_progress",
		mcp.WithDescription("Get the state of the current or last background refresh run: counters, current project and message."),
	)
	return tool, s.handleRefreshProgress
}

type progressOut struct {
	*queue.Progress
	Percent   int `json:"percent"`
	Remaining int `json:"remaining"`
}

func (s *Server) handleRefreshProgress(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.runner.Progress(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load progress: %v", err)), nil
	}
	return jsonResult(progressOut{Progress: p, Percent: p.Percent(), Remaining: p.Remaining()})
}

// osp_enqueue_refresh
func (s *Server) enqueueRefreshTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("osp_enqueue_refresh",
		mcp.WithDescription("Start a background refresh run. Without ids every publish and draft project is queued. Fails while a run is in progress."),
		mcp.WithString("ids", mcp.Description("Comma-separated project IDs to refresh")),
	)
	return tool, s.handleEnqueueRefresh
}

func (s *Server) handleEnqueueRefresh(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var ids []string
	for _, id := range strings.Split(request.GetString("ids", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	p, err := s.runner.Enqueue(ctx, ids)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyRunning) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to enqueue refresh: %v", err)), nil
	}
	return jsonResult(progressOut{Progress: p, Percent: p.Percent(), Remaining: p.Remaining()})
}

// osp_refresh_project
func (s *Server) refreshProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("osp_refresh_project",
		mcp.WithDescription("Refresh one project now: resolve its repository URL, clone it and update the cached metadata."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Project ID")),
	)
	return tool, s.handleRefreshProject
}

func (s *Server) handleRefreshProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if _, err := s.store.GetProject(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", id)), nil
	}

	res := refresh.SafeProject(ctx, s.refresher, id)
	_ = s.refresher.Cleanup()
	return jsonResult(res)
}

// osp_import_project
func (s *Server) importProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("osp_import_project",
		mcp.WithDescription("Add a repository URL to the catalog as a draft and refresh it. Rejects unreachable and already cataloged repositories."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Repository URL")),
	)
	return tool, s.handleImportProject
}

func (s *Server) handleImportProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: url"), nil
	}
	p, res, err := s.refresher.Import(ctx, url)
	_ = s.refresher.Cleanup()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("import rejected: %v", err)), nil
	}
	return jsonResult(map[string]any{"project": toProjectOut(p), "refresh": res})
}
