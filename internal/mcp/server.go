package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/repo"
)

// Server exposes a repo set over MCP stdio.
type Server struct {
	set       *repo.Set
	logger    *logging.AppLogger
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server over the given repos.
func NewServer(set *repo.Set, version string, logger *logging.AppLogger) *Server {
	if logger == nil {
		logger = logging.GetDefault()
	}
	s := &Server{
		set:    set,
		logger: logger,
	}
	s.mcpServer = server.NewMCPServer("codeshare", version)
	s.registerTools()
	return s
}

// Start serves MCP over stdio. Blocks until the client disconnects.
func (s *Server) Start() error {
	s.logger.Info("Starting MCP stdio server", "repos", s.set.Len())
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// resolveRepo maps the optional "repo" tool argument onto a configured
// repo. With a single configured repo the argument may be omitted.
func (s *Server) resolveRepo(req mcp.CallToolRequest) (*repo.Repo, error) {
	name := req.GetString("repo", "")
	if name == "" {
		if s.set.Len() == 1 {
			return s.set.All()[0], nil
		}
		return nil, fmt.Errorf("multiple repos configured, pass repo (one of %s)", s.repoNames())
	}
	rp, ok := s.set.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown repo %q (one of %s)", name, s.repoNames())
	}
	return rp, nil
}

func (s *Server) repoNames() string {
	names := ""
	for i, rp := range s.set.All() {
		if i > 0 {
			names += ", "
		}
		names += rp.Name
	}
	return names
}

func (s *Server) registerTools() {
	repoArg := mcp.WithString("repo",
		mcp.Description("Repository name. Optional when a single repository is served."))

	s.mcpServer.AddTool(mcp.NewTool("list_tree",
		mcp.WithDescription("List the visible files of the repository as tab-separated 'path<TAB>size' lines. Hidden, binary and secret-like files are excluded."),
		repoArg,
	), s.handleListTree)

	s.mcpServer.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read one text file from the repository, with a header stating path, size and whether the content was truncated."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Repository-relative path, as listed by list_tree.")),
		repoArg,
	), s.handleReadFile)

	s.mcpServer.AddTool(mcp.NewTool("build_cache",
		mcp.WithDescription("Build the persisted snapshot bundle. Returns the build metadata. Fails immediately if another build is already running."),
		mcp.WithBoolean("refresh",
			mcp.Description("Rebuild even when a snapshot already exists.")),
		repoArg,
	), s.handleBuildCache)

	s.mcpServer.AddTool(mcp.NewTool("cache_meta",
		mcp.WithDescription("Return the snapshot metadata document (JSON): fingerprint, chunk count, file totals."),
		repoArg,
	), s.handleCacheMeta)

	s.mcpServer.AddTool(mcp.NewTool("read_chunk",
		mcp.WithDescription("Read one snapshot chunk. Pass part=0 to get the chunk index instead."),
		mcp.WithNumber("part",
			mcp.Required(),
			mcp.Description("1-based chunk number, or 0 for the index.")),
		repoArg,
	), s.handleReadChunk)
}

func (s *Server) handleListTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rp, err := s.resolveRepo(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := rp.TreeText()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func (s *Server) handleReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rp, err := s.resolveRepo(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	relPath, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := rp.ReadFile(relPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(res.Header()) + string(res.Content)), nil
}

func (s *Server) handleBuildCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rp, err := s.resolveRepo(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refresh := req.GetBool("refresh", false)

	// TryBuild keeps the tool call snappy: an assistant retries far more
	// gracefully than it waits on a long-held lock.
	if _, err := rp.TryBuild(refresh); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := rp.MetaJSON()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleCacheMeta(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rp, err := s.resolveRepo(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := rp.MetaJSON()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReadChunk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rp, err := s.resolveRepo(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	part, err := req.RequireInt("part")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if part == 0 {
		index, err := rp.Index()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(index)), nil
	}

	data, err := rp.Chunk(part)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
