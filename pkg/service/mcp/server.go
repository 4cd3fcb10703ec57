// Package mcp exposes the memory service as a Model Context Protocol server
// over stdio, so external agents can search and extend the same memory the
// chat and ingestion pipelines use.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
)

type Server struct {
	memory *memsvc.Service
	server *mcp.Server
}

func New(memory *memsvc.Service, version string) *Server {
	s := &Server{
		memory: memory,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "kioku-memory",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_memory",
		Description: "Search stored memories by semantic similarity and return the most relevant ones",
	}, s.searchMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "store_memory",
		Description: "Store a piece of text as a new memory record",
	}, s.storeMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Report how many memories are stored, broken down by type",
	}, s.memoryStats)

	return s
}

// Run serves MCP over stdio until the context is cancelled or the peer
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server exited")
	}
	return nil
}

type searchMemoryParams struct {
	Query    string `json:"query" jsonschema:"The text to search for"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return (default 5)"`
	Modality string `json:"modality,omitempty" jsonschema:"Restrict results to one type: text, image, video, audio or general"`
}

func (s *Server) searchMemory(ctx context.Context, req *mcp.CallToolRequest, params *searchMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Query == "" {
		return nil, nil, goerr.New("query is required", goerr.T(model.ErrTagValidation))
	}

	modality := model.Modality(params.Modality)
	if modality != "" {
		if err := modality.Validate(); err != nil {
			return nil, nil, err
		}
	}

	qc, err := s.memory.Retrieve(ctx, params.Query, params.Limit, modality)
	if err != nil {
		return nil, nil, err
	}

	if qc.Empty() {
		return textResult("No relevant memories found."), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memories:\n", len(qc.Memories))
	for i, mem := range qc.Memories {
		fmt.Fprintf(&sb, "%d. [%s, %.0f%% relevant, %s] %s\n",
			i+1, mem.Modality, mem.Score*100,
			mem.CreatedAt.Format("2006-01-02 15:04:05"), mem.Text)
	}
	return textResult(sb.String()), nil, nil
}

type storeMemoryParams struct {
	Content  string            `json:"content" jsonschema:"The text to remember"`
	Modality string            `json:"modality,omitempty" jsonschema:"Type of the memory: text, image, video, audio or general (default general)"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"Optional key-value metadata stored with the memory"`
}

func (s *Server) storeMemory(ctx context.Context, req *mcp.CallToolRequest, params *storeMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Content == "" {
		return nil, nil, goerr.New("content is required", goerr.T(model.ErrTagValidation))
	}

	id, err := s.memory.Store(ctx, params.Content, model.Modality(params.Modality), params.Metadata)
	if err != nil {
		return nil, nil, err
	}

	return textResult(fmt.Sprintf("Stored memory %s", id)), nil, nil
}

type memoryStatsParams struct{}

func (s *Server) memoryStats(ctx context.Context, req *mcp.CallToolRequest, params *memoryStatsParams) (*mcp.CallToolResult, any, error) {
	stats, err := s.memory.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Total memories: %d\n", stats.Total)
	for _, modality := range model.Modalities {
		if count := stats.ByModality[modality]; count > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", modality, count)
		}
	}
	return textResult(sb.String()), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
