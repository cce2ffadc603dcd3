package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-crew/pkg/store"
)

type WriteArticleArgs struct {
	Topic      string `json:"topic" jsonschema:"the topic to research and write about"`
	Verbose    bool   `json:"verbose,omitempty" jsonschema:"log every agent step"`
	OutputFile string `json:"output_file,omitempty" jsonschema:"file name to save the article under; empty means do not save"`
}

type WriteArticleResult struct {
	RunID          string  `json:"run_id"`
	Status         string  `json:"status"`
	Article        string  `json:"article,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	OutputFile     string  `json:"output_file,omitempty"`
	Error          string  `json:"error,omitempty"`
	Hint           string  `json:"hint,omitempty"`
}

type SearchArticlesArgs struct {
	Query string `json:"query" jsonschema:"what to look for in earlier articles"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of chunks to return, default 5"`
}

type SearchArticlesResult struct {
	Hits []ArticleHit `json:"hits"`
}

// NewMCPServer exposes the pipeline and the article archive as MCP tools.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "research-crew",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_article",
		Description: "Research a topic on the web and write a markdown article about it. Blocks until the article is finished.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args WriteArticleArgs) (*mcp.CallToolResult, WriteArticleResult, error) {
		save := args.OutputFile != ""
		verbose := args.Verbose
		run, err := svc.RunSync(ctx, RunOptions{
			Topic:      args.Topic,
			Verbose:    &verbose,
			SaveToFile: &save,
			OutputFile: args.OutputFile,
		})
		if err != nil {
			return nil, WriteArticleResult{}, err
		}

		out := WriteArticleResult{
			RunID:          run.ID.String(),
			Status:         string(run.Status),
			Article:        run.Article,
			ElapsedSeconds: run.ElapsedSeconds,
			OutputFile:     run.OutputFile,
			Error:          run.Error,
			Hint:           run.Hint,
		}
		if run.Status != store.StatusCompleted {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s\n%s", run.Error, run.Hint)}},
			}, out, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: run.Article}},
		}, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_articles",
		Description: "Semantic search over articles written by earlier runs.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args SearchArticlesArgs) (*mcp.CallToolResult, SearchArticlesResult, error) {
		hits, err := svc.SearchArticles(ctx, args.Query, args.TopK)
		if err != nil {
			return nil, SearchArticlesResult{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatHits(hits)}},
		}, SearchArticlesResult{Hits: hits}, nil
	})

	return server
}

func formatHits(hits []ArticleHit) string {
	if len(hits) == 0 {
		return "No matching articles found."
	}
	var sb strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&sb, "# Topic: %s (run %s, score %.3f)\n\n%s\n\n", h.Topic, h.RunID, h.Score, h.Content)
	}
	return sb.String()
}

// NewMCPHandler serves the MCP server over streamable HTTP.
func NewMCPHandler(svc *Service) http.Handler {
	server := NewMCPServer(svc)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
