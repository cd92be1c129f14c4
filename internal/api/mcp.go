package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hienhds/LegalSystem2/internal/search"
)

// MCPSearcher abstracts the law-article search backend for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, text string, topK int) ([]search.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Asker
	Memory   MemoryManager
	Searcher MCPSearcher
}

// NewMCPServer creates an MCP server exposing the chatbot to agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"legalbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("legalbot — Vietnamese legal question answering over a law-article corpus."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("legal_search",
			mcp.WithDescription("Search the Vietnamese law-article corpus and return relevant articles with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpLegalSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_legal",
			mcp.WithDescription("Run a question through the full legal Q&A pipeline and return the grounded answer."),
			mcp.WithString("question", mcp.Description("The legal question"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User whose conversation memory the question belongs to"), mcp.Required()),
		),
		mcpAskLegal(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_stats",
			mcp.WithDescription("Inspect a user's conversation memory: turn count, bound, and expiry."),
			mcp.WithString("user_id", mcp.Description("User to inspect"), mcp.Required()),
		),
		mcpMemoryStats(deps),
	)

	// Resources
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"legalbot://memory/{user_id}",
			"Conversation Memory",
			mcp.WithTemplateDescription("A user's recent question and answer turns as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceMemory(deps),
	)

	return s
}

func mcpLegalSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskLegal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		result := deps.Pipeline.Process(ctx, userID, question)

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMemoryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		stats := deps.Memory.Stats(ctx, userID)
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceMemory(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(req.Params.URI, "legalbot://memory/")
		if id == "" || id == req.Params.URI {
			return nil, fmt.Errorf("resource URI must be legalbot://memory/{user_id}")
		}

		turns := deps.Memory.FullHistory(ctx, id)

		type turnSummary struct {
			Question  string `json:"question"`
			Answer    string `json:"answer,omitempty"`
			Timestamp string `json:"timestamp"`
		}

		summaries := make([]turnSummary, len(turns))
		for i, turn := range turns {
			question := turn.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = turnSummary{
				Question:  question,
				Answer:    turn.Answer,
				Timestamp: turn.Timestamp.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal turns: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
