package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"secondbrain/internal/extract"
	"secondbrain/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Retriever Retriever
	UploadDir string
}

// NewMCPServer creates an MCP server exposing the knowledge base to agents:
// recall for hybrid retrieval and add_note for capturing text.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"secondbrain",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("secondbrain: personal knowledge base for notes, documents, and recall."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search the knowledge base and return relevant chunks ranked by similarity, keyword frequency and recency."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("user", mcp.Description("Owner id; defaults to the shared demo user")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Store a text note into the knowledge base for later recall."),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title for the note")),
			mcp.WithString("user", mcp.Description("Owner id; defaults to the shared demo user")),
		),
		mcpAddNote(deps),
	)

	return s
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
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
		owner := req.GetString("user", defaultOwner)

		chunks, err := deps.Retriever.Retrieve(ctx, owner, query, limit, nil, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		title := req.GetString("title", "")
		owner := req.GetString("user", defaultOwner)

		docID := uuid.New().String()
		path := filepath.Join(deps.UploadDir, docID+".txt")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return mcpError(fmt.Sprintf("failed to save note: %v", err)), nil
		}

		doc := storage.Document{
			ID:         docID,
			OwnerID:    owner,
			Title:      title,
			SourceType: extract.KindText,
			Origin:     path,
			UploadedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		if err := enqueueIngest(deps.Store, docID); err != nil {
			return mcpError(fmt.Sprintf("saved note but failed to queue ingestion: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored note %s", docID)), nil
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
