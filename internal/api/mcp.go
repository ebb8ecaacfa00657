package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sift/internal/chunker"
	"github.com/kalambet/sift/internal/conversation"
	"github.com/kalambet/sift/internal/ingest"
	"github.com/kalambet/sift/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store         *storage.Store
	Conversations *conversation.Service
	ChunkMinSize  int
	ChunkMaxSize  int
}

// NewMCPServer creates an MCP server exposing sift's chunking, ingestion,
// and conversation tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sift",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sift — document chunking and topic conversations over configurable LLM providers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chunk_text",
			mcp.WithDescription("Split text into size-bounded segments on paragraph and sentence boundaries."),
			mcp.WithString("text", mcp.Description("The text to split"), mcp.Required()),
			mcp.WithNumber("min_size", mcp.Description("Minimum segment size in characters (default 500)")),
			mcp.WithNumber("max_size", mcp.Description("Maximum segment size in characters (default 800)")),
		),
		mcpChunkText(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a document and queue it for chunking."),
			mcp.WithString("title", mcp.Description("Title for the document")),
			mcp.WithString("content", mcp.Description("The document text"), mcp.Required()),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List stored documents with their ids and sizes."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("start_conversation",
			mcp.WithDescription("Start a conversation on a document topic using a prompt template."),
			mcp.WithString("topic_id", mcp.Description("Topic to converse about"), mcp.Required()),
			mcp.WithString("template_id", mcp.Description("Prompt template id (default preset-explore)")),
			mcp.WithString("title", mcp.Description("Optional conversation title")),
		),
		mcpStartConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("continue_conversation",
			mcp.WithDescription("Send a message in an existing conversation and return the reply."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The user message"), mcp.Required()),
		),
		mcpContinueConversation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sift://templates",
			"Prompt Templates",
			mcp.WithResourceDescription("Available conversation prompt templates as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTemplates(deps),
	)

	return s
}

func mcpChunkText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		minSize := req.GetInt("min_size", deps.ChunkMinSize)
		maxSize := req.GetInt("max_size", deps.ChunkMaxSize)
		if minSize < 0 || maxSize < 0 || (maxSize > 0 && minSize > maxSize) {
			return mcpError("invalid chunk bounds"), nil
		}

		segments := chunker.Chunk(text, minSize, maxSize)

		type segmentResult struct {
			Position int    `json:"position"`
			Size     int    `json:"size"`
			Content  string `json:"content"`
		}
		results := make([]segmentResult, len(segments))
		for i, seg := range segments {
			results[i] = segmentResult{
				Position: seg.Position,
				Size:     utf8.RuneCountInString(seg.Content),
				Content:  seg.Content,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal segments: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		title := req.GetString("title", "")

		docID := uuid.New().String()
		doc := storage.Document{
			ID:        docID,
			Title:     title,
			Content:   content,
			Source:    "mcp",
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		job, err := ingest.NewChunkJob(uuid.New().String(), docID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build chunk job: %v", err)), nil
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("saved document but failed to queue chunking: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored document %s", docID)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		docs, err := deps.Store.ListDocuments(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		type docResult struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Size      int    `json:"size"`
			CreatedAt string `json:"created_at"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{
				ID:        d.ID,
				Title:     d.Title,
				Size:      utf8.RuneCountInString(d.Content),
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStartConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topicID, err := req.RequireString("topic_id")
		if err != nil {
			return mcpError("topic_id is required"), nil
		}
		templateID := req.GetString("template_id", "preset-explore")
		title := req.GetString("title", "")

		segments, err := topicSegments(deps.Store, topicID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load topic segments: %v", err)), nil
		}
		if len(segments) == 0 {
			return mcpError("topic has no segments; chunking may still be in progress"), nil
		}

		record, err := deps.Conversations.Start(ctx, topicID, templateID, title, segments)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start conversation: %v", err)), nil
		}

		reply := ""
		if n := len(record.Messages); n > 0 {
			reply = record.Messages[n-1].Content
		}
		b, err := json.Marshal(map[string]string{"conversation_id": record.ID, "reply": reply})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpContinueConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		record, err := deps.Conversations.Continue(ctx, convID, content)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to continue conversation: %v", err)), nil
		}

		return mcpText(record.Messages[len(record.Messages)-1].Content), nil
	}
}

func mcpResourceTemplates(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		templates, err := deps.Store.ListTemplates()
		if err != nil {
			return nil, fmt.Errorf("failed to list templates: %w", err)
		}

		type templateResult struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			IsPreset bool   `json:"is_preset"`
		}
		results := make([]templateResult, len(templates))
		for i, t := range templates {
			results[i] = templateResult{ID: t.ID, Name: t.Name, IsPreset: t.IsPreset}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
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
