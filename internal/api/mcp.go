package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
)

const (
	mcpMaxSQLRows     = assistant.MaxRowsToModel
	mcpDefaultSearch  = 7
	mcpMaxSearchLimit = 50
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Assistant Asker
	Catalog   Catalog
	Records   *storage.Store // optional; record tools report it missing when nil
}

// NewMCPServer creates an MCP server with the catalog, chat and public
// record tools and the schema and capabilities resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vinochat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vinochat: каталог российских вин, SQL-поиск, публичные лайки и заметки."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the wine assistant one question. Each call is a fresh conversation."),
			mcp.WithString("message", mcp.Description("Question in natural language"), mcp.Required()),
			mcp.WithString("user", mcp.Description("Author name for likes and notes (default: Гость)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("execute_sql",
			mcp.WithDescription(fmt.Sprintf("Run a read-only SELECT/WITH query against the catalog. At most %d rows are returned.", mcpMaxSQLRows)),
			mcp.WithString("query", mcp.Description("SQL query"), mcp.Required()),
		),
		mcpExecuteSQL(deps),
	)

	s.AddTool(
		mcp.NewTool("search_catalog",
			mcp.WithDescription("Find catalog cards by a free-text wine name or producer."),
			mcp.WithString("query", mcp.Description("Wine name, producer or both"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of cards (default 7)")),
		),
		mcpSearchCatalog(deps),
	)

	s.AddTool(
		mcp.NewTool(assistant.ToolAddRecord,
			mcp.WithDescription("Add a public like or note to a catalog wine."),
			mcp.WithString("wine_id", mcp.Description("card_key or url of the wine"), mcp.Required()),
			mcp.WithString("record_type", mcp.Description("like or note"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Note text (required for notes)")),
			mcp.WithString("user", mcp.Description("Author name (default: Гость)")),
		),
		mcpAddRecord(deps),
	)

	s.AddTool(
		mcp.NewTool(assistant.ToolListRecords,
			mcp.WithDescription("List public likes and notes, newest first."),
			mcp.WithString("wine_id", mcp.Description("Filter by wine")),
			mcp.WithString("record_type", mcp.Description("Filter by type: like or note")),
			mcp.WithString("user", mcp.Description("Filter by author")),
		),
		mcpListRecords(deps),
	)

	s.AddTool(
		mcp.NewTool(assistant.ToolRecordSummary,
			mcp.WithDescription("Count likes and notes of one wine."),
			mcp.WithString("wine_id", mcp.Description("card_key or url of the wine"), mcp.Required()),
		),
		mcpRecordSummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"catalog://schema",
			"Catalog Schema",
			mcp.WithResourceDescription("Columns of the wine catalog table"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceSchema(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://capabilities",
			"Capabilities",
			mcp.WithResourceDescription("What the assistant can do"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceCapabilities(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}

		res, err := deps.Assistant.Ask(ctx, assistant.Turn{
			Text: strings.TrimSpace(message),
			User: req.GetString("user", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpJSON(ChatResponse{Response: res.Answer, Meta: res.Meta})
	}
}

func mcpExecuteSQL(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		safe, rows, err := deps.Catalog.ExecuteReadOnly(ctx, query, mcpMaxSQLRows)
		if err != nil {
			var verr *sqlguard.ValidationError
			if errors.As(err, &verr) {
				return mcpError("SQL отклонен: " + verr.Message), nil
			}
			return mcpError("Ошибка выполнения SQL: " + err.Error()), nil
		}
		if rows == nil {
			rows = []catalog.Row{}
		}
		return mcpJSON(map[string]any{
			"ok":        true,
			"safe_sql":  safe,
			"row_count": len(rows),
			"rows":      rows,
		})
	}
}

func mcpSearchCatalog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", mcpDefaultSearch)
		if limit <= 0 {
			limit = mcpDefaultSearch
		}
		if limit > mcpMaxSearchLimit {
			limit = mcpMaxSearchLimit
		}

		rows, err := deps.Catalog.SearchByText(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if rows == nil {
			rows = []catalog.Row{}
		}
		return mcpJSON(rows)
	}
}

func mcpAddRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Records == nil {
			return mcpError("records store is not configured"), nil
		}
		wineID, err := req.RequireString("wine_id")
		if err != nil {
			return mcpError("wine_id is required"), nil
		}
		recordType, err := req.RequireString("record_type")
		if err != nil {
			return mcpError("record_type is required"), nil
		}

		rec, err := deps.Records.AddRecord(ctx,
			req.GetString("user", ""), recordType, req.GetString("content", ""), wineID)
		if err != nil {
			return mcpRecordError(err), nil
		}
		return mcpJSON(rec)
	}
}

func mcpListRecords(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Records == nil {
			return mcpError("records store is not configured"), nil
		}
		records, err := deps.Records.ListRecords(ctx, storage.Filter{
			WineID:     req.GetString("wine_id", ""),
			RecordType: req.GetString("record_type", ""),
			User:       req.GetString("user", ""),
		})
		if err != nil {
			return mcpRecordError(err), nil
		}
		if records == nil {
			records = []storage.Record{}
		}
		return mcpJSON(records)
	}
}

func mcpRecordSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Records == nil {
			return mcpError("records store is not configured"), nil
		}
		wineID, err := req.RequireString("wine_id")
		if err != nil {
			return mcpError("wine_id is required"), nil
		}
		sum, err := deps.Records.Summary(ctx, wineID)
		if err != nil {
			return mcpRecordError(err), nil
		}
		return mcpJSON(sum)
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		schema, err := deps.Catalog.SchemaString(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     schema,
			},
		}, nil
	}
}

func mcpResourceCapabilities(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     deps.Assistant.Capabilities(),
			},
		}, nil
	}
}

func mcpRecordError(err error) *mcp.CallToolResult {
	var rerr *storage.RecordError
	if errors.As(err, &rerr) {
		return mcpError(rerr.Message)
	}
	return mcpError(fmt.Sprintf("records store failed: %v", err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
