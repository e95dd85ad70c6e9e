package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

const (
	ToolValidateNarrative  = "validate_narrative"
	ToolConsolidateEntries = "consolidate_entries"
	ToolRenderNarrative    = "render_narrative"
)

// Tools exposes chronology operations that need no collaborators.
type Tools struct {
	validator ports.ChronologyValidator
	engine    *consolidation.Engine
}

func NewTools(validator ports.ChronologyValidator, engine *consolidation.Engine) *Tools {
	return &Tools{validator: validator, engine: engine}
}

func (t *Tools) NewServer(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool(ToolValidateNarrative,
		mcp.WithDescription("Check a chronology narrative against the formatting contract and list violations."),
		mcp.WithString("narrative", mcp.Required(), mcp.Description("Full narrative text including the header.")),
	), t.validateNarrative)

	s.AddTool(mcp.NewTool(ToolConsolidateEntries,
		mcp.WithDescription("Merge recurring therapy visits of a chronology record into consolidated entries."),
		mcp.WithString("record", mcp.Required(), mcp.Description("Chronology record JSON as written to chronology.json.")),
	), t.consolidateEntries)

	s.AddTool(mcp.NewTool(ToolRenderNarrative,
		mcp.WithDescription("Render a chronology record as the narrative text document."),
		mcp.WithString("record", mcp.Required(), mcp.Description("Chronology record JSON as written to chronology.json.")),
	), t.renderNarrative)

	return s
}

func (t *Tools) validateNarrative(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("narrative")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := t.validator.ValidateNarrative(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	violations := report.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}
	return jsonResult(map[string]any{
		"valid":      !report.HasBlocking(),
		"violations": violations,
	})
}

func (t *Tools) consolidateEntries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	set, errResult := parseRecordArg(req)
	if errResult != nil {
		return errResult, nil
	}
	set.Entries = t.engine.Consolidate(set.Entries)
	domain.SortEntries(set.Entries, map[string]int{})

	data, err := format.MarshalRecord(format.BuildRecord(set, 0, time.Time{}))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) renderNarrative(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	set, errResult := parseRecordArg(req)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(format.RenderNarrative(set)), nil
}

func parseRecordArg(req mcp.CallToolRequest) (*domain.ChronologySet, *mcp.CallToolResult) {
	raw, err := req.RequireString("record")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	set, err := format.ParseRecord([]byte(raw))
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid record: %v", err))
	}
	return set, nil
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
