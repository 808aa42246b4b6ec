package turbo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the engine tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStateTool(srv)
	e.registerToggleTool(srv)
	e.registerStatsTool(srv)
	e.registerReconcileTool(srv)
	if e.journal != nil {
		e.registerHistoryTool(srv)
	}
}

// endpoint is a decoded-request handler.
type endpoint func(ctx context.Context, req any) (any, error)

// registerTool wires an endpoint as a tool. Decoding and endpoint errors
// become tool errors, never protocol errors; the result is the JSON of the
// endpoint response as text content.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := ep(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func noArgs(*mcp.CallToolRequest) (any, error) { return nil, nil }

func (e *Engine) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "turbo_state",
		Description: "Current turbo mode flag and the editor layout seen by the last reconcile pass.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, any) (any, error) {
		return e.state(), nil
	}, noArgs)
}

type toggleRequest struct {
	On *bool `json:"on,omitempty"`
}

func (e *Engine) registerToggleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "turbo_toggle",
		Description: "Flip turbo mode, or set it explicitly with 'on'. The change is persisted and mirrored into the editor.",
		InputSchema: inputSchema(map[string]any{
			"on": map[string]any{"type": "boolean", "description": "Target value; omit to flip"},
		}, nil),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*toggleRequest)
		var err error
		if r.On != nil {
			err = e.SetMode(ctx, *r.On, "mcp")
		} else {
			_, err = e.Toggle(ctx, "mcp")
		}
		if err != nil {
			return nil, err
		}
		return e.state(), nil
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r toggleRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &r, nil
	}

	registerTool(srv, tool, ep, decode)
}

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "turbo_stats",
		Description: "Engine counters: passes, controls created, mutation signals, stale signals dropped, frame rebinds, toggles.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, any) (any, error) {
		return e.Stats(), nil
	}, noArgs)
}

func (e *Engine) registerReconcileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "turbo_reconcile",
		Description: "Run one reconcile pass now and report its outcome.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return e.Reconcile(ctx)
	}, noArgs)
}

type historyRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (e *Engine) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "turbo_history",
		Description: "Most recent persisted toggles, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		return e.journal.History(ctx, req.(*historyRequest).Limit)
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r historyRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &r, nil
	}

	registerTool(srv, tool, ep, decode)
}
