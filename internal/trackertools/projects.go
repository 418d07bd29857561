package trackertools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// ListProjectsTool handles the list_projects MCP tool.
type ListProjectsTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for list_projects. It takes no
// workspace: it reads the registry shared by every client.
func (t *ListProjectsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List every known project workspace, most recently used first."),
		mcp.WithNumber("limit", mcp.Description("Page size")),
		mcp.WithNumber("offset", mcp.Description("Rows to skip (default: 0)")),
		mcp.WithBoolean("include_stats",
			mcp.Description("Also count tasks, entities and links in each project (default: false)"),
		),
	)
}

// Handle processes the list_projects tool call.
func (t *ListProjectsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.runGlobal(ctx, "list_projects", func(ctx context.Context) (any, error) {
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		items, total, err := t.k.Projects.List(ctx, w.Limit, w.Offset, boolArg(req, "include_stats", false))
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i]
		}
		return shape.NewEnvelope(out, total, w, ""), nil
	})
}

// GetProjectInfoTool handles the get_project_info MCP tool.
type GetProjectInfoTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_project_info.
func (t *GetProjectInfoTool) Definition() mcp.Tool {
	return newTool("get_project_info",
		"Show the resolved workspace: project id, name, database path and contents.")
}

// Handle processes the get_project_info tool call.
func (t *GetProjectInfoTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_project_info", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		info, err := t.k.Projects.Info(ctx, ws.Path)
		if err != nil {
			return nil, err
		}
		return projectInfoResult{Info: info, Source: ws.Source}, nil
	})
}

// SetProjectNameTool handles the set_project_name MCP tool.
type SetProjectNameTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for set_project_name.
func (t *SetProjectNameTool) Definition() mcp.Tool {
	return newTool("set_project_name", "Give the workspace a friendly name shown by list_projects.",
		mcp.WithString("name", mcp.Required(), mcp.Description("Friendly name (max 100 characters); empty restores the directory name")),
	)
}

// Handle processes the set_project_name tool call.
func (t *SetProjectNameTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "set_project_name", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		return t.k.Projects.SetName(ctx, ws.Path, req.GetString("name", ""))
	})
}
