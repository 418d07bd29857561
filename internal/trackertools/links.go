package trackertools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/workspace"
)

func linkPairOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
	}
}

func linkPairArgs(req mcp.CallToolRequest) (taskID, entityID int64, err error) {
	if taskID, err = idArg(req, "task_id"); err != nil {
		return 0, 0, err
	}
	if entityID, err = idArg(req, "entity_id"); err != nil {
		return 0, 0, err
	}
	return taskID, entityID, nil
}

// LinkEntityToTaskTool handles the link_entity_to_task MCP tool.
type LinkEntityToTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for link_entity_to_task.
func (t *LinkEntityToTaskTool) Definition() mcp.Tool {
	opts := append(linkPairOptions(),
		mcp.WithString("created_by", mcp.Description("Caller identity (default: this server session)")),
	)
	return newTool("link_entity_to_task",
		"Link an entity to a task. A pair can have only one active link; unlinking frees it.", opts...)
}

// Handle processes the link_entity_to_task tool call.
func (t *LinkEntityToTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "link_entity_to_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		taskID, entityID, err := linkPairArgs(req)
		if err != nil {
			return nil, err
		}
		return t.k.Tracker.LinkEntityToTask(ctx, ws.Path, taskID, entityID, req.GetString("created_by", t.k.SessionID))
	})
}

// UnlinkEntityFromTaskTool handles the unlink_entity_from_task MCP tool.
type UnlinkEntityFromTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for unlink_entity_from_task.
func (t *UnlinkEntityFromTaskTool) Definition() mcp.Tool {
	return newTool("unlink_entity_from_task", "Remove the active link between an entity and a task.", linkPairOptions()...)
}

// Handle processes the unlink_entity_from_task tool call.
func (t *UnlinkEntityFromTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "unlink_entity_from_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		taskID, entityID, err := linkPairArgs(req)
		if err != nil {
			return nil, err
		}
		link, err := t.k.Tracker.UnlinkEntityFromTask(ctx, ws.Path, taskID, entityID)
		if err != nil {
			return nil, err
		}
		return unlinkResult{Unlinked: true, Link: link}, nil
	})
}

// GetTaskEntitiesTool handles the get_task_entities MCP tool.
type GetTaskEntitiesTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_task_entities.
func (t *GetTaskEntitiesTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		entityTypeOption("Only entities of this type"),
	}, pageOptions(t.k)...)
	return newTool("get_task_entities", "List the active entities linked to a task.", opts...)
}

// Handle processes the get_task_entities tool call.
func (t *GetTaskEntitiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_task_entities", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "task_id")
		if err != nil {
			return nil, err
		}
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		page, err := t.k.Tracker.GetTaskEntities(ctx, ws.Path, id, req.GetString("entity_type", ""), w.Limit, w.Offset)
		if err != nil {
			return nil, err
		}
		return entityPage(page, w, mode), nil
	})
}

// GetEntityTasksTool handles the get_entity_tasks MCP tool.
type GetEntityTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_entity_tasks.
func (t *GetEntityTasksTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
		taskStatusOption("Only tasks with this status"),
	}, pageOptions(t.k)...)
	return newTool("get_entity_tasks", "List the active tasks linked to an entity.", opts...)
}

// Handle processes the get_entity_tasks tool call.
func (t *GetEntityTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_entity_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "entity_id")
		if err != nil {
			return nil, err
		}
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		page, err := t.k.Tracker.GetEntityTasks(ctx, ws.Path, id, req.GetString("status", ""), w.Limit, w.Offset)
		if err != nil {
			return nil, err
		}
		return taskPage(page, w, mode), nil
	})
}
