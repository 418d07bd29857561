package trackertools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/tracker"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

func taskStatusOption(desc string) mcp.ToolOption {
	return mcp.WithString("status",
		mcp.Description(desc),
		mcp.Enum("todo", "in_progress", "blocked", "done", "cancelled"),
	)
}

func priorityOption(desc string) mcp.ToolOption {
	return mcp.WithString("priority",
		mcp.Description(desc),
		mcp.Enum("low", "medium", "high"),
	)
}

func tagsOption(desc string) mcp.ToolOption {
	return mcp.WithArray("tags",
		mcp.Description(desc),
		mcp.Items(map[string]any{"type": "string"}),
	)
}

func taskPage(page tracker.Page[tracker.Task], w shape.Window, mode shape.Mode) *shape.Envelope {
	return shape.NewEnvelope(shape.Project(page.Items, mode, tracker.Task.Summary), page.Total, w, mode)
}

// taskFields collects the arguments shared by create_task and update_task.
type taskFields struct {
	Title, Description, Status, Priority *string
	BlockerReason                        *string
	DependsOn                            *[]int64
	Tags, FileReferences                 *[]string
}

func parseTaskFields(req mcp.CallToolRequest) (taskFields, error) {
	var f taskFields
	var err error
	for key, dst := range map[string]**string{
		"title":          &f.Title,
		"description":    &f.Description,
		"status":         &f.Status,
		"priority":       &f.Priority,
		"blocker_reason": &f.BlockerReason,
	} {
		if *dst, err = optionalStringArg(req, key); err != nil {
			return f, err
		}
	}
	if f.DependsOn, err = idsArg(req, "depends_on"); err != nil {
		return f, err
	}
	if f.Tags, err = stringsArg(req, "tags"); err != nil {
		return f, err
	}
	if f.FileReferences, err = stringsArg(req, "file_references"); err != nil {
		return f, err
	}
	return f, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// ─── create_task ────────────────────────────────────────────────────────────

// CreateTaskTool handles the create_task MCP tool.
type CreateTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for create_task.
func (t *CreateTaskTool) Definition() mcp.Tool {
	return newTool("create_task",
		"Create a task in the current workspace. A task created as in_progress or done must have every "+
			"dependency already done; a blocked task needs a blocker_reason.",
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title (max 500 characters)")),
		mcp.WithString("description", mcp.Description("Longer description (max 10,000 characters)")),
		taskStatusOption("Initial status (default: todo)"),
		priorityOption("Priority (default: medium)"),
		mcp.WithNumber("parent_task_id", mcp.Description("Parent task id for subtasks")),
		mcp.WithArray("depends_on",
			mcp.Description("Ids of tasks that must be done before this one can start"),
			mcp.Items(map[string]any{"type": "integer"}),
		),
		tagsOption("Tags; each is split on spaces and commas and lowercased"),
		mcp.WithString("blocker_reason", mcp.Description("Why the task is blocked (required when status is blocked)")),
		mcp.WithArray("file_references",
			mcp.Description("Paths of files relevant to the task"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("created_by", mcp.Description("Caller identity (default: this server session)")),
	)
}

// Handle processes the create_task tool call.
func (t *CreateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "create_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		f, err := parseTaskFields(req)
		if err != nil {
			return nil, err
		}
		parent, _, err := optionalIDArg(req, "parent_task_id")
		if err != nil {
			return nil, err
		}
		return t.k.Tracker.CreateTask(ctx, ws.Path, tracker.CreateTaskParams{
			Title:          deref(f.Title),
			Description:    deref(f.Description),
			Status:         deref(f.Status),
			Priority:       deref(f.Priority),
			ParentTaskID:   parent,
			DependsOn:      deref(f.DependsOn),
			Tags:           deref(f.Tags),
			BlockerReason:  f.BlockerReason,
			FileReferences: deref(f.FileReferences),
			CreatedBy:      req.GetString("created_by", t.k.SessionID),
		})
	})
}

// ─── update_task ────────────────────────────────────────────────────────────

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for update_task.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return newTool("update_task",
		"Update fields of a task. Only supplied fields change. Moving to in_progress or done requires every "+
			"dependency to be done; moving to blocked requires a blocker_reason.",
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description; empty clears it")),
		taskStatusOption("New status"),
		priorityOption("New priority"),
		mcp.WithNumber("parent_task_id", mcp.Description("New parent task id; 0 or null clears it")),
		mcp.WithArray("depends_on",
			mcp.Description("Replacement dependency list"),
			mcp.Items(map[string]any{"type": "integer"}),
		),
		tagsOption("Replacement tags"),
		mcp.WithString("blocker_reason", mcp.Description("Why the task is blocked")),
		mcp.WithArray("file_references",
			mcp.Description("Replacement file references"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

// Handle processes the update_task tool call.
func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "update_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "task_id")
		if err != nil {
			return nil, err
		}
		f, err := parseTaskFields(req)
		if err != nil {
			return nil, err
		}
		p := tracker.UpdateTaskParams{
			ID:             id,
			Title:          f.Title,
			Description:    f.Description,
			Status:         f.Status,
			Priority:       f.Priority,
			DependsOn:      f.DependsOn,
			Tags:           f.Tags,
			BlockerReason:  f.BlockerReason,
			FileReferences: f.FileReferences,
		}
		parent, ok, err := optionalIDArg(req, "parent_task_id")
		if err != nil {
			return nil, err
		}
		if ok {
			p.ParentTaskID = &parent
		}
		return t.k.Tracker.UpdateTask(ctx, ws.Path, p)
	})
}

// ─── get_task ───────────────────────────────────────────────────────────────

// GetTaskTool handles the get_task MCP tool.
type GetTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_task.
func (t *GetTaskTool) Definition() mcp.Tool {
	return newTool("get_task", "Get one active task with every field.",
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
}

// Handle processes the get_task tool call.
func (t *GetTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "task_id")
		if err != nil {
			return nil, err
		}
		return t.k.Tracker.GetTask(ctx, ws.Path, id)
	})
}

// ─── list_tasks / search_tasks ──────────────────────────────────────────────

func taskFilterOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		taskStatusOption("Only tasks with this status"),
		priorityOption("Only tasks with this priority"),
		mcp.WithString("tag", mcp.Description("Only tasks carrying this tag")),
		mcp.WithNumber("parent_task_id", mcp.Description("Only direct subtasks of this task")),
	}
}

func (k *Toolkit) listTasks(ctx context.Context, req mcp.CallToolRequest, ws string, search bool) (any, error) {
	w, err := k.windowArg(req)
	if err != nil {
		return nil, err
	}
	mode, err := modeArg(req)
	if err != nil {
		return nil, err
	}
	f := tracker.TaskFilter{
		Status:   req.GetString("status", ""),
		Priority: req.GetString("priority", ""),
		Tag:      req.GetString("tag", ""),
		Limit:    w.Limit,
		Offset:   w.Offset,
	}
	if parent, ok, err := optionalIDArg(req, "parent_task_id"); err != nil {
		return nil, err
	} else if ok && parent != 0 {
		f.ParentTaskID = &parent
	}

	var page tracker.Page[tracker.Task]
	if search {
		f.Query = req.GetString("query", "")
		page, err = k.Tracker.SearchTasks(ctx, ws, f)
	} else {
		page, err = k.Tracker.ListTasks(ctx, ws, f)
	}
	if err != nil {
		return nil, err
	}
	return taskPage(page, w, mode), nil
}

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for list_tasks.
func (t *ListTasksTool) Definition() mcp.Tool {
	opts := append(taskFilterOptions(), pageOptions(t.k)...)
	return newTool("list_tasks", "List active tasks, oldest first, with optional filters and pagination.", opts...)
}

// Handle processes the list_tasks tool call.
func (t *ListTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "list_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		return t.k.listTasks(ctx, req, ws.Path, false)
	})
}

// SearchTasksTool handles the search_tasks MCP tool.
type SearchTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for search_tasks.
func (t *SearchTasksTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive text matched against title and description")),
	}, taskFilterOptions()...)
	opts = append(opts, pageOptions(t.k)...)
	return newTool("search_tasks", "Search active tasks by title and description.", opts...)
}

// Handle processes the search_tasks tool call.
func (t *SearchTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "search_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		return t.k.listTasks(ctx, req, ws.Path, true)
	})
}

// ─── delete_task ────────────────────────────────────────────────────────────

// DeleteTaskTool handles the delete_task MCP tool.
type DeleteTaskTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for delete_task.
func (t *DeleteTaskTool) Definition() mcp.Tool {
	return newTool("delete_task",
		"Soft-delete a task. It disappears from every read; subtasks are kept. "+
			"cleanup_deleted_tasks removes it permanently after the retention period.",
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
}

// Handle processes the delete_task tool call.
func (t *DeleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "delete_task", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "task_id")
		if err != nil {
			return nil, err
		}
		if err := t.k.Tracker.DeleteTask(ctx, ws.Path, id); err != nil {
			return nil, err
		}
		return deleteTaskResult{Deleted: true, TaskID: id}, nil
	})
}

// ─── get_task_tree ──────────────────────────────────────────────────────────

// GetTaskTreeTool handles the get_task_tree MCP tool.
type GetTaskTreeTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_task_tree.
func (t *GetTaskTreeTool) Definition() mcp.Tool {
	return newTool("get_task_tree", "Get a task with all of its active subtasks, nested.",
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Root task id")),
		mcp.WithNumber("max_depth", mcp.Description("Levels below the root to expand; 0 or omitted means unlimited")),
		mcp.WithString("mode",
			mcp.Description("summary: reduced task fields. details (default): complete rows."),
			mcp.Enum(shape.ModeValues()...),
		),
	)
}

// Handle processes the get_task_tree tool call.
func (t *GetTaskTreeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_task_tree", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "task_id")
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		depth, err := depthArg(req, "max_depth")
		if err != nil {
			return nil, err
		}
		tree, err := t.k.Tracker.GetTaskTree(ctx, ws.Path, id, depth)
		if err != nil {
			return nil, err
		}
		resp := &treeResponse{
			Root:          tree.Root,
			TotalNodes:    tree.TotalNodes,
			MaxDepth:      tree.MaxDepth,
			CycleDetected: tree.CycleDetected,
			Truncated:     tree.Truncated,
			Mode:          string(mode),
		}
		if mode == shape.ModeSummary {
			resp.Root = summarizeTree(tree.Root)
		}
		return resp, nil
	})
}

// ─── get_blocked_tasks / get_next_tasks ─────────────────────────────────────

// GetBlockedTasksTool handles the get_blocked_tasks MCP tool.
type GetBlockedTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_blocked_tasks.
func (t *GetBlockedTasksTool) Definition() mcp.Tool {
	return newTool("get_blocked_tasks", "List active blocked tasks with their blocker reasons.", pageOptions(t.k)...)
}

// Handle processes the get_blocked_tasks tool call.
func (t *GetBlockedTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_blocked_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		page, err := t.k.Tracker.GetBlockedTasks(ctx, ws.Path, w.Limit, w.Offset)
		if err != nil {
			return nil, err
		}
		return taskPage(page, w, mode), nil
	})
}

// GetNextTasksTool handles the get_next_tasks MCP tool.
type GetNextTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_next_tasks.
func (t *GetNextTasksTool) Definition() mcp.Tool {
	return newTool("get_next_tasks",
		"List todo tasks whose dependencies are all done, highest priority first. Use it to pick the next piece of work.",
		pageOptions(t.k)...)
}

// Handle processes the get_next_tasks tool call.
func (t *GetNextTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_next_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		page, err := t.k.Tracker.GetNextTasks(ctx, ws.Path, w.Limit, w.Offset)
		if err != nil {
			return nil, err
		}
		return taskPage(page, w, mode), nil
	})
}

// ─── cleanup_deleted_tasks ──────────────────────────────────────────────────

// CleanupDeletedTasksTool handles the cleanup_deleted_tasks MCP tool.
type CleanupDeletedTasksTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for cleanup_deleted_tasks.
func (t *CleanupDeletedTasksTool) Definition() mcp.Tool {
	return newTool("cleanup_deleted_tasks",
		"Permanently remove tasks that were soft-deleted longer ago than the retention period.",
		mcp.WithNumber("retention_days", mcp.Description("Keep deletions younger than this many days (default: 30)")),
	)
}

// Handle processes the cleanup_deleted_tasks tool call.
func (t *CleanupDeletedTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "cleanup_deleted_tasks", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		days := t.k.RetentionDays
		if present(req, "retention_days") && req.GetArguments()["retention_days"] != nil {
			n, err := toID("retention_days", req.GetArguments()["retention_days"])
			if err != nil {
				return nil, err
			}
			days = int(n)
		}
		return t.k.Tracker.CleanupDeletedTasks(ctx, ws.Path, days)
	})
}
