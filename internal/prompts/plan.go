package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// PlanPrompt handles the taskmem-plan MCP prompt.
// It guides the AI to break a goal into tracked tasks with dependencies.
type PlanPrompt struct{}

// NewPlanPrompt creates a PlanPrompt.
func NewPlanPrompt() *PlanPrompt {
	return &PlanPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *PlanPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("taskmem-plan",
		mcp.WithPromptDescription(
			"Break a goal into tracked tasks. Creates a parent task, "+
				"subtasks with dependencies between them, and links the files they touch.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you want to get done"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("priority",
			mcp.ArgumentDescription("Priority for the parent task: low, medium or high. Default: medium"),
		),
	)
}

// Handle processes the taskmem-plan prompt request.
func (p *PlanPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	goal := promptArg(req, "goal", "")
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	priority := promptArg(req, "priority", "medium")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Plan: %s", goal),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to plan this goal as tracked tasks: %s\n\n"+
						"Please:\n"+
						"1. Run `search_tasks` with a few keywords from the goal so we don't duplicate existing work\n"+
						"2. Run `create_task` for the goal itself with priority='%s'\n"+
						"3. Split the goal into small subtasks and create each with `create_task`, parent_task_id set to the goal task\n"+
						"4. Where one subtask needs another finished first, pass its id in `dependencies`\n"+
						"5. For every file a subtask will touch, run `create_entity` with entity_type='file' and the path as identifier "+
						"(reuse it if `list_entities` already has it), then `link_entity_to_task`\n"+
						"6. Finish with `get_task_tree` in summary mode on the goal task and `get_next_tasks` to show where to begin",
					goal, priority,
				)),
			},
		},
	}, nil
}
