// Package prompts implements MCP prompt handlers for taskmem.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the taskmem-status MCP prompt.
// It instructs the AI to review what is blocked and what can start next.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("taskmem-status",
		mcp.WithPromptDescription(
			"Review the task board of a workspace: what is in progress, "+
				"why blocked work is stuck, and what can be started next.",
		),
		mcp.WithArgument("workspace_path",
			mcp.ArgumentDescription("Workspace to review (default: the server's current workspace)"),
		),
	)
}

// Handle processes the taskmem-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	ws := promptArg(req, "workspace_path", "")

	scope := "the current workspace"
	wsArg := ""
	if ws != "" {
		scope = fmt.Sprintf("the workspace at %s", ws)
		wsArg = fmt.Sprintf(" with workspace_path='%s'", ws)
	}

	return &mcp.GetPromptResult{
		Description: "taskmem status review",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Review the tasks in %s.\n\n"+
						"Please:\n"+
						"1. Run `list_tasks`%s, status='in_progress', mode='summary' to see active work\n"+
						"2. Run `get_blocked_tasks`%s and summarize each task's blocker_reason\n"+
						"3. Run `get_next_tasks`%s to find work that is ready to start\n"+
						"4. Recommend the next one or two tasks to pick up and say why\n\n"+
						"Keep list calls in summary mode and fetch single tasks with `get_task` only when you need detail.",
					scope, wsArg, wsArg, wsArg,
				)),
			},
		},
	}, nil
}

func promptArg(req mcp.GetPromptRequest, key, def string) string {
	if args := req.Params.Arguments; args != nil {
		if v, ok := args[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return def
}
