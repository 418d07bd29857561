// Package trackertools provides the MCP tool handlers for tasks, entities,
// links and projects.
//
// Each tool follows the same pattern:
//   - a struct holding the shared *Toolkit
//   - Definition() returns the mcp.Tool schema
//   - Handle() parses arguments, resolves the workspace and returns JSON
//
// Domain failures never surface as Go errors. They become tool results
// whose text is {"error": {"code", "message", "details", "retryable"}}.
package trackertools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/metrics"
	"github.com/HendryAvila/taskmem/internal/projects"
	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/tracker"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// Tool is one registered MCP tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Toolkit carries the dependencies every tool shares.
type Toolkit struct {
	Resolver      *workspace.Resolver
	Tracker       *tracker.Service
	Projects      *projects.Service
	Paginator     shape.Paginator
	Budget        shape.Budget
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
	RetentionDays int

	// SessionID is the default created_by for rows written by this process.
	SessionID string
}

// NewToolkit fills unset fields with defaults.
func NewToolkit(k Toolkit) *Toolkit {
	if k.Resolver == nil {
		k.Resolver = workspace.NewResolver(k.Logger)
	}
	if k.Paginator.DefaultLimit == 0 && k.Paginator.MaxLimit == 0 {
		k.Paginator = shape.DefaultPaginator
	}
	if k.Budget.Estimator == nil {
		k.Budget = shape.DefaultBudget()
	}
	if k.Logger == nil {
		k.Logger = slog.Default()
	}
	if k.RetentionDays <= 0 {
		k.RetentionDays = tracker.DefaultRetentionDays
	}
	if k.SessionID == "" {
		k.SessionID = "session-" + uuid.NewString()
	}
	return &k
}

// All returns every tool in registration order.
func (k *Toolkit) All() []Tool {
	return []Tool{
		&CreateTaskTool{k},
		&UpdateTaskTool{k},
		&GetTaskTool{k},
		&ListTasksTool{k},
		&SearchTasksTool{k},
		&DeleteTaskTool{k},
		&GetTaskTreeTool{k},
		&GetBlockedTasksTool{k},
		&GetNextTasksTool{k},
		&CleanupDeletedTasksTool{k},
		&CreateEntityTool{k},
		&UpdateEntityTool{k},
		&GetEntityTool{k},
		&ListEntitiesTool{k},
		&DeleteEntityTool{k},
		&LinkEntityToTaskTool{k},
		&UnlinkEntityFromTaskTool{k},
		&GetTaskEntitiesTool{k},
		&GetEntityTasksTool{k},
		&ListProjectsTool{k},
		&GetProjectInfoTool{k},
		&SetProjectNameTool{k},
	}
}

// annotated is a response that carries its own token estimate.
type annotated interface {
	Annotate(shape.Report)
}

type scopedFunc func(ctx context.Context, ws workspace.Resolution) (any, error)

// run resolves the workspace and executes fn.
func (k *Toolkit) run(ctx context.Context, tool string, req mcp.CallToolRequest, fn scopedFunc) (*mcp.CallToolResult, error) {
	start := time.Now()
	ws, err := k.Resolver.Resolve(req.GetString("workspace_path", ""))
	var out any
	if err == nil {
		out, err = fn(ctx, ws)
	}
	return k.finish(tool, ws.Path, start, out, err)
}

// runGlobal executes fn without resolving a workspace.
func (k *Toolkit) runGlobal(ctx context.Context, tool string, fn func(ctx context.Context) (any, error)) (*mcp.CallToolResult, error) {
	start := time.Now()
	out, err := fn(ctx)
	return k.finish(tool, "", start, out, err)
}

func (k *Toolkit) finish(tool, ws string, start time.Time, out any, err error) (*mcp.CallToolResult, error) {
	if err == nil {
		err = k.checkBudget(tool, out)
	}

	var text []byte
	if err == nil {
		text, err = json.Marshal(out)
		if err != nil {
			err = apperr.Internal(err)
		}
	}

	elapsed := time.Since(start)
	if err != nil {
		code := apperr.CodeOf(err)
		k.Metrics.ObserveCall(tool, string(code), elapsed)
		if code == apperr.CodeLockTimeout {
			k.Metrics.LockTimeout()
		}
		k.logFailure(tool, ws, err)
		return errorResult(err), nil
	}

	k.Metrics.ObserveCall(tool, "ok", elapsed)
	k.Logger.Debug("tool call", "tool", tool, "workspace", ws, "duration", elapsed)
	return mcp.NewToolResultText(string(text)), nil
}

func (k *Toolkit) checkBudget(tool string, out any) error {
	a, ok := out.(annotated)
	if !ok {
		return nil
	}
	report, err := k.Budget.Check(out)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			if n, ok := ae.Details["estimated_tokens"].(int); ok {
				k.Metrics.ObserveTokens(tool, n)
			}
		}
		return err
	}
	k.Metrics.ObserveTokens(tool, report.EstimatedTokens)
	if report.Warning != "" {
		k.Logger.Warn("large response", "tool", tool,
			"estimated_tokens", report.EstimatedTokens, "threshold", k.Budget.WarnThreshold)
	}
	a.Annotate(report)
	return nil
}

func (k *Toolkit) logFailure(tool, ws string, err error) {
	p := apperr.ToPayload(err)
	if p.Code == apperr.CodeInternal {
		k.Logger.Error("tool call failed", "tool", tool, "workspace", ws, "error", err)
		return
	}
	k.Logger.Warn("tool call failed", "tool", tool, "workspace", ws, "code", p.Code, "message", p.Message)
}

// errorResult renders err as a structured tool error.
func errorResult(err error) *mcp.CallToolResult {
	b, mErr := json.Marshal(map[string]apperr.Payload{"error": apperr.ToPayload(err)})
	if mErr != nil {
		return mcp.NewToolResultError(`{"error":{"code":"INTERNAL_ERROR","message":"internal error","retryable":false}}`)
	}
	return mcp.NewToolResultError(string(b))
}

// ─── Shared response shapes ─────────────────────────────────────────────────

type deleteTaskResult struct {
	Deleted bool  `json:"deleted"`
	TaskID  int64 `json:"task_id"`
}

type projectInfoResult struct {
	projects.Info
	Source workspace.Source `json:"source"`
}

type unlinkResult struct {
	Unlinked bool         `json:"unlinked"`
	Link     tracker.Link `json:"link"`
}

// treeResponse is a task tree with its token estimate.
type treeResponse struct {
	Root            any    `json:"root"`
	TotalNodes      int    `json:"total_nodes"`
	MaxDepth        int    `json:"max_depth"`
	CycleDetected   bool   `json:"cycle_detected"`
	Truncated       bool   `json:"truncated"`
	Mode            string `json:"mode"`
	Warning         string `json:"warning,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
}

func (r *treeResponse) Annotate(rep shape.Report) {
	r.EstimatedTokens = rep.EstimatedTokens
	r.Warning = rep.Warning
}

type summaryNode struct {
	Task     tracker.TaskSummary `json:"task"`
	Children []*summaryNode      `json:"children"`
}

func summarizeTree(n *tracker.TreeNode) *summaryNode {
	out := &summaryNode{Task: n.Task.Summary(), Children: make([]*summaryNode, 0, len(n.Children))}
	for _, c := range n.Children {
		out.Children = append(out.Children, summarizeTree(c))
	}
	return out
}
