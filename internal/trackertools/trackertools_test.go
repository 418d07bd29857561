package trackertools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/taskmem/internal/logging"
	"github.com/HendryAvila/taskmem/internal/metrics"
	"github.com/HendryAvila/taskmem/internal/projects"
	"github.com/HendryAvila/taskmem/internal/registry"
	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/storage"
	"github.com/HendryAvila/taskmem/internal/tracker"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type harness struct {
	kit *Toolkit
	ws  string
}

func newHarness(t *testing.T, budget shape.Budget) harness {
	t.Helper()
	dataDir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dataDir, "registry.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	logger := logging.Discard()
	router := storage.NewRouter(dataDir, time.Second, reg, logger)
	resolver := &workspace.Resolver{
		LookupEnv:   func(string) (string, bool) { return "", false },
		Getwd:       func() (string, error) { return "", errors.New("no cwd in tests") },
		UserHomeDir: func() (string, error) { return "", errors.New("no home in tests") },
		Logger:      logger,
	}

	kit := NewToolkit(Toolkit{
		Resolver:  resolver,
		Tracker:   tracker.NewService(router),
		Projects:  projects.NewService(reg, router, 2, logger),
		Budget:    budget,
		Metrics:   metrics.New(),
		Logger:    logger,
		SessionID: "test-session",
	})

	ws, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return harness{kit: kit, ws: ws}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// call invokes tool with args scoped to the harness workspace.
func (h harness) call(t *testing.T, tool Tool, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["workspace_path"]; !ok {
		args["workspace_path"] = h.ws
	}
	res, err := tool.Handle(context.Background(), makeReq(args))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h harness) ok(t *testing.T, tool Tool, args map[string]any) map[string]any {
	t.Helper()
	res := h.call(t, tool, args)
	require.False(t, res.IsError, "unexpected tool error: %s", resultText(res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	return out
}

type toolError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Retryable bool           `json:"retryable"`
}

func (h harness) fail(t *testing.T, tool Tool, args map[string]any) toolError {
	t.Helper()
	res := h.call(t, tool, args)
	require.True(t, res.IsError, "expected tool error, got: %s", resultText(res))
	var out struct {
		Error toolError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	return out.Error
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestAll_Definitions(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	want := []string{
		"create_task", "update_task", "get_task", "list_tasks", "search_tasks", "delete_task",
		"get_task_tree", "get_blocked_tasks", "get_next_tasks", "cleanup_deleted_tasks",
		"create_entity", "update_entity", "get_entity", "list_entities", "delete_entity",
		"link_entity_to_task", "unlink_entity_from_task", "get_task_entities", "get_entity_tasks",
		"list_projects", "get_project_info", "set_project_name",
	}

	var got []string
	for _, tool := range h.kit.All() {
		def := tool.Definition()
		got = append(got, def.Name)
		_, hasWS := def.InputSchema.Properties["workspace_path"]
		if def.Name == "list_projects" {
			assert.False(t, hasWS, "list_projects is registry-wide")
		} else {
			assert.True(t, hasWS, "%s must accept workspace_path", def.Name)
		}
	}
	assert.Equal(t, want, got)
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

func TestCreateTask_Defaults(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	out := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "Build API", "status": "todo"})

	assert.NotZero(t, out["id"])
	assert.Equal(t, "todo", out["status"])
	assert.Equal(t, "medium", out["priority"])
	assert.Nil(t, out["blocker_reason"])
	assert.Nil(t, out["completed_at"])
	assert.Equal(t, "test-session", out["created_by"])
}

func TestCreateTask_ValidationErrorShape(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	e := h.fail(t, &CreateTaskTool{h.kit}, map[string]any{"title": "   "})
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Equal(t, "title", e.Details["field"])
	assert.False(t, e.Retryable)

	e = h.fail(t, &CreateTaskTool{h.kit}, map[string]any{"title": "x", "depends_on": []any{1.5}})
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Equal(t, "depends_on", e.Details["field"])
}

func TestUpdateTask_DependencyGate(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	a := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "A"})
	b := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "B", "depends_on": []any{a["id"]}})

	e := h.fail(t, &UpdateTaskTool{h.kit}, map[string]any{"task_id": b["id"], "status": "in_progress"})
	assert.Equal(t, "DEPENDENCY_UNSATISFIED", e.Code)
	assert.Equal(t, []any{a["id"]}, e.Details["unmet_dependencies"])

	h.ok(t, &UpdateTaskTool{h.kit}, map[string]any{"task_id": a["id"], "status": "done"})
	out := h.ok(t, &UpdateTaskTool{h.kit}, map[string]any{"task_id": b["id"], "status": "in_progress"})
	assert.Equal(t, "in_progress", out["status"])
}

func TestUpdateTask_BlockedAndParentClearing(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	parent := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "parent"})
	child := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "child", "parent_task_id": parent["id"]})
	assert.Equal(t, parent["id"], child["parent_task_id"])

	e := h.fail(t, &UpdateTaskTool{h.kit}, map[string]any{"task_id": child["id"], "status": "blocked"})
	assert.Equal(t, "blocker_reason", e.Details["field"])

	out := h.ok(t, &UpdateTaskTool{h.kit}, map[string]any{
		"task_id": child["id"], "status": "blocked", "blocker_reason": "waiting on review",
	})
	assert.Equal(t, "waiting on review", out["blocker_reason"])

	out = h.ok(t, &UpdateTaskTool{h.kit}, map[string]any{"task_id": child["id"], "parent_task_id": nil})
	assert.Nil(t, out["parent_task_id"])
}

func TestListTasks_Pagination(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	for i := 0; i < 5; i++ {
		h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "task"})
	}

	page := h.ok(t, &ListTasksTool{h.kit}, map[string]any{"limit": 2.0, "offset": 0.0})
	assert.Equal(t, 5.0, page["total_count"])
	assert.Equal(t, 2.0, page["returned_count"])
	assert.Equal(t, true, page["has_more"])

	page = h.ok(t, &ListTasksTool{h.kit}, map[string]any{"limit": 2.0, "offset": 4.0})
	assert.Equal(t, 1.0, page["returned_count"])
	assert.Equal(t, false, page["has_more"])

	e := h.fail(t, &ListTasksTool{h.kit}, map[string]any{"limit": 0.0})
	assert.Equal(t, "PAGINATION_ERROR", e.Code)
	e = h.fail(t, &ListTasksTool{h.kit}, map[string]any{"offset": "ten"})
	assert.Equal(t, "PAGINATION_ERROR", e.Code)
	e = h.fail(t, &ListTasksTool{h.kit}, map[string]any{"mode": "verbose"})
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Equal(t, "mode", e.Details["field"])
}

func TestListTasks_SummaryMode(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "t", "description": "long text"})

	page := h.ok(t, &ListTasksTool{h.kit}, map[string]any{"mode": "summary"})
	items := page["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "t", item["title"])
	_, hasDesc := item["description"]
	assert.False(t, hasDesc)
	_, hasReason := item["blocker_reason"]
	assert.False(t, hasReason, "unblocked tasks carry no blocker_reason")
	assert.Equal(t, "summary", page["mode"])
}

func TestResponseBudget(t *testing.T) {
	budget := shape.Budget{
		Estimator:     shape.HeuristicEstimator{CharsPerToken: 4},
		WarnThreshold: 150,
		MaxTokens:     300,
	}
	h := newHarness(t, budget)
	desc := strings.Repeat("d", 400) // 100 tokens each
	for i := 0; i < 5; i++ {
		h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "t", "description": desc})
	}

	e := h.fail(t, &ListTasksTool{h.kit}, nil)
	assert.Equal(t, "RESPONSE_SIZE_EXCEEDED", e.Code)
	assert.Greater(t, e.Details["estimated_tokens"], 300.0)
	assert.Equal(t, 300.0, e.Details["max_tokens"])
	assert.Contains(t, e.Message, "summary")

	page := h.ok(t, &ListTasksTool{h.kit}, map[string]any{"mode": "summary", "limit": 2.0})
	assert.Equal(t, 2.0, page["returned_count"])
	assert.Empty(t, page["warning"])

	page = h.ok(t, &ListTasksTool{h.kit}, map[string]any{"limit": 2.0})
	assert.Contains(t, page["warning"], "large response")
	assert.Greater(t, page["estimated_tokens"], 150.0)
}

func TestSearchTasks_RequiresQuery(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "Fix login bug"})
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "Write docs"})

	page := h.ok(t, &SearchTasksTool{h.kit}, map[string]any{"query": "LOGIN"})
	assert.Equal(t, 1.0, page["total_count"])

	e := h.fail(t, &SearchTasksTool{h.kit}, map[string]any{})
	assert.Equal(t, "query", e.Details["field"])
}

func TestDeleteTask_AndTree(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	root := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "root"})
	child := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "child", "parent_task_id": root["id"]})
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "grandchild", "parent_task_id": child["id"]})

	tree := h.ok(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"], "mode": "summary"})
	assert.Equal(t, 3.0, tree["total_nodes"])
	assert.Equal(t, 2.0, tree["max_depth"])
	assert.Equal(t, false, tree["cycle_detected"])
	assert.NotZero(t, tree["estimated_tokens"])

	out := h.ok(t, &DeleteTaskTool{h.kit}, map[string]any{"task_id": child["id"]})
	assert.Equal(t, true, out["deleted"])
	assert.Equal(t, child["id"], out["task_id"])

	e := h.fail(t, &DeleteTaskTool{h.kit}, map[string]any{"task_id": child["id"]})
	assert.Equal(t, "NOT_FOUND", e.Code)
	e = h.fail(t, &GetTaskTool{h.kit}, map[string]any{"task_id": child["id"]})
	assert.Equal(t, "NOT_FOUND", e.Code)

	tree = h.ok(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"]})
	assert.Equal(t, 1.0, tree["total_nodes"])
}

func TestGetTaskTree_MaxDepth(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	root := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "root"})
	child := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "child", "parent_task_id": root["id"]})
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "grandchild", "parent_task_id": child["id"]})

	tree := h.ok(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"], "max_depth": 0.0})
	assert.Equal(t, 3.0, tree["total_nodes"])
	tree = h.ok(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"], "max_depth": nil})
	assert.Equal(t, 3.0, tree["total_nodes"])
	tree = h.ok(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"], "max_depth": 1.0})
	assert.Equal(t, 2.0, tree["total_nodes"])

	for _, bad := range []any{1.5, -1.0, "two", true} {
		e := h.fail(t, &GetTaskTreeTool{h.kit}, map[string]any{"task_id": root["id"], "max_depth": bad})
		assert.Equal(t, "VALIDATION_ERROR", e.Code, "max_depth=%v", bad)
		assert.Equal(t, "max_depth", e.Details["field"], "max_depth=%v", bad)
	}
}

func TestNextAndBlockedTasks(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	a := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "A", "priority": "low"})
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "B", "priority": "high", "depends_on": []any{a["id"]}})
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "C", "status": "blocked", "blocker_reason": "vendor"})

	next := h.ok(t, &GetNextTasksTool{h.kit}, nil)
	assert.Equal(t, 1.0, next["total_count"])

	blocked := h.ok(t, &GetBlockedTasksTool{h.kit}, nil)
	require.Equal(t, 1.0, blocked["total_count"])
	item := blocked["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "vendor", item["blocker_reason"])
}

func TestBlockedTasks_SummaryKeepsReason(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{
		"title": "x", "description": "long text", "status": "blocked", "blocker_reason": "waiting on review",
	})

	page := h.ok(t, &GetBlockedTasksTool{h.kit}, map[string]any{"mode": "summary"})
	assert.Equal(t, "summary", page["mode"])
	items := page["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "waiting on review", item["blocker_reason"])
	assert.Equal(t, "blocked", item["status"])
	_, hasDesc := item["description"]
	assert.False(t, hasDesc)
}

func TestCleanupDeletedTasks(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	out := h.ok(t, &CleanupDeletedTasksTool{h.kit}, nil)
	assert.Equal(t, 0.0, out["purged_count"])
	assert.Equal(t, 0.0, out["entities_purged"])
	assert.Equal(t, 30.0, out["retention_days"])

	e := h.fail(t, &CleanupDeletedTasksTool{h.kit}, map[string]any{"retention_days": 0.0})
	assert.Equal(t, "retention_days", e.Details["field"])
}

// ─── Entities and links ──────────────────────────────────────────────────────

func TestEntities_DuplicateIdentifierAndLinks(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	first := h.ok(t, &CreateEntityTool{h.kit}, map[string]any{
		"entity_type": "file", "name": "a.py", "identifier": "/src/a.py",
		"metadata": map[string]any{"lang": "python"},
	})
	assert.Equal(t, map[string]any{"lang": "python"}, first["metadata"])

	e := h.fail(t, &CreateEntityTool{h.kit}, map[string]any{
		"entity_type": "file", "name": "a again", "identifier": "/src/a.py",
	})
	assert.Equal(t, "DUPLICATE_IDENTIFIER", e.Code)
	assert.Equal(t, first["id"], e.Details["existing_id"])

	task := h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "refactor"})
	h.ok(t, &LinkEntityToTaskTool{h.kit}, map[string]any{"task_id": task["id"], "entity_id": first["id"]})
	e = h.fail(t, &LinkEntityToTaskTool{h.kit}, map[string]any{"task_id": task["id"], "entity_id": first["id"]})
	assert.Equal(t, "DUPLICATE_IDENTIFIER", e.Code)

	ents := h.ok(t, &GetTaskEntitiesTool{h.kit}, map[string]any{"task_id": task["id"]})
	assert.Equal(t, 1.0, ents["total_count"])
	tasks := h.ok(t, &GetEntityTasksTool{h.kit}, map[string]any{"entity_id": first["id"], "mode": "summary"})
	assert.Equal(t, 1.0, tasks["total_count"])

	unlinked := h.ok(t, &UnlinkEntityFromTaskTool{h.kit}, map[string]any{"task_id": task["id"], "entity_id": first["id"]})
	assert.Equal(t, true, unlinked["unlinked"])
	h.ok(t, &LinkEntityToTaskTool{h.kit}, map[string]any{"task_id": task["id"], "entity_id": first["id"]})

	del := h.ok(t, &DeleteEntityTool{h.kit}, map[string]any{"entity_id": first["id"]})
	assert.Equal(t, 1.0, del["links_deleted"])

	second := h.ok(t, &CreateEntityTool{h.kit}, map[string]any{
		"entity_type": "file", "name": "a again", "identifier": "/src/a.py",
	})
	assert.NotEqual(t, first["id"], second["id"])

	list := h.ok(t, &ListEntitiesTool{h.kit}, map[string]any{"entity_type": "file"})
	assert.Equal(t, 1.0, list["total_count"])
}

func TestUpdateEntity(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	ent := h.ok(t, &CreateEntityTool{h.kit}, map[string]any{"name": "svc", "tags": "Backend, api"})
	assert.Equal(t, []any{"backend", "api"}, ent["tags"])

	out := h.ok(t, &UpdateEntityTool{h.kit}, map[string]any{
		"entity_id": ent["id"], "description": "payments", "metadata": `{"owner":"team-a"}`,
	})
	assert.Equal(t, "payments", out["description"])
	assert.Equal(t, map[string]any{"owner": "team-a"}, out["metadata"])

	got := h.ok(t, &GetEntityTool{h.kit}, map[string]any{"entity_id": ent["id"]})
	assert.Equal(t, "payments", got["description"])

	e := h.fail(t, &UpdateEntityTool{h.kit}, map[string]any{"entity_id": ent["id"], "metadata": `"scalar"`})
	assert.Equal(t, "metadata", e.Details["field"])
}

func TestEntityMetadata_StructuredOrText(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	for _, name := range []string{"create_entity", "update_entity"} {
		var def mcp.Tool
		for _, tool := range h.kit.All() {
			if tool.Definition().Name == name {
				def = tool.Definition()
			}
		}
		prop, ok := def.InputSchema.Properties["metadata"].(map[string]any)
		require.True(t, ok, name)
		assert.Equal(t, []string{"string", "object", "array"}, prop["type"], name)
	}

	list := h.ok(t, &CreateEntityTool{h.kit}, map[string]any{"name": "a", "metadata": []any{"x", 1.0}})
	assert.Equal(t, []any{"x", 1.0}, list["metadata"])
	text := h.ok(t, &CreateEntityTool{h.kit}, map[string]any{"name": "b", "metadata": `{"k":"v"}`})
	assert.Equal(t, map[string]any{"k": "v"}, text["metadata"])

	out := h.ok(t, &UpdateEntityTool{h.kit}, map[string]any{
		"entity_id": text["id"], "metadata": map[string]any{"k": "w"},
	})
	assert.Equal(t, map[string]any{"k": "w"}, out["metadata"])
	out = h.ok(t, &UpdateEntityTool{h.kit}, map[string]any{"entity_id": text["id"], "metadata": nil})
	assert.Nil(t, out["metadata"])
}

// ─── Projects and workspace ──────────────────────────────────────────────────

func TestProjects(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "t"})

	info := h.ok(t, &GetProjectInfoTool{h.kit}, nil)
	assert.Equal(t, h.ws, info["workspace_path"])
	assert.Equal(t, workspace.Hash(h.ws), info["id"])
	assert.Equal(t, "explicit", info["source"])
	assert.Equal(t, true, info["db_exists"])

	named := h.ok(t, &SetProjectNameTool{h.kit}, map[string]any{"name": "Checkout"})
	assert.Equal(t, "Checkout", named["name"])

	res, err := (&ListProjectsTool{h.kit}).Handle(context.Background(), makeReq(map[string]any{"include_stats": true}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	var page map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &page))
	assert.Equal(t, 1.0, page["total_count"])
	item := page["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "Checkout", item["name"])
	stats := item["stats"].(map[string]any)
	assert.Equal(t, 1.0, stats["active_tasks"])
}

func TestWorkspaceResolutionError(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	e := h.fail(t, &GetTaskTool{h.kit}, map[string]any{
		"task_id":        1.0,
		"workspace_path": filepath.Join(h.ws, "missing"),
	})
	assert.Equal(t, "WORKSPACE_RESOLUTION_ERROR", e.Code)
	tried := e.Details["tried"].([]any)
	assert.Len(t, tried, 2)
}

func TestWorkspacesAreIsolated(t *testing.T) {
	h := newHarness(t, shape.DefaultBudget())
	other, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	h.ok(t, &CreateTaskTool{h.kit}, map[string]any{"title": "mine"})
	page := h.ok(t, &ListTasksTool{h.kit}, map[string]any{"workspace_path": other})
	assert.Equal(t, 0.0, page["total_count"])
}
