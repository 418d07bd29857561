// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the registry, builds the services
// and injects them into the tools, prompts and resources. No business logic
// lives here, only wiring.
package server

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/taskmem/internal/config"
	"github.com/HendryAvila/taskmem/internal/metrics"
	"github.com/HendryAvila/taskmem/internal/projects"
	"github.com/HendryAvila/taskmem/internal/prompts"
	"github.com/HendryAvila/taskmem/internal/registry"
	"github.com/HendryAvila/taskmem/internal/resources"
	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/storage"
	"github.com/HendryAvila/taskmem/internal/tracker"
	"github.com/HendryAvila/taskmem/internal/trackertools"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Components holds the process-wide dependencies shared by the MCP server
// and the CLI commands.
type Components struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *registry.Registry
	Router   *storage.Router
	Resolver *workspace.Resolver
	Tracker  *tracker.Service
	Projects *projects.Service
	Metrics  *metrics.Recorder
	Budget   shape.Budget
}

// Open builds every dependency from cfg. The registry stays open until
// Close is called.
func Open(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	est, err := shape.NewEstimator(cfg.Tokens.Estimator, cfg.Tokens.CharsPerToken)
	if err != nil {
		return nil, fmt.Errorf("creating token estimator: %w", err)
	}

	reg, err := registry.Open(cfg.RegistryPath(), cfg.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening project registry: %w", err)
	}

	router := storage.NewRouter(cfg.DataDir, cfg.BusyTimeout, reg, logger)
	return &Components{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Router:   router,
		Resolver: workspace.NewResolver(logger),
		Tracker:  tracker.NewService(router),
		Projects: projects.NewService(reg, router, cfg.Workers, logger),
		Metrics:  metrics.New(),
		Budget: shape.Budget{
			Estimator:     est,
			WarnThreshold: cfg.Tokens.WarnThreshold,
			MaxTokens:     cfg.Tokens.MaxTokens,
		},
	}, nil
}

// Close releases the registry handle.
func (c *Components) Close() error {
	return c.Registry.Close()
}

// New creates the MCP server with all tools, prompts and resources
// registered.
func New(c *Components) *server.MCPServer {
	s := server.NewMCPServer(
		"taskmem",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	kit := trackertools.NewToolkit(trackertools.Toolkit{
		Resolver: c.Resolver,
		Tracker:  c.Tracker,
		Projects: c.Projects,
		Paginator: shape.Paginator{
			DefaultLimit: c.Config.Pagination.DefaultLimit,
			MaxLimit:     c.Config.Pagination.MaxLimit,
		},
		Budget:        c.Budget,
		Metrics:       c.Metrics,
		Logger:        c.Logger,
		RetentionDays: c.Config.RetentionDays,
	})
	tools := kit.All()
	for _, tool := range tools {
		s.AddTool(tool.Definition(), tool.Handle)
	}
	c.Logger.Debug("registered tools", "count", len(tools), "session", kit.SessionID)

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	planPrompt := prompts.NewPlanPrompt()
	s.AddPrompt(planPrompt.Definition(), planPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(c.Projects, c.Resolver)
	s.AddResource(resourceHandler.ProjectsResource(), resourceHandler.HandleProjects)
	s.AddResource(resourceHandler.CurrentWorkspaceResource(), resourceHandler.HandleCurrentWorkspace)

	return s
}

// serverInstructions returns the system instructions that tell the AI
// how to use taskmem effectively.
func serverInstructions() string {
	return `You have access to taskmem, a persistent task and entity tracker.

## Workspaces
Every tool except list_projects works on one workspace (a project directory).
Pass workspace_path when you know it. Without it the server uses the
TASKMEM_WORKSPACE environment variable, then its own working directory.
Each workspace has its own database; nothing leaks between them.

## Tasks
- create_task / update_task: status is todo, in_progress, blocked, done or
  cancelled; priority is low, medium or high. A blocked task needs a
  blocker_reason.
- A task cannot move to in_progress or done while any dependency is
  unfinished. get_next_tasks
  lists todo tasks whose dependencies are all done; get_blocked_tasks lists
  the blocked ones.
- parent_task_id builds a hierarchy; get_task_tree shows it.
- Deleting is soft. cleanup_deleted_tasks purges old deleted rows.

## Entities and links
Entities are files or other things tasks touch. Identifiers are unique per
entity type among active entities. Link them with link_entity_to_task and
walk the links with get_task_entities / get_entity_tasks.

## Keeping responses small
List tools return {items, total_count, has_more, next_offset}. Use
mode='summary' and a limit when scanning; fetch one item with get_task or
get_entity for full detail. Oversized responses fail with
RESPONSE_SIZE_EXCEEDED: retry with summary mode or a smaller limit.

## Errors
Failures return {"error": {"code", "message", "details", "retryable"}}.
LOCK_TIMEOUT is retryable; retry the same call after a short pause.`
}
