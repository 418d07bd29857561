// Package resources implements MCP resource handlers for taskmem.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (taskmem://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/projects"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

const (
	ProjectsURI         = "taskmem://projects"
	CurrentWorkspaceURI = "taskmem://workspace/current"
)

// projectsPageSize caps the registry listing served as a resource.
const projectsPageSize = 100

// Handler manages taskmem resource endpoints.
type Handler struct {
	projects *projects.Service
	resolver *workspace.Resolver
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(p *projects.Service, r *workspace.Resolver) *Handler {
	return &Handler{projects: p, resolver: r}
}

// ProjectsResource returns the MCP resource definition for the registry listing.
func (h *Handler) ProjectsResource() mcp.Resource {
	return mcp.NewResource(
		ProjectsURI,
		"taskmem projects",
		mcp.WithResourceDescription("Known project workspaces, most recently used first"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleProjects returns the registry listing as JSON.
func (h *Handler) HandleProjects(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	items, total, err := h.projects.List(ctx, projectsPageSize, 0, false)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	return jsonResource(req.Params.URI, map[string]any{
		"items":       items,
		"total_count": total,
		"has_more":    total > len(items),
	})
}

// CurrentWorkspaceResource returns the MCP resource definition for the
// workspace the server resolves when a call names none.
func (h *Handler) CurrentWorkspaceResource() mcp.Resource {
	return mcp.NewResource(
		CurrentWorkspaceURI,
		"taskmem current workspace",
		mcp.WithResourceDescription("Default workspace, its project id and what its database holds"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleCurrentWorkspace resolves the default workspace and describes it.
func (h *Handler) HandleCurrentWorkspace(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ws, err := h.resolver.Resolve("")
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	info, err := h.projects.Info(ctx, ws.Path)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	return jsonResource(req.Params.URI, struct {
		projects.Info
		Source workspace.Source `json:"source"`
	}{info, ws.Source})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource carrying the structured error payload.
func errorResource(uri string, err error) []mcp.ResourceContents {
	data, mErr := json.Marshal(map[string]any{"error": apperr.ToPayload(err)})
	if mErr != nil {
		data = []byte(fmt.Sprintf("Error: %s", err))
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
