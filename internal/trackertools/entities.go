package trackertools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/shape"
	"github.com/HendryAvila/taskmem/internal/tracker"
	"github.com/HendryAvila/taskmem/internal/workspace"
)

func entityTypeOption(desc string) mcp.ToolOption {
	return mcp.WithString("entity_type",
		mcp.Description(desc),
		mcp.Enum("file", "other"),
	)
}

func entityPage(page tracker.Page[tracker.Entity], w shape.Window, mode shape.Mode) *shape.Envelope {
	return shape.NewEnvelope(shape.Project(page.Items, mode, tracker.Entity.Summary), page.Total, w, mode)
}

// metadataOption declares metadata as JSON text or a structured object
// or array. The typed With* helpers cover one JSON type only.
func metadataOption(desc string) mcp.ToolOption {
	return func(t *mcp.Tool) {
		t.InputSchema.Properties["metadata"] = map[string]any{
			"type":        []string{"string", "object", "array"},
			"description": desc,
		}
	}
}

// metadataArg returns the raw metadata value and whether it was supplied.
// Null is reported as an empty string, which clears metadata on update.
func metadataArg(req mcp.CallToolRequest) (any, bool) {
	v, ok := req.GetArguments()["metadata"]
	if !ok {
		return nil, false
	}
	if v == nil {
		return "", true
	}
	return v, true
}

// ─── create_entity ──────────────────────────────────────────────────────────

// CreateEntityTool handles the create_entity MCP tool.
type CreateEntityTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for create_entity.
func (t *CreateEntityTool) Definition() mcp.Tool {
	return newTool("create_entity",
		"Create an entity (a file or anything else tasks refer to). Among active entities of one type, "+
			"an identifier is unique.",
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name (max 500 characters)")),
		entityTypeOption("Entity type (default: other)"),
		mcp.WithString("identifier", mcp.Description("Stable identifier such as a file path (max 1,000 characters)")),
		mcp.WithString("description", mcp.Description("Free-form description")),
		metadataOption("JSON object or array, sent as a structured value or as JSON text"),
		tagsOption("Tags; each is split on spaces and commas and lowercased"),
		mcp.WithString("created_by", mcp.Description("Caller identity (default: this server session)")),
	)
}

// Handle processes the create_entity tool call.
func (t *CreateEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "create_entity", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		tags, err := stringsArg(req, "tags")
		if err != nil {
			return nil, err
		}
		meta, _ := metadataArg(req)
		return t.k.Tracker.CreateEntity(ctx, ws.Path, tracker.CreateEntityParams{
			EntityType:  req.GetString("entity_type", ""),
			Name:        req.GetString("name", ""),
			Identifier:  req.GetString("identifier", ""),
			Description: req.GetString("description", ""),
			Metadata:    meta,
			Tags:        deref(tags),
			CreatedBy:   req.GetString("created_by", t.k.SessionID),
		})
	})
}

// ─── update_entity ──────────────────────────────────────────────────────────

// UpdateEntityTool handles the update_entity MCP tool.
type UpdateEntityTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for update_entity.
func (t *UpdateEntityTool) Definition() mcp.Tool {
	return newTool("update_entity", "Update fields of an entity. Only supplied fields change.",
		mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("name", mcp.Description("New name")),
		entityTypeOption("New entity type"),
		mcp.WithString("identifier", mcp.Description("New identifier; empty clears it")),
		mcp.WithString("description", mcp.Description("New description; empty clears it")),
		metadataOption("Replacement metadata: a JSON object or array, structured or as text; empty or null clears it"),
		tagsOption("Replacement tags"),
	)
}

// Handle processes the update_entity tool call.
func (t *UpdateEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "update_entity", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "entity_id")
		if err != nil {
			return nil, err
		}
		p := tracker.UpdateEntityParams{ID: id}
		for key, dst := range map[string]**string{
			"name":        &p.Name,
			"entity_type": &p.EntityType,
			"identifier":  &p.Identifier,
			"description": &p.Description,
		} {
			if *dst, err = optionalStringArg(req, key); err != nil {
				return nil, err
			}
		}
		if p.Tags, err = stringsArg(req, "tags"); err != nil {
			return nil, err
		}
		if meta, ok := metadataArg(req); ok {
			p.Metadata = meta
		}
		return t.k.Tracker.UpdateEntity(ctx, ws.Path, p)
	})
}

// ─── get_entity ─────────────────────────────────────────────────────────────

// GetEntityTool handles the get_entity MCP tool.
type GetEntityTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for get_entity.
func (t *GetEntityTool) Definition() mcp.Tool {
	return newTool("get_entity", "Get one active entity with every field.",
		mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
	)
}

// Handle processes the get_entity tool call.
func (t *GetEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "get_entity", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "entity_id")
		if err != nil {
			return nil, err
		}
		return t.k.Tracker.GetEntity(ctx, ws.Path, id)
	})
}

// ─── list_entities ──────────────────────────────────────────────────────────

// ListEntitiesTool handles the list_entities MCP tool.
type ListEntitiesTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for list_entities.
func (t *ListEntitiesTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		entityTypeOption("Only entities of this type"),
		mcp.WithString("tag", mcp.Description("Only entities carrying this tag")),
	}, pageOptions(t.k)...)
	return newTool("list_entities", "List active entities, oldest first.", opts...)
}

// Handle processes the list_entities tool call.
func (t *ListEntitiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "list_entities", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		w, err := t.k.windowArg(req)
		if err != nil {
			return nil, err
		}
		mode, err := modeArg(req)
		if err != nil {
			return nil, err
		}
		page, err := t.k.Tracker.ListEntities(ctx, ws.Path, tracker.EntityFilter{
			EntityType: req.GetString("entity_type", ""),
			Tag:        req.GetString("tag", ""),
			Limit:      w.Limit,
			Offset:     w.Offset,
		})
		if err != nil {
			return nil, err
		}
		return entityPage(page, w, mode), nil
	})
}

// ─── delete_entity ──────────────────────────────────────────────────────────

// DeleteEntityTool handles the delete_entity MCP tool.
type DeleteEntityTool struct{ k *Toolkit }

// Definition returns the MCP tool definition for delete_entity.
func (t *DeleteEntityTool) Definition() mcp.Tool {
	return newTool("delete_entity",
		"Soft-delete an entity. Its identifier becomes free for a new entity of the same type.",
		mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithBoolean("cascade",
			mcp.Description("Also soft-delete the entity's active task links (default: true)"),
		),
	)
}

// Handle processes the delete_entity tool call.
func (t *DeleteEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.k.run(ctx, "delete_entity", req, func(ctx context.Context, ws workspace.Resolution) (any, error) {
		id, err := idArg(req, "entity_id")
		if err != nil {
			return nil, err
		}
		return t.k.Tracker.DeleteEntity(ctx, ws.Path, id, boolArg(req, "cascade", true))
	})
}
