package trackertools

import (
	"math"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/shape"
)

// depthArg returns a non-negative integer depth. Absent and null yield 0,
// which callers treat as unlimited.
func depthArg(req mcp.CallToolRequest, key string) (int, error) {
	v := req.GetArguments()[key]
	if v == nil {
		return 0, nil
	}
	n, err := toID(key, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, apperr.Validation(key, "%s must be zero or positive, got %d", key, n)
	}
	return int(n), nil
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// present reports whether key was sent at all, null included.
func present(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// numberArg returns the number at key, or nil when it is absent or null.
func numberArg(req mcp.CallToolRequest, key string) (*float64, bool) {
	v := req.GetArguments()[key]
	if v == nil {
		return nil, true
	}
	n, ok := asNumber(v)
	if !ok {
		return nil, false
	}
	return &n, true
}

func toID(field string, v any) (int64, error) {
	n, ok := asNumber(v)
	if !ok || n != math.Trunc(n) || n > math.MaxInt64/2 || n < math.MinInt64/2 {
		return 0, apperr.Validation(field, "%s must be an integer", field)
	}
	return int64(n), nil
}

// idArg returns a required positive integer id.
func idArg(req mcp.CallToolRequest, key string) (int64, error) {
	v := req.GetArguments()[key]
	if v == nil {
		return 0, apperr.Validation(key, "'%s' is required", key)
	}
	id, err := toID(key, v)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, apperr.Validation(key, "%s must be positive, got %d", key, id)
	}
	return id, nil
}

// optionalIDArg returns the integer at key. Null and absent both yield 0
// with ok reporting whether the key was present.
func optionalIDArg(req mcp.CallToolRequest, key string) (id int64, ok bool, err error) {
	if !present(req, key) {
		return 0, false, nil
	}
	v := req.GetArguments()[key]
	if v == nil {
		return 0, true, nil
	}
	id, err = toID(key, v)
	return id, true, err
}

// idsArg accepts a list of integers or a single integer. Null means an
// empty list; absent returns nil.
func idsArg(req mcp.CallToolRequest, key string) (*[]int64, error) {
	if !present(req, key) {
		return nil, nil
	}
	out := []int64{}
	switch v := req.GetArguments()[key].(type) {
	case nil:
	case []any:
		for _, e := range v {
			id, err := toID(key, e)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	default:
		id, err := toID(key, v)
		if err != nil {
			return nil, apperr.Validation(key, "%s must be a list of task ids", key)
		}
		out = append(out, id)
	}
	return &out, nil
}

// stringsArg accepts a list of strings or one string. Null means an empty
// list; absent returns nil.
func stringsArg(req mcp.CallToolRequest, key string) (*[]string, error) {
	if !present(req, key) {
		return nil, nil
	}
	out := []string{}
	switch v := req.GetArguments()[key].(type) {
	case nil:
	case string:
		out = append(out, v)
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, apperr.Validation(key, "%s must contain only strings", key)
			}
			out = append(out, s)
		}
	default:
		return nil, apperr.Validation(key, "%s must be a string or a list of strings", key)
	}
	return &out, nil
}

// optionalStringArg returns a pointer to the string at key. Null yields a
// pointer to "", absent yields nil.
func optionalStringArg(req mcp.CallToolRequest, key string) (*string, error) {
	if !present(req, key) {
		return nil, nil
	}
	switch v := req.GetArguments()[key].(type) {
	case nil:
		empty := ""
		return &empty, nil
	case string:
		return &v, nil
	default:
		return nil, apperr.Validation(key, "%s must be a string", key)
	}
}

// windowArg validates limit and offset.
func (k *Toolkit) windowArg(req mcp.CallToolRequest) (shape.Window, error) {
	limit, ok := numberArg(req, "limit")
	if !ok {
		return shape.Window{}, apperr.Pagination("limit", req.GetArguments()["limit"], "limit must be a number")
	}
	offset, ok := numberArg(req, "offset")
	if !ok {
		return shape.Window{}, apperr.Pagination("offset", req.GetArguments()["offset"], "offset must be a number")
	}
	return k.Paginator.Parse(limit, offset)
}

func modeArg(req mcp.CallToolRequest) (shape.Mode, error) {
	return shape.ParseMode(req.GetString("mode", ""), shape.ModeDetails)
}

// ─── Shared schema options ──────────────────────────────────────────────────

func workspaceOption() mcp.ToolOption {
	return mcp.WithString("workspace_path",
		mcp.Description("Absolute project directory. Defaults to $TASKMEM_WORKSPACE, then the server's working directory."),
	)
}

func pageOptions(k *Toolkit) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("limit",
			mcp.Description("Page size (default: "+strconv.Itoa(k.Paginator.DefaultLimit)+", max: "+strconv.Itoa(k.Paginator.MaxLimit)+")"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Rows to skip (default: 0)"),
		),
		mcp.WithString("mode",
			mcp.Description("summary: ids, titles, status and timestamps only. details (default): complete rows."),
			mcp.Enum(shape.ModeValues()...),
		),
	}
}

func newTool(name, desc string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)
	all = append(all, workspaceOption())
	return mcp.NewTool(name, all...)
}
