package shape

import (
	"math"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Paginator validates limit and offset arguments.
type Paginator struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPaginator uses DefaultLimit and MaxLimit.
var DefaultPaginator = Paginator{DefaultLimit: DefaultLimit, MaxLimit: MaxLimit}

// Window is a validated limit/offset pair.
type Window struct {
	Limit  int
	Offset int
}

// Parse validates raw limit and offset values. Nil means not supplied.
// Values arrive as JSON numbers, so fractional values are rejected rather
// than truncated.
func (p Paginator) Parse(limit, offset *float64) (Window, error) {
	w := Window{Limit: p.DefaultLimit}
	if w.Limit <= 0 {
		w.Limit = DefaultLimit
	}
	max := p.MaxLimit
	if max <= 0 {
		max = MaxLimit
	}

	if limit != nil {
		l := *limit
		if l != math.Trunc(l) || l < 1 || l > float64(max) {
			return Window{}, apperr.Pagination("limit", l, "limit must be an integer between 1 and %d, got %v", max, l)
		}
		w.Limit = int(l)
	}
	if offset != nil {
		o := *offset
		if o != math.Trunc(o) || o < 0 || o > math.MaxInt32 {
			return Window{}, apperr.Pagination("offset", o, "offset must be a non-negative integer, got %v", o)
		}
		w.Offset = int(o)
	}
	return w, nil
}

// Envelope wraps one page of a list result.
type Envelope struct {
	TotalCount      int    `json:"total_count"`
	ReturnedCount   int    `json:"returned_count"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
	HasMore         bool   `json:"has_more"`
	Mode            Mode   `json:"mode,omitempty"`
	Items           []any  `json:"items"`
	Warning         string `json:"warning,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
}

// NewEnvelope builds an envelope for items taken from a result of total
// rows at window w.
func NewEnvelope(items []any, total int, w Window, mode Mode) *Envelope {
	if items == nil {
		items = []any{}
	}
	return &Envelope{
		TotalCount:    total,
		ReturnedCount: len(items),
		Limit:         w.Limit,
		Offset:        w.Offset,
		HasMore:       w.Offset+len(items) < total,
		Mode:          mode,
		Items:         items,
	}
}
