// Package shape turns query results into bounded responses: it projects
// rows to summary or detail form, paginates, and estimates the token cost
// of what is about to be returned.
//
// Two projection modes enable progressive disclosure:
//   - summary: ids, titles, status fields and timestamps only
//   - details: complete rows
package shape

import (
	"strings"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// Mode selects a projection.
type Mode string

const (
	ModeSummary Mode = "summary"
	ModeDetails Mode = "details"
)

// ModeValues returns the enum values for tool definitions.
func ModeValues() []string {
	return []string{string(ModeSummary), string(ModeDetails)}
}

// ParseMode accepts summary or details in any case. Empty yields def;
// anything else is a validation error.
func ParseMode(s string, def Mode) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return def, nil
	case ModeSummary, ModeDetails:
		return m, nil
	default:
		return "", apperr.Validation("mode", "invalid mode %q: must be summary or details", s)
	}
}

// Project maps every item through summary or keeps it whole, returning
// a slice of values ready for JSON encoding.
func Project[T any, S any](items []T, mode Mode, summary func(T) S) []any {
	out := make([]any, len(items))
	for i, it := range items {
		if mode == ModeSummary {
			out[i] = summary(it)
		} else {
			out[i] = it
		}
	}
	return out
}
