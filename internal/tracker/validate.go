package tracker

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// Field limits, in characters.
const (
	MaxTitleLen         = 500
	MaxDescriptionLen   = 10000
	MaxNameLen          = 500
	MaxIdentifierLen    = 1000
	MaxTagLen           = 50
	MaxFileReferenceLen = 1000
	MaxBlockerReasonLen = 2000
)

func checkLen(field, value string, max int) error {
	if n := utf8.RuneCountInString(value); n > max {
		return apperr.Validation(field, "%s is too long: %d characters (max %d)", field, n, max)
	}
	return nil
}

// NormalizeTitle trims and checks a task title.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.Validation("title", "title is required")
	}
	if err := checkLen("title", title, MaxTitleLen); err != nil {
		return "", err
	}
	return title, nil
}

// NormalizeName trims and checks an entity name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("name", "name is required")
	}
	if err := checkLen("name", name, MaxNameLen); err != nil {
		return "", err
	}
	return name, nil
}

// NormalizeDescription checks a description. Empty becomes nil.
func NormalizeDescription(desc string) (*string, error) {
	if err := checkLen("description", desc, MaxDescriptionLen); err != nil {
		return nil, err
	}
	if strings.TrimSpace(desc) == "" {
		return nil, nil
	}
	return &desc, nil
}

// NormalizeIdentifier trims and checks an entity identifier. Empty
// becomes nil, which never conflicts with anything.
func NormalizeIdentifier(id string) (*string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if err := checkLen("identifier", id, MaxIdentifierLen); err != nil {
		return nil, err
	}
	return &id, nil
}

// ParseStatus accepts a status in any case.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if v == st {
			return v, nil
		}
	}
	return "", apperr.Validation("status", "invalid status %q: must be one of %s", s, joinEnum(Statuses))
}

// ParsePriority accepts a priority in any case; empty means medium.
func ParsePriority(s string) (Priority, error) {
	v := Priority(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return PriorityMedium, nil
	}
	for _, p := range Priorities {
		if v == p {
			return v, nil
		}
	}
	return "", apperr.Validation("priority", "invalid priority %q: must be one of %s", s, joinEnum(Priorities))
}

// ParseEntityType accepts an entity type in any case; empty means other.
func ParseEntityType(s string) (EntityType, error) {
	v := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return EntityOther, nil
	}
	for _, et := range EntityTypes {
		if v == et {
			return v, nil
		}
	}
	return "", apperr.Validation("entity_type", "invalid entity_type %q: must be one of %s", s, joinEnum(EntityTypes))
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// NormalizeTags splits every input on whitespace and commas, lowercases,
// and drops duplicates keeping first occurrence.
func NormalizeTags(in []string) (Tags, error) {
	seen := make(map[string]bool)
	out := Tags{}
	for _, raw := range in {
		for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		}) {
			tok = strings.ToLower(tok)
			if err := checkLen("tags", tok, MaxTagLen); err != nil {
				return nil, err
			}
			if seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out, nil
}

// NormalizeDependsOn checks ids are positive, drops duplicates keeping
// first occurrence, and rejects a self-reference when selfID is non-zero.
func NormalizeDependsOn(ids []int64, selfID int64) (IDList, error) {
	seen := make(map[int64]bool, len(ids))
	out := IDList{}
	for _, id := range ids {
		if id <= 0 {
			return nil, apperr.Validation("depends_on", "depends_on ids must be positive, got %d", id)
		}
		if selfID != 0 && id == selfID {
			return nil, apperr.Validation("depends_on", "task %d cannot depend on itself", selfID)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// NormalizeParent checks a parent id; 0 means no parent.
func NormalizeParent(parent, selfID int64) (*int64, error) {
	switch {
	case parent == 0:
		return nil, nil
	case parent < 0:
		return nil, apperr.Validation("parent_task_id", "parent_task_id must be positive, got %d", parent)
	case selfID != 0 && parent == selfID:
		return nil, apperr.Validation("parent_task_id", "task %d cannot be its own parent", selfID)
	}
	return &parent, nil
}

// NormalizeFileReferences trims each path and rejects empty or oversized ones.
func NormalizeFileReferences(refs []string) (StringList, error) {
	out := StringList{}
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, apperr.Validation("file_references", "file_references entries must be non-empty")
		}
		if err := checkLen("file_references", r, MaxFileReferenceLen); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NormalizeMetadata accepts JSON text or an already-decoded value and
// returns compact JSON. Only objects and arrays are allowed; the contents
// are not interpreted.
func NormalizeMetadata(v any) (JSONDoc, error) {
	var raw []byte
	switch m := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(m) == "" {
			return nil, nil
		}
		raw = []byte(m)
	case json.RawMessage:
		raw = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, apperr.Validation("metadata", "metadata is not serializable: %v", err)
		}
		raw = b
	}

	if !json.Valid(raw) {
		return nil, apperr.Validation("metadata", "metadata is not valid JSON")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, apperr.Validation("metadata", "metadata must be a JSON object or array")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, apperr.Validation("metadata", "metadata is not valid JSON")
	}
	return JSONDoc(buf.Bytes()), nil
}

// checkBlocker enforces that a blocker reason is present exactly when the
// status is blocked. It returns the reason to store.
func checkBlocker(status Status, reason *string) (*string, error) {
	has := reason != nil && strings.TrimSpace(*reason) != ""
	switch {
	case status == StatusBlocked && !has:
		return nil, apperr.Validation("blocker_reason", "blocker_reason is required when status is blocked")
	case status != StatusBlocked && has:
		return nil, apperr.Validation("blocker_reason",
			"blocker_reason is only allowed when status is blocked (status is %s)", status)
	case !has:
		return nil, nil
	}
	r := strings.TrimSpace(*reason)
	if err := checkLen("blocker_reason", r, MaxBlockerReasonLen); err != nil {
		return nil, err
	}
	return &r, nil
}
