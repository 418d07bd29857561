// Package apperr defines the error taxonomy surfaced to tool callers.
//
// Every failure that reaches a caller is an *Error carrying a stable code,
// a human-readable message and optional structured details. Callers match
// on codes with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable error classification.
type Code string

// Error codes.
const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeNotFound              Code = "NOT_FOUND"
	CodeDependencyUnsatisfied Code = "DEPENDENCY_UNSATISFIED"
	CodeDuplicate             Code = "DUPLICATE_IDENTIFIER"
	CodePagination            Code = "PAGINATION_ERROR"
	CodeResponseTooLarge      Code = "RESPONSE_SIZE_EXCEEDED"
	CodeWorkspace             Code = "WORKSPACE_RESOLUTION_ERROR"
	CodeLockTimeout           Code = "LOCK_TIMEOUT"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching. Only the code is compared.
var (
	ErrValidation            = &Error{Code: CodeValidation}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrDependencyUnsatisfied = &Error{Code: CodeDependencyUnsatisfied}
	ErrDuplicate             = &Error{Code: CodeDuplicate}
	ErrPagination            = &Error{Code: CodePagination}
	ErrResponseTooLarge      = &Error{Code: CodeResponseTooLarge}
	ErrWorkspace             = &Error{Code: CodeWorkspace}
	ErrLockTimeout           = &Error{Code: CodeLockTimeout}
	ErrInternal              = &Error{Code: CodeInternal}
)

// Error is a classified failure.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]any
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", strings.ToLower(string(e.Code)), e.Err)
	}
	return strings.ToLower(string(e.Code))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Payload is the wire shape of an error returned to callers.
type Payload struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

// ToPayload converts any error into its wire shape. Unclassified errors
// become INTERNAL_ERROR with a generic message so storage internals never
// leak to callers.
func ToPayload(err error) Payload {
	var e *Error
	if errors.As(err, &e) {
		return Payload{Code: e.Code, Message: e.Error(), Details: e.Details, Retryable: e.Retryable}
	}
	return Payload{Code: CodeInternal, Message: "internal error"}
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ─── Constructors ───────────────────────────────────────────────────────────

// Validation reports a malformed or out-of-range field.
func Validation(field, format string, args ...any) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"field": field},
	}
}

// NotFound reports a missing or soft-deleted row.
func NotFound(kind string, id int64) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %d not found", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// DependencyUnsatisfied reports a status transition blocked by dependencies
// that are missing, deleted, or not done.
func DependencyUnsatisfied(taskID int64, status string, unmet []int64) *Error {
	ids := make([]string, len(unmet))
	for i, id := range unmet {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return &Error{
		Code: CodeDependencyUnsatisfied,
		Message: fmt.Sprintf("task %d cannot move to %s: dependencies not done: %s",
			taskID, status, strings.Join(ids, ", ")),
		Details: map[string]any{"task_id": taskID, "target_status": status, "unmet_dependencies": unmet},
	}
}

// Duplicate reports a uniqueness conflict with an existing active row.
func Duplicate(message string, details map[string]any) *Error {
	return &Error{Code: CodeDuplicate, Message: message, Details: details}
}

// Pagination reports an invalid limit or offset.
func Pagination(field string, value any, format string, args ...any) *Error {
	return &Error{
		Code:    CodePagination,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"field": field, "value": value},
	}
}

// ResponseTooLarge reports a payload whose token estimate exceeds the ceiling.
func ResponseTooLarge(estimated, limit int) *Error {
	return &Error{
		Code: CodeResponseTooLarge,
		Message: fmt.Sprintf("response too large: ~%d tokens exceeds limit of %d; use mode=summary or a smaller limit",
			estimated, limit),
		Details: map[string]any{
			"estimated_tokens": estimated,
			"max_tokens":       limit,
			"suggestion":       "retry with mode=summary and/or a smaller limit",
		},
	}
}

// Workspace reports that no usable workspace directory could be resolved.
func Workspace(tried []map[string]string) *Error {
	return &Error{
		Code:    CodeWorkspace,
		Message: "no usable workspace directory: pass workspace_path or set TASKMEM_WORKSPACE",
		Details: map[string]any{"tried": tried},
	}
}

// WorkspaceCollision reports that two workspace paths hash to the same
// project id and would share one database.
func WorkspaceCollision(id, registeredPath, workspacePath string) *Error {
	return &Error{
		Code:    CodeWorkspace,
		Message: fmt.Sprintf("project id %s collides: %s is already registered under it", id, registeredPath),
		Details: map[string]any{"project_id": id, "registered_path": registeredPath, "workspace_path": workspacePath},
	}
}

// LockTimeout reports lock contention that outlasted the busy timeout.
// Callers are expected to retry.
func LockTimeout(err error) *Error {
	return &Error{
		Code:      CodeLockTimeout,
		Message:   "database is locked by another writer; retry the call",
		Retryable: true,
		Err:       err,
	}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}
