package request

import (
	"fmt"

	"github.com/buildforge/buildforge/pkg/serrors"
)

// Error codes of the workflow taxonomy. Controllers map these to HTTP
// statuses; services and the engine never deal in statuses directly.
const (
	CodeValidation        = "REQUEST_VALIDATION"
	CodeForbidden         = "REQUEST_FORBIDDEN"
	CodeInvalidTransition = "REQUEST_INVALID_TRANSITION"
	CodeUnknownCommand    = "REQUEST_UNKNOWN_COMMAND"
	CodeNotFound          = "REQUEST_NOT_FOUND"
	CodeMissingFilter     = "REQUEST_MISSING_FILTER"
	CodeConflict          = "REQUEST_CONFLICT"
)

// Sentinels for errors.Is checks; instances built by the constructors
// below carry the same codes with specific messages.
var (
	ErrValidation        = serrors.NewError(CodeValidation, "request validation failed", "Requests.Errors.Validation")
	ErrForbidden         = serrors.NewError(CodeForbidden, "permission denied", "Requests.Errors.Forbidden")
	ErrInvalidTransition = serrors.NewError(CodeInvalidTransition, "illegal state transition", "Requests.Errors.InvalidTransition")
	ErrUnknownCommand    = serrors.NewError(CodeUnknownCommand, "unknown command", "Requests.Errors.UnknownCommand")
	ErrNotFound          = serrors.NewError(CodeNotFound, "request not found", "Requests.Errors.NotFound")
	ErrMissingFilter     = serrors.NewError(CodeMissingFilter, "this call requires at least one filter, either by user, group, project, package, states, types, reviewstates or ids", "Requests.Errors.MissingFilter")
	ErrConflict          = serrors.NewError(CodeConflict, "request was modified concurrently", "Requests.Errors.Conflict")
)

func NewValidationError(format string, args ...any) error {
	return serrors.NewError(CodeValidation, fmt.Sprintf(format, args...), "Requests.Errors.Validation")
}

func NewForbiddenError(format string, args ...any) error {
	return serrors.NewError(CodeForbidden, fmt.Sprintf(format, args...), "Requests.Errors.Forbidden")
}

// NewInvalidTransitionError reports the current state and attempted
// command so callers can decide between retry and abort.
func NewInvalidTransitionError(state State, cmd string) error {
	return serrors.NewError(
		CodeInvalidTransition,
		fmt.Sprintf("command %s is not legal in state %s", cmd, state),
		"Requests.Errors.InvalidTransition",
	).WithTemplateData(map[string]string{"state": string(state), "command": cmd})
}

func NewUnknownCommandError(cmd string) error {
	return serrors.NewError(CodeUnknownCommand, fmt.Sprintf("unknown command %q", cmd), "Requests.Errors.UnknownCommand")
}

func NewNotFoundError(number int64) error {
	return serrors.NewError(CodeNotFound, fmt.Sprintf("request %d not found", number), "Requests.Errors.NotFound")
}

func NewConflictError(number int64) error {
	return serrors.NewError(CodeConflict, fmt.Sprintf("request %d was modified concurrently", number), "Requests.Errors.Conflict")
}
