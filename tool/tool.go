// Package tool implements the tool calling subsystem that lets agents invoke
// travel provider capabilities (search, hold, confirm, release) with schema
// validated arguments, consistent error handling and metadata for the oracle.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

// Tool defines the interface for capabilities an agent may invoke.
//
// Tool implementations should:
//   - Provide a snake_case name and a description the oracle can act on
//   - Define a JSON schema for parameters
//   - Honor ToolContext cancellation
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with validated arguments. A tool may return a
	// payload together with an error, e.g. a rolled back transaction.
	Call(toolCtx *ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeUnknown    = "UNKNOWN_TOOL"
	CodePanic      = "PANIC"
)

// ToolError represents errors that occur during tool execution. It wraps
// core.ErrToolFailed and, when set, the underlying cause.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes core.ErrToolFailed and the original cause to errors.Is.
func (e *ToolError) Unwrap() []error {
	if e.cause != nil {
		return []error{core.ErrToolFailed, e.cause}
	}
	return []error{core.ErrToolFailed}
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// wrapError converts err into a *ToolError unless it already is one.
func wrapError(tool string, err error, code string) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Tool: tool, Message: err.Error(), Code: code, cause: err}
}
