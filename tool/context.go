package tool

import (
	"context"

	"github.com/hupe1980/travelmesh/logging"
)

// ToolContext provides the constrained surface a tool implementation sees:
// the call's context, the owning session and a logger.
type ToolContext struct {
	ctx       context.Context
	sessionID string
	callID    string
	logger    logging.Logger
}

// NewToolContext constructs a tool context for one call.
func NewToolContext(ctx context.Context, sessionID, callID string, logger logging.Logger) *ToolContext {
	return &ToolContext{ctx: ctx, sessionID: sessionID, callID: callID, logger: logging.OrNoOp(logger)}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the session the call belongs to.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// FunctionCallID returns the id of the tool call.
func (tc *ToolContext) FunctionCallID() string { return tc.callID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }
