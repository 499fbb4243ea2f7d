package tool

import (
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

var memorizeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"key":   map[string]any{"type": "string", "description": "Memory key, e.g. destination"},
		"value": map[string]any{"description": "Value to remember"},
	},
	"required": []string{"key", "value"},
}

// NewMemorizeTool returns the memorize tool. It only echoes the pair as
// {"key": ..., "value": ...}; the refinement loop turns it into a memory
// write applied after the turn.
func NewMemorizeTool() Tool {
	return NewFunctionTool(core.ToolMemorize,
		"Remember a fact about the trip for later turns.",
		memorizeSchema,
		func(_ *ToolContext, args map[string]any) (any, error) {
			return map[string]any{"key": util.StringArg(args, "key"), "value": args["value"]}, nil
		})
}

// MemoryWrite extracts the key/value pair from a memorize result.
func MemoryWrite(r core.ToolResult) (string, any, bool) {
	if !r.OK() || r.ToolName != core.ToolMemorize {
		return "", nil, false
	}
	m, ok := r.Payload.(map[string]any)
	if !ok {
		return "", nil, false
	}
	key, _ := m["key"].(string)
	if key == "" {
		return "", nil, false
	}
	return key, m["value"], true
}
