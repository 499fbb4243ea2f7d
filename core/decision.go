package core

import "maps"

// AgentDecision is the closed union of outcomes a reasoning agent produces
// for one turn. Decisions are never persisted beyond the turn.
type AgentDecision interface{ isDecision() }

// Respond answers the user directly.
type Respond struct{ Text string }

// CallTool requests one or more tool calls. Multiple calls form a batch that
// is dispatched concurrently.
type CallTool struct{ Calls []ToolCall }

// Delegate hands the turn to a sub-agent.
type Delegate struct {
	Agent AgentKind
	Args  map[string]any
}

// AskClarification asks the user for missing information and suspends the loop.
type AskClarification struct{ Text string }

func (Respond) isDecision()          {}
func (CallTool) isDecision()         {}
func (Delegate) isDecision()         {}
func (AskClarification) isDecision() {}

// DecisionName returns a short label for logging.
func DecisionName(d AgentDecision) string {
	switch d.(type) {
	case Respond:
		return "respond"
	case CallTool:
		return "call_tool"
	case Delegate:
		return "delegate"
	case AskClarification:
		return "ask_clarification"
	default:
		return "unknown"
	}
}

// Observation is a result folded into agent context during a refinement loop.
type Observation struct {
	Call   ToolCall
	Result ToolResult
}

// AgentRequest is the input to a reasoning agent invocation.
type AgentRequest struct {
	SessionID    string
	UserText     string
	Context      map[string]any
	History      []Turn
	Observations []Observation
	// Correction carries a corrective note after a malformed decision.
	Correction string
}

// Clone returns a copy safe to mutate.
func (r AgentRequest) Clone() AgentRequest {
	r.Context = maps.Clone(r.Context)
	r.History = append([]Turn(nil), r.History...)
	r.Observations = append([]Observation(nil), r.Observations...)
	return r
}
