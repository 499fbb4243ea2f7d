package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

// Decision actions understood in oracle replies.
const (
	ActionRespond          = "respond"
	ActionCallTool         = "call_tool"
	ActionCallTools        = "call_tools"
	ActionDelegate         = "delegate"
	ActionAskClarification = "ask_clarification"
)

type rawCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type rawDecision struct {
	Action string         `json:"action"`
	Text   string         `json:"text"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Calls  []rawCall      `json:"calls"`
	Agent  string         `json:"agent"`
}

// ParseDecision converts an oracle reply into an AgentDecision and checks it
// against capability. The reply must contain one JSON object; code fences and
// surrounding prose are ignored. Every failure wraps core.ErrMalformedDecision.
func ParseDecision(output string, capability core.Capability) (core.AgentDecision, error) {
	raw, err := decodeDecision(output)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(raw.Action)) {
	case ActionRespond:
		if strings.TrimSpace(raw.Text) == "" {
			return nil, malformed("respond without text")
		}
		return core.Respond{Text: strings.TrimSpace(raw.Text)}, nil
	case ActionAskClarification:
		if strings.TrimSpace(raw.Text) == "" {
			return nil, malformed("ask_clarification without text")
		}
		return core.AskClarification{Text: strings.TrimSpace(raw.Text)}, nil
	case ActionCallTool:
		call, err := toolCall(rawCall{Tool: raw.Tool, Args: raw.Args}, capability)
		if err != nil {
			return nil, err
		}
		return core.CallTool{Calls: []core.ToolCall{call}}, nil
	case ActionCallTools:
		if len(raw.Calls) == 0 {
			return nil, malformed("call_tools without calls")
		}
		calls := make([]core.ToolCall, 0, len(raw.Calls))
		for _, rc := range raw.Calls {
			call, err := toolCall(rc, capability)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
		return core.CallTool{Calls: calls}, nil
	case ActionDelegate:
		kind, ok := core.ParseAgentKind(strings.TrimSpace(raw.Agent))
		if !ok {
			return nil, malformed(fmt.Sprintf("unknown agent %q", raw.Agent))
		}
		if !capability.AllowsAgent(kind) {
			return nil, malformed(fmt.Sprintf("agent %s may not delegate to %s", capability.Kind, kind))
		}
		return core.Delegate{Agent: kind, Args: argsOrEmpty(raw.Args)}, nil
	case "":
		return nil, malformed("missing action")
	default:
		return nil, malformed(fmt.Sprintf("unknown action %q", raw.Action))
	}
}

func toolCall(rc rawCall, capability core.Capability) (core.ToolCall, error) {
	name := strings.TrimSpace(rc.Tool)
	if name == "" {
		return core.ToolCall{}, malformed("tool call without tool name")
	}
	if !capability.AllowsTool(name) {
		return core.ToolCall{}, malformed(fmt.Sprintf("tool %s is not available to %s", name, capability.Kind))
	}
	return core.ToolCall{ID: util.NewID("call"), Name: name, Args: argsOrEmpty(rc.Args)}, nil
}

func decodeDecision(output string) (rawDecision, error) {
	start := strings.Index(output, "{")
	if start < 0 {
		return rawDecision{}, malformed("no JSON object in reply")
	}
	var raw rawDecision
	// Decode reads exactly one value; trailing prose or fences are ignored.
	if err := json.NewDecoder(strings.NewReader(output[start:])).Decode(&raw); err != nil {
		return rawDecision{}, malformed(fmt.Sprintf("invalid JSON: %v", err))
	}
	return raw, nil
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func malformed(msg string) error {
	return fmt.Errorf("%w: %s", core.ErrMalformedDecision, msg)
}
