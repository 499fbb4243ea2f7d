package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/model"
	"github.com/hupe1980/travelmesh/tool"
)

const decisionProtocol = `Reply with exactly one JSON object and nothing else. Choose one of:
{"action":"respond","text":"<answer for the user>"}
{"action":"ask_clarification","text":"<question for the user>"}
{"action":"call_tool","tool":"<tool name>","args":{...}}
{"action":"call_tools","calls":[{"tool":"<tool name>","args":{...}}, ...]}
{"action":"delegate","agent":"<agent>","args":{...}}
Use call_tools for independent searches that can run at the same time.
Only use the tools and agents listed below.`

// maxOffersInPrompt bounds how many offers of one result are shown to the oracle.
const maxOffersInPrompt = 10

// buildInstructions assembles the system side of the oracle request.
func buildInstructions(base string, capability core.Capability, defs []tool.Definition, memory map[string]any, correction string) string {
	var b strings.Builder
	if base = strings.TrimSpace(base); base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	b.WriteString(decisionProtocol)

	if len(defs) > 0 {
		b.WriteString("\n\nTools:\n")
		for _, d := range defs {
			params, _ := json.Marshal(d.Parameters)
			fmt.Fprintf(&b, "- %s: %s Parameters: %s\n", d.Name, d.Description, params)
		}
	}
	if len(capability.SubAgents) > 0 {
		b.WriteString("\nAgents:\n")
		for _, k := range capability.SubAgents {
			c, _ := core.CapabilityFor(k)
			fmt.Fprintf(&b, "- %s: %s\n", k, c.Description)
		}
	}
	if len(memory) > 0 {
		b.WriteString("\nKnown facts from this conversation:\n")
		for _, k := range slices.Sorted(maps.Keys(memory)) {
			fmt.Fprintf(&b, "- %s: %s\n", k, compactJSON(memory[k]))
		}
	}
	if correction != "" {
		b.WriteString("\nCorrection: ")
		b.WriteString(correction)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildMessages maps history, the user text and observations to oracle
// messages. history must already be truncated to the context window.
func buildMessages(history []core.Turn, userText string, obs []core.Observation) []model.Message {
	msgs := make([]model.Message, 0, len(history)+2)
	for _, t := range history {
		role := model.RoleUser
		if t.Role == core.RoleAgent {
			role = model.RoleAssistant
		}
		text := t.Content
		if t.Payload != nil {
			text = fmt.Sprintf("%s\n[attached %s]", text, t.Payload.PayloadType())
		}
		msgs = append(msgs, model.Message{Role: role, Text: text})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Text: userText})
	if len(obs) > 0 {
		msgs = append(msgs, model.Message{Role: model.RoleUser, Text: describeObservations(obs)})
	}
	return msgs
}

func describeObservations(obs []core.Observation) string {
	var b strings.Builder
	b.WriteString("Results of your previous actions:")
	for _, o := range obs {
		fmt.Fprintf(&b, "\n- %s", o.Result.ToolName)
		if !o.Result.OK() {
			fmt.Fprintf(&b, " failed: %s", o.Result.Error)
			if tx, ok := o.Result.Transaction(); ok {
				fmt.Fprintf(&b, " (%s)", tx.Explain())
			}
			continue
		}
		b.WriteString(": ")
		b.WriteString(describePayload(o.Result))
	}
	return b.String()
}

func describePayload(r core.ToolResult) string {
	if l, ok := r.Offers(); ok {
		if len(l.Offers) == 0 {
			return fmt.Sprintf("no %s offers found", l.Category)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d %s offers", len(l.Offers), l.Category)
		for i, o := range l.Offers {
			if i == maxOffersInPrompt {
				fmt.Fprintf(&b, "\n  ... %d more", len(l.Offers)-i)
				break
			}
			fmt.Fprintf(&b, "\n  %s | %s | %s %s", o.ID, o.Title, o.Price.StringFixed(2), o.Currency)
			if !o.DepartAt.IsZero() {
				fmt.Fprintf(&b, " | departs %s", o.DepartAt.Format("2006-01-02 15:04"))
			}
		}
		return b.String()
	}
	if tx, ok := r.Transaction(); ok {
		return fmt.Sprintf("transaction %s is %s. %s", tx.ID, tx.State, tx.Explain())
	}
	if f, ok := r.Payload.(core.Forecast); ok {
		return f.Describe()
	}
	return compactJSON(r.Payload)
}

func compactJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
