package core

import (
	"maps"
	"time"
)

// ToolCall is a request to execute one named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolStatus is the outcome class of a tool call.
type ToolStatus string

const (
	StatusOK    ToolStatus = "ok"
	StatusError ToolStatus = "error"
)

// ToolResult is the immutable outcome of a ToolCall. Retries produce new
// results. Payload is tool specific: OfferList for searches,
// BookingTransaction for booking steps, map[string]any otherwise.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Status   ToolStatus    `json:"status"`
	Payload  any           `json:"payload,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// NewOKResult creates a successful result, copying known payload shapes.
func NewOKResult(call ToolCall, payload any, latency time.Duration) ToolResult {
	return ToolResult{CallID: call.ID, ToolName: call.Name, Status: StatusOK, Payload: clonePayload(payload), Latency: latency}
}

// NewErrorResult creates a failed result. A payload may still be attached,
// e.g. the rolled back transaction of a failed confirmation.
func NewErrorResult(call ToolCall, err error, payload any, latency time.Duration) ToolResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ToolResult{CallID: call.ID, ToolName: call.Name, Status: StatusError, Payload: clonePayload(payload), Error: msg, Latency: latency}
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool { return r.Status == StatusOK }

// Offers returns a copy of the offer list carried by a search result.
func (r ToolResult) Offers() (OfferList, bool) {
	l, ok := r.Payload.(OfferList)
	if !ok {
		return OfferList{}, false
	}
	return l.Clone(), true
}

// Transaction returns a copy of the booking transaction carried by the result.
func (r ToolResult) Transaction() (BookingTransaction, bool) {
	t, ok := r.Payload.(BookingTransaction)
	if !ok {
		return BookingTransaction{}, false
	}
	return t.Clone(), true
}

func clonePayload(p any) any {
	switch v := p.(type) {
	case OfferList:
		return v.Clone()
	case BookingTransaction:
		return v.Clone()
	case map[string]any:
		return maps.Clone(v)
	default:
		return p
	}
}
