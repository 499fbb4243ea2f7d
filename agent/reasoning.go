package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/model"
	"github.com/hupe1980/travelmesh/tool"
)

// ReasoningOptions configures a ReasoningAgent.
//
// Use functional options with NewReasoningAgent to override defaults.
type ReasoningOptions struct {
	// Instruction defaults to DefaultInstruction of the agent kind.
	Instruction Instruction
	// Tools describes the tools of the capability set to the oracle.
	Tools []tool.Definition
	// MaxHistoryTurns keeps only the most recent turns; oldest are dropped
	// first. Negative keeps the whole history.
	MaxHistoryTurns int
	// OracleTimeout bounds one oracle call; 0 disables it.
	OracleTimeout time.Duration
	// EnableStreaming requests incremental oracle output.
	EnableStreaming bool
	Logger          logging.Logger
}

// ReasoningAgent wraps one oracle role with a fixed instruction and
// capability set. Each Decide is exactly one oracle call.
type ReasoningAgent struct {
	kind       core.AgentKind
	capability core.Capability
	llm        model.Model
	opts       ReasoningOptions
	logger     logging.Logger
}

// NewReasoningAgent creates a reasoning agent for kind with sensible defaults:
//   - the built-in instruction of the kind
//   - a 20 turn history window
//   - a 30 second oracle timeout
func NewReasoningAgent(kind core.AgentKind, llm model.Model, optFns ...func(o *ReasoningOptions)) (*ReasoningAgent, error) {
	capability, ok := core.CapabilityFor(kind)
	if !ok || !capability.Reasoning {
		return nil, fmt.Errorf("agent kind %q is not a reasoning kind", kind)
	}
	if llm == nil {
		return nil, fmt.Errorf("reasoning agent %s: nil model", kind)
	}

	opts := ReasoningOptions{
		Instruction:     DefaultInstruction(kind),
		MaxHistoryTurns: 20,
		OracleTimeout:   30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &ReasoningAgent{
		kind:       kind,
		capability: capability,
		llm:        llm,
		opts:       opts,
		logger:     logging.OrNoOp(opts.Logger),
	}, nil
}

// Kind returns the agent kind.
func (a *ReasoningAgent) Kind() core.AgentKind { return a.kind }

// Capability returns the capability record of the agent.
func (a *ReasoningAgent) Capability() core.Capability { return a.capability }

// Decide asks the oracle for the next decision. Oracle failures wrap
// core.ErrOracleUnavailable; unusable replies wrap core.ErrMalformedDecision.
func (a *ReasoningAgent) Decide(ctx context.Context, req core.AgentRequest) (core.AgentDecision, error) {
	mreq, err := a.BuildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if a.opts.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.OracleTimeout)
		defer cancel()
	}

	start := time.Now()
	text, usage, err := model.Collect(ctx, a.llm, mreq)
	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	}
	a.logOracle(tokens, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrOracleUnavailable, a.kind, err)
	}

	decision, err := ParseDecision(text, a.capability)
	if err != nil {
		a.logger.Warn("agent.decision.malformed", "agent", a.kind, "session_id", req.SessionID, "error", err.Error())
		return nil, err
	}
	a.logger.Debug("agent.decision", "agent", a.kind, "session_id", req.SessionID, "decision", core.DecisionName(decision))

	return decision, nil
}

// BuildRequest renders the oracle request for req: instructions with the
// memory snapshot, the truncated history, the user text and observations.
func (a *ReasoningAgent) BuildRequest(ctx context.Context, req core.AgentRequest) (model.Request, error) {
	base, err := a.opts.Instruction.Resolve(ctx, req.Context)
	if err != nil {
		return model.Request{}, fmt.Errorf("resolve instruction for %s: %w", a.kind, err)
	}

	history := req.History
	if n := a.opts.MaxHistoryTurns; n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	return model.Request{
		Instructions: buildInstructions(base, a.capability, a.opts.Tools, req.Context, req.Correction),
		Messages:     buildMessages(history, req.UserText, req.Observations),
		Stream:       a.opts.EnableStreaming,
	}, nil
}

type oracleCallLogger interface {
	LogOracleCall(model string, tokens int, dur time.Duration, success bool, err error)
}

func (a *ReasoningAgent) logOracle(tokens int, dur time.Duration, err error) {
	name := a.llm.Info().Name
	if l, ok := a.logger.(oracleCallLogger); ok {
		l.LogOracleCall(name, tokens, dur, err == nil, err)
		return
	}
	if err != nil {
		a.logger.Warn("oracle.call.finish", "model", name, "duration", dur, "success", false, "error", err.Error())
		return
	}
	a.logger.Info("oracle.call.finish", "model", name, "token_count", tokens, "duration", dur, "success", true)
}
