package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/dispatch"
	"github.com/hupe1980/travelmesh/internal/util"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/tool"
)

// Decider produces one decision per call. ReasoningAgent implements it.
type Decider interface {
	Kind() core.AgentKind
	Capability() core.Capability
	Decide(ctx context.Context, req core.AgentRequest) (core.AgentDecision, error)
}

// Executor runs one tool call to completion. tool.Registry implements it.
type Executor = dispatch.Executor

// BatchDispatcher runs independent calls concurrently and keeps slot order.
type BatchDispatcher interface {
	DispatchMany(ctx context.Context, sessionID string, calls []core.ToolCall) []core.ToolResult
}

var (
	_ Decider         = (*ReasoningAgent)(nil)
	_ BatchDispatcher = (*dispatch.Dispatcher)(nil)
)

// ExitReason tells how a refinement loop ended.
type ExitReason string

const (
	// ExitResponded means an agent answered the user.
	ExitResponded ExitReason = "responded"
	// ExitSuspended means an agent asked for clarification; the loop resumes
	// with the next user message.
	ExitSuspended ExitReason = "suspended"
	// ExitExhausted means the iteration cap was hit; Text holds a best-effort summary.
	ExitExhausted ExitReason = "exhausted"
)

// LoopInput starts one refinement run.
type LoopInput struct {
	Entry   core.AgentKind
	Request core.AgentRequest
	// Stateless marks a turn without a stored session. Booking tools are
	// refused since a hold could never be confirmed or released later.
	Stateless bool
}

// LoopOutcome is the result of one refinement run.
type LoopOutcome struct {
	Exit ExitReason
	// Agent is the kind that produced the exit; a suspended turn resumes there.
	Agent core.AgentKind
	Text  string
	// Observations holds every tool and delegation result of the run in order.
	Observations []core.Observation
	// MemoryDelta holds memorize writes, applied by the caller after the turn.
	MemoryDelta map[string]any
	Path        []core.AgentKind
	Iterations  int
	OracleCalls int
	// Err is core.ErrIterationExhausted on ExitExhausted. It is reported, not returned.
	Err error
}

// LoopOption defines a configuration function for customizing LoopAgent behavior.
type LoopOption func(*LoopAgent)

// WithMaxIterations sets N_max, the number of decisions a run may take
// across all delegation levels.
func WithMaxIterations(n int) LoopOption {
	return func(l *LoopAgent) { l.maxIters = n }
}

// WithCorrectiveRetries sets how often a malformed decision is re-prompted
// within one iteration.
func WithCorrectiveRetries(n int) LoopOption {
	return func(l *LoopAgent) { l.correctiveRetries = n }
}

// WithMaxDelegationDepth bounds nested delegation.
func WithMaxDelegationDepth(n int) LoopOption {
	return func(l *LoopAgent) { l.maxDepth = n }
}

// WithOracleBudget caps oracle calls per run, retries included. Zero derives
// the cap from iterations and retries.
func WithOracleBudget(n int) LoopOption {
	return func(l *LoopAgent) { l.oracleBudget = n }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger logging.Logger) LoopOption {
	return func(l *LoopAgent) { l.logger = logging.OrNoOp(logger) }
}

// LoopAgent drives reasoning agents until one responds, asks for
// clarification or the iteration cap is reached.
//
// Search calls of one decision are fanned out as a single batch; booking and
// memorize calls run one at a time in request order. Delegations run the
// target agent in a nested loop that shares the iteration budget.
type LoopAgent struct {
	agents            map[core.AgentKind]Decider
	exec              Executor
	dispatcher        BatchDispatcher
	maxIters          int
	correctiveRetries int
	maxDepth          int
	oracleBudget      int
	logger            logging.Logger
}

// NewLoopAgent creates a LoopAgent (defaults: 5 iterations, 1 corrective
// retry, delegation depth 2). A nil dispatcher runs searches sequentially.
func NewLoopAgent(exec Executor, dispatcher BatchDispatcher, agents []Decider, opts ...LoopOption) (*LoopAgent, error) {
	if exec == nil {
		return nil, errors.New("loop agent: nil tool executor")
	}
	l := &LoopAgent{
		agents:            make(map[core.AgentKind]Decider, len(agents)),
		exec:              exec,
		dispatcher:        dispatcher,
		maxIters:          5,
		correctiveRetries: 1,
		maxDepth:          2,
		logger:            logging.NoOpLogger{},
	}
	for _, a := range agents {
		if _, dup := l.agents[a.Kind()]; dup {
			return nil, fmt.Errorf("loop agent: duplicate agent %s", a.Kind())
		}
		l.agents[a.Kind()] = a
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxIters < 1 {
		return nil, fmt.Errorf("loop agent: max iterations must be positive, got %d", l.maxIters)
	}
	l.correctiveRetries = max(l.correctiveRetries, 0)
	l.maxDepth = max(l.maxDepth, 0)
	return l, nil
}

// MaxIterations returns N_max.
func (l *LoopAgent) MaxIterations() int { return l.maxIters }

// Has reports whether an agent of kind is registered.
func (l *LoopAgent) Has(kind core.AgentKind) bool {
	_, ok := l.agents[kind]
	return ok
}

type loopState struct {
	budget       *core.OracleBudget
	iterations   int
	observations []core.Observation
	memory       map[string]any
	path         []core.AgentKind
	stateless    bool
}

// Run executes one refinement run starting at in.Entry. It returns an error
// only for unrecoverable conditions: repeated malformed decisions, oracle
// failures, an exhausted oracle budget or cancellation.
func (l *LoopAgent) Run(ctx context.Context, in LoopInput) (LoopOutcome, error) {
	start := time.Now()
	budget := l.oracleBudget
	if budget == 0 {
		budget = l.maxIters * (1 + l.correctiveRetries)
	}
	st := &loopState{budget: core.NewOracleBudget(budget), memory: map[string]any{}, stateless: in.Stateless}

	req := in.Request.Clone()
	if req.Context == nil {
		req.Context = map[string]any{}
	}

	out, err := l.run(ctx, in.Entry, req, 0, st)
	out.Observations = st.observations
	out.MemoryDelta = st.memory
	out.Path = st.path
	out.Iterations = st.iterations
	out.OracleCalls = st.budget.Count()

	exit := string(out.Exit)
	if err != nil {
		exit = "error"
	}
	l.logLoop(in.Entry, st.iterations, exit, time.Since(start))

	return out, err
}

func (l *LoopAgent) run(ctx context.Context, kind core.AgentKind, req core.AgentRequest, depth int, st *loopState) (LoopOutcome, error) {
	d, ok := l.agents[kind]
	if !ok {
		return LoopOutcome{Agent: kind}, fmt.Errorf("no reasoning agent registered for %s", kind)
	}
	st.path = append(st.path, kind)

	for {
		if err := ctx.Err(); err != nil {
			return LoopOutcome{Agent: kind}, err
		}
		if st.iterations >= l.maxIters {
			return l.exhausted(kind, st), nil
		}
		st.iterations++

		decision, err := l.decide(ctx, d, req, st)
		if err != nil {
			return LoopOutcome{Agent: kind}, err
		}
		l.logger.Debug("loop.iteration", "agent", kind, "iteration", st.iterations, "depth", depth, "decision", core.DecisionName(decision))

		switch dec := decision.(type) {
		case core.Respond:
			return LoopOutcome{Exit: ExitResponded, Agent: kind, Text: dec.Text}, nil
		case core.AskClarification:
			return LoopOutcome{Exit: ExitSuspended, Agent: kind, Text: dec.Text}, nil
		case core.CallTool:
			req.Observations = append(req.Observations, l.execute(ctx, &req, dec.Calls, st)...)
		case core.Delegate:
			out, done, err := l.delegate(ctx, kind, &req, dec, depth, st)
			if err != nil || done {
				return out, err
			}
		default:
			return LoopOutcome{Agent: kind}, fmt.Errorf("%w: unsupported decision %T", core.ErrMalformedDecision, decision)
		}
	}
}

// decide calls d once, re-prompting with a correction after malformed replies.
func (l *LoopAgent) decide(ctx context.Context, d Decider, req core.AgentRequest, st *loopState) (core.AgentDecision, error) {
	var lastErr error
	for attempt := 0; attempt <= l.correctiveRetries; attempt++ {
		if err := st.budget.Spend(); err != nil {
			return nil, err
		}
		r := req
		if lastErr != nil {
			r.Correction = fmt.Sprintf("your previous reply could not be used (%v). Reply with exactly one JSON object using one of the listed actions.", lastErr)
		}
		decision, err := d.Decide(ctx, r)
		if err == nil {
			return decision, nil
		}
		if !errors.Is(err, core.ErrMalformedDecision) {
			return nil, err
		}
		lastErr = err
		l.logger.Warn("loop.decision.malformed", "agent", d.Kind(), "attempt", attempt+1, "error", err.Error())
	}
	return nil, lastErr
}

// execute runs the calls of one decision and folds memorize writes into
// req.Context and the run's memory delta.
func (l *LoopAgent) execute(ctx context.Context, req *core.AgentRequest, calls []core.ToolCall, st *loopState) []core.Observation {
	results := make([]core.ToolResult, len(calls))

	var (
		batch      []core.ToolCall
		slots      []int
		sequential []int
	)
	for i, c := range calls {
		if owner, ok := core.ToolOwner(c.Name); ok && owner == core.KindToolSearch {
			batch = append(batch, c)
			slots = append(slots, i)
			continue
		}
		sequential = append(sequential, i)
	}

	if len(batch) > 0 {
		for j, r := range l.dispatch(ctx, req.SessionID, batch) {
			results[slots[j]] = r
		}
	}
	for _, i := range sequential {
		if owner, _ := core.ToolOwner(calls[i].Name); owner == core.KindToolBooking && st.stateless {
			results[i] = core.NewErrorResult(calls[i], core.ErrSessionRequired, nil, 0)
			continue
		}
		results[i] = l.exec.Execute(ctx, req.SessionID, calls[i])
		if key, value, ok := tool.MemoryWrite(results[i]); ok {
			st.memory[key] = value
			req.Context[key] = value
		}
	}

	obs := make([]core.Observation, len(calls))
	for i, c := range calls {
		obs[i] = core.Observation{Call: c, Result: results[i]}
		l.logTool(results[i])
	}
	st.observations = append(st.observations, obs...)
	return obs
}

func (l *LoopAgent) dispatch(ctx context.Context, sessionID string, calls []core.ToolCall) []core.ToolResult {
	if l.dispatcher != nil {
		return l.dispatcher.DispatchMany(ctx, sessionID, calls)
	}
	results := make([]core.ToolResult, len(calls))
	for i, c := range calls {
		results[i] = l.exec.Execute(ctx, sessionID, c)
	}
	return results
}

// delegate runs the target agent in a nested loop. done reports that the
// nested run ended the turn (suspension or exhaustion).
func (l *LoopAgent) delegate(ctx context.Context, from core.AgentKind, req *core.AgentRequest, dec core.Delegate, depth int, st *loopState) (LoopOutcome, bool, error) {
	call := core.ToolCall{ID: util.NewID("call"), Name: "delegate:" + string(dec.Agent), Args: dec.Args}

	if depth+1 > l.maxDepth || !l.Has(dec.Agent) {
		err := fmt.Errorf("agent %s cannot be reached from %s", dec.Agent, from)
		if depth+1 > l.maxDepth {
			err = fmt.Errorf("delegation depth %d exceeded", l.maxDepth)
		}
		o := core.Observation{Call: call, Result: core.NewErrorResult(call, err, nil, 0)}
		req.Observations = append(req.Observations, o)
		st.observations = append(st.observations, o)
		return LoopOutcome{}, false, nil
	}

	child := req.Clone()
	child.Correction = ""
	if len(dec.Args) > 0 {
		child.UserText = fmt.Sprintf("%s\n\nTask from the %s agent: %s", req.UserText, from, compactJSON(dec.Args))
	}

	before := len(st.observations)
	start := time.Now()
	out, err := l.run(ctx, dec.Agent, child, depth+1, st)
	if err != nil {
		return out, true, err
	}
	if out.Exit != ExitResponded {
		return out, true, nil
	}

	maps.Copy(req.Context, st.memory)
	req.Observations = append(req.Observations, st.observations[before:]...)
	o := core.Observation{
		Call:   call,
		Result: core.NewOKResult(call, map[string]any{"agent": string(dec.Agent), "text": out.Text}, time.Since(start)),
	}
	req.Observations = append(req.Observations, o)
	st.observations = append(st.observations, o)
	return LoopOutcome{}, false, nil
}

func (l *LoopAgent) exhausted(kind core.AgentKind, st *loopState) LoopOutcome {
	return LoopOutcome{
		Exit:  ExitExhausted,
		Agent: kind,
		Text:  Summarize(st.observations),
		Err:   fmt.Errorf("%w: %d iterations", core.ErrIterationExhausted, l.maxIters),
	}
}

// Summarize renders a best-effort answer from the observations of a run
// that did not finish.
func Summarize(obs []core.Observation) string {
	var lines []string
	for _, o := range obs {
		r := o.Result
		if tx, ok := r.Transaction(); ok {
			lines = append(lines, "- "+tx.Explain())
			continue
		}
		if !r.OK() {
			lines = append(lines, fmt.Sprintf("- %s did not succeed", strings.ReplaceAll(r.ToolName, "_", " ")))
			continue
		}
		if l, ok := r.Offers(); ok {
			lines = append(lines, describeOffers(l))
		}
		if f, ok := r.Payload.(core.Forecast); ok {
			lines = append(lines, "- weather in "+f.Describe())
		}
	}
	if len(lines) == 0 {
		return "I wasn't able to settle on an answer yet. Could you add a few details, such as dates, places or a budget?"
	}
	return "I couldn't finish refining this, but here is what I found so far:\n" + strings.Join(lines, "\n")
}

func describeOffers(l core.OfferList) string {
	if len(l.Offers) == 0 {
		return fmt.Sprintf("- no %s options matched", l.Category)
	}
	cheapest := l.Offers[0]
	for _, o := range l.Offers[1:] {
		if o.Price.LessThan(cheapest.Price) {
			cheapest = o
		}
	}
	return fmt.Sprintf("- %d %s options, from %s %s (%s)", len(l.Offers), l.Category, cheapest.Price.StringFixed(2), cheapest.Currency, cheapest.Title)
}

type loopLogger interface {
	LogLoop(agent string, iterations int, exit string, dur time.Duration)
}

type toolCallLogger interface {
	LogToolCall(tool string, dur time.Duration, success bool, err error)
}

func (l *LoopAgent) logLoop(kind core.AgentKind, iterations int, exit string, dur time.Duration) {
	if ll, ok := l.logger.(loopLogger); ok {
		ll.LogLoop(string(kind), iterations, exit, dur)
		return
	}
	l.logger.Info("loop.finish", "agent", kind, "iterations", iterations, "exit", exit, "duration", dur)
}

func (l *LoopAgent) logTool(r core.ToolResult) {
	var err error
	if !r.OK() {
		err = errors.New(r.Error)
	}
	if tl, ok := l.logger.(toolCallLogger); ok {
		tl.LogToolCall(r.ToolName, r.Latency, r.OK(), err)
		return
	}
	l.logger.Debug("tool.call.finish", "tool_name", r.ToolName, "duration", r.Latency, "success", r.OK())
}
