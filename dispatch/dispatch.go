// Package dispatch runs independent tool calls concurrently and returns their
// results in caller order.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/tool"
)

// Executor runs one tool call to completion. tool.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, sessionID string, call core.ToolCall) core.ToolResult
}

var _ Executor = (*tool.Registry)(nil)

// Options configure a Dispatcher.
type Options struct {
	// MaxInFlight bounds concurrently running calls across all batches.
	MaxInFlight int
	// CallTimeout bounds each call; 0 disables the per-call timeout.
	CallTimeout time.Duration
	Logger      logging.Logger
}

// Dispatcher fans out tool calls. It is safe for concurrent use; the
// in-flight bound is shared by every batch.
type Dispatcher struct {
	exec   Executor
	opts   Options
	sem    chan struct{}
	logger logging.Logger
}

// New creates a Dispatcher (defaults: 4 in flight, 10s per call).
func New(exec Executor, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{MaxInFlight: 4, CallTimeout: 10 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	return &Dispatcher{
		exec:   exec,
		opts:   opts,
		sem:    make(chan struct{}, opts.MaxInFlight),
		logger: logging.OrNoOp(opts.Logger),
	}
}

// DispatchMany runs calls concurrently. Result i always answers calls[i].
// Failed, panicking, timed out or cancelled calls yield error results in
// their slot; nothing is retried.
func (d *Dispatcher) DispatchMany(ctx context.Context, sessionID string, calls []core.ToolCall) []core.ToolResult {
	results := make([]core.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	batchStart := time.Now()
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			results[idx] = d.run(ctx, sessionID, call)
		}(i, call)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	d.logger.Debug("dispatch.batch.done", "session_id", sessionID, "calls", len(calls), "failed", failed, "duration_ms", time.Since(batchStart).Milliseconds())
	return results
}

// run acquires a semaphore slot and executes one call. The per-call timeout
// covers the wait for a slot as well as the call. The slot is released when
// the underlying call returns, even when its result was abandoned on timeout.
func (d *Dispatcher) run(ctx context.Context, sessionID string, call core.ToolCall) core.ToolResult {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.opts.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.opts.CallTimeout)
	}
	defer cancel()

	start := time.Now()
	select {
	case d.sem <- struct{}{}:
	case <-callCtx.Done():
		d.logger.Warn("dispatch.call.no_slot", "tool", call.Name, "call_id", call.ID, "in_flight", len(d.sem))
		return d.timedOut(call, "no free dispatch slot", start)
	}

	done := make(chan core.ToolResult, 1)
	go func() {
		defer func() { <-d.sem }()
		defer func() {
			if r := recover(); r != nil {
				d.logPanic(call, r)
				done <- core.NewErrorResult(call, tool.NewToolError(call.Name, fmt.Sprintf("panic: %v", r), tool.CodePanic), nil, time.Since(start))
			}
		}()
		done <- d.exec.Execute(callCtx, sessionID, call)
	}()

	var res core.ToolResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = d.timedOut(call, "call timed out", start)
	}
	d.logger.Debug("dispatch.call.done", "tool", call.Name, "call_id", call.ID, "ok", res.OK(), "duration_ms", res.Latency.Milliseconds())
	return res
}

func (d *Dispatcher) timedOut(call core.ToolCall, what string, start time.Time) core.ToolResult {
	elapsed := time.Since(start)
	msg := fmt.Sprintf("%s after %s", what, elapsed.Round(time.Millisecond))
	return core.NewErrorResult(call, tool.NewToolError(call.Name, msg, tool.CodeTimeout), nil, elapsed)
}

type stackLogger interface {
	ErrorWithStack(err error, msg string, args ...any)
}

func (d *Dispatcher) logPanic(call core.ToolCall, r any) {
	err := fmt.Errorf("panic: %v", r)
	if sl, ok := d.logger.(stackLogger); ok {
		sl.ErrorWithStack(err, "dispatch.call.panic", "tool", call.Name, "call_id", call.ID)
		return
	}
	d.logger.Error("dispatch.call.panic", "tool", call.Name, "call_id", call.ID, "error", err.Error(), "stack", string(debug.Stack()))
}
