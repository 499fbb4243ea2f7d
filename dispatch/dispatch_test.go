package dispatch

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/tool"
)

type execFunc func(ctx context.Context, sessionID string, call core.ToolCall) core.ToolResult

func (f execFunc) Execute(ctx context.Context, sessionID string, call core.ToolCall) core.ToolResult {
	return f(ctx, sessionID, call)
}

func delayed(delays map[string]time.Duration) execFunc {
	return func(ctx context.Context, _ string, call core.ToolCall) core.ToolResult {
		select {
		case <-time.After(delays[call.ID]):
			return core.NewOKResult(call, call.ID, delays[call.ID])
		case <-ctx.Done():
			return core.NewErrorResult(call, ctx.Err(), nil, 0)
		}
	}
}

func calls(ids ...string) []core.ToolCall {
	out := make([]core.ToolCall, len(ids))
	for i, id := range ids {
		out[i] = core.ToolCall{ID: id, Name: "search_flights"}
	}
	return out
}

func TestDispatchMany_PreservesSlotOrder(t *testing.T) {
	d := New(delayed(map[string]time.Duration{"1": 60 * time.Millisecond, "2": 5 * time.Millisecond, "3": 30 * time.Millisecond}))

	results := d.DispatchMany(context.Background(), "s1", calls("1", "2", "3"))

	require.Len(t, results, 3)
	for i, id := range []string{"1", "2", "3"} {
		assert.Equal(t, id, results[i].CallID)
		assert.Equal(t, id, results[i].Payload)
		assert.True(t, results[i].OK())
	}
}

func TestDispatchMany_TimeoutFillsSlot(t *testing.T) {
	d := New(delayed(map[string]time.Duration{"fast": 0, "slow": time.Second}), func(o *Options) {
		o.CallTimeout = 30 * time.Millisecond
	})

	results := d.DispatchMany(context.Background(), "s1", calls("slow", "fast"))

	assert.False(t, results[0].OK())
	assert.Equal(t, "slow", results[0].CallID)
	assert.True(t, results[1].OK())
}

func TestDispatchMany_IgnoringContextStillTimesOut(t *testing.T) {
	stuck := execFunc(func(_ context.Context, _ string, call core.ToolCall) core.ToolResult {
		time.Sleep(200 * time.Millisecond)
		return core.NewOKResult(call, nil, 0)
	})
	d := New(stuck, func(o *Options) { o.CallTimeout = 20 * time.Millisecond })

	start := time.Now()
	results := d.DispatchMany(context.Background(), "s1", calls("a"))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Contains(t, results[0].Error, tool.CodeTimeout)
}

func TestDispatchMany_StuckCallDoesNotBlockLaterBatches(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stuck := execFunc(func(_ context.Context, _ string, call core.ToolCall) core.ToolResult {
		<-release
		return core.NewOKResult(call, nil, 0)
	})
	d := New(stuck, func(o *Options) {
		o.MaxInFlight = 1
		o.CallTimeout = 20 * time.Millisecond
	})

	first := d.DispatchMany(context.Background(), "s1", calls("a"))
	assert.Contains(t, first[0].Error, tool.CodeTimeout)

	done := make(chan []core.ToolResult, 1)
	go func() { done <- d.DispatchMany(context.Background(), "s1", calls("b", "c")) }()

	select {
	case second := <-done:
		require.Len(t, second, 2)
		for i, id := range []string{"b", "c"} {
			assert.Equal(t, id, second[i].CallID)
			assert.Contains(t, second[i].Error, tool.CodeTimeout)
			assert.Contains(t, second[i].Error, "no free dispatch slot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second batch blocked on a slot held by an abandoned call")
	}
}

func TestDispatchMany_PanicBecomesErrorResult(t *testing.T) {
	d := New(execFunc(func(_ context.Context, _ string, call core.ToolCall) core.ToolResult {
		if call.ID == "bad" {
			panic("adapter exploded")
		}
		return core.NewOKResult(call, nil, 0)
	}))

	results := d.DispatchMany(context.Background(), "s1", calls("ok", "bad"))
	assert.True(t, results[0].OK())
	assert.Contains(t, results[1].Error, tool.CodePanic)
}

func TestDispatchMany_PanicIsLoggedWithStack(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf
	d := New(execFunc(func(context.Context, string, core.ToolCall) core.ToolResult {
		panic("adapter exploded")
	}), func(o *Options) { o.Logger = logging.NewLogger(cfg) })

	d.DispatchMany(context.Background(), "s1", calls("bad"))
	assert.Contains(t, buf.String(), `"msg":"dispatch.call.panic"`)
	assert.Contains(t, buf.String(), `"stack_trace"`)
	assert.Contains(t, buf.String(), "adapter exploded")
}

func TestDispatchMany_BoundsInFlight(t *testing.T) {
	var cur, peak atomic.Int32
	d := New(execFunc(func(_ context.Context, _ string, call core.ToolCall) core.ToolResult {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		return core.NewOKResult(call, nil, 0)
	}), func(o *Options) { o.MaxInFlight = 2 })

	results := d.DispatchMany(context.Background(), "s1", calls("1", "2", "3", "4", "5", "6"))
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchMany_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(delayed(map[string]time.Duration{"1": time.Second, "2": time.Second}), func(o *Options) { o.MaxInFlight = 1 })

	results := d.DispatchMany(ctx, "s1", calls("1", "2"))
	require.Len(t, results, 2)
	for i := range results {
		assert.False(t, results[i].OK())
	}
}

func TestDispatchMany_Empty(t *testing.T) {
	assert.Empty(t, New(delayed(nil)).DispatchMany(context.Background(), "s1", nil))
}
