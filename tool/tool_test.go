package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/testutil"
	"github.com/hupe1980/travelmesh/logging"
)

func newTC() *ToolContext {
	return NewToolContext(context.Background(), "s1", "fc1", logging.NoOpLogger{})
}

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newTC(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_Errors(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": "number"}}, "required": []any{"a"}}
	failing := NewFunctionTool("fail", "Fails", params, func(_ *ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := failing.Call(newTC(), map[string]any{})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)

	_, err = failing.Call(newTC(), map[string]any{"a": 1.0})
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.ErrorIs(t, err, core.ErrToolFailed)
}

func TestSearchTool_ReturnsAdapterOrder(t *testing.T) {
	a := testutil.NewStubAdapter("stub", core.CategoryFlight)
	a.SearchFn = func(_ context.Context, q core.Query) ([]core.Offer, error) {
		assert.Equal(t, "DEL", q.Origin)
		assert.Equal(t, 2, q.Travelers)
		return []core.Offer{
			testutil.StubOffer(core.CategoryFlight, "F3", "300"),
			testutil.StubOffer(core.CategoryFlight, "F1", "100"),
		}, nil
	}
	st, err := NewSearchTool(core.ToolSearchFlights, a)
	require.NoError(t, err)

	out, err := st.Call(newTC(), map[string]any{"origin": "DEL", "destination": "BOM", "departure_date": "2026-12-25", "travelers": float64(2)})
	require.NoError(t, err)
	list := out.(core.OfferList)
	assert.Equal(t, core.CategoryFlight, list.Category)
	assert.Equal(t, "F3", list.Offers[0].ID)
	assert.Equal(t, "F1", list.Offers[1].ID)
}

func TestSearchTool_FallsBackToNextAdapter(t *testing.T) {
	down := testutil.NewStubAdapter("down", core.CategoryHotel)
	down.SearchFn = func(context.Context, core.Query) ([]core.Offer, error) { return nil, errors.New("503") }
	up := testutil.NewStubAdapter("up", core.CategoryHotel)

	st, err := NewSearchTool(core.ToolSearchHotels, down, up)
	require.NoError(t, err)
	out, err := st.Call(newTC(), map[string]any{"destination": "Goa"})
	require.NoError(t, err)
	assert.Equal(t, "up-1", out.(core.OfferList).Offers[0].ID)

	up.SearchFn = down.SearchFn
	_, err = st.Call(newTC(), map[string]any{"destination": "Goa"})
	assert.ErrorContains(t, err, "down: 503")
	assert.ErrorContains(t, err, "up: 503")
}

func TestSearchTool_ValidatesTravelArguments(t *testing.T) {
	a := testutil.NewStubAdapter("stub", core.CategoryFlight)
	a.SearchFn = func(context.Context, core.Query) ([]core.Offer, error) {
		t.Fatal("adapter must not be called with invalid arguments")
		return nil, nil
	}
	st, err := NewSearchTool(core.ToolSearchFlights, a)
	require.NoError(t, err)

	base := func(k string, v any) map[string]any {
		args := map[string]any{"origin": "DEL", "destination": "BOM", "departure_date": "2026-12-25"}
		args[k] = v
		return args
	}
	tests := map[string]map[string]any{
		"departure_date": base("departure_date", "25.12.2026"),
		"travelers":      base("travelers", float64(0)),
		"origin":         base("origin", "12345"),
		"travel_class":   base("travel_class", "cargo"),
		"currency":       base("currency", "rupees"),
	}
	for field, args := range tests {
		t.Run(field, func(t *testing.T) {
			_, err := st.Call(newTC(), args)
			var toolErr *ToolError
			require.True(t, errors.As(err, &toolErr))
			assert.Equal(t, CodeValidation, toolErr.Code)
			assert.Contains(t, toolErr.Message, field)
		})
	}
	assert.Empty(t, a.Calls())
}

func TestSearchTool_RejectsCategoryMismatch(t *testing.T) {
	_, err := NewSearchTool(core.ToolSearchFlights, testutil.NewStubAdapter("h", core.CategoryHotel))
	assert.Error(t, err)
	_, err = NewSearchTool("search_yachts", testutil.NewStubAdapter("h", core.CategoryHotel))
	assert.Error(t, err)
}

func TestMemorizeTool(t *testing.T) {
	m := NewMemorizeTool()
	out, err := m.Call(newTC(), map[string]any{"key": "destination", "value": "Goa"})
	require.NoError(t, err)

	key, val, ok := MemoryWrite(core.NewOKResult(core.ToolCall{ID: "1", Name: core.ToolMemorize}, out, 0))
	assert.True(t, ok)
	assert.Equal(t, "destination", key)
	assert.Equal(t, "Goa", val)
}

type fakeBooker struct {
	tx  core.BookingTransaction
	err error
	got []string
}

func (f *fakeBooker) Hold(_ context.Context, sid string, cat core.Category, offerID string) (core.BookingTransaction, error) {
	f.got = append(f.got, "hold:"+sid+":"+string(cat)+":"+offerID)
	return f.tx, f.err
}

func (f *fakeBooker) Confirm(_ context.Context, sid string) (core.BookingTransaction, error) {
	f.got = append(f.got, "confirm:"+sid)
	return f.tx, f.err
}

func (f *fakeBooker) Cancel(_ context.Context, sid string) (core.BookingTransaction, error) {
	f.got = append(f.got, "cancel:"+sid)
	return f.tx, f.err
}

func TestBookingTools(t *testing.T) {
	b := &fakeBooker{tx: core.BookingTransaction{ID: "tx1", State: core.TxRolledBack}, err: core.ErrTransactionFailed}
	reg, err := NewRegistry(nil, NewBookingTools(b)...)
	require.NoError(t, err)

	res := reg.Execute(context.Background(), "s1", core.ToolCall{ID: "c1", Name: core.ToolHoldOffer, Args: map[string]any{"offer_id": "F1", "category": "flights"}})
	assert.False(t, res.OK())
	tx, ok := res.Transaction()
	assert.True(t, ok)
	assert.Equal(t, "tx1", tx.ID)

	res = reg.Execute(context.Background(), "s1", core.ToolCall{ID: "c2", Name: core.ToolConfirmBooking})
	assert.False(t, res.OK())
	assert.Equal(t, []string{"hold:s1:flight:F1", "confirm:s1"}, b.got)

	b.tx = core.BookingTransaction{}
	res = reg.Execute(context.Background(), "s1", core.ToolCall{ID: "c3", Name: core.ToolCancelBooking})
	_, ok = res.Transaction()
	assert.False(t, ok)

	res = reg.Execute(context.Background(), "s1", core.ToolCall{ID: "c4", Name: core.ToolHoldOffer, Args: map[string]any{"offer_id": "F1", "category": "places"}})
	assert.Contains(t, res.Error, CodeValidation)
}

func TestRegistry_Execute(t *testing.T) {
	panicky := NewFunctionTool("panicky", "", map[string]any{}, func(*ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})
	slow := NewFunctionTool("slow", "", map[string]any{}, func(tc *ToolContext, _ map[string]any) (any, error) {
		<-tc.Context().Done()
		return nil, tc.Context().Err()
	})
	reg, err := NewRegistry(nil, panicky, slow, NewMemorizeTool())
	require.NoError(t, err)
	assert.Equal(t, []string{"memorize", "panicky", "slow"}, reg.Names())
	assert.Error(t, reg.Register(slow))

	res := reg.Execute(context.Background(), "s1", core.ToolCall{ID: "1", Name: "panicky"})
	assert.Contains(t, res.Error, CodePanic)

	res = reg.Execute(context.Background(), "s1", core.ToolCall{ID: "2", Name: "nope"})
	assert.Contains(t, res.Error, CodeUnknown)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	res = reg.Execute(ctx, "s1", core.ToolCall{ID: "3", Name: "slow"})
	assert.Contains(t, res.Error, CodeTimeout)

	defs := reg.Definitions([]string{"memorize", "missing"})
	require.Len(t, defs, 1)
	assert.Equal(t, "memorize", defs[0].Name)
}

type fakeWeather struct {
	name  string
	err   error
	calls int
}

func (f *fakeWeather) Name() string { return f.name }

func (f *fakeWeather) Forecast(_ context.Context, location, date string) (core.Forecast, error) {
	f.calls++
	if f.err != nil {
		return core.Forecast{}, f.err
	}
	return core.Forecast{Location: location, Date: date, Conditions: "sunny", Source: f.name}, nil
}

func TestWeatherTool(t *testing.T) {
	_, err := NewWeatherTool()
	assert.Error(t, err)

	down := &fakeWeather{name: "down", err: errors.New("503")}
	up := &fakeWeather{name: "up"}
	wt, err := NewWeatherTool(down, up)
	require.NoError(t, err)
	assert.Equal(t, core.ToolGetWeather, wt.Name())

	out, err := wt.Call(newTC(), map[string]any{"location": "Goa", "date": "2026-12-20"})
	require.NoError(t, err)
	f := out.(core.Forecast)
	assert.Equal(t, "up", f.Source)
	assert.Equal(t, "2026-12-20", f.Date)

	_, err = wt.Call(newTC(), map[string]any{"location": "Goa", "date": "tomorrow"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, 1, up.calls)

	up.err = errors.New("timeout")
	_, err = wt.Call(newTC(), map[string]any{"location": "Goa"})
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.ErrorContains(t, err, "down: 503")
	assert.ErrorContains(t, err, "up: timeout")
}
