package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/testutil"
	"github.com/hupe1980/travelmesh/logging"
)

func newBookingAgent(t *testing.T, adapters ...core.BookingAdapter) *BookingAgent {
	t.Helper()
	b, err := NewBookingAgent(adapters, func(o *BookingOptions) { o.StepTimeout = 50 * time.Millisecond })
	require.NoError(t, err)
	return b
}

func TestBookingAgent_HoldThenConfirm(t *testing.T) {
	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	b := newBookingAgent(t, a)
	ctx := context.Background()

	tx, err := b.Hold(ctx, "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)
	assert.Equal(t, core.TxHeld, tx.State)
	assert.Equal(t, "H-F1", tx.HoldID)
	assert.Equal(t, "stubair", tx.Adapter)
	assert.Contains(t, tx.Explain(), "Nothing has been charged yet")

	active, ok := b.Active("s1")
	require.True(t, ok)
	assert.Equal(t, tx.ID, active.ID)

	tx, err = b.Confirm(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.TxConfirmed, tx.State)
	assert.Equal(t, "C-H-F1", tx.ConfirmationID)
	assert.True(t, tx.Charged())
	assert.Contains(t, tx.Explain(), "You were charged 100.00 USD")

	_, ok = b.Active("s1")
	assert.False(t, ok)
	archived, ok := b.Transaction(tx.ID)
	require.True(t, ok)
	assert.Equal(t, core.TxConfirmed, archived.State)
	assert.Equal(t, []string{"hold:F1", "confirm:H-F1"}, a.Calls())

	steps := archived.Steps
	require.Len(t, steps, 2)
	assert.Equal(t, core.StepHold, steps[0].Action)
	assert.Equal(t, "H-F1", steps[0].Reference)
	assert.Equal(t, core.StepConfirm, steps[1].Action)
	assert.Equal(t, "C-H-F1", steps[1].Reference)
}

func TestBookingAgent_HoldFailureFailsWithoutRollback(t *testing.T) {
	a := testutil.NewStubAdapter("stubstay", core.CategoryHotel)
	a.HoldFn = func(context.Context, string) (core.HoldResult, error) {
		return core.HoldResult{}, errors.New("offer expired")
	}
	b := newBookingAgent(t, a)

	tx, err := b.Hold(context.Background(), "s1", core.CategoryHotel, "R1")
	assert.ErrorIs(t, err, core.ErrTransactionFailed)
	assert.Equal(t, core.TxFailed, tx.State)
	assert.Contains(t, tx.Reason, "offer expired")
	assert.Zero(t, a.CallCount("release"))

	_, ok := b.Active("s1")
	assert.False(t, ok)

	_, err = b.Hold(context.Background(), "s1", core.CategoryHotel, "R2")
	assert.NotErrorIs(t, err, core.ErrBookingInProgress)
}

// For every confirmation failure the release targets the exact hold id
// returned by the hold step.
func TestBookingAgent_ConfirmFailureReleasesExactHold(t *testing.T) {
	for i := range 25 {
		holdID := fmt.Sprintf("HX-%d-%d", i, rand.IntN(1_000_000))
		t.Run(holdID, func(t *testing.T) {
			a := testutil.NewStubAdapter("stubrail", core.CategoryTrain)
			a.HoldFn = func(context.Context, string) (core.HoldResult, error) {
				return core.HoldResult{HoldID: holdID, Price: decimal.RequireFromString("42.10"), Currency: "EUR"}, nil
			}
			a.ConfirmFn = func(context.Context, string) (core.ConfirmResult, error) {
				return core.ConfirmResult{}, errors.New("card declined")
			}
			b := newBookingAgent(t, a)

			_, err := b.Hold(context.Background(), "s1", core.CategoryTrain, "T1")
			require.NoError(t, err)
			tx, err := b.Confirm(context.Background(), "s1")
			assert.ErrorIs(t, err, core.ErrTransactionFailed)

			got, ok := b.Transaction(tx.ID)
			require.True(t, ok)
			assert.Equal(t, core.TxRolledBack, got.State)
			assert.Equal(t, []string{"hold:T1", "confirm:" + holdID, "release:" + holdID}, a.Calls())

			last := got.Steps[len(got.Steps)-1]
			assert.Equal(t, core.StepRelease, last.Action)
			assert.Equal(t, holdID, last.Reference)
			assert.True(t, last.OK)
			assert.False(t, got.Charged())
			assert.Contains(t, got.Explain(), "Nothing was charged")
			assert.Contains(t, got.Explain(), "card declined")
		})
	}
}

func TestBookingAgent_ConfirmTimeoutRollsBack(t *testing.T) {
	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	a.ConfirmFn = func(ctx context.Context, _ string) (core.ConfirmResult, error) {
		<-ctx.Done()
		return core.ConfirmResult{}, ctx.Err()
	}
	b := newBookingAgent(t, a)

	_, err := b.Hold(context.Background(), "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)
	tx, err := b.Confirm(context.Background(), "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.TxRolledBack, tx.State)
	assert.Equal(t, "confirmation timed out", tx.Reason)
	assert.Equal(t, 1, a.CallCount("release"))
}

func TestBookingAgent_ReleaseFailureNeedsReconciliation(t *testing.T) {
	a := testutil.NewStubAdapter("stubbus", core.CategoryBus)
	a.ConfirmFn = func(context.Context, string) (core.ConfirmResult, error) {
		return core.ConfirmResult{}, errors.New("gateway error")
	}
	a.ReleaseFn = func(context.Context, string) (core.ReleaseResult, error) {
		return core.ReleaseResult{}, errors.New("provider unreachable")
	}
	b := newBookingAgent(t, a)

	_, err := b.Hold(context.Background(), "s1", core.CategoryBus, "B1")
	require.NoError(t, err)
	tx, err := b.Confirm(context.Background(), "s1")
	assert.ErrorIs(t, err, core.ErrTransactionFailed)
	assert.Equal(t, core.TxFailed, tx.State)
	assert.True(t, tx.NeedsReconciliation)
	assert.Contains(t, tx.Explain(), "manual follow-up")
	assert.Contains(t, tx.Explain(), "H-B1")
}

func TestBookingAgent_OneActiveTransactionPerSession(t *testing.T) {
	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	b := newBookingAgent(t, a)
	ctx := context.Background()

	first, err := b.Hold(ctx, "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)

	busy, err := b.Hold(ctx, "s1", core.CategoryFlight, "F2")
	assert.ErrorIs(t, err, core.ErrBookingInProgress)
	assert.Equal(t, first.ID, busy.ID)

	_, err = b.Hold(ctx, "s2", core.CategoryFlight, "F2")
	assert.NoError(t, err, "other sessions are independent")
}

func TestBookingAgent_NoActiveBooking(t *testing.T) {
	b := newBookingAgent(t, testutil.NewStubAdapter("stubair", core.CategoryFlight))
	_, err := b.Confirm(context.Background(), "s1")
	assert.ErrorIs(t, err, core.ErrNoActiveBooking)
	_, err = b.Cancel(context.Background(), "s1")
	assert.ErrorIs(t, err, core.ErrNoActiveBooking)
	assert.NoError(t, b.Abandon(context.Background(), "s1"))
}

func TestBookingAgent_UnknownCategoryAndEmptyOffer(t *testing.T) {
	b := newBookingAgent(t, testutil.NewStubAdapter("stubair", core.CategoryFlight))
	_, err := b.Hold(context.Background(), "s1", core.CategoryHotel, "R1")
	assert.ErrorIs(t, err, core.ErrTransactionFailed)
	_, err = b.Hold(context.Background(), "s1", core.CategoryFlight, "")
	assert.ErrorIs(t, err, core.ErrTransactionFailed)
}

func TestBookingAgent_CancelAndAbandonRelease(t *testing.T) {
	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	b := newBookingAgent(t, a)
	ctx := context.Background()

	_, err := b.Hold(ctx, "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)
	tx, err := b.Cancel(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.TxRolledBack, tx.State)
	assert.Equal(t, "cancelled on request", tx.Reason)

	_, err = b.Hold(ctx, "s1", core.CategoryFlight, "F2")
	require.NoError(t, err)
	require.NoError(t, b.Abandon(ctx, "s1"))

	history := b.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, "F1", history[0].OfferID)
	assert.Equal(t, "session expired", history[1].Reason)
	assert.Equal(t, []string{"hold:F1", "release:H-F1", "hold:F2", "release:H-F2"}, a.Calls())
}

func TestBookingAgent_StepsNeverOverlap(t *testing.T) {
	var inFlight, peak atomic.Int32
	track := func() func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return func() { inFlight.Add(-1) }
	}

	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	a.ConfirmFn = func(context.Context, string) (core.ConfirmResult, error) {
		defer track()()
		return core.ConfirmResult{ConfirmationID: "C1"}, nil
	}
	a.ReleaseFn = func(context.Context, string) (core.ReleaseResult, error) {
		defer track()()
		return core.ReleaseResult{Released: true}, nil
	}
	b := newBookingAgent(t, a)
	_, err := b.Hold(context.Background(), "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = b.Confirm(context.Background(), "s1") }()
	go func() { defer wg.Done(); _, errs[1] = b.Cancel(context.Background(), "s1") }()
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	okCount := 0
	for _, err := range errs {
		if err == nil {
			okCount++
		} else {
			assert.ErrorIs(t, err, core.ErrNoActiveBooking)
		}
	}
	assert.Equal(t, 1, okCount)
}

func TestNewBookingAgent_RejectsDuplicateCategory(t *testing.T) {
	_, err := NewBookingAgent([]core.BookingAdapter{
		testutil.NewStubAdapter("a", core.CategoryFlight),
		testutil.NewStubAdapter("b", core.CategoryFlight),
	})
	assert.Error(t, err)

	_, err = NewBookingAgent([]core.BookingAdapter{testutil.NewStubAdapter("p", core.CategoryPlace)})
	assert.Error(t, err)

	b, err := NewBookingAgent([]core.BookingAdapter{
		testutil.NewStubAdapter("b", core.CategoryHotel),
		testutil.NewStubAdapter("a", core.CategoryFlight),
	})
	require.NoError(t, err)
	assert.Equal(t, []core.Category{core.CategoryFlight, core.CategoryHotel}, b.Categories())
}

func TestBookingAgent_StepsAreTimed(t *testing.T) {
	var buf bytes.Buffer
	a := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	b, err := NewBookingAgent([]core.BookingAdapter{a}, func(o *BookingOptions) {
		o.Logger = logging.NewSlogLogger(logging.LogLevelDebug, "json", false, &buf)
	})
	require.NoError(t, err)

	_, err = b.Hold(context.Background(), "s1", core.CategoryFlight, "F1")
	require.NoError(t, err)
	_, err = b.Cancel(context.Background(), "s1")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"operation":"booking.hold"`)
	assert.Contains(t, out, `"operation":"booking.release"`)
	assert.NotContains(t, out, `"operation":"booking.confirm"`)
}
