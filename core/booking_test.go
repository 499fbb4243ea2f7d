package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TxState
		want     bool
	}{
		{TxPending, TxHeld, true},
		{TxPending, TxFailed, true},
		{TxPending, TxConfirmed, false},
		{TxHeld, TxConfirmed, true},
		{TxHeld, TxRolledBack, true},
		{TxHeld, TxFailed, true},
		{TxConfirmed, TxRolledBack, false},
		{TxRolledBack, TxHeld, false},
		{TxFailed, TxHeld, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestBookingTransaction_Transition(t *testing.T) {
	now := time.Unix(100, 0)
	tx := BookingTransaction{State: TxPending}

	require.NoError(t, tx.Transition(TxHeld, now))
	assert.Equal(t, TxHeld, tx.State)
	assert.Equal(t, now, tx.UpdatedAt)

	require.NoError(t, tx.Transition(TxConfirmed, now))
	err := tx.Transition(TxRolledBack, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.True(t, tx.State.Terminal())
}

func TestBookingTransaction_CloneIsolatesSteps(t *testing.T) {
	tx := BookingTransaction{}
	tx.Record(StepHold, "H1", nil, time.Now())
	c := tx.Clone()
	c.Record(StepConfirm, "C1", errors.New("boom"), time.Now())
	c.Steps[0].Reference = "changed"

	assert.Len(t, tx.Steps, 1)
	assert.Equal(t, "H1", tx.Steps[0].Reference)
	assert.False(t, c.Steps[1].OK)
	assert.Equal(t, "boom", c.Steps[1].Error)
}

func TestBookingTransaction_Explain(t *testing.T) {
	base := BookingTransaction{
		Category: CategoryHotel,
		HoldID:   "H-9",
		Price:    decimal.RequireFromString("120.5"),
		Currency: "EUR",
	}

	held := base
	held.State = TxHeld
	assert.Contains(t, held.Explain(), "on hold (reference H-9) at 120.50 EUR")
	assert.Contains(t, held.Explain(), "Nothing has been charged")

	confirmed := base
	confirmed.State = TxConfirmed
	confirmed.ConfirmationID = "C-1"
	assert.Contains(t, confirmed.Explain(), "Confirmation C-1")
	assert.Contains(t, confirmed.Explain(), "charged 120.50 EUR")

	rolled := base
	rolled.State = TxRolledBack
	rolled.Reason = "payment declined"
	assert.Contains(t, rolled.Explain(), "hold was released. Nothing was charged")
	assert.Contains(t, rolled.Explain(), "Reason: payment declined")

	failed := base
	failed.State = TxFailed
	failed.NeedsReconciliation = true
	assert.Contains(t, failed.Explain(), "H-9 could not be released")
	assert.NotContains(t, failed.Explain(), "Nothing was charged")
}
