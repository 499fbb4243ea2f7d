package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxState is the lifecycle state of a BookingTransaction.
//
//	Pending -> Held -> Confirmed
//	             \---> RolledBack | Failed
//	Pending ---> Failed
type TxState string

const (
	TxPending    TxState = "pending"
	TxHeld       TxState = "held"
	TxConfirmed  TxState = "confirmed"
	TxRolledBack TxState = "rolled_back"
	TxFailed     TxState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxRolledBack || s == TxFailed
}

// Active reports whether the transaction blocks a new booking in the session.
func (s TxState) Active() bool { return s == TxPending || s == TxHeld }

var txTransitions = map[TxState][]TxState{
	TxPending: {TxHeld, TxFailed},
	TxHeld:    {TxConfirmed, TxRolledBack, TxFailed},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to TxState) bool {
	return slices.Contains(txTransitions[from], to)
}

// StepAction names one external side effect of a booking.
type StepAction string

const (
	StepHold    StepAction = "hold"
	StepConfirm StepAction = "confirm"
	StepRelease StepAction = "release"
)

// Step is one recorded side effect with its outcome.
type Step struct {
	Action    StepAction `json:"action"`
	Reference string     `json:"reference,omitempty"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}

// BookingTransaction tracks one multi-step reservation. Only the booking
// agent mutates it; everything else sees clones.
type BookingTransaction struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Category       Category        `json:"category"`
	OfferID        string          `json:"offer_id"`
	Adapter        string          `json:"adapter"`
	State          TxState         `json:"state"`
	HoldID         string          `json:"hold_id,omitempty"`
	ConfirmationID string          `json:"confirmation_id,omitempty"`
	Price          decimal.Decimal `json:"price,omitzero"`
	Currency       string          `json:"currency,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at,omitzero"`
	Steps          []Step          `json:"steps"`
	Reason         string          `json:"reason,omitempty"`
	// NeedsReconciliation is set when a hold could not be released and may
	// still exist at the provider.
	NeedsReconciliation bool      `json:"needs_reconciliation,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t BookingTransaction) Clone() BookingTransaction {
	t.Steps = slices.Clone(t.Steps)
	return t
}

// Transition moves t to the next state or returns an error for illegal moves.
func (t *BookingTransaction) Transition(to TxState, now time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrTransactionFailed, t.State, to)
	}
	t.State = to
	t.UpdatedAt = now
	return nil
}

// Record appends a step outcome.
func (t *BookingTransaction) Record(action StepAction, ref string, err error, now time.Time) {
	s := Step{Action: action, Reference: ref, OK: err == nil, At: now}
	if err != nil {
		s.Error = err.Error()
	}
	t.Steps = append(t.Steps, s)
	t.UpdatedAt = now
}

// Charged reports whether the customer paid for this transaction.
func (t BookingTransaction) Charged() bool { return t.State == TxConfirmed }

func (t BookingTransaction) amount() string {
	if t.Price.IsZero() {
		return ""
	}
	return strings.TrimSpace(t.Price.StringFixed(2) + " " + t.Currency)
}

// Explain renders a user-facing account of what was and was not charged.
func (t BookingTransaction) Explain() string {
	var b strings.Builder
	switch t.State {
	case TxPending:
		fmt.Fprintf(&b, "Your %s booking is being prepared. Nothing has been charged.", t.Category)
	case TxHeld:
		fmt.Fprintf(&b, "Your %s is on hold (reference %s)", t.Category, t.HoldID)
		if a := t.amount(); a != "" {
			fmt.Fprintf(&b, " at %s", a)
		}
		if !t.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, " until %s", t.ExpiresAt.UTC().Format(time.RFC3339))
		}
		b.WriteString(". Nothing has been charged yet; confirm to complete the booking.")
	case TxConfirmed:
		fmt.Fprintf(&b, "Your %s is booked. Confirmation %s.", t.Category, t.ConfirmationID)
		if a := t.amount(); a != "" {
			fmt.Fprintf(&b, " You were charged %s.", a)
		}
	case TxRolledBack:
		fmt.Fprintf(&b, "Your %s booking could not be completed and the hold was released. Nothing was charged.", t.Category)
	case TxFailed:
		fmt.Fprintf(&b, "Your %s booking failed.", t.Category)
		if t.NeedsReconciliation {
			fmt.Fprintf(&b, " The provisional hold %s could not be released and is flagged for manual follow-up; you have not been charged.", t.HoldID)
		} else {
			b.WriteString(" Nothing was charged.")
		}
	}
	if t.Reason != "" && (t.State == TxRolledBack || t.State == TxFailed) {
		fmt.Fprintf(&b, " Reason: %s.", t.Reason)
	}
	return b.String()
}
