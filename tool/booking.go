package tool

import (
	"context"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

// Booker drives booking transactions for a session. It is implemented by the
// transactional booking agent.
type Booker interface {
	Hold(ctx context.Context, sessionID string, category core.Category, offerID string) (core.BookingTransaction, error)
	Confirm(ctx context.Context, sessionID string) (core.BookingTransaction, error)
	Cancel(ctx context.Context, sessionID string) (core.BookingTransaction, error)
}

type holdArgs struct {
	OfferID  string `json:"offer_id" description:"Id of the offer returned by a search"`
	Category string `json:"category" description:"flight, hotel, train or bus"`
}

type emptyArgs struct{}

// NewBookingTools returns hold_offer, confirm_booking and cancel_booking
// bound to b. Each returns the transaction snapshot, also on failure.
func NewBookingTools(b Booker) []Tool {
	hold := NewFunctionToolFromStruct(core.ToolHoldOffer,
		"Place a provisional hold on an offer. Nothing is charged until confirm_booking.",
		holdArgs{},
		func(tc *ToolContext, args map[string]any) (any, error) {
			cat, ok := core.ParseCategory(util.StringArg(args, "category"))
			if !ok || cat == core.CategoryPlace {
				return nil, &ToolError{Tool: core.ToolHoldOffer, Message: "category must be flight, hotel, train or bus", Code: CodeValidation}
			}
			return txResult(b.Hold(tc.Context(), tc.SessionID(), cat, util.StringArg(args, "offer_id")))
		})
	confirm := NewFunctionToolFromStruct(core.ToolConfirmBooking,
		"Confirm and pay for the offer currently on hold in this session.",
		emptyArgs{},
		func(tc *ToolContext, _ map[string]any) (any, error) { return txResult(b.Confirm(tc.Context(), tc.SessionID())) })
	cancel := NewFunctionToolFromStruct(core.ToolCancelBooking,
		"Release the offer currently on hold in this session.",
		emptyArgs{},
		func(tc *ToolContext, _ map[string]any) (any, error) { return txResult(b.Cancel(tc.Context(), tc.SessionID())) })
	return []Tool{hold, confirm, cancel}
}

// txResult drops the zero transaction returned alongside early errors.
func txResult(tx core.BookingTransaction, err error) (any, error) {
	if tx.ID == "" {
		return nil, err
	}
	return tx, err
}
