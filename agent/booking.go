package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/tool"
)

// BookingOptions configures a BookingAgent.
type BookingOptions struct {
	// StepTimeout bounds every provider call (hold, confirm, release).
	StepTimeout time.Duration
	Clock       func() time.Time
	Logger      logging.Logger
}

type txEntry struct {
	mu       sync.Mutex // serializes steps of one transaction
	tx       core.BookingTransaction
	snapshot core.BookingTransaction // guarded by BookingAgent.mu
	adapter  core.BookingAdapter
}

// BookingAgent runs booking transactions against per-category adapters.
//
// At most one transaction per session is Pending or Held. Steps of one
// transaction never overlap; a failed confirmation releases the exact hold
// obtained earlier. Terminal transactions move to an in-memory archive.
type BookingAgent struct {
	adapters map[core.Category]core.BookingAdapter
	opts     BookingOptions
	logger   logging.Logger

	mu      sync.Mutex
	active  map[string]*txEntry // by session id
	archive map[string]core.BookingTransaction
}

var _ tool.Booker = (*BookingAgent)(nil)

// NewBookingAgent creates a BookingAgent (default step timeout 15s). Each
// category may be served by one adapter only.
func NewBookingAgent(adapters []core.BookingAdapter, optFns ...func(o *BookingOptions)) (*BookingAgent, error) {
	opts := BookingOptions{StepTimeout: 15 * time.Second, Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	byCat := make(map[core.Category]core.BookingAdapter, len(adapters))
	for _, a := range adapters {
		if a.Category() == core.CategoryPlace {
			return nil, fmt.Errorf("booking adapter %s: places cannot be booked", a.Name())
		}
		if prev, ok := byCat[a.Category()]; ok {
			return nil, fmt.Errorf("booking adapter %s: category %s already served by %s", a.Name(), a.Category(), prev.Name())
		}
		byCat[a.Category()] = a
	}

	return &BookingAgent{
		adapters: byCat,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		active:   map[string]*txEntry{},
		archive:  map[string]core.BookingTransaction{},
	}, nil
}

// Categories lists the bookable categories.
func (b *BookingAgent) Categories() []core.Category {
	cats := make([]core.Category, 0, len(b.adapters))
	for c := range b.adapters {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return cats
}

// Hold opens a transaction for offerID and acquires a provisional hold.
// A failed hold ends in Failed; there is nothing to roll back.
func (b *BookingAgent) Hold(ctx context.Context, sessionID string, category core.Category, offerID string) (core.BookingTransaction, error) {
	adapter, ok := b.adapters[category]
	if !ok {
		return core.BookingTransaction{}, fmt.Errorf("%w: no booking adapter for %s", core.ErrTransactionFailed, category)
	}
	if offerID == "" {
		return core.BookingTransaction{}, fmt.Errorf("%w: empty offer id", core.ErrTransactionFailed)
	}

	now := b.opts.Clock()
	e := &txEntry{
		adapter: adapter,
		tx: core.BookingTransaction{
			ID:        util.NewID("tx"),
			SessionID: sessionID,
			Category:  category,
			OfferID:   offerID,
			Adapter:   adapter.Name(),
			State:     core.TxPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b.mu.Lock()
	if cur, busy := b.active[sessionID]; busy {
		snap := cur.snapshot.Clone()
		b.mu.Unlock()
		return snap, fmt.Errorf("%w: transaction %s is %s", core.ErrBookingInProgress, snap.ID, snap.State)
	}
	e.snapshot = e.tx.Clone()
	b.active[sessionID] = e
	b.mu.Unlock()

	b.logStep(e.tx, core.StepHold, nil)

	stepCtx, cancel := context.WithTimeout(ctx, b.opts.StepTimeout)
	stop := b.startTimer("booking.hold")
	res, err := adapter.Hold(stepCtx, offerID)
	stop()
	cancel()
	if err == nil && res.HoldID == "" {
		err = errors.New("provider returned no hold reference")
	}
	e.tx.Record(core.StepHold, res.HoldID, err, b.opts.Clock())

	if err != nil {
		e.tx.Reason = stepReason("hold", err)
		_ = e.tx.Transition(core.TxFailed, b.opts.Clock())
		b.logStep(e.tx, core.StepHold, err)
		return b.finish(e), fmt.Errorf("%w: hold %s: %w", core.ErrTransactionFailed, offerID, err)
	}

	e.tx.HoldID = res.HoldID
	e.tx.Price = res.Price
	e.tx.Currency = res.Currency
	e.tx.ExpiresAt = res.ExpiresAt
	_ = e.tx.Transition(core.TxHeld, b.opts.Clock())
	b.logStep(e.tx, core.StepHold, nil)

	return b.publish(e), nil
}

// Confirm finalizes the held transaction of sessionID. When confirmation
// fails or times out the hold is released: RolledBack on success, Failed
// with NeedsReconciliation when the release fails too.
func (b *BookingAgent) Confirm(ctx context.Context, sessionID string) (core.BookingTransaction, error) {
	e, err := b.lockHeld(sessionID)
	if err != nil {
		return core.BookingTransaction{}, err
	}
	defer e.mu.Unlock()

	stepCtx, cancel := context.WithTimeout(ctx, b.opts.StepTimeout)
	stop := b.startTimer("booking.confirm")
	res, err := e.adapter.Confirm(stepCtx, e.tx.HoldID)
	stop()
	cancel()
	if err == nil && res.ConfirmationID == "" {
		err = errors.New("provider returned no confirmation reference")
	}
	e.tx.Record(core.StepConfirm, res.ConfirmationID, err, b.opts.Clock())

	if err == nil {
		e.tx.ConfirmationID = res.ConfirmationID
		if !res.Charged.IsZero() {
			e.tx.Price = res.Charged
		}
		_ = e.tx.Transition(core.TxConfirmed, b.opts.Clock())
		b.logStep(e.tx, core.StepConfirm, nil)
		return b.finish(e), nil
	}

	b.logStep(e.tx, core.StepConfirm, err)
	e.tx.Reason = stepReason("confirmation", err)
	b.compensate(ctx, e)

	return b.finish(e), fmt.Errorf("%w: confirm %s: %w", core.ErrTransactionFailed, e.tx.HoldID, err)
}

// Cancel releases the held transaction of sessionID on user request.
func (b *BookingAgent) Cancel(ctx context.Context, sessionID string) (core.BookingTransaction, error) {
	return b.release(ctx, sessionID, "cancelled on request")
}

// Abandon releases a dangling hold, e.g. when its session is evicted. It is
// a no-op when the session has nothing on hold.
func (b *BookingAgent) Abandon(ctx context.Context, sessionID string) error {
	_, err := b.release(ctx, sessionID, "session expired")
	if errors.Is(err, core.ErrNoActiveBooking) {
		return nil
	}
	return err
}

func (b *BookingAgent) release(ctx context.Context, sessionID, reason string) (core.BookingTransaction, error) {
	e, err := b.lockHeld(sessionID)
	if err != nil {
		return core.BookingTransaction{}, err
	}
	defer e.mu.Unlock()

	e.tx.Reason = reason
	b.compensate(ctx, e)
	tx := b.finish(e)
	if tx.State == core.TxFailed {
		return tx, fmt.Errorf("%w: release %s failed", core.ErrTransactionFailed, tx.HoldID)
	}
	return tx, nil
}

// compensate releases the hold recorded on e. The release runs on a context
// detached from ctx so a cancelled turn still undoes its hold.
func (b *BookingAgent) compensate(ctx context.Context, e *txEntry) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.StepTimeout)
	stop := b.startTimer("booking.release")
	res, err := e.adapter.Release(relCtx, e.tx.HoldID)
	stop()
	cancel()
	if err == nil && !res.Released {
		err = errors.New("provider did not release the hold")
	}
	e.tx.Record(core.StepRelease, e.tx.HoldID, err, b.opts.Clock())

	if err != nil {
		e.tx.NeedsReconciliation = true
		_ = e.tx.Transition(core.TxFailed, b.opts.Clock())
		b.logStep(e.tx, core.StepRelease, err)
		return
	}
	_ = e.tx.Transition(core.TxRolledBack, b.opts.Clock())
	b.logStep(e.tx, core.StepRelease, nil)
}

// lockHeld returns the session's held entry with its step lock acquired.
func (b *BookingAgent) lockHeld(sessionID string) (*txEntry, error) {
	b.mu.Lock()
	e, ok := b.active[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, core.ErrNoActiveBooking
	}

	e.mu.Lock()
	if e.tx.State != core.TxHeld {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: transaction %s is %s", core.ErrNoActiveBooking, e.tx.ID, e.tx.State)
	}
	return e, nil
}

func (b *BookingAgent) publish(e *txEntry) core.BookingTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.snapshot = e.tx.Clone()
	return e.tx.Clone()
}

// finish archives a terminal transaction and frees the session slot.
func (b *BookingAgent) finish(e *txEntry) core.BookingTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.snapshot = e.tx.Clone()
	if b.active[e.tx.SessionID] == e {
		delete(b.active, e.tx.SessionID)
	}
	b.archive[e.tx.ID] = e.tx.Clone()
	return e.tx.Clone()
}

// Transaction looks a transaction up by id, active or archived.
func (b *BookingAgent) Transaction(id string) (core.BookingTransaction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tx, ok := b.archive[id]; ok {
		return tx.Clone(), true
	}
	for _, e := range b.active {
		if e.snapshot.ID == id {
			return e.snapshot.Clone(), true
		}
	}
	return core.BookingTransaction{}, false
}

// Active returns the Pending or Held transaction of sessionID.
func (b *BookingAgent) Active(sessionID string) (core.BookingTransaction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.active[sessionID]
	if !ok {
		return core.BookingTransaction{}, false
	}
	return e.snapshot.Clone(), true
}

// History returns the archived transactions of sessionID, oldest first.
func (b *BookingAgent) History(sessionID string) []core.BookingTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.BookingTransaction
	for _, tx := range b.archive {
		if tx.SessionID == sessionID {
			out = append(out, tx.Clone())
		}
	}
	slices.SortFunc(out, func(a, c core.BookingTransaction) int { return a.CreatedAt.Compare(c.CreatedAt) })
	return out
}

type bookingStepLogger interface {
	LogBookingStep(txID, action, state string, err error)
}

func (b *BookingAgent) logStep(tx core.BookingTransaction, action core.StepAction, err error) {
	if l, ok := b.logger.(bookingStepLogger); ok {
		l.LogBookingStep(tx.ID, string(action), string(tx.State), err)
		return
	}
	if err != nil {
		b.logger.Error("booking.step.failed", "transaction_id", tx.ID, "action", action, "state", tx.State, "error", err.Error())
		return
	}
	b.logger.Info("booking.step", "transaction_id", tx.ID, "action", action, "state", tx.State)
}

type timerLogger interface {
	StartTimer(op string) func()
}

func (b *BookingAgent) startTimer(op string) func() {
	if l, ok := b.logger.(timerLogger); ok {
		return l.StartTimer(op)
	}
	return func() {}
}

func stepReason(step string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return step + " timed out"
	}
	return fmt.Sprintf("%s failed: %v", step, err)
}
