package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hupe1980/travelmesh/agent"
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
	"github.com/hupe1980/travelmesh/logging"
)

// Memory keys written by the router.
const (
	// MemoryKeyPending holds the suspended clarification, or nil.
	MemoryKeyPending = "pending_clarification"
	// MemoryKeyLastBooking summarizes the most recent booking transaction.
	MemoryKeyLastBooking = "last_booking"
)

// Fixed user-facing texts.
const (
	ApologyText      = "Sorry, something went wrong on our side and I couldn't complete your request. Please try again in a moment."
	StatelessWarning = "Your conversation could not be saved; this answer does not use earlier messages."
)

var (
	// ErrEmptyUser is returned for requests without a user id.
	ErrEmptyUser = errors.New("user id is required")
	// ErrEmptyMessage is returned for blank messages.
	ErrEmptyMessage = errors.New("message is required")
)

// Runner drives one refinement run. agent.LoopAgent implements it.
type Runner interface {
	Run(ctx context.Context, in agent.LoopInput) (agent.LoopOutcome, error)
}

var _ Runner = (*agent.LoopAgent)(nil)

// OutgoingMessage is the composed answer of one turn.
type OutgoingMessage struct {
	SessionID   string           `json:"session_id,omitempty"`
	Text        string           `json:"text"`
	PayloadType core.PayloadType `json:"payload_type,omitempty"`
	Payload     core.Payload     `json:"-"`
	Warning     string           `json:"warning,omitempty"`
	// Agent is the agent kind that produced the answer.
	Agent core.AgentKind `json:"agent,omitempty"`
	// Suspended means the answer is a clarification question.
	Suspended bool `json:"suspended,omitempty"`
	// Exhausted means the answer is a best-effort summary.
	Exhausted bool `json:"exhausted,omitempty"`
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	Classifier Classifier
	// Routes overrides the intent routing table.
	Routes map[Intent]core.AgentKind
	// FragmentWords is the number of words per streamed fragment.
	FragmentWords int
	Logger        logging.Logger
}

// Router handles chat turns. Turns of different users run concurrently;
// turns of one user are serialized including all agent and tool calls.
type Router struct {
	store  core.SessionStore
	loop   Runner
	opts   Options
	logger logging.Logger
	locks  *keyedMutex
}

// New constructs a Router with optional overrides.
func New(store core.SessionStore, loop Runner, optFns ...func(o *Options)) *Router {
	opts := Options{
		Classifier:    KeywordClassifier{},
		Routes:        maps.Clone(Routes),
		FragmentWords: 1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FragmentWords < 1 {
		opts.FragmentWords = 1
	}

	return &Router{
		store:  store,
		loop:   loop,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
		locks:  newKeyedMutex(),
	}
}

// Handle runs one turn for userID. Only invalid input is returned as error;
// internal failures produce an apology message.
func (r *Router) Handle(ctx context.Context, userID, text string) (OutgoingMessage, error) {
	if strings.TrimSpace(userID) == "" {
		return OutgoingMessage{}, ErrEmptyUser
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return OutgoingMessage{}, ErrEmptyMessage
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	start := time.Now()
	msg := r.handle(ctx, userID, text)
	r.logger.Info("router.turn.finish",
		"session_id", msg.SessionID,
		"agent", msg.Agent,
		"payload_type", msg.PayloadType,
		"suspended", msg.Suspended,
		"exhausted", msg.Exhausted,
		"stateless", msg.Warning != "",
		"duration", time.Since(start),
	)
	return msg, nil
}

// CreateSession resolves the session of userID without running a turn.
func (r *Router) CreateSession(ctx context.Context, userID string) (*core.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUser
	}
	unlock := r.locks.Lock(userID)
	defer unlock()
	return r.store.CreateOrGet(ctx, userID)
}

func (r *Router) handle(ctx context.Context, userID, text string) OutgoingMessage {
	stateless := false
	sess, err := r.store.CreateOrGet(ctx, userID)
	if err != nil {
		if !errors.Is(err, core.ErrStorageUnavailable) {
			r.logger.Error("router.session.failed", "user_id", userID, "error", err.Error())
			return OutgoingMessage{Text: ApologyText}
		}
		r.logger.Warn("router.session.stateless", "user_id", userID, "error", err.Error())
		stateless = true
		sess = core.NewSession(util.NewID("stateless"), userID, time.Now())
	}

	entry, pending, resumed := r.entryAgent(ctx, sess, text)

	reqCtx := maps.Clone(sess.Memory)
	delete(reqCtx, MemoryKeyPending)
	if resumed {
		reqCtx["pending_question"] = pending["question"]
		reqCtx["pending_request"] = pending["request"]
	}

	out, runErr := r.loop.Run(ctx, agent.LoopInput{
		Entry: entry,
		Request: core.AgentRequest{
			SessionID: sess.ID,
			UserText:  text,
			Context:   reqCtx,
			History:   sess.Turns,
		},
		Stateless: stateless,
	})

	msg := compose(out, runErr)
	msg.SessionID = sess.ID
	if msg.Agent == "" {
		msg.Agent = entry
	}
	if runErr != nil {
		r.logger.Error("router.turn.failed", "session_id", sess.ID, "agent", entry, "error", runErr.Error())
	}

	if stateless {
		msg.SessionID = ""
		msg.Warning = StatelessWarning
		return msg
	}
	if err := r.record(ctx, sess.ID, text, msg, out, runErr, pending, resumed); err != nil {
		r.logger.Warn("router.session.persist_failed", "session_id", sess.ID, "error", err.Error())
		msg.Warning = StatelessWarning
	}
	return msg
}

// entryAgent returns the agent that handles text. A pending clarification
// resumes the agent that asked it.
func (r *Router) entryAgent(ctx context.Context, sess *core.Session, text string) (core.AgentKind, map[string]any, bool) {
	if p, ok := sess.Memory[MemoryKeyPending].(map[string]any); ok {
		if s, _ := p["agent"].(string); s != "" {
			if kind, ok := core.ParseAgentKind(s); ok {
				r.logger.Debug("router.resume", "session_id", sess.ID, "agent", kind)
				return kind, p, true
			}
		}
	}

	intent, err := r.opts.Classifier.Classify(ctx, text)
	if err != nil {
		r.logger.Warn("router.classify.failed", "session_id", sess.ID, "error", err.Error())
		intent = IntentChat
	}
	kind, ok := r.opts.Routes[intent]
	if !ok {
		kind = core.KindPlanning
	}
	r.logger.Debug("router.classify", "session_id", sess.ID, "intent", intent, "agent", kind)
	return kind, nil, false
}

// record appends both turns and applies memory writes after the loop.
func (r *Router) record(ctx context.Context, sessionID, text string, msg OutgoingMessage, out agent.LoopOutcome, runErr error, pending map[string]any, resumed bool) error {
	var errs []error
	if err := r.store.AppendTurn(ctx, sessionID, core.NewUserTurn(text)); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.AppendTurn(ctx, sessionID, core.NewAgentTurn(msg.Text, msg.Payload)); err != nil {
		errs = append(errs, err)
	}

	for k, v := range out.MemoryDelta {
		if err := r.store.WriteMemory(ctx, sessionID, k, v); err != nil {
			errs = append(errs, err)
		}
	}
	if tx, ok := lastTransaction(out.Observations); ok {
		summary := fmt.Sprintf("%s %s %s (offer %s)", tx.ID, tx.Category, tx.State, tx.OfferID)
		if err := r.store.WriteMemory(ctx, sessionID, MemoryKeyLastBooking, summary); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case runErr == nil && out.Exit == agent.ExitSuspended:
		request := text
		if resumed {
			if prev, _ := pending["request"].(string); prev != "" {
				request = prev + "\n" + text
			}
		}
		p := map[string]any{"agent": string(out.Agent), "question": out.Text, "request": request}
		if err := r.store.WriteMemory(ctx, sessionID, MemoryKeyPending, p); err != nil {
			errs = append(errs, err)
		}
	case resumed:
		if err := r.store.WriteMemory(ctx, sessionID, MemoryKeyPending, nil); err != nil {
			errs = append(errs, err)
		}
	}

	if len(out.Path) > 0 {
		if err := r.store.SetAgentPath(ctx, sessionID, out.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// compose builds the outgoing message from a loop outcome. Booking results
// always carry their explanation, also on failure.
func compose(out agent.LoopOutcome, runErr error) OutgoingMessage {
	msg := OutgoingMessage{Agent: out.Agent}
	payload, tx, hasTx := finalPayload(out.Observations)
	if payload != nil {
		msg.Payload = payload
		msg.PayloadType = payload.PayloadType()
	}

	if runErr != nil {
		msg.Text = ApologyText
	} else {
		msg.Text = out.Text
		msg.Suspended = out.Exit == agent.ExitSuspended
		msg.Exhausted = out.Exit == agent.ExitExhausted
	}

	if hasTx {
		if explain := tx.Explain(); !strings.Contains(msg.Text, explain) {
			msg.Text = strings.TrimSpace(msg.Text + "\n\n" + explain)
		}
	}
	return msg
}

// finalPayload translates the last search or booking result into a payload.
// Failed searches are skipped; booking results count even when they failed.
func finalPayload(obs []core.Observation) (core.Payload, core.BookingTransaction, bool) {
	for i := len(obs) - 1; i >= 0; i-- {
		r := obs[i].Result
		if tx, ok := r.Transaction(); ok {
			return core.BookingConfirmation{Transaction: tx}, tx, true
		}
		if !r.OK() {
			continue
		}
		if l, ok := r.Offers(); ok {
			if p, ok := core.PayloadForOffers(l); ok {
				return p, core.BookingTransaction{}, false
			}
		}
	}
	return nil, core.BookingTransaction{}, false
}

func lastTransaction(obs []core.Observation) (core.BookingTransaction, bool) {
	for i := len(obs) - 1; i >= 0; i-- {
		if tx, ok := obs[i].Result.Transaction(); ok {
			return tx, true
		}
	}
	return core.BookingTransaction{}, false
}

// Abandoner releases dangling holds. agent.BookingAgent implements it.
type Abandoner interface {
	Abandon(ctx context.Context, sessionID string) error
}

// ReleaseOnEvict returns a session eviction hook that releases holds left
// by the evicted session.
func ReleaseOnEvict(b Abandoner, logger logging.Logger) func(ctx context.Context, sess *core.Session) {
	logger = logging.OrNoOp(logger)
	return func(ctx context.Context, sess *core.Session) {
		if err := b.Abandon(ctx, sess.ID); err != nil {
			logger.Error("router.evict.release_failed", "session_id", sess.ID, "error", err.Error())
			return
		}
		logger.Debug("router.evict", "session_id", sess.ID, "user_id", sess.UserID)
	}
}
