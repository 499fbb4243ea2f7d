package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/travelmesh/agent"
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/dispatch"
	"github.com/hupe1980/travelmesh/internal/testutil"
	"github.com/hupe1980/travelmesh/model"
	"github.com/hupe1980/travelmesh/session"
	"github.com/hupe1980/travelmesh/tool"
)

type fixture struct {
	store   *session.InMemoryStore
	flights *testutil.StubAdapter
	hotels  *testutil.StubAdapter
	booking *agent.BookingAgent
	models  map[core.AgentKind]*model.ScriptedModel
	router  *Router
}

func newFixture(t *testing.T, store core.SessionStore) *fixture {
	t.Helper()
	f := &fixture{
		store:   session.NewInMemoryStore(),
		flights: testutil.NewStubAdapter("stubair", core.CategoryFlight),
		hotels:  testutil.NewStubAdapter("stubstay", core.CategoryHotel),
		models:  map[core.AgentKind]*model.ScriptedModel{},
	}
	if store == nil {
		store = f.store
	}

	var err error
	f.booking, err = agent.NewBookingAgent([]core.BookingAdapter{f.flights, f.hotels}, func(o *agent.BookingOptions) {
		o.StepTimeout = 30 * time.Millisecond
	})
	require.NoError(t, err)

	flights, err := tool.NewSearchTool(core.ToolSearchFlights, f.flights)
	require.NoError(t, err)
	hotels, err := tool.NewSearchTool(core.ToolSearchHotels, f.hotels)
	require.NoError(t, err)
	registry, err := tool.NewRegistry(nil, append([]tool.Tool{flights, hotels, tool.NewMemorizeTool()}, tool.NewBookingTools(f.booking)...)...)
	require.NoError(t, err)

	var deciders []agent.Decider
	for _, k := range core.ReasoningKinds() {
		f.models[k] = model.NewScriptedModel()
		a, err := agent.NewReasoningAgent(k, f.models[k])
		require.NoError(t, err)
		deciders = append(deciders, a)
	}
	loop, err := agent.NewLoopAgent(registry, dispatch.New(registry), deciders)
	require.NoError(t, err)

	f.router = New(store, loop)
	return f
}

func (f *fixture) handle(t *testing.T, userID, text string) OutgoingMessage {
	t.Helper()
	msg, err := f.router.Handle(context.Background(), userID, text)
	require.NoError(t, err)
	return msg
}

func TestRouter_ScenarioFlightSearch(t *testing.T) {
	f := newFixture(t, nil)
	offers := []core.Offer{
		testutil.StubOffer(core.CategoryFlight, "AI-101", "5400"),
		testutil.StubOffer(core.CategoryFlight, "6E-202", "3100"),
		testutil.StubOffer(core.CategoryFlight, "UK-303", "4700"),
	}
	f.flights.SearchFn = func(_ context.Context, q core.Query) ([]core.Offer, error) {
		assert.Equal(t, "Delhi", q.Origin)
		assert.Equal(t, "Mumbai", q.Destination)
		return offers, nil
	}
	f.models[core.KindPlanning].
		Then(`{"action":"call_tool","tool":"search_flights","args":{"origin":"Delhi","destination":"Mumbai","departure_date":"2026-12-25"}}`).
		Then(`{"action":"respond","text":"Here are flights from Delhi to Mumbai on Dec 25."}`)

	msg := f.handle(t, "u1", "find flights Delhi to Mumbai Dec 25")

	assert.Equal(t, core.PayloadFlights, msg.PayloadType)
	require.IsType(t, core.FlightOptions{}, msg.Payload)
	assert.Equal(t, offers, msg.Payload.(core.FlightOptions).Offers)
	assert.Equal(t, 1, f.flights.CallCount("search"))
	assert.Equal(t, core.KindPlanning, msg.Agent)
	assert.NotEmpty(t, msg.SessionID)

	sess, err := f.store.Get(context.Background(), msg.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, core.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "find flights Delhi to Mumbai Dec 25", sess.Turns[0].Content)
	assert.Equal(t, msg.Payload, sess.Turns[1].Payload)
	assert.Equal(t, []core.AgentKind{core.KindPlanning}, sess.ActiveAgentPath)
}

func TestRouter_ScenarioConfirmTimeoutRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.flights.ConfirmFn = func(ctx context.Context, _ string) (core.ConfirmResult, error) {
		<-ctx.Done()
		return core.ConfirmResult{}, ctx.Err()
	}
	f.models[core.KindBooking].
		Then(`{"action":"call_tool","tool":"hold_offer","args":{"offer_id":"AI-101","category":"flight"}}`).
		Then(`{"action":"respond","text":"I placed a hold on AI-101. Shall I confirm?"}`).
		Then(`{"action":"call_tool","tool":"confirm_booking","args":{}}`).
		Then(`{"action":"respond","text":"Unfortunately the booking did not go through."}`)

	held := f.handle(t, "u1", "book flight AI-101")
	require.Equal(t, core.PayloadBookingConfirmation, held.PayloadType)
	assert.Equal(t, core.TxHeld, held.Payload.(core.BookingConfirmation).Transaction.State)
	assert.Contains(t, held.Text, "Nothing has been charged yet")

	msg := f.handle(t, "u1", "yes, confirm it")
	require.Equal(t, core.PayloadBookingConfirmation, msg.PayloadType)
	tx := msg.Payload.(core.BookingConfirmation).Transaction
	assert.Equal(t, core.TxRolledBack, tx.State)
	assert.Contains(t, msg.Text, "did not go through")
	assert.Contains(t, msg.Text, "Nothing was charged")
	assert.Contains(t, msg.Text, "timed out")
	assert.Equal(t, []string{"hold:AI-101", "confirm:H-AI-101", "release:H-AI-101"}, f.flights.Calls())

	sess, err := f.store.Get(context.Background(), msg.SessionID)
	require.NoError(t, err)
	last := sess.Turns[len(sess.Turns)-1]
	assert.Equal(t, core.TxRolledBack, last.Payload.(core.BookingConfirmation).Transaction.State)
	assert.Contains(t, sess.Memory[MemoryKeyLastBooking], "rolled_back")

	archived, ok := f.booking.Transaction(tx.ID)
	require.True(t, ok)
	assert.Equal(t, core.TxRolledBack, archived.State)
}

func TestRouter_ScenarioClarificationResumes(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindBooking].
		Then(`{"action":"ask_clarification","text":"Which city would you like to stay in?"}`).
		Then(`{"action":"call_tool","tool":"search_hotels","args":{"destination":"Goa"}}`).
		Then(`{"action":"respond","text":"Here are hotels in Goa."}`)

	first := f.handle(t, "u1", "book me a hotel")
	assert.True(t, first.Suspended)
	assert.Equal(t, "Which city would you like to stay in?", first.Text)
	pending, ok, err := f.store.ReadMemory(context.Background(), first.SessionID, MemoryKeyPending)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "booking", pending.(map[string]any)["agent"])

	second := f.handle(t, "u1", "Goa")
	assert.False(t, second.Suspended)
	assert.Equal(t, core.KindBooking, second.Agent)
	assert.Equal(t, core.PayloadHotels, second.PayloadType)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Empty(t, f.models[core.KindPlanning].Requests(), "resumed turn must not be re-classified")

	reqs := f.models[core.KindBooking].Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "Goa", reqs[1].LastUserText())
	assert.Contains(t, reqs[1].Instructions, "pending_request: book me a hotel")
	assert.Contains(t, reqs[1].Instructions, "pending_question: Which city would you like to stay in?")

	pending, _, err = f.store.ReadMemory(context.Background(), first.SessionID, MemoryKeyPending)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

type downStore struct {
	*session.InMemoryStore
}

func (downStore) CreateOrGet(context.Context, string) (*core.Session, error) {
	return nil, fmt.Errorf("dial backend: %w", core.ErrStorageUnavailable)
}

func TestRouter_StatelessFallback(t *testing.T) {
	f := newFixture(t, downStore{session.NewInMemoryStore()})
	f.models[core.KindPlanning].Then(`{"action":"respond","text":"Hello!"}`)

	msg := f.handle(t, "u1", "hi")
	assert.Equal(t, "Hello!", msg.Text)
	assert.Equal(t, StatelessWarning, msg.Warning)
	assert.Empty(t, msg.SessionID)
}

func TestRouter_StatelessTurnsCannotBook(t *testing.T) {
	f := newFixture(t, downStore{session.NewInMemoryStore()})
	f.models[core.KindBooking].
		Then(`{"action":"call_tool","tool":"hold_offer","args":{"offer_id":"AI-101","category":"flight"}}`).
		Then(`{"action":"respond","text":"I could not place the hold right now."}`).
		Then(`{"action":"call_tool","tool":"confirm_booking","args":{}}`).
		Then(`{"action":"respond","text":"There is nothing to confirm."}`)

	alice := f.handle(t, "alice", "book flight AI-101")
	bob := f.handle(t, "bob", "confirm my booking")

	assert.Equal(t, StatelessWarning, alice.Warning)
	assert.Equal(t, StatelessWarning, bob.Warning)
	assert.Empty(t, f.flights.Calls())
	assert.NotEqual(t, core.PayloadBookingConfirmation, alice.PayloadType)
	assert.NotEqual(t, core.PayloadBookingConfirmation, bob.PayloadType)
	assert.Equal(t, "There is nothing to confirm.", bob.Text)

	reqs := f.models[core.KindBooking].Requests()
	require.Len(t, reqs, 4)
	assert.Contains(t, fmt.Sprint(reqs[1].Messages), core.ErrSessionRequired.Error())
	assert.Contains(t, fmt.Sprint(reqs[3].Messages), core.ErrSessionRequired.Error())
}

func TestRouter_ApologizesOnInternalFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindPlanning].ThenError(errors.New("upstream 500: secret detail"))

	msg := f.handle(t, "u1", "plan a trip")
	assert.Equal(t, ApologyText, msg.Text)
	assert.NotContains(t, msg.Text, "secret")

	sess, err := f.store.Get(context.Background(), msg.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)
}

func TestRouter_RepeatedMalformedDecisionApologizes(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindPlanning].Then("I'd love to help!").Then("Still prose.")

	msg := f.handle(t, "u1", "plan a trip")
	assert.Equal(t, ApologyText, msg.Text)
	assert.Len(t, f.models[core.KindPlanning].Requests(), 2)
}

func TestRouter_ExhaustedIsReportedNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindPlanning].WithFallback(func(model.Request) string {
		return `{"action":"call_tool","tool":"search_hotels","args":{"destination":"Goa"}}`
	})

	msg := f.handle(t, "u1", "find hotels in goa")
	assert.True(t, msg.Exhausted)
	assert.Equal(t, core.PayloadHotels, msg.PayloadType)
	assert.Contains(t, msg.Text, "here is what I found so far")
}

func TestRouter_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.router.Handle(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrEmptyUser)
	_, err = f.router.Handle(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

type gateRunner struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
}

func (g *gateRunner) Run(_ context.Context, in agent.LoopInput) (agent.LoopOutcome, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(g.hold)
	return agent.LoopOutcome{Exit: agent.ExitResponded, Agent: in.Entry, Text: "ok"}, nil
}

func TestRouter_SerializesTurnsPerUser(t *testing.T) {
	g := &gateRunner{hold: 10 * time.Millisecond}
	r := New(session.NewInMemoryStore(), g)

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Handle(context.Background(), "same-user", fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), g.peak.Load())
	assert.Zero(t, r.locks.Len())
}

func TestRouter_DifferentUsersRunConcurrently(t *testing.T) {
	g := &gateRunner{hold: 50 * time.Millisecond}
	r := New(session.NewInMemoryStore(), g)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Handle(context.Background(), fmt.Sprintf("user-%d", i), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Greater(t, g.peak.Load(), int32(1))
}

func TestRouter_Streaming(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindPlanning].
		Then(`{"action":"call_tool","tool":"search_hotels","args":{"destination":"Goa"}}`).
		Then(`{"action":"respond","text":"Three lovely hotels in Goa."}`)

	s := f.router.HandleStream(context.Background(), "u1", "hotels in goa")
	defer s.Close()

	var (
		text  strings.Builder
		final *OutgoingMessage
	)
	for {
		frag, ok := s.Next(context.Background())
		if !ok {
			break
		}
		if frag.End {
			final = frag.Message
			continue
		}
		text.WriteString(frag.Text)
	}
	require.NotNil(t, final)
	assert.Equal(t, "Three lovely hotels in Goa.", text.String())
	assert.Equal(t, core.PayloadHotels, final.PayloadType)
}

func TestRouter_StreamCloseStillCompletesTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.models[core.KindPlanning].Then(`{"action":"respond","text":"a b c d e f"}`)

	ctx, cancel := context.WithCancel(context.Background())
	s := f.router.HandleStream(ctx, "u1", "hi there")
	frag, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "a ", frag.Text)
	cancel()
	s.Close()

	_, ok = s.Next(context.Background())
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		sess, err := f.store.CreateOrGet(context.Background(), "u1")
		return err == nil && len(sess.Turns) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRouter_StreamReportsInvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	s := f.router.HandleStream(context.Background(), "u1", "")
	frag, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.True(t, frag.End)
	assert.ErrorIs(t, frag.Err, ErrEmptyMessage)
}

func TestReleaseOnEvict(t *testing.T) {
	flights := testutil.NewStubAdapter("stubair", core.CategoryFlight)
	b, err := agent.NewBookingAgent([]core.BookingAdapter{flights})
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := session.NewInMemoryStore(func(o *session.Options) {
		o.Clock = func() time.Time { return now }
		o.OnEvict = ReleaseOnEvict(b, nil)
	})
	sess, err := store.CreateOrGet(context.Background(), "u1")
	require.NoError(t, err)
	_, err = b.Hold(context.Background(), sess.ID, core.CategoryFlight, "F1")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	evicted, err := store.EvictIdle(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, evicted)
	assert.Equal(t, 1, flights.CallCount("release"))
	_, ok := b.Active(sess.ID)
	assert.False(t, ok)
}

func TestKeywordClassifier(t *testing.T) {
	tests := map[string]Intent{
		"find flights Delhi to Mumbai Dec 25":  IntentPlanning,
		"book me a hotel":                      IntentBooking,
		"Please confirm the booking":           IntentBooking,
		"suggest a beach destination":          IntentInspiration,
		"what are the best places to visit?":   IntentInspiration,
		"any cheap trains from Pune to Nagpur": IntentPlanning,
		"hello there":                          IntentChat,
		"pay for the hotel now":                IntentBooking,
		"suggest flights for a large payload":  IntentInspiration,
		"the parcel was placed at the door":    IntentChat,
		"planning a trip with buses":           IntentPlanning,
		"I booked nothing yet":                 IntentBooking,
		"what's the weather in Goa":            IntentInspiration,
	}
	for text, want := range tests {
		got, err := KeywordClassifier{}.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
}

func TestOracleClassifier(t *testing.T) {
	m := model.NewScriptedModel("Booking.", "no idea").ThenError(errors.New("down"))
	c := NewOracleClassifier(m, nil)

	got, err := c.Classify(context.Background(), "grab that room")
	require.NoError(t, err)
	assert.Equal(t, IntentBooking, got)

	got, err = c.Classify(context.Background(), "find flights")
	require.NoError(t, err)
	assert.Equal(t, IntentPlanning, got, "unusable reply falls back to keywords")

	got, err = c.Classify(context.Background(), "suggest something")
	require.NoError(t, err)
	assert.Equal(t, IntentInspiration, got, "oracle failure falls back to keywords")
}

func TestSplitFragments(t *testing.T) {
	assert.Equal(t, []string{"a b ", "c d ", "e"}, splitFragments("a b c d e", 2))
	assert.Empty(t, splitFragments("", 1))
}
