package travelmesh

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/travelmesh/config"
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/model"
)

func newTestMesh(t *testing.T, cfg *config.Config, llm model.Model) *TravelMesh {
	t.Helper()
	m, err := New(cfg, func(o *Options) {
		o.Oracle = llm
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, m.Close()) })
	return m
}

func TestNew_DefaultsRegisterSandboxTools(t *testing.T) {
	m := newTestMesh(t, config.Default(), model.NewScriptedModel())

	assert.Equal(t, []string{
		core.ToolCancelBooking, core.ToolConfirmBooking, core.ToolFindPlaces, core.ToolGetWeather, core.ToolHoldOffer,
		core.ToolMemorize, core.ToolSearchBuses, core.ToolSearchFlights, core.ToolSearchHotels, core.ToolSearchTrains,
	}, m.Registry.Names())
	assert.Equal(t, []core.Category{core.CategoryBus, core.CategoryFlight, core.CategoryHotel, core.CategoryTrain}, m.Booking.Categories())
}

func TestSearchThenBook(t *testing.T) {
	llm := model.NewScriptedModel().
		Then(`{"action":"call_tools","calls":[
			{"tool":"search_flights","args":{"origin":"DEL","destination":"BOM","departure_date":"2026-12-20"}},
			{"tool":"search_hotels","args":{"destination":"Mumbai","departure_date":"2026-12-20"}}]}`).
		Then(`{"action":"respond","text":"Here are your options."}`)
	m := newTestMesh(t, config.Default(), llm)
	ctx := context.Background()

	msg, err := m.Router.Handle(ctx, "asha", "find flights and a hotel from Delhi to Mumbai on Dec 20")
	require.NoError(t, err)
	assert.Equal(t, core.KindPlanning, msg.Agent)
	// the last successful search decides the payload
	require.Equal(t, core.PayloadHotels, msg.PayloadType)

	sess, err := m.Store.Get(ctx, msg.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)

	flights := sandboxFlightIDs(t, m)
	llm.Then(fmt.Sprintf(`{"action":"call_tool","tool":"hold_offer","args":{"offer_id":%q,"category":"flight"}}`, flights[0])).
		Then(`{"action":"call_tool","tool":"confirm_booking","args":{}}`).
		Then(`{"action":"respond","text":"Your flight is booked."}`)

	msg, err = m.Router.Handle(ctx, "asha", "book the first flight")
	require.NoError(t, err)
	assert.Equal(t, core.KindBooking, msg.Agent)
	require.Equal(t, core.PayloadBookingConfirmation, msg.PayloadType)
	tx := msg.Payload.(core.BookingConfirmation).Transaction
	assert.Equal(t, core.TxConfirmed, tx.State)
	assert.Equal(t, flights[0], tx.OfferID)
	assert.NotEmpty(t, tx.ConfirmationID)
	assert.Contains(t, msg.Text, tx.Explain())

	_, active := m.Booking.Active(msg.SessionID)
	assert.False(t, active)
}

// sandboxFlightIDs repeats the search through the registry to learn the ids
// the deterministic provider issued.
func sandboxFlightIDs(t *testing.T, m *TravelMesh) []string {
	t.Helper()
	res := m.Registry.Execute(context.Background(), "probe", core.ToolCall{
		ID:   "probe-1",
		Name: core.ToolSearchFlights,
		Args: map[string]any{"origin": "DEL", "destination": "BOM", "departure_date": "2026-12-20"},
	})
	require.True(t, res.OK(), res.Error)
	list, ok := res.Offers()
	require.True(t, ok)
	var ids []string
	for _, o := range list.Offers {
		ids = append(ids, o.ID)
	}
	require.NotEmpty(t, ids)
	return ids
}

func TestInspirationChecksWeather(t *testing.T) {
	llm := model.NewScriptedModel().
		Then(`{"action":"call_tools","calls":[
			{"tool":"find_places","args":{"destination":"Goa","query":"beaches"}},
			{"tool":"get_weather","args":{"location":"Goa","date":"2026-12-20"}}]}`).
		Then(`{"action":"respond","text":"Goa looks lovely then."}`)
	m := newTestMesh(t, config.Default(), llm)

	msg, err := m.Router.Handle(context.Background(), "asha", "suggest beaches to visit in Goa")
	require.NoError(t, err)
	assert.Equal(t, core.KindInspiration, msg.Agent)
	assert.Equal(t, "Goa looks lovely then.", msg.Text)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	observed := fmt.Sprint(reqs[1].Messages)
	assert.Contains(t, observed, "get_weather: Goa on 2026-12-20")
	assert.Contains(t, observed, "air quality")
}

func TestScriptedOracleAnswersOffline(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.Provider = "scripted"
	m, err := New(cfg, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)
	defer m.Close()

	msg, err := m.Router.Handle(context.Background(), "u", "hello")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "without a language model")
}

func TestNew_SqliteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Backend = "sqlite"
	cfg.Session.DSN = filepath.Join(t.TempDir(), "sessions.db")
	llm := model.NewScriptedModel(`{"action":"respond","text":"Hi!"}`)
	m := newTestMesh(t, cfg, llm)

	msg, err := m.Router.Handle(context.Background(), "u1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "Hi!", msg.Text)
	assert.Empty(t, msg.Warning)

	sess, err := m.Store.Get(context.Background(), msg.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)
}

func TestNew_AmadeusRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Amadeus.Enabled = true
	cfg.Providers.Amadeus.ClientIDEnv = "TRAVELMESH_TEST_UNSET_ID"
	cfg.Providers.Amadeus.ClientSecretEnv = "TRAVELMESH_TEST_UNSET_SECRET"

	_, err := New(cfg, func(o *Options) { o.Oracle = model.NewScriptedModel(); o.Logger = logging.NoOpLogger{} })
	assert.Error(t, err)
}

func TestNew_BadSweepSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Session.SweepSchedule = "not a schedule"
	_, err := New(cfg, func(o *Options) { o.Oracle = model.NewScriptedModel(); o.Logger = logging.NoOpLogger{} })
	assert.Error(t, err)
}
