// Package travelmesh assembles the conversational travel backend from a
// configuration: session store, travel providers, tools, reasoning agents,
// the refinement loop and the orchestrator router. Most applications:
//  1. Load a config.Config (or use config.Default())
//  2. Create a TravelMesh via New(), optionally overriding the oracle or store
//  3. Serve Router over HTTP (package server) or call Router.Handle directly
//
// Every default is safe for local development: in-memory sessions and the
// deterministic sandbox provider need neither credentials nor a database.
package travelmesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/travelmesh/agent"
	"github.com/hupe1980/travelmesh/config"
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/dispatch"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/model"
	"github.com/hupe1980/travelmesh/model/anthropic"
	"github.com/hupe1980/travelmesh/model/openai"
	"github.com/hupe1980/travelmesh/orchestrator"
	"github.com/hupe1980/travelmesh/provider/amadeus"
	"github.com/hupe1980/travelmesh/provider/sandbox"
	"github.com/hupe1980/travelmesh/session"
	"github.com/hupe1980/travelmesh/session/sqlstore"
	"github.com/hupe1980/travelmesh/tool"
)

// Options override components otherwise built from the configuration.
type Options struct {
	// Oracle replaces the configured language model for every agent.
	Oracle model.Model
	// Store replaces the configured session store. Eviction hooks are the
	// caller's responsibility.
	Store core.SessionStore
	// HTTPClient is used by HTTP providers.
	HTTPClient *http.Client
	// Logger defaults to a TravelLogger built from the logging section.
	Logger logging.Logger
}

// TravelMesh is the assembled runtime.
type TravelMesh struct {
	Router   *orchestrator.Router
	Booking  *agent.BookingAgent
	Store    core.SessionStore
	Registry *tool.Registry

	cfg     *config.Config
	sweeper *session.Sweeper
	closers []func() error
	logger  logging.Logger
}

// New assembles a TravelMesh from cfg.
func New(cfg *config.Config, optFns ...func(o *Options)) (*TravelMesh, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		lvl, _ := logging.ParseLevel(cfg.Logging.Level)
		opts.Logger = logging.NewSlogLogger(lvl, cfg.Logging.Format, cfg.Logging.AddSource, os.Stderr)
	}
	m := &TravelMesh{cfg: cfg, logger: opts.Logger}

	ps, err := buildProviders(cfg, opts)
	if err != nil {
		return nil, err
	}

	m.Booking, err = agent.NewBookingAgent(ps.bookers, func(o *agent.BookingOptions) {
		o.StepTimeout = cfg.Booking.StepTimeout
		o.Logger = m.component("booking")
	})
	if err != nil {
		return nil, err
	}

	m.Store = opts.Store
	if m.Store == nil {
		if m.Store, err = m.buildStore(); err != nil {
			return nil, err
		}
	}
	if cfg.Session.IdleTimeout > 0 {
		m.sweeper, err = session.NewSweeper(m.Store, cfg.Session.IdleTimeout, cfg.Session.SweepSchedule, m.component("session"))
		if err != nil {
			return nil, errors.Join(err, m.Close())
		}
	}

	if m.Registry, err = buildRegistry(ps, m.Booking, m.component("tool")); err != nil {
		return nil, errors.Join(err, m.Close())
	}

	llm := opts.Oracle
	if llm == nil {
		if llm, err = buildOracle(cfg.Oracle); err != nil {
			return nil, errors.Join(err, m.Close())
		}
	}

	var deciders []agent.Decider
	for _, kind := range core.ReasoningKinds() {
		capability, _ := core.CapabilityFor(kind)
		a, err := agent.NewReasoningAgent(kind, llm, func(o *agent.ReasoningOptions) {
			o.Tools = m.Registry.Definitions(capability.Tools)
			o.MaxHistoryTurns = cfg.Agents.HistoryTurns
			o.OracleTimeout = cfg.Oracle.Timeout
			o.EnableStreaming = cfg.Oracle.Streaming
			o.Logger = m.component("agent")
		})
		if err != nil {
			return nil, errors.Join(err, m.Close())
		}
		deciders = append(deciders, a)
	}

	dispatcher := dispatch.New(m.Registry, func(o *dispatch.Options) {
		o.MaxInFlight = cfg.Dispatch.MaxInFlight
		o.CallTimeout = cfg.Dispatch.CallTimeout
		o.Logger = m.component("dispatch")
	})
	loop, err := agent.NewLoopAgent(m.Registry, dispatcher, deciders,
		agent.WithMaxIterations(cfg.Agents.MaxIterations),
		agent.WithCorrectiveRetries(cfg.Agents.CorrectiveRetries),
		agent.WithMaxDelegationDepth(cfg.Agents.MaxDelegationDepth),
		agent.WithOracleBudget(cfg.Agents.OracleBudget),
		agent.WithLoopLogger(m.component("loop")),
	)
	if err != nil {
		return nil, errors.Join(err, m.Close())
	}

	var classifier orchestrator.Classifier = orchestrator.KeywordClassifier{}
	if cfg.Oracle.ClassifyWithOracle {
		classifier = orchestrator.NewOracleClassifier(llm, nil)
	}
	m.Router = orchestrator.New(m.Store, loop, func(o *orchestrator.Options) {
		o.Classifier = classifier
		o.FragmentWords = cfg.Server.FragmentWords
		o.Logger = m.component("router")
	})
	return m, nil
}

// RunSweeper evicts idle sessions on the configured schedule until ctx is
// done. It returns immediately when idle eviction is disabled.
func (m *TravelMesh) RunSweeper(ctx context.Context) {
	if m.sweeper == nil {
		return
	}
	m.sweeper.Run(ctx)
}

// Close releases the session backend.
func (m *TravelMesh) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// Logger returns the root logger.
func (m *TravelMesh) Logger() logging.Logger { return m.logger }

func (m *TravelMesh) component(name string) logging.Logger {
	if tl, ok := m.logger.(*logging.TravelLogger); ok {
		return tl.WithComponent(name)
	}
	return m.logger
}

func (m *TravelMesh) buildStore() (core.SessionStore, error) {
	sc := m.cfg.Session
	withOpts := func(o *session.Options) {
		o.IdleTimeout = sc.IdleTimeout
		o.OnEvict = session.EvictFunc(orchestrator.ReleaseOnEvict(m.Booking, m.component("session")))
	}
	if sc.Backend == "memory" {
		return session.NewInMemoryStore(withOpts), nil
	}
	db, err := sqlstore.Open(sc.Backend, sc.DSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: pool: %w", err)
	}
	m.closers = append(m.closers, sqlDB.Close)
	return sqlstore.New(db, withOpts), nil
}

// providerSet holds the configured adapters in preference order.
type providerSet struct {
	searchers map[core.Category][]core.SearchAdapter
	bookers   []core.BookingAdapter
	weather   []core.WeatherAdapter
}

func buildProviders(cfg *config.Config, opts Options) (providerSet, error) {
	ps := providerSet{searchers: map[core.Category][]core.SearchAdapter{}}

	if am := cfg.Providers.Amadeus; am.Enabled {
		client, err := amadeus.NewClient(func(o *amadeus.Options) {
			o.BaseURL = am.BaseURL
			o.ClientID = config.Secret(am.ClientIDEnv)
			o.ClientSecret = config.Secret(am.ClientSecretEnv)
			o.Currency = am.Currency
			o.MaxResults = am.MaxResults
			o.HTTPClient = opts.HTTPClient
			o.Logger = opts.Logger
		})
		if err != nil {
			return providerSet{}, err
		}
		ps.searchers[core.CategoryFlight] = append(ps.searchers[core.CategoryFlight], amadeus.NewFlights(client))
		ps.searchers[core.CategoryHotel] = append(ps.searchers[core.CategoryHotel], amadeus.NewHotels(client))
	}

	if sb := cfg.Providers.Sandbox; sb.Enabled {
		providers, err := sandbox.NewAll(func(o *sandbox.Options) {
			o.Currency = sb.Currency
			o.Results = sb.Results
			o.HoldTTL = sb.HoldTTL
		})
		if err != nil {
			return providerSet{}, err
		}
		for _, p := range providers {
			ps.searchers[p.Category()] = append(ps.searchers[p.Category()], p)
			ps.bookers = append(ps.bookers, p)
		}
		ps.searchers[core.CategoryPlace] = append(ps.searchers[core.CategoryPlace], sandbox.NewPlaces(sb.Results))
		ps.weather = append(ps.weather, sandbox.NewWeather(nil))
	}
	return ps, nil
}

func buildRegistry(ps providerSet, booker tool.Booker, logger logging.Logger) (*tool.Registry, error) {
	tools := []tool.Tool{tool.NewMemorizeTool()}
	for _, name := range []string{core.ToolSearchFlights, core.ToolSearchHotels, core.ToolSearchTrains, core.ToolSearchBuses, core.ToolFindPlaces} {
		cat, _ := core.CategoryForTool(name)
		adapters := ps.searchers[cat]
		if len(adapters) == 0 {
			continue
		}
		t, err := tool.NewSearchTool(name, adapters...)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	if len(ps.weather) > 0 {
		t, err := tool.NewWeatherTool(ps.weather...)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	tools = append(tools, tool.NewBookingTools(booker)...)
	return tool.NewRegistry(logger, tools...)
}

const offlineReply = `{"action":"respond","text":"I'm running without a language model. Set oracle.provider to openai or anthropic to chat."}`

func buildOracle(oc config.OracleConfig) (model.Model, error) {
	switch oc.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if oc.Model != "" {
				o.Model = oc.Model
			}
			o.Temperature = oc.Temperature
			o.MaxCompletionTokens = oc.MaxTokens
			o.APIKey = config.Secret(oc.APIKeyEnv)
			o.BaseURL = oc.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if oc.Model != "" {
				o.Model = sdkanthropic.Model(oc.Model)
			}
			o.Temperature = oc.Temperature
			o.MaxTokens = oc.MaxTokens
			o.APIKey = config.Secret(oc.APIKeyEnv)
		}), nil
	case "scripted":
		return model.NewScriptedModel().WithFallback(func(model.Request) string { return offlineReply }), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", oc.Provider)
	}
}
