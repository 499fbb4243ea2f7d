// Package config provides YAML-based configuration loading for travelmesh.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/travelmesh/logging"
)

// Config is the top-level travelmesh configuration, loaded from travelmesh.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Agents    AgentsConfig    `yaml:"agents"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Booking   BookingConfig   `yaml:"booking"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the chat endpoint settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// FragmentWords is the number of words per streamed fragment.
	FragmentWords int `yaml:"fragment_words"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	// Backend is memory, sqlite or mysql.
	Backend     string        `yaml:"backend"`
	DSN         string        `yaml:"dsn"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// SweepSchedule is a cron expression or descriptor such as "@every 1m".
	SweepSchedule string `yaml:"sweep_schedule"`
}

// OracleConfig selects the language model.
type OracleConfig struct {
	// Provider is openai, anthropic or scripted.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Streaming   bool          `yaml:"streaming"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	// ClassifyWithOracle routes intents through the oracle instead of keywords.
	ClassifyWithOracle bool `yaml:"classify_with_oracle"`
}

// AgentsConfig bounds the reasoning and refinement agents.
type AgentsConfig struct {
	MaxIterations      int `yaml:"max_iterations"`
	CorrectiveRetries  int `yaml:"corrective_retries"`
	HistoryTurns       int `yaml:"history_turns"`
	MaxDelegationDepth int `yaml:"max_delegation_depth"`
	// OracleBudget caps oracle calls per turn; 0 derives it from the iteration cap.
	OracleBudget int `yaml:"oracle_budget"`
}

// DispatchConfig tunes parallel tool dispatch.
type DispatchConfig struct {
	MaxInFlight int           `yaml:"max_in_flight"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// BookingConfig tunes the transactional booking agent.
type BookingConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// ProvidersConfig enables travel providers.
type ProvidersConfig struct {
	Sandbox SandboxConfig `yaml:"sandbox"`
	Amadeus AmadeusConfig `yaml:"amadeus"`
}

// SandboxConfig configures the deterministic in-process provider.
type SandboxConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Currency string        `yaml:"currency"`
	Results  int           `yaml:"results"`
	HoldTTL  time.Duration `yaml:"hold_ttl"`
}

// AmadeusConfig configures Amadeus flight and hotel search. Credentials are
// read from the named environment variables.
type AmadeusConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BaseURL         string `yaml:"base_url"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	Currency        string `yaml:"currency"`
	MaxResults      int    `yaml:"max_results"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Providers: ProvidersConfig{Sandbox: SandboxConfig{Enabled: true}}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.FragmentWords == 0 {
		c.Server.FragmentWords = 1
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.DSN == "" && c.Session.Backend == "sqlite" {
		c.Session.DSN = "travelmesh.db"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = "@every 1m"
	}

	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "openai"
	}
	if c.Oracle.Temperature == 0 {
		c.Oracle.Temperature = 0.2
	}
	if c.Oracle.MaxTokens == 0 {
		c.Oracle.MaxTokens = 2048
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 30 * time.Second
	}
	if c.Oracle.APIKeyEnv == "" {
		switch c.Oracle.Provider {
		case "openai":
			c.Oracle.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			c.Oracle.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}

	if c.Agents.MaxIterations == 0 {
		c.Agents.MaxIterations = 5
	}
	if c.Agents.CorrectiveRetries == 0 {
		c.Agents.CorrectiveRetries = 1
	}
	if c.Agents.HistoryTurns == 0 {
		c.Agents.HistoryTurns = 20
	}
	if c.Agents.MaxDelegationDepth == 0 {
		c.Agents.MaxDelegationDepth = 2
	}

	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = 4
	}
	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = 10 * time.Second
	}
	if c.Booking.StepTimeout == 0 {
		c.Booking.StepTimeout = 15 * time.Second
	}

	sb := &c.Providers.Sandbox
	if sb.Currency == "" {
		sb.Currency = "INR"
	}
	if sb.Results == 0 {
		sb.Results = 5
	}
	if sb.HoldTTL == 0 {
		sb.HoldTTL = 15 * time.Minute
	}
	am := &c.Providers.Amadeus
	if am.BaseURL == "" {
		am.BaseURL = "https://test.api.amadeus.com"
	}
	if am.ClientIDEnv == "" {
		am.ClientIDEnv = "AMADEUS_CLIENT_ID"
	}
	if am.ClientSecretEnv == "" {
		am.ClientSecretEnv = "AMADEUS_CLIENT_SECRET"
	}
	if am.Currency == "" {
		am.Currency = "INR"
	}
	if am.MaxResults == 0 {
		am.MaxResults = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !slices.Contains([]string{"memory", "sqlite", "mysql"}, c.Session.Backend) {
		errs = append(errs, fmt.Sprintf("session.backend %q must be memory, sqlite or mysql", c.Session.Backend))
	}
	if c.Session.Backend == "mysql" && c.Session.DSN == "" {
		errs = append(errs, "session.dsn is required for mysql")
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, "session.idle_timeout must not be negative")
	}
	if !slices.Contains([]string{"openai", "anthropic", "scripted"}, c.Oracle.Provider) {
		errs = append(errs, fmt.Sprintf("oracle.provider %q must be openai, anthropic or scripted", c.Oracle.Provider))
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		errs = append(errs, "oracle.temperature must be within [0, 2]")
	}
	if c.Agents.MaxIterations < 1 {
		errs = append(errs, "agents.max_iterations must be at least 1")
	}
	if c.Agents.CorrectiveRetries < 0 {
		errs = append(errs, "agents.corrective_retries must not be negative")
	}
	if c.Agents.MaxDelegationDepth < 0 {
		errs = append(errs, "agents.max_delegation_depth must not be negative")
	}
	if c.Dispatch.MaxInFlight < 1 {
		errs = append(errs, "dispatch.max_in_flight must be at least 1")
	}
	if c.Booking.StepTimeout <= 0 {
		errs = append(errs, "booking.step_timeout must be positive")
	}
	if !c.Providers.Sandbox.Enabled && !c.Providers.Amadeus.Enabled {
		errs = append(errs, "at least one provider must be enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Secret returns the value of the environment variable env.
func Secret(env string) string {
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
