// Package appconfig loads the engine's TOML configuration, with
// environment variable overrides applied on top, for an arbitrary
// number of chains and filters.
package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/evmweave/indexer/pkg/models"
)

// Config is the fully parsed, validated engine configuration.
type Config struct {
	Engine   EngineConfig
	Database DatabaseConfig
	Fanout   FanoutConfig
	Chains   []ChainConfig
}

// EngineConfig holds process-wide settings.
type EngineConfig struct {
	LogLevel   string
	MetricsAddr string
	HealthAddr  string
}

// DatabaseConfig selects and configures the syncstore/indexstore dialect.
// Exactly one of Postgres DSN or BoltPath should be set; Postgres wins if
// both are present, matching the "networked engine for production,
// embedded engine for tests" split the engine's Design Notes call for.
type DatabaseConfig struct {
	PostgresDSN string
	BoltPath    string
}

// FanoutConfig configures the NATS JetStream publisher. Disabled when URL
// is empty.
type FanoutConfig struct {
	URL        string
	StreamName string
}

// ChainConfig is one configured chain plus the filters it runs.
type ChainConfig struct {
	Chain   models.Chain
	Filters []models.Filter
}

// Load reads path as TOML, then applies environment variable overrides
// using a SCREAMING_SNAKE -> dotted.path convention (e.g.
// CHAIN_RPC_ENDPOINT -> chain.rpc.endpoint; every underscore becomes a
// dot).
func Load(path string) (*Config, error) {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("appconfig: load %s: %w", path, err)
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("appconfig: apply env overrides: %w", err)
	}

	cfg := &Config{
		Engine: EngineConfig{
			LogLevel:    ko.String("engine.log_level"),
			MetricsAddr: ko.String("engine.metrics_addr"),
			HealthAddr:  ko.String("engine.health_addr"),
		},
		Database: DatabaseConfig{
			PostgresDSN: ko.String("database.postgres_dsn"),
			BoltPath:    ko.String("database.bolt_path"),
		},
		Fanout: FanoutConfig{
			URL:        ko.String("fanout.url"),
			StreamName: ko.String("fanout.stream_name"),
		},
	}
	if cfg.Engine.LogLevel == "" {
		cfg.Engine.LogLevel = "info"
	}

	var rawChains []map[string]any
	if err := ko.Unmarshal("chains", &rawChains); err != nil {
		return nil, fmt.Errorf("appconfig: parse chains: %w", err)
	}

	for i := range rawChains {
		cc, err := parseChain(ko, i)
		if err != nil {
			return nil, err
		}
		cfg.Chains = append(cfg.Chains, cc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseChain(ko *koanf.Koanf, idx int) (ChainConfig, error) {
	prefix := fmt.Sprintf("chains.%d.", idx)

	pollMS := ko.Int64(prefix + "poll_interval_ms")
	if pollMS == 0 {
		pollMS = 2000
	}

	chain := models.Chain{
		ID:            models.ChainID(ko.Int64(prefix + "id")),
		Name:          ko.String(prefix + "name"),
		Endpoints:     ko.Strings(prefix + "endpoints"),
		WSEndpoint:    ko.String(prefix + "ws_endpoint"),
		PollInterval:  time.Duration(pollMS) * time.Millisecond,
		FinalityDepth: uint64(ko.Int64(prefix + "finality_depth")),
		CacheReads:    ko.Bool(prefix + "cache_reads"),
		CacheWrites:   ko.Bool(prefix + "cache_writes"),
	}

	var filters []models.Filter
	if err := ko.Unmarshal(prefix+"filters", &filters); err != nil {
		return ChainConfig{}, fmt.Errorf("appconfig: parse filters for chain %d: %w", chain.ID, err)
	}
	for i := range filters {
		filters[i].ChainID = chain.ID
	}

	return ChainConfig{Chain: chain, Filters: filters}, nil
}

// Validate checks every configured chain and reports the first error
// found, prefixed with which chain it came from.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("appconfig: no chains configured")
	}
	if c.Database.PostgresDSN == "" && c.Database.BoltPath == "" {
		return fmt.Errorf("appconfig: no database configured (set database.postgres_dsn or database.bolt_path)")
	}
	seen := make(map[models.ChainID]bool, len(c.Chains))
	for _, cc := range c.Chains {
		if err := cc.Chain.Validate(); err != nil {
			return fmt.Errorf("appconfig: chain %q: %w", cc.Chain.Name, err)
		}
		if seen[cc.Chain.ID] {
			return fmt.Errorf("appconfig: duplicate chain id %d", cc.Chain.ID)
		}
		seen[cc.Chain.ID] = true
	}
	return nil
}

// UsesPostgres reports whether the engine should use the Postgres dialect
// over the embedded bbolt one.
func (c DatabaseConfig) UsesPostgres() bool {
	return c.PostgresDSN != ""
}
