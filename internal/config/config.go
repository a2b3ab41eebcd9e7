// Package config provides configuration management for the universe
// generator, adapted directly from the teacher's config.go: YAML +
// os.ExpandEnv loading with KnownFields(true), a Normalize() defaulting
// pass, and a Validate() pass — restructured around this pipeline's
// security-type/market/data-provider/concurrency/history-ladder
// sections rather than trading-strategy parameters.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultConcurrencyMultiplier implements spec §5's pool size
	// formula: floor(1.5 * cpu_count).
	defaultConcurrencyMultiplier = 1.5
	// defaultETAInterval is how many processed canonicals (not contracts)
	// elapse between ETA log lines.
	defaultETAInterval = 500
	// defaultHistoryLookbackBars is N bars back from end per ladder rung.
	defaultHistoryLookbackBars = 5
	// defaultCacheTTL matches the teacher's optionChainCacheTTL.
	defaultCacheTTL = time.Minute
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Run         RunConfig         `yaml:"run"`
	DataSource  DataSourceConfig  `yaml:"data_source"`
	History     HistoryConfig     `yaml:"history"`
	Output      OutputConfig      `yaml:"output"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Status      StatusConfig      `yaml:"status"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// RunConfig names the security class, market, and scoping for a run.
// SecurityType/Market come from the config file or Normalize's defaults
// only; the command-line entrypoints take no flag that overrides them.
type RunConfig struct {
	SecurityType string   `yaml:"security_type"` // Equity | Index | Future | EquityOption | IndexOption | FutureOption
	Market       string   `yaml:"market"`        // e.g. "usa"
	Symbols      []string `yaml:"symbols"`        // restrict to these underlyings; empty = all discovered
}

// DataSourceConfig names the external collaborators spec §6 lists as
// optional config keys: data-provider, map-file-provider,
// factor-file-provider, processed-data-directory, temp-output-folder,
// api-handler.
type DataSourceConfig struct {
	DataProvider            string `yaml:"data_provider"`
	MapFileProvider         string `yaml:"map_file_provider"`
	FactorFileProvider      string `yaml:"factor_file_provider"`
	ProcessedDataDirectory  string `yaml:"processed_data_directory"`
	TempOutputFolder        string `yaml:"temp_output_folder"`
	APIHandler              string `yaml:"api_handler"`
	ArchiveRoot             string `yaml:"archive_root"` // local fs root, or s3://bucket/prefix
	IndexProviderBaseURL    string `yaml:"index_provider_base_url"`
	IndexProviderAPIKeyEnv  string `yaml:"index_provider_api_key_env"` // env var name holding the key
}

// HistoryConfig controls the History Gateway's (C2) resolution ladder
// and lookback window.
type HistoryConfig struct {
	Ladder                  []string `yaml:"ladder"`                    // e.g. [daily] or [daily, hour, minute]
	SymbolSourceResolutions []string `yaml:"symbol_source_resolutions"` // spec §6's symbol-source-resolutions key
	LookbackBars            int      `yaml:"lookback_bars"`
	CacheTTL                time.Duration `yaml:"cache_ttl"`
	DiskCacheDir            string   `yaml:"disk_cache_dir"`
}

// OutputConfig controls where universe CSV files land.
type OutputConfig struct {
	Root string `yaml:"root"`
}

// ConcurrencyConfig controls the fan-out pool and ETA reporting.
type ConcurrencyConfig struct {
	Multiplier  float64 `yaml:"multiplier"`   // spec §5: floor(multiplier * cpu_count)
	MaxWorkers  int     `yaml:"max_workers"`  // hard cap; 0 = unbounded by cap
	ETAInterval int     `yaml:"eta_interval"` // processed canonicals (not contracts) between ETA log lines
}

// StatusConfig controls the optional health/ETA HTTP surface.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ScheduleConfig controls cmd/universegen-schedule's unattended,
// cron-driven run cadence.
type ScheduleConfig struct {
	Cron string `yaml:"cron"` // robfig/cron/v3 expression, e.g. "0 0 20 * * MON-FRI"
}

// PricingConfig feeds the Greeks Engine's (C4) constant-rate models and
// theoretical pricing model choice (spec §4.4).
type PricingConfig struct {
	RiskFreeRate  float64 `yaml:"risk_free_rate"`
	DividendYield float64 `yaml:"dividend_yield"`
	Model         string  `yaml:"model"` // BlackScholes | BinomialTree | ForwardTree
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Normalize fills in defaults for any unset fields.
func (c *Config) Normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Run.Market == "" {
		c.Run.Market = "usa"
	}
	if c.Run.SecurityType == "" {
		c.Run.SecurityType = "Equity"
	}
	if len(c.History.Ladder) == 0 {
		c.History.Ladder = []string{"daily"}
	}
	if c.History.LookbackBars <= 0 {
		c.History.LookbackBars = defaultHistoryLookbackBars
	}
	if c.History.CacheTTL <= 0 {
		c.History.CacheTTL = defaultCacheTTL
	}
	if c.Concurrency.Multiplier <= 0 {
		c.Concurrency.Multiplier = defaultConcurrencyMultiplier
	}
	if c.Concurrency.ETAInterval <= 0 {
		c.Concurrency.ETAInterval = defaultETAInterval
	}
	if c.Output.Root == "" {
		c.Output.Root = "./out"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8090"
	}
	if c.Pricing.Model == "" {
		c.Pricing.Model = "ForwardTree"
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 0 20 * * MON-FRI"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	switch c.Run.SecurityType {
	case "Equity", "Index", "Future", "EquityOption", "IndexOption", "FutureOption":
	default:
		return fmt.Errorf("run.security_type must be one of Equity, Index, Future, EquityOption, IndexOption, FutureOption")
	}

	if strings.TrimSpace(c.Run.Market) == "" {
		return fmt.Errorf("run.market is required")
	}

	if strings.TrimSpace(c.DataSource.ArchiveRoot) == "" {
		return fmt.Errorf("data_source.archive_root is required")
	}

	if len(c.History.Ladder) == 0 {
		return fmt.Errorf("history.ladder must name at least one resolution")
	}
	for _, r := range c.History.Ladder {
		switch strings.ToLower(r) {
		case "minute", "hour", "daily":
		default:
			return fmt.Errorf("history.ladder entry %q must be minute, hour, or daily", r)
		}
	}

	if c.Concurrency.Multiplier <= 0 {
		return fmt.Errorf("concurrency.multiplier must be > 0")
	}

	if strings.TrimSpace(c.Output.Root) == "" {
		return fmt.Errorf("output.root is required")
	}

	switch c.Pricing.Model {
	case "BlackScholes", "BinomialTree", "ForwardTree":
	default:
		return fmt.Errorf("pricing.model must be one of BlackScholes, BinomialTree, ForwardTree")
	}

	return nil
}

// ProcessingDate resolves the processing date from the
// QC_DATAFLEET_DEPLOYMENT_DATE environment variable (spec §6), falling
// back to today in UTC.
func ProcessingDate() (time.Time, error) {
	raw := strings.TrimSpace(os.Getenv("QC_DATAFLEET_DEPLOYMENT_DATE"))
	if raw == "" {
		now := time.Now().UTC()
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid QC_DATAFLEET_DEPLOYMENT_DATE %q: %w", raw, err)
	}
	return t, nil
}
