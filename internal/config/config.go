package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the riskdesk trader.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Trading   TradingConfig   `yaml:"trading"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
}

// Storage holds paths for the order-event journal and daily bar data.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration. Port serves prometheus
// metrics; GRPCPort serves the Desk API.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker and
// market-data APIs. DataFeed selects the market-data source (iex or sip);
// QuoteInterval is how often reference prices are polled.
type Alpaca struct {
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	BaseURL       string        `yaml:"base_url"`
	RatePerMin    int           `yaml:"rate_limit_per_min"`
	DataURL       string        `yaml:"data_url"`
	DataFeed      string        `yaml:"data_feed"`
	QuoteInterval time.Duration `yaml:"quote_interval"`
}

// HasCredentials reports whether both API key and secret are set.
func (a Alpaca) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines risk and execution parameters.
type TradingConfig struct {
	PaperMode          bool    `yaml:"paper_mode"`
	MaxPositionSize    float64 `yaml:"max_position_size"`
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`
	RebalanceThreshold float64 `yaml:"rebalance_threshold"`
	BenchmarkSymbol    string  `yaml:"benchmark_symbol"`
}

// PortfolioConfig seeds the analytics engine.
type PortfolioConfig struct {
	InitialValue     float64            `yaml:"initial_value"`
	CashBalance      float64            `yaml:"cash_balance"`
	TargetAllocation map[string]float64 `yaml:"target_allocation"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default values applied to zero fields after loading.
const (
	DefaultMaxPositionSize    = 10000.0
	DefaultMaxDailyLoss       = 1000.0
	DefaultRebalanceThreshold = 0.05
	DefaultInitialValue       = 100000.0
	DefaultGRPCPort           = 9090
	DefaultMetricsPort        = 9091
	DefaultAlpacaRatePerMin   = 200
	DefaultBenchmarkSymbol    = "SPY"
	DefaultDataFeed           = "iex"
	DefaultQuoteInterval      = 15 * time.Second
)

func applyDefaults(cfg *Config) {
	if cfg.Trading.MaxPositionSize == 0 {
		cfg.Trading.MaxPositionSize = DefaultMaxPositionSize
	}
	if cfg.Trading.MaxDailyLoss == 0 {
		cfg.Trading.MaxDailyLoss = DefaultMaxDailyLoss
	}
	if cfg.Trading.RebalanceThreshold == 0 {
		cfg.Trading.RebalanceThreshold = DefaultRebalanceThreshold
	}
	if cfg.Trading.BenchmarkSymbol == "" {
		cfg.Trading.BenchmarkSymbol = DefaultBenchmarkSymbol
	}
	if cfg.Portfolio.InitialValue == 0 {
		cfg.Portfolio.InitialValue = DefaultInitialValue
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = DefaultGRPCPort
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultMetricsPort
	}
	if cfg.Alpaca.RatePerMin == 0 {
		cfg.Alpaca.RatePerMin = DefaultAlpacaRatePerMin
	}
	if cfg.Alpaca.DataFeed == "" {
		cfg.Alpaca.DataFeed = DefaultDataFeed
	}
	if cfg.Alpaca.QuoteInterval == 0 {
		cfg.Alpaca.QuoteInterval = DefaultQuoteInterval
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the trader cannot run with.
func (c *Config) Validate() error {
	if c.Trading.MaxPositionSize < 0 {
		return fmt.Errorf("trading.max_position_size must be >= 0, got %v", c.Trading.MaxPositionSize)
	}
	if c.Trading.MaxDailyLoss < 0 {
		return fmt.Errorf("trading.max_daily_loss must be >= 0, got %v", c.Trading.MaxDailyLoss)
	}
	if c.Trading.RebalanceThreshold < 0 || c.Trading.RebalanceThreshold >= 1 {
		return fmt.Errorf("trading.rebalance_threshold must be in [0,1), got %v", c.Trading.RebalanceThreshold)
	}
	var sum float64
	for sym, w := range c.Portfolio.TargetAllocation {
		if w < 0 {
			return fmt.Errorf("portfolio.target_allocation[%s] must be >= 0, got %v", sym, w)
		}
		sum += w
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("portfolio.target_allocation weights sum to %v, want <= 1", sum)
	}
	if c.Alpaca.QuoteInterval < 0 {
		return fmt.Errorf("alpaca.quote_interval must be >= 0, got %v", c.Alpaca.QuoteInterval)
	}
	if !c.Trading.PaperMode && !c.Alpaca.HasCredentials() {
		return fmt.Errorf("alpaca credentials are required when paper_mode is false")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("RISKDESK_PAPER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}

	// Standard Alpaca env vars take the highest priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
