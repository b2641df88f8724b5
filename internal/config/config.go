// Package config defines all configuration for the trading orchestrator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via INTRADESK_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"intradesk/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool               `mapstructure:"dry_run"`
	Broker     BrokerConfig       `mapstructure:"broker"`
	MarketData MarketDataConfig   `mapstructure:"marketdata"`
	Risk       RiskConfig         `mapstructure:"risk"`
	Executor   ExecutorConfig     `mapstructure:"executor"`
	Monitor    MonitorConfig      `mapstructure:"monitor"`
	Venue      VenueConfig        `mapstructure:"venue"`
	Store      StoreConfig        `mapstructure:"store"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	API        APIConfig          `mapstructure:"api"`
	Universe   []types.Instrument `mapstructure:"universe"`
}

// BrokerConfig holds the venue endpoints and credentials. ClientID and
// SecretKey come from env vars in production deployments.
type BrokerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	WSURL     string        `mapstructure:"ws_url"`
	ClientID  string        `mapstructure:"client_id"`
	SecretKey string        `mapstructure:"secret_key"`
	TokenPath string        `mapstructure:"token_path"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MarketDataConfig points at the context-feed vendor (VIX, headlines,
// breadth).
type MarketDataConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// RiskConfig sets the capital base and every sizing limit.
//
//   - Capital: account base capital the risk fractions apply to.
//   - PerTradeRisk: fraction of capital risked between entry and stop.
//   - MaxDailyLoss: fraction of capital; the session loss floor.
//   - MaxPositions: cap on simultaneously approved orders per day.
//   - MaxPerSector: cap on candidates sharing a sector.
//   - MinComposite: conviction floor on the summed analyst score.
//   - MinRewardRisk: minimum take-profit distance in stop distances.
//   - TargetMovePct: minimum target distance as a fraction of entry.
type RiskConfig struct {
	Capital       float64 `mapstructure:"capital"`
	PerTradeRisk  float64 `mapstructure:"per_trade_risk"`
	MaxDailyLoss  float64 `mapstructure:"max_daily_loss"`
	MaxPositions  int     `mapstructure:"max_positions"`
	MaxPerSector  int     `mapstructure:"max_per_sector"`
	MinComposite  float64 `mapstructure:"min_composite"`
	MinRewardRisk float64 `mapstructure:"min_reward_risk"`
	TargetMovePct float64 `mapstructure:"target_move_pct"`
}

// ExecutorConfig tunes order placement.
type ExecutorConfig struct {
	FillWait    time.Duration `mapstructure:"fill_wait"`
	TickSize    float64       `mapstructure:"tick_size"`
	ProductType string        `mapstructure:"product_type"`
}

// MonitorConfig tunes the position control loop's decision table.
type MonitorConfig struct {
	TrailTriggerR   float64 `mapstructure:"trail_trigger_r"`
	KATR            float64 `mapstructure:"k_atr"`
	PartialTriggerR float64 `mapstructure:"partial_trigger_r"`
	TightenAfter    string  `mapstructure:"tighten_after"`
	FlattenAfter    string  `mapstructure:"flatten_after"`
	TightenFrac     float64 `mapstructure:"tighten_frac"`
	ATRPeriod       int     `mapstructure:"atr_period"`
}

// VenueConfig fixes the trading venue's timezone and calendar.
type VenueConfig struct {
	Timezone string   `mapstructure:"timezone"`
	Holidays []string `mapstructure:"holidays"` // YYYY-MM-DD
}

// StoreConfig sets where sessions and the trade ledger are persisted
// (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the read-model HTTP server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: INTRADESK_CLIENT_ID, INTRADESK_SECRET_KEY,
// INTRADESK_MARKETDATA_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INTRADESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if id := os.Getenv("INTRADESK_CLIENT_ID"); id != "" {
		cfg.Broker.ClientID = id
	}
	if key := os.Getenv("INTRADESK_SECRET_KEY"); key != "" {
		cfg.Broker.SecretKey = key
	}
	if key := os.Getenv("INTRADESK_MARKETDATA_KEY"); key != "" {
		cfg.MarketData.APIKey = key
	}
	if os.Getenv("INTRADESK_DRY_RUN") == "true" || os.Getenv("INTRADESK_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = 10 * time.Second
	}
	if c.Broker.TokenPath == "" {
		c.Broker.TokenPath = "data/token.json"
	}
	if c.Risk.Capital == 0 {
		c.Risk.Capital = 100000
	}
	if c.Risk.PerTradeRisk == 0 {
		c.Risk.PerTradeRisk = 0.01
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 0.02
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 15
	}
	if c.Risk.MaxPerSector == 0 {
		c.Risk.MaxPerSector = 3
	}
	if c.Risk.MinComposite == 0 {
		c.Risk.MinComposite = 4
	}
	if c.Risk.MinRewardRisk == 0 {
		c.Risk.MinRewardRisk = 1.5
	}
	if c.Risk.TargetMovePct == 0 {
		c.Risk.TargetMovePct = 0.01
	}
	if c.Executor.FillWait == 0 {
		c.Executor.FillWait = 2 * time.Minute
	}
	if c.Executor.TickSize == 0 {
		c.Executor.TickSize = types.DefaultTickSize
	}
	if c.Executor.ProductType == "" {
		c.Executor.ProductType = "INTRADAY"
	}
	if c.Monitor.TightenAfter == "" {
		c.Monitor.TightenAfter = "15:00"
	}
	if c.Monitor.FlattenAfter == "" {
		c.Monitor.FlattenAfter = "15:15"
	}
	if c.Venue.Timezone == "" {
		c.Venue.Timezone = "Asia/Kolkata"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.API.Port == 0 {
		c.API.Port = 8980
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required unless dry_run is set")
		}
		if c.Broker.ClientID == "" {
			return fmt.Errorf("broker.client_id is required (set INTRADESK_CLIENT_ID)")
		}
		if c.Broker.SecretKey == "" {
			return fmt.Errorf("broker.secret_key is required (set INTRADESK_SECRET_KEY)")
		}
	}
	if c.Risk.Capital <= 0 {
		return fmt.Errorf("risk.capital must be > 0")
	}
	if c.Risk.PerTradeRisk <= 0 || c.Risk.PerTradeRisk > 0.05 {
		return fmt.Errorf("risk.per_trade_risk must be in (0, 0.05]")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 0.10 {
		return fmt.Errorf("risk.max_daily_loss must be in (0, 0.10]")
	}
	if c.Risk.MaxDailyLoss < c.Risk.PerTradeRisk {
		return fmt.Errorf("risk.max_daily_loss must cover at least one full per-trade risk")
	}
	if _, err := time.LoadLocation(c.Venue.Timezone); err != nil {
		return fmt.Errorf("venue.timezone: %w", err)
	}
	for _, d := range c.Venue.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("venue.holidays: %q is not YYYY-MM-DD", d)
		}
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe must list at least one instrument")
	}
	for _, inst := range c.Universe {
		if inst.Symbol == "" {
			return fmt.Errorf("universe entries need a symbol")
		}
	}
	return nil
}
