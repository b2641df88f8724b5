package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"intradesk/pkg/types"
)

const fixture = `
dry_run: true
broker:
  base_url: https://api.broker.example
  ws_url: wss://feed.broker.example
  client_id: ABC-100
  token_path: /tmp/token.json
risk:
  capital: 250000
  per_trade_risk: 0.0125
executor:
  fill_wait: 90s
venue:
  timezone: Asia/Kolkata
  holidays: ["2026-10-02"]
logging:
  level: debug
universe:
  - symbol: NSE:INFY-EQ
    sector: IT
    lot_size: 1
  - symbol: NSE:SBIN-EQ
    sector: BANK
    lot_size: 1
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeFixture(t, fixture))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("dry_run not read")
	}
	if cfg.Risk.Capital != 250000 || cfg.Risk.PerTradeRisk != 0.0125 {
		t.Errorf("risk section: %+v", cfg.Risk)
	}
	if cfg.Executor.FillWait != 90*time.Second {
		t.Errorf("fill_wait = %v, want 90s", cfg.Executor.FillWait)
	}
	// unset fields fall back to defaults
	if cfg.Risk.MaxDailyLoss != 0.02 {
		t.Errorf("max_daily_loss default = %v", cfg.Risk.MaxDailyLoss)
	}
	if cfg.Risk.MaxPositions != 15 {
		t.Errorf("max_positions default = %d", cfg.Risk.MaxPositions)
	}
	if cfg.Monitor.FlattenAfter != "15:15" {
		t.Errorf("flatten_after default = %q", cfg.Monitor.FlattenAfter)
	}
	if cfg.Executor.ProductType != "INTRADAY" {
		t.Errorf("product_type default = %q", cfg.Executor.ProductType)
	}
	if len(cfg.Universe) != 2 || cfg.Universe[1].Sector != "BANK" {
		t.Errorf("universe = %+v", cfg.Universe)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("INTRADESK_CLIENT_ID", "ENV-CLIENT")
	t.Setenv("INTRADESK_SECRET_KEY", "env-secret")

	cfg, err := Load(writeFixture(t, fixture))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.ClientID != "ENV-CLIENT" {
		t.Errorf("ClientID = %q, want env override", cfg.Broker.ClientID)
	}
	if cfg.Broker.SecretKey != "env-secret" {
		t.Errorf("SecretKey = %q, want env override", cfg.Broker.SecretKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg := &Config{DryRun: true, Universe: []types.Instrument{{Symbol: "NSE:INFY-EQ", Sector: "IT", LotSize: 1}}}
		applyDefaults(cfg)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"live without credentials", func(c *Config) { c.DryRun = false; c.Broker.BaseURL = "" }},
		{"zero capital", func(c *Config) { c.Risk.Capital = -1 }},
		{"per-trade risk too large", func(c *Config) { c.Risk.PerTradeRisk = 0.2 }},
		{"daily loss under per-trade", func(c *Config) { c.Risk.PerTradeRisk = 0.02; c.Risk.MaxDailyLoss = 0.01 }},
		{"bad timezone", func(c *Config) { c.Venue.Timezone = "Mars/Olympus" }},
		{"bad holiday", func(c *Config) { c.Venue.Holidays = []string{"02-10-2026"} }},
		{"empty universe", func(c *Config) { c.Universe = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
