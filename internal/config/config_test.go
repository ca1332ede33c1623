package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("default interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Tiers.Free.ThresholdPct != 0.5 || cfg.Tiers.Premium.ThresholdPct != 0.2 {
		t.Fatalf("default thresholds wrong: %+v", cfg.Tiers)
	}
	if cfg.Tiers.Free.Cooldown != 30*time.Minute || cfg.Tiers.Premium.Cooldown != 5*time.Minute {
		t.Fatalf("default cooldowns wrong: %+v", cfg.Tiers)
	}
	if !cfg.Risk.Enabled || cfg.Risk.Horizon != "24h" {
		t.Fatalf("default risk config wrong: %+v", cfg.Risk)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting must default to disabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
scheduler:
  interval: 30s
tiers:
  premium:
    threshold_pct: 0.1
    cooldown: 2m
risk:
  horizon: 6h
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Tiers.Premium.ThresholdPct != 0.1 || cfg.Tiers.Premium.Cooldown != 2*time.Minute {
		t.Fatalf("premium tier not overridden: %+v", cfg.Tiers.Premium)
	}
	if cfg.Risk.Horizon != "6h" {
		t.Fatalf("horizon = %s", cfg.Risk.Horizon)
	}
	// Untouched keys keep their defaults.
	if cfg.Tiers.Free.ThresholdPct != 0.5 {
		t.Fatalf("free threshold should keep its default: %+v", cfg.Tiers.Free)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"zero workers", func(c *Config) { c.Scheduler.MaxWorkers = 0 }},
		{"zero threshold", func(c *Config) { c.Tiers.Premium.ThresholdPct = 0 }},
		{"zero cooldown", func(c *Config) { c.Tiers.Free.Cooldown = 0 }},
		{"bad horizon", func(c *Config) { c.Risk.Horizon = "7d" }},
		{"window below min samples", func(c *Config) { c.Risk.WindowSamples = 2 }},
		{"telegram without token", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.FreeChatID = "chat"
		}},
		{"telegram without chats", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.BotToken = "token"
		}},
	}

	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate should fail", tc.name)
		}
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 1000}}
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("default resolve = %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("override resolve = %d", got)
	}
}
