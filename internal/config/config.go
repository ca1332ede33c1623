package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pegwatch/internal/logging"
	"pegwatch/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig          `mapstructure:"app"`
	Logging   logging.Config     `mapstructure:"logging"`
	Database  storage.PoolConfig `mapstructure:"database"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Provider  ProviderConfig     `mapstructure:"provider"`
	Tiers     TiersConfig        `mapstructure:"tiers"`
	Risk      RiskConfig         `mapstructure:"risk"`
	Alerting  AlertingConfig     `mapstructure:"alerting"`
	Export    ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig covers the optional display cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig governs the monitoring loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	TickTimeout     time.Duration `mapstructure:"tick_timeout"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ProviderConfig captures market data provider connectivity and limits.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// TierConfig is one audience's sensitivity and rate limits.
type TierConfig struct {
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// TiersConfig maps audiences to their thresholds and cooldown windows.
type TiersConfig struct {
	Free    TierConfig `mapstructure:"free"`
	Premium TierConfig `mapstructure:"premium"`
}

// RiskConfig tunes the heuristic risk aggregator.
type RiskConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Weights         RiskWeights   `mapstructure:"weights"`
	MinSamples      int           `mapstructure:"min_samples"`
	WindowSamples   int           `mapstructure:"window_samples"`
	WindowRetention time.Duration `mapstructure:"window_retention"`
	VolatilityScale float64       `mapstructure:"volatility_scale"`
	TrendScale      float64       `mapstructure:"trend_scale"`
	Horizon         string        `mapstructure:"horizon"`
}

// RiskWeights are the swappable sub-signal weights.
type RiskWeights struct {
	Volatility float64 `mapstructure:"volatility"`
	Trend      float64 `mapstructure:"trend"`
	Sentiment  float64 `mapstructure:"sentiment"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel, one chat per tier.
type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BotToken      string `mapstructure:"bot_token"`
	APIBase       string `mapstructure:"api_base"`
	FreeChatID    string `mapstructure:"free_chat_id"`
	PremiumChatID string `mapstructure:"premium_chat_id"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PEGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pegwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.tick_timeout", "2m")
	v.SetDefault("scheduler.max_workers", 8)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70656757))

	v.SetDefault("provider.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("provider.user_agent", "pegwatch/1.0")
	v.SetDefault("provider.calls_per_minute", 50)
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.retry_base_delay", "1s")
	v.SetDefault("provider.retry_max_delay", "30s")

	v.SetDefault("tiers.free.threshold_pct", 0.5)
	v.SetDefault("tiers.free.cooldown", "30m")
	v.SetDefault("tiers.premium.threshold_pct", 0.2)
	v.SetDefault("tiers.premium.cooldown", "5m")

	v.SetDefault("risk.enabled", true)
	v.SetDefault("risk.weights.volatility", 0.5)
	v.SetDefault("risk.weights.trend", 0.3)
	v.SetDefault("risk.weights.sentiment", 0.2)
	v.SetDefault("risk.min_samples", 10)
	v.SetDefault("risk.window_samples", 120)
	v.SetDefault("risk.window_retention", "24h")
	v.SetDefault("risk.volatility_scale", 20000.0)
	v.SetDefault("risk.trend_scale", 50000.0)
	v.SetDefault("risk.horizon", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.TickTimeout <= 0 {
		return fmt.Errorf("scheduler.tick_timeout must be greater than zero")
	}
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be greater than zero")
	}
	if c.Provider.CallsPerMinute <= 0 {
		return fmt.Errorf("provider.calls_per_minute must be greater than zero")
	}
	if c.Tiers.Free.ThresholdPct <= 0 || c.Tiers.Premium.ThresholdPct <= 0 {
		return fmt.Errorf("tier thresholds must be greater than zero")
	}
	if c.Tiers.Free.Cooldown <= 0 || c.Tiers.Premium.Cooldown <= 0 {
		return fmt.Errorf("tier cooldowns must be greater than zero")
	}
	if c.Risk.Enabled {
		if c.Risk.MinSamples <= 0 {
			return fmt.Errorf("risk.min_samples must be greater than zero")
		}
		if c.Risk.WindowSamples < c.Risk.MinSamples {
			return fmt.Errorf("risk.window_samples must be at least risk.min_samples")
		}
		switch c.Risk.Horizon {
		case "1h", "6h", "24h":
		default:
			return fmt.Errorf("risk.horizon must be one of 1h, 6h, 24h")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.FreeChatID == "" && c.Alerting.Telegram.PremiumChatID == "" {
			return fmt.Errorf("alerting.telegram requires at least one chat id")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
