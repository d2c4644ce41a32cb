package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gapwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Kalshi    KalshiConfig    `mapstructure:"kalshi"`
	Spot      SpotConfig      `mapstructure:"spot"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	State     StateConfig     `mapstructure:"state"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// KalshiConfig covers the trade API and request signing.
type KalshiConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKeyID            string        `mapstructure:"api_key_id"`
	PrivateKeyPath      string        `mapstructure:"private_key_path"`
	PrivateKeyPEM       string        `mapstructure:"private_key_pem"`
	SeriesTicker        string        `mapstructure:"series_ticker"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	CalibrationInterval time.Duration `mapstructure:"calibration_interval"`
}

// SpotConfig describes the reference price feeds.
type SpotConfig struct {
	Sources         []string      `mapstructure:"sources"`
	BinanceURL      string        `mapstructure:"binance_url"`
	BinanceSymbol   string        `mapstructure:"binance_symbol"`
	CoinbaseURL     string        `mapstructure:"coinbase_url"`
	CoinbaseProduct string        `mapstructure:"coinbase_product"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// MonitorConfig tunes gap classification and history retention.
type MonitorConfig struct {
	ThresholdUSD  float64       `mapstructure:"threshold_usd"`
	HistoryWindow time.Duration `mapstructure:"history_window"`
	MaxGaps       int           `mapstructure:"max_gaps"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
}

// StateConfig locates the persisted monitor document.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig governs polling cadence of the run command.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the event lookup cache.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// ServerConfig describes the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

var knownSpotSources = map[string]struct{}{
	"binance":  {},
	"coinbase": {},
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("GAPWATCH")
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
	v.SetDefault("app.name", "gapwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("kalshi.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("kalshi.api_key_id", "")
	v.SetDefault("kalshi.private_key_path", "")
	v.SetDefault("kalshi.private_key_pem", "")
	v.SetDefault("kalshi.series_ticker", "KXBTCD")
	v.SetDefault("kalshi.request_timeout", "10s")
	v.SetDefault("kalshi.calibration_interval", "5m")

	v.SetDefault("spot.sources", []string{"binance", "coinbase"})
	v.SetDefault("spot.binance_url", "https://api.binance.com")
	v.SetDefault("spot.binance_symbol", "BTCUSDT")
	v.SetDefault("spot.coinbase_url", "https://api.coinbase.com")
	v.SetDefault("spot.coinbase_product", "BTC-USD")
	v.SetDefault("spot.request_timeout", "10s")
	v.SetDefault("spot.user_agent", "gapwatch/1.0")

	v.SetDefault("monitor.threshold_usd", 150.0)
	v.SetDefault("monitor.history_window", "24h")
	v.SetDefault("monitor.max_gaps", 5000)
	v.SetDefault("monitor.alert_cooldown", "15m")

	v.SetDefault("state.path", "data/monitor_state.json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6b676170))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "20s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 2000)
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
	if c.Kalshi.BaseURL == "" {
		return fmt.Errorf("kalshi.base_url is required")
	}
	if c.Kalshi.SeriesTicker == "" {
		return fmt.Errorf("kalshi.series_ticker is required")
	}
	if c.Kalshi.CalibrationInterval <= 0 {
		return fmt.Errorf("kalshi.calibration_interval must be greater than zero")
	}
	if len(c.Spot.Sources) == 0 {
		return fmt.Errorf("spot.sources must list at least one feed")
	}
	for _, src := range c.Spot.Sources {
		if _, ok := knownSpotSources[strings.ToLower(strings.TrimSpace(src))]; !ok {
			return fmt.Errorf("spot.sources: unknown feed %q", src)
		}
	}
	if c.Monitor.ThresholdUSD < 0 {
		return fmt.Errorf("monitor.threshold_usd cannot be negative")
	}
	if c.Monitor.HistoryWindow <= 0 {
		return fmt.Errorf("monitor.history_window must be greater than zero")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
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

// HasCredentials reports whether signed Kalshi endpoints can be used.
func (c *Config) HasCredentials() bool {
	return c.Kalshi.APIKeyID != "" && (c.Kalshi.PrivateKeyPath != "" || c.Kalshi.PrivateKeyPEM != "")
}
