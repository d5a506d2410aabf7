package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Kolkata on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/rewired-gh/strikewatch/internal/scoring"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Service     ServiceConfig              `mapstructure:"service"`
	Instruments []InstrumentConfig         `mapstructure:"instruments"`
	Profiles    map[string]scoring.Profile `mapstructure:"profiles"`
	Source      SourceConfig               `mapstructure:"source"`
	Simulator   SimulatorConfig            `mapstructure:"simulator"`
	Storage     StorageConfig              `mapstructure:"storage"`
	Reporters   ReportersConfig            `mapstructure:"reporters"`
	Telegram    TelegramConfig             `mapstructure:"telegram"`
	API         APIConfig                  `mapstructure:"api"`
	Logging     LoggingConfig              `mapstructure:"logging"`
}

// ServiceConfig holds loop behavior configuration
type ServiceConfig struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	Workers               int           `mapstructure:"workers"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	CooldownOverrideDelta float64       `mapstructure:"cooldown_override_delta"`
	HistorySize           int           `mapstructure:"history_size"`
	TrackerSize           int           `mapstructure:"tracker_size"`
	Timezone              string        `mapstructure:"timezone"`
}

// InstrumentConfig describes one traded index. Instrument settings live in a
// list because viper lowercases map keys.
type InstrumentConfig struct {
	Name       string  `mapstructure:"name"`
	Profile    string  `mapstructure:"profile"`
	StrikeStep float64 `mapstructure:"strike_step"`
	LotSize    int     `mapstructure:"lot_size"`
	BasePrice  float64 `mapstructure:"base_price"`
	UpstoxKey  string  `mapstructure:"upstox_key"`
}

// SourceConfig selects and configures the market snapshot source
type SourceConfig struct {
	Type      string              `mapstructure:"type"` // simulated | upstox
	Simulated SimulatedFeedConfig `mapstructure:"simulated"`
	Upstox    UpstoxConfig        `mapstructure:"upstox"`
}

// SimulatedFeedConfig holds random-walk feed settings
type SimulatedFeedConfig struct {
	Seed       int64   `mapstructure:"seed"`
	StepPct    float64 `mapstructure:"step_pct"`
	BaseVolume float64 `mapstructure:"base_volume"`
	WarmUp     int     `mapstructure:"warm_up"`
}

// UpstoxConfig holds Upstox market-quote API configuration
type UpstoxConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
}

// SimulatorConfig holds outcome simulation configuration
type SimulatorConfig struct {
	Seed    int64   `mapstructure:"seed"`
	Slope   float64 `mapstructure:"slope"`
	Base    float64 `mapstructure:"base"`
	MinProb float64 `mapstructure:"min_prob"`
	MaxProb float64 `mapstructure:"max_prob"`
	Lots    int     `mapstructure:"lots"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	MaxRecords int    `mapstructure:"max_records"`
	DBPath     string `mapstructure:"db_path"`
	WarmLimit  int    `mapstructure:"warm_limit"`
}

// ReportersConfig enables and configures each reporter
type ReportersConfig struct {
	Console     ToggleConfig      `mapstructure:"console"`
	LogFile     LogFileConfig     `mapstructure:"log_file"`
	Telegram    ToggleConfig      `mapstructure:"telegram"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	DailyReport DailyReportConfig `mapstructure:"daily_report"`
}

// ToggleConfig is a reporter with nothing to configure but its switch
type ToggleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogFileConfig holds the pipe-separated log file reporter configuration
type LogFileConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	CallsFile   string `mapstructure:"calls_file"`
	ResultsFile string `mapstructure:"results_file"`
}

// RedisConfig holds Redis reporter configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	ListKey  string `mapstructure:"list_key"`
	ListMax  int64  `mapstructure:"list_max"`
}

// KafkaConfig holds Kafka reporter configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// DailyReportConfig holds daily report file configuration
type DailyReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken         string        `mapstructure:"bot_token"`
	ChatID           string        `mapstructure:"chat_id"`
	Enabled          bool          `mapstructure:"enabled"`
	Commands         bool          `mapstructure:"commands"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelayBase   time.Duration `mapstructure:"retry_delay_base"`
	NotifyRejected   bool          `mapstructure:"notify_rejected"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// APIConfig holds the status HTTP server configuration
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads an optional .env file, then configuration from file and
// environment variables
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	// STRIKEWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token, and so on
	v.SetEnvPrefix("STRIKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("source.upstox.access_token", "STRIKEWATCH_SOURCE_UPSTOX_ACCESS_TOKEN", "UPSTOX_ACCESS_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind upstox token: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	setProfileDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyProfileDefaults()

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.poll_interval", "60s")
	v.SetDefault("service.workers", 4)
	v.SetDefault("service.cooldown", "15m")
	v.SetDefault("service.cooldown_override_delta", 5.0)
	v.SetDefault("service.history_size", 200)
	v.SetDefault("service.tracker_size", 500)
	v.SetDefault("service.timezone", "Asia/Kolkata")

	v.SetDefault("instruments", []map[string]any{
		{"name": "NIFTY", "profile": "default", "strike_step": 50, "lot_size": 75, "base_price": 24500, "upstox_key": "NSE_INDEX|Nifty 50"},
		{"name": "BANKNIFTY", "profile": "default", "strike_step": 100, "lot_size": 35, "base_price": 52000, "upstox_key": "NSE_INDEX|Nifty Bank"},
		{"name": "SENSEX", "profile": "default", "strike_step": 100, "lot_size": 20, "base_price": 81000, "upstox_key": "BSE_INDEX|SENSEX"},
	})

	// Source defaults
	v.SetDefault("source.type", "simulated")
	v.SetDefault("source.simulated.seed", 1)
	v.SetDefault("source.simulated.step_pct", 0.05)
	v.SetDefault("source.simulated.base_volume", 100000)
	v.SetDefault("source.simulated.warm_up", 60)
	v.SetDefault("source.upstox.base_url", "https://api.upstox.com")
	v.SetDefault("source.upstox.access_token", "")
	v.SetDefault("source.upstox.timeout", "10s")
	v.SetDefault("source.upstox.max_retries", 3)
	v.SetDefault("source.upstox.retry_delay_base", "1s")
	v.SetDefault("source.upstox.requests_per_sec", 5.0)
	v.SetDefault("source.upstox.burst", 5)

	// Simulator defaults
	v.SetDefault("simulator.seed", 1)
	v.SetDefault("simulator.slope", 1.0)
	v.SetDefault("simulator.base", 0.0)
	v.SetDefault("simulator.min_prob", 0.05)
	v.SetDefault("simulator.max_prob", 0.95)
	v.SetDefault("simulator.lots", 1)

	// Storage defaults
	v.SetDefault("storage.max_records", 10000)
	v.SetDefault("storage.db_path", "./data/strikewatch.db")
	v.SetDefault("storage.warm_limit", 500)

	// Reporter defaults
	v.SetDefault("reporters.console.enabled", true)
	v.SetDefault("reporters.log_file.enabled", true)
	v.SetDefault("reporters.log_file.dir", "./logs")
	v.SetDefault("reporters.log_file.calls_file", "trading_calls.log")
	v.SetDefault("reporters.log_file.results_file", "trade_results.log")
	v.SetDefault("reporters.telegram.enabled", false)
	v.SetDefault("reporters.redis.enabled", false)
	v.SetDefault("reporters.redis.addr", "localhost:6379")
	v.SetDefault("reporters.redis.password", "")
	v.SetDefault("reporters.redis.db", 0)
	v.SetDefault("reporters.redis.channel", "strikewatch:outcomes")
	v.SetDefault("reporters.redis.list_key", "strikewatch:recent")
	v.SetDefault("reporters.redis.list_max", 1000)
	v.SetDefault("reporters.kafka.enabled", false)
	v.SetDefault("reporters.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("reporters.kafka.topic", "strikewatch.outcomes")
	v.SetDefault("reporters.daily_report.enabled", true)
	v.SetDefault("reporters.daily_report.dir", "./reports")
	v.SetDefault("reporters.daily_report.prefix", "strikewatch")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.commands", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.notify_rejected", false)
	v.SetDefault("telegram.failure_threshold", 1)

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// setProfileDefaults seeds "default" and every profile named in the file with
// the stock profile, key by key, so a file only lists the values it changes.
func setProfileDefaults(v *viper.Viper) {
	def := scoring.DefaultProfile()
	names := []string{def.Name}
	for name := range v.GetStringMap("profiles") {
		names = append(names, name)
	}
	fields := make(map[string]any)
	flattenFields(reflect.ValueOf(def), "", fields)
	for _, name := range names {
		for key, val := range fields {
			v.SetDefault("profiles."+name+"."+key, val)
		}
	}
}

// flattenFields maps the mapstructure keys of a struct, dotted for nested
// structs, to their values. The name field is skipped.
func flattenFields(rv reflect.Value, prefix string, out map[string]any) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" || key == "name" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f := rv.Field(i); f.Kind() == reflect.Struct {
			flattenFields(f, key, out)
		} else {
			out[key] = f.Interface()
		}
	}
}

// applyProfileDefaults guarantees a "default" profile and names every
// profile after its key.
func (c *Config) applyProfileDefaults() {
	def := scoring.DefaultProfile()
	if c.Profiles == nil {
		c.Profiles = make(map[string]scoring.Profile)
	}
	if _, ok := c.Profiles[def.Name]; !ok {
		c.Profiles[def.Name] = def
	}
	for name, p := range c.Profiles {
		if p.Name == "" {
			p.Name = name
			c.Profiles[name] = p
		}
	}
}

// Profile returns the named profile. Profile names are case-insensitive.
func (c *Config) Profile(name string) (scoring.Profile, bool) {
	p, ok := c.Profiles[strings.ToLower(name)]
	return p, ok
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Service config
	if c.Service.PollInterval < 15*time.Second || c.Service.PollInterval > 30*time.Minute {
		return fmt.Errorf("service.poll_interval must be between 15s and 30m")
	}
	if c.Service.Workers < 1 {
		return fmt.Errorf("service.workers must be at least 1")
	}
	if c.Service.Cooldown < 0 {
		return fmt.Errorf("service.cooldown must not be negative")
	}
	if c.Service.CooldownOverrideDelta < 0 {
		return fmt.Errorf("service.cooldown_override_delta must not be negative")
	}
	if c.Service.HistorySize < 30 {
		return fmt.Errorf("service.history_size must be at least 30")
	}
	if c.Service.TrackerSize < 1 {
		return fmt.Errorf("service.tracker_size must be at least 1")
	}
	if _, err := time.LoadLocation(c.Service.Timezone); err != nil {
		return fmt.Errorf("service.timezone: %w", err)
	}

	// Validate profiles
	for name, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles.%s: %w", name, err)
		}
	}

	// Validate instruments
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments must contain at least one instrument")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("instruments[%d].name is required", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("instruments[%d]: duplicate instrument %s", i, inst.Name)
		}
		seen[inst.Name] = true
		if inst.StrikeStep <= 0 {
			return fmt.Errorf("instruments[%d].strike_step must be positive", i)
		}
		if inst.LotSize < 1 {
			return fmt.Errorf("instruments[%d].lot_size must be at least 1", i)
		}
		if _, ok := c.Profile(inst.Profile); !ok {
			return fmt.Errorf("instruments[%d]: unknown profile %q", i, inst.Profile)
		}
		switch c.Source.Type {
		case "simulated":
			if inst.BasePrice <= 0 {
				return fmt.Errorf("instruments[%d].base_price must be positive for the simulated source", i)
			}
		case "upstox":
			if inst.UpstoxKey == "" {
				return fmt.Errorf("instruments[%d].upstox_key is required for the upstox source", i)
			}
		}
	}

	// Validate Source config
	switch c.Source.Type {
	case "simulated":
	case "upstox":
		if c.Source.Upstox.BaseURL == "" {
			return fmt.Errorf("source.upstox.base_url is required")
		}
		if c.Source.Upstox.AccessToken == "" {
			return fmt.Errorf("source.upstox.access_token is required (set UPSTOX_ACCESS_TOKEN)")
		}
		if c.Source.Upstox.RequestsPerSec <= 0 {
			return fmt.Errorf("source.upstox.requests_per_sec must be positive")
		}
	default:
		return fmt.Errorf("source.type must be one of: simulated, upstox")
	}

	// Validate Simulator config
	if c.Simulator.MinProb < 0 || c.Simulator.MaxProb > 1 || c.Simulator.MinProb > c.Simulator.MaxProb {
		return fmt.Errorf("simulator probabilities must satisfy 0 <= min_prob <= max_prob <= 1")
	}
	if c.Simulator.Lots < 1 {
		return fmt.Errorf("simulator.lots must be at least 1")
	}

	// Validate Storage config
	if c.Storage.MaxRecords < 1 {
		return fmt.Errorf("storage.max_records must be at least 1")
	}

	// Validate Reporter config
	if c.Reporters.LogFile.Enabled && (c.Reporters.LogFile.CallsFile == "" || c.Reporters.LogFile.ResultsFile == "") {
		return fmt.Errorf("reporters.log_file.calls_file and results_file are required")
	}
	if c.Reporters.Telegram.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("reporters.telegram requires telegram.enabled")
	}
	if c.Reporters.Redis.Enabled && c.Reporters.Redis.Addr == "" {
		return fmt.Errorf("reporters.redis.addr is required when redis is enabled")
	}
	if c.Reporters.Kafka.Enabled && (len(c.Reporters.Kafka.Brokers) == 0 || c.Reporters.Kafka.Topic == "") {
		return fmt.Errorf("reporters.kafka.brokers and topic are required when kafka is enabled")
	}
	if c.Reporters.DailyReport.Enabled && c.Reporters.DailyReport.Prefix == "" {
		return fmt.Errorf("reporters.daily_report.prefix is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.FailureThreshold < 1 {
		return fmt.Errorf("telegram.failure_threshold must be at least 1")
	}

	// Validate API config
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when api is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location returns the configured reporting timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Service.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
