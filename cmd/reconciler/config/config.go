// Package config loads the settings of the reconciler binary from defaults,
// an optional config file, a .env file and RECONCILER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/api"
	"intercompany-reconciliation-service/internal/matcher"
	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable the binary reads
const EnvPrefix = "RECONCILER"

// Storage backends
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config is the full configuration of the binary
type Config struct {
	Server        ServerConfig           `mapstructure:"server"`
	Storage       StorageConfig          `mapstructure:"storage"`
	Matching      matcher.MatchingConfig `mapstructure:"matching"`
	Log           logger.Config          `mapstructure:"log"`
	RateLimit     RateLimitConfig        `mapstructure:"rate_limit"`
	Cache         CacheConfig            `mapstructure:"cache"`
	ExchangeRates map[string]string      `mapstructure:"exchange_rates"`
	NumberPrefix  string                 `mapstructure:"number_prefix"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// RateLimitConfig configures the token bucket in front of the API
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`
}

// CacheConfig configures the reconciliation snapshot cache
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	matching := matcher.DefaultMatchingConfig()
	service := reconciler.DefaultConfig()
	httpDefaults := api.DefaultConfig()
	log := logger.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", httpDefaults.MaxBodyBytes)

	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.path", "reconciler.db")

	v.SetDefault("matching.preset", matcher.PresetDefault)
	setMatchingDefaults(v, matching)

	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("log.disable_timestamp", log.DisableTimestamp)
	v.SetDefault("log.caller_info", log.CallerInfo)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.interval", httpDefaults.RateLimitInterval)
	v.SetDefault("rate_limit.burst", httpDefaults.RateLimitBurst)

	v.SetDefault("cache.ttl", service.CacheTTL)
	v.SetDefault("cache.cleanup_interval", service.CacheCleanupInterval)

	v.SetDefault("exchange_rates", map[string]string{})
	v.SetDefault("number_prefix", service.NumberPrefix)
}

// setMatchingDefaults makes the fields of preset the matching defaults, so
// explicitly configured keys still override them
func setMatchingDefaults(v *viper.Viper, preset *matcher.MatchingConfig) {
	v.SetDefault("matching.date_tolerance_days", preset.DateToleranceDays)
	v.SetDefault("matching.amount_precision", preset.AmountPrecision)
	v.SetDefault("matching.require_opposite_sides", preset.RequireOppositeSides)
	v.SetDefault("matching.max_candidates_per_transaction", preset.MaxCandidatesPerTransaction)
}

// LoadDotEnv loads a .env file into the process environment. A missing file
// is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Prepare wires defaults, the environment and the optional config file into v
func Prepare(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	preset, err := matcher.PresetMatchingConfig(v.GetString("matching.preset"))
	if err != nil {
		return nil, err
	}
	setMatchingDefaults(v, preset)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.ExchangeRates == nil {
		cfg.ExchangeRates = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for contradictory or missing values
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q: use %s or %s", c.Storage.Driver, StorageMemory, StorageSQLite)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Interval <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.interval and rate_limit.burst must be positive when rate limiting is enabled")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}
	if _, err := reconciler.NewStaticRates(c.ExchangeRates); err != nil {
		return fmt.Errorf("invalid exchange_rates: %w", err)
	}
	return c.ServiceConfig().Validate()
}

// ServiceConfig returns the reconciliation service settings
func (c *Config) ServiceConfig() *reconciler.Config {
	service := reconciler.DefaultConfig()
	matching := c.Matching
	service.Matching = &matching
	service.NumberPrefix = c.NumberPrefix
	service.CacheTTL = c.Cache.TTL
	service.CacheCleanupInterval = c.Cache.CleanupInterval
	return service
}

// APIConfig returns the HTTP layer settings
func (c *Config) APIConfig() *api.Config {
	cfg := &api.Config{MaxBodyBytes: c.Server.MaxBodyBytes}
	if c.RateLimit.Enabled {
		cfg.RateLimitInterval = c.RateLimit.Interval
		cfg.RateLimitBurst = c.RateLimit.Burst
	}
	return cfg
}

// Rates returns the configured exchange rates
func (c *Config) Rates() (reconciler.StaticRates, error) {
	return reconciler.NewStaticRates(c.ExchangeRates)
}
