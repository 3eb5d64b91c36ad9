package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Source     SourceConfig     `mapstructure:"source"`
	Sync       SyncConfig       `mapstructure:"sync"`
	History    HistoryConfig    `mapstructure:"history"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Collector  CollectorConfig  `mapstructure:"collector"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig holds local persistence configuration
type StoreConfig struct {
	Type       string `mapstructure:"type"` // "memory", "redis" or "sqlite"
	RedisURL   string `mapstructure:"redis_url"`
	SQLitePath string `mapstructure:"sqlite_path"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// RemoteConfig holds the remote persistence API configuration
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	UserID            string        `mapstructure:"user_id"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SourceConfig holds the upstream snippet feed configuration
type SourceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SyncConfig holds reconciliation and queue replay configuration
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	PushOnObserve bool          `mapstructure:"push_on_observe"`
}

// HistoryConfig holds position history configuration
type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// ExtractionConfig holds sales-signal extraction configuration
type ExtractionConfig struct {
	UpliftPercent int   `mapstructure:"uplift_percent"`
	MinCount      int64 `mapstructure:"min_count"`
	MaxCount      int64 `mapstructure:"max_count"`
	Debug         bool  `mapstructure:"debug"`
}

// CollectorConfig holds multi-page collection configuration
type CollectorConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	MaxPages   int           `mapstructure:"max_pages"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shelfsignal/")

	// Environment variable settings
	v.SetEnvPrefix("SHELFSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile exports the variables of a local .env file, if there is one.
// Variables already set in the environment win.
func loadEnvFile() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*"})

	// Store defaults
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.sqlite_path", "data/shelfsignal.db")
	v.SetDefault("store.key_prefix", "shelfsignal:")

	// Remote defaults
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.user_id", "")
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.requests_per_second", 5)
	v.SetDefault("remote.burst", 5)

	// Snippet feed defaults
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.timeout", "15s")
	v.SetDefault("source.requests_per_second", 2)

	// Sync defaults
	v.SetDefault("sync.interval", "1m")
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.base_backoff", "500ms")
	v.SetDefault("sync.max_backoff", "4s")
	v.SetDefault("sync.push_on_observe", true)

	// History defaults
	v.SetDefault("history.max_entries", 30)

	// Extraction defaults
	v.SetDefault("extraction.uplift_percent", 10)
	v.SetDefault("extraction.min_count", 1)
	v.SetDefault("extraction.max_count", 50_000_000)
	v.SetDefault("extraction.debug", false)

	// Collector defaults
	v.SetDefault("collector.batch_size", 5)
	v.SetDefault("collector.batch_delay", "1500ms")
	v.SetDefault("collector.max_pages", 20)
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.Store.Type {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("store type must be 'memory', 'redis' or 'sqlite', got: %s", config.Store.Type)
	}

	if config.Store.Type == "redis" && config.Store.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when store type is 'redis'")
	}

	if config.Store.Type == "sqlite" && config.Store.SQLitePath == "" {
		return fmt.Errorf("SQLite path is required when store type is 'sqlite'")
	}

	if config.Remote.BaseURL != "" && config.Remote.UserID == "" {
		return fmt.Errorf("remote user id is required when a remote base URL is set (set SHELFSIGNAL_REMOTE_USER_ID)")
	}

	if config.History.MaxEntries <= 0 {
		return fmt.Errorf("history max entries must be positive, got: %d", config.History.MaxEntries)
	}

	if config.Extraction.UpliftPercent < 0 || config.Extraction.UpliftPercent > 100 {
		return fmt.Errorf("extraction uplift percent must be between 0 and 100, got: %d", config.Extraction.UpliftPercent)
	}

	if config.Extraction.MinCount < 0 || config.Extraction.MaxCount < config.Extraction.MinCount {
		return fmt.Errorf("extraction count window [%d, %d] is invalid", config.Extraction.MinCount, config.Extraction.MaxCount)
	}

	if config.Collector.BatchSize <= 0 || config.Collector.MaxPages <= 0 {
		return fmt.Errorf("collector batch size and max pages must be positive")
	}

	if config.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync max attempts must be positive, got: %d", config.Sync.MaxAttempts)
	}

	return nil
}
