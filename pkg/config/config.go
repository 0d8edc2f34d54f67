// Package config provides configuration management for the profiler
// daemon: a viper-loaded, mapstructure-tagged Config with validated
// defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the profilerd daemon.
type Config struct {
	Profiler     ProfilerConfig     `mapstructure:"profiler"`
	Destinations DestinationsConfig `mapstructure:"destinations"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	ControlAPI   ControlAPIConfig   `mapstructure:"control_api"`
	Log          LogConfig          `mapstructure:"log"`
}

// ProfilerConfig mirrors pkg/profiler.Config's seven spec-level keys
// plus the operational knobs (elided prefixes, self-profiling).
type ProfilerConfig struct {
	SourceName                string        `mapstructure:"source_name"`
	SimultaneousTasksProfiled int           `mapstructure:"simultaneous_tasks_profiled"`
	MaxOverhead               float64       `mapstructure:"max_overhead"`
	TimeGranularity           time.Duration `mapstructure:"time_granularity"`
	CodeGranularity           string        `mapstructure:"code_granularity"`
	StoreAllLogs              bool          `mapstructure:"store_all_logs"`
	MaxActionsPerRun          int           `mapstructure:"max_actions_per_run"`
	ElidedPrefixes            []string      `mapstructure:"elided_prefixes"`
	SelfProfile               bool          `mapstructure:"self_profile"`
}

// DestinationsConfig configures every enabled destination sink. Each
// sub-struct's Enabled flag controls whether that sink is wired into
// the fan-out; File is on by default.
type DestinationsConfig struct {
	File      FileDestinationConfig      `mapstructure:"file"`
	Socket    SocketDestinationConfig    `mapstructure:"socket"`
	WebSocket WebSocketDestinationConfig `mapstructure:"websocket"`
	OTel      OTelDestinationConfig      `mapstructure:"otel"`
	COS       COSDestinationConfig       `mapstructure:"cos"`
}

// FileDestinationConfig configures the rotating JSON-lines file sink.
type FileDestinationConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	Compress    bool   `mapstructure:"compress"`
	NoFlush     bool   `mapstructure:"no_flush"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
}

// SocketDestinationConfig configures the TCP streaming sink.
type SocketDestinationConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Compress bool   `mapstructure:"compress"` // snappy-frames each record
}

// WebSocketDestinationConfig configures the live-tail sink.
type WebSocketDestinationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// OTelDestinationConfig configures the span-tree exporter sink.
type OTelDestinationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// COSDestinationConfig configures the Tencent COS archival sink.
type COSDestinationConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Compress  bool   `mapstructure:"compress"`
}

// DatabaseConfig holds the run registry's database connection
// configuration (internal/repository.DBConfig is built from this).
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres, or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// TelemetryConfig toggles OpenTelemetry tracing; the detailed exporter
// settings are read from OTEL_* environment variables by
// pkg/telemetry.LoadFromEnv, keeping OTel configuration out of the
// YAML tree.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ControlAPIConfig configures the chi-based status/stats/health server.
type ControlAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text, text uses ZerologLogger's console writer
}

// Load reads configuration from the specified file path, falling back
// to defaults when no file is present.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/profilomatic")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profiler.source_name", "")
	v.SetDefault("profiler.simultaneous_tasks_profiled", 10)
	v.SetDefault("profiler.max_overhead", 0.02)
	v.SetDefault("profiler.time_granularity", 100*time.Millisecond)
	v.SetDefault("profiler.code_granularity", "line")
	v.SetDefault("profiler.store_all_logs", false)
	v.SetDefault("profiler.max_actions_per_run", 0)
	v.SetDefault("profiler.self_profile", false)

	v.SetDefault("destinations.file.enabled", true)
	v.SetDefault("destinations.file.path", "./profiles")
	v.SetDefault("destinations.file.compress", false)
	v.SetDefault("destinations.file.max_size_mb", 100)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.database", "profilomatic.db")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("control_api.enabled", true)
	v.SetDefault("control_api.address", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Profiler.SimultaneousTasksProfiled < 1 {
		return fmt.Errorf("profiler.simultaneous_tasks_profiled must be >= 1")
	}
	if c.Profiler.MaxOverhead <= 0 || c.Profiler.MaxOverhead > 1 {
		return fmt.Errorf("profiler.max_overhead must be in (0,1]")
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql", "":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}
