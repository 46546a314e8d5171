// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MLSEC_ANALYSIS_WORKERS.
const EnvPrefix = "MLSEC"

// Interface defines the contract for accessing application configuration.
// Commands depend on it so tests can hand in a hand-built config.
type Interface interface {
	Logger() LoggerConfig
	Analysis() AnalysisConfig
	Capability() CapabilityConfig
	Database() DatabaseConfig
	Metrics() MetricsConfig
	Watch() WatchConfig

	SetAnalysisWorkers(int)
	SetAnalysisCacheEnabled(bool)
	SetDatabaseURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	AnalysisCfg   AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	CapabilityCfg CapabilityConfig `mapstructure:"capability" yaml:"capability"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	WatchCfg      WatchConfig      `mapstructure:"watch" yaml:"watch"`
}

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Analysis() AnalysisConfig     { return c.AnalysisCfg }
func (c *Config) Capability() CapabilityConfig { return c.CapabilityCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }
func (c *Config) Watch() WatchConfig           { return c.WatchCfg }

func (c *Config) SetAnalysisWorkers(n int)       { c.AnalysisCfg.Workers = n }
func (c *Config) SetAnalysisCacheEnabled(b bool) { c.AnalysisCfg.CacheEnabled = b }
func (c *Config) SetDatabaseURL(url string)      { c.DatabaseCfg.URL = url }

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color for each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// AnalysisConfig tunes the static analysis pipeline.
type AnalysisConfig struct {
	// Workers bounds the parallel coordinator's task pool.
	Workers      int  `mapstructure:"workers" yaml:"workers"`
	CacheEnabled bool `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	// NodeBudget caps the information collector's walk; 0 means unlimited.
	NodeBudget int `mapstructure:"node_budget" yaml:"node_budget"`
	// FailOn is the lowest threat level that makes `analyze` exit non-zero.
	FailOn string `mapstructure:"fail_on" yaml:"fail_on"`
}

// CapabilityConfig locates the runtime capability policy.
type CapabilityConfig struct {
	PolicyFile     string `mapstructure:"policy_file" yaml:"policy_file"`
	DefaultContext string `mapstructure:"default_context" yaml:"default_context"`
}

// DatabaseConfig holds the Postgres connection string for persisted reports.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	// Extensions lists the file suffixes that trigger re-analysis.
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	// RateLimit caps re-analyses per second across all files. Zero disables the cap.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mlsec")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Analysis --
	v.SetDefault("analysis.workers", 3)
	v.SetDefault("analysis.cache_enabled", true)
	v.SetDefault("analysis.node_budget", 0)
	v.SetDefault("analysis.fail_on", "HIGH")

	// -- Capability --
	v.SetDefault("capability.policy_file", "")
	v.SetDefault("capability.default_context", "default")

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")

	// -- Watch --
	v.SetDefault("watch.debounce", "250ms")
	v.SetDefault("watch.extensions", []string{".ml"})
	v.SetDefault("watch.rate_limit", 10.0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables (MLSEC_SECTION_KEY) override file values.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows; the DSN is often unset in files.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LoggerCfg.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.LoggerCfg.Format)
	}
	if err := c.AnalysisCfg.Validate(); err != nil {
		return fmt.Errorf("analysis configuration invalid: %w", err)
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	if c.WatchCfg.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.WatchCfg.RateLimit < 0 {
		return fmt.Errorf("watch.rate_limit must not be negative")
	}
	return nil
}

// Validate checks the analysis settings.
func (a *AnalysisConfig) Validate() error {
	if a.Workers <= 0 {
		return fmt.Errorf("workers must be a positive integer")
	}
	if a.NodeBudget < 0 {
		return fmt.Errorf("node_budget must not be negative")
	}
	switch strings.ToUpper(a.FailOn) {
	case "", "NONE", "INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("fail_on must be one of NONE, INFO, LOW, MEDIUM, HIGH, CRITICAL")
	}
	return nil
}
