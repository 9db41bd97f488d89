// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Instrument  InstrumentConfig  `mapstructure:"instrument" yaml:"instrument"`
	Scan        ScanConfig        `mapstructure:"scan" yaml:"scan"`
	Relay       RelayConfig       `mapstructure:"relay" yaml:"relay"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes how to reach the remote browser.
type BrowserConfig struct {
	ExecutablePath string        `mapstructure:"executable_path" yaml:"executable_path"`
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	TargetURL      string        `mapstructure:"target_url" yaml:"target_url"`
	ProfileDir     string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	Attach         bool          `mapstructure:"attach" yaml:"attach"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// InstrumentConfig controls how the scan engine gets into the page.
type InstrumentConfig struct {
	EnginePath      string        `mapstructure:"engine_path" yaml:"engine_path"`
	EngineURL       string        `mapstructure:"engine_url" yaml:"engine_url"`
	RootID          string        `mapstructure:"root_id" yaml:"root_id"`
	WaitForSentinel bool          `mapstructure:"wait_for_sentinel" yaml:"wait_for_sentinel"`
	SentinelTimeout time.Duration `mapstructure:"sentinel_timeout" yaml:"sentinel_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ScanConfig tunes a single scan run.
type ScanConfig struct {
	Tags    []string      `mapstructure:"tags" yaml:"tags"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RelayConfig configures the channel relay and its HTTP listener.
type RelayConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	TriggerEvent    string        `mapstructure:"trigger_event" yaml:"trigger_event"`
	ResultEvent     string        `mapstructure:"result_event" yaml:"result_event"`
	ErrorEvent      string        `mapstructure:"error_event" yaml:"error_event"`
	TriggerInterval time.Duration `mapstructure:"trigger_interval" yaml:"trigger_interval"`
	SubscriberBuf   int           `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// DiagnosticsConfig configures how findings are mapped back onto source files.
type DiagnosticsConfig struct {
	WorkspaceRoot string   `mapstructure:"workspace_root" yaml:"workspace_root"`
	Include       []string `mapstructure:"include" yaml:"include"`
	SARIFOutput   string   `mapstructure:"sarif_output" yaml:"sarif_output"`
	Source        string   `mapstructure:"source" yaml:"source"`
}

// MetricsConfig toggles the prometheus endpoint on the relay server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "a11y-bridge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.host", "127.0.0.1")
	v.SetDefault("browser.port", 9222)
	v.SetDefault("browser.target_url", "about:blank")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.attach", false)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Instrument --
	v.SetDefault("instrument.root_id", "insights-root")
	v.SetDefault("instrument.wait_for_sentinel", true)
	v.SetDefault("instrument.sentinel_timeout", "5s")
	v.SetDefault("instrument.poll_interval", "100ms")

	// -- Scan --
	v.SetDefault("scan.tags", []string{"wcag2a", "wcag21a", "wcag2aa", "wcag21aa"})
	v.SetDefault("scan.timeout", "60s")

	// -- Relay --
	v.SetDefault("relay.listen_addr", "127.0.0.1:7717")
	v.SetDefault("relay.trigger_event", "runAutomatedChecks")
	v.SetDefault("relay.result_event", "automatedChecksResults")
	v.SetDefault("relay.error_event", "automatedChecksError")
	v.SetDefault("relay.trigger_interval", "0s")
	v.SetDefault("relay.subscriber_buffer", 64)

	// -- Diagnostics --
	v.SetDefault("diagnostics.workspace_root", ".")
	v.SetDefault("diagnostics.include", []string{"**/*.html", "**/*.htm", "**/*.jsx", "**/*.tsx", "**/*.vue"})
	v.SetDefault("diagnostics.source", "a11y-bridge")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Instrument.Validate(); err != nil {
		return fmt.Errorf("instrument configuration invalid: %w", err)
	}
	if len(c.Scan.Tags) == 0 {
		return fmt.Errorf("scan.tags must name at least one rule tag")
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be a positive duration")
	}
	if strings.TrimSpace(c.Relay.TriggerEvent) == "" || strings.Contains(c.Relay.TriggerEvent, ":") {
		return fmt.Errorf("relay.trigger_event must be non-empty and must not contain ':'")
	}
	if c.Relay.TriggerInterval < 0 {
		return fmt.Errorf("relay.trigger_interval must not be negative")
	}
	return nil
}

// Validate checks the browser section.
func (b *BrowserConfig) Validate() error {
	if b.Port < 0 || b.Port > 65535 {
		return fmt.Errorf("port %d out of range", b.Port)
	}
	if b.Attach && b.Port == 0 {
		return fmt.Errorf("attach mode requires an explicit port")
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the instrument section.
func (i *InstrumentConfig) Validate() error {
	if i.RootID == "" {
		return fmt.Errorf("root_id is required")
	}
	if i.WaitForSentinel && i.SentinelTimeout <= 0 {
		return fmt.Errorf("sentinel_timeout must be positive when wait_for_sentinel is set")
	}
	if i.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}
