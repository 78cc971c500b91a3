// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Crawler    CrawlerConfig    `mapstructure:"crawler" yaml:"crawler"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot" yaml:"screenshot"`
}

// LoggerConfig controls the zap logger and optional rotating log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures how browser instances are spawned and tracked.
// Precedence for every knob is: explicit argument > environment > default.
type BrowserConfig struct {
	// ExecPath overrides binary discovery. Empty means probe the usual
	// Chrome/Chromium locations.
	ExecPath      string   `mapstructure:"exec_path" yaml:"exec_path"`
	Headless      bool     `mapstructure:"headless" yaml:"headless"`
	PreferredPort int      `mapstructure:"preferred_port" yaml:"preferred_port"`
	PortRangeMin  int      `mapstructure:"port_range_min" yaml:"port_range_min"`
	PortRangeMax  int      `mapstructure:"port_range_max" yaml:"port_range_max"`
	Instances     int      `mapstructure:"instances" yaml:"instances"`
	ExtraArgs     []string `mapstructure:"extra_args" yaml:"extra_args"`

	// StartupTimeout bounds the wait for the debugging endpoint to answer.
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	// ShutdownGrace is how long Stop waits for a graceful exit before killing.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// NetworkConfig bounds the transport and action layers.
type NetworkConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	WaitPollEvery  time.Duration `mapstructure:"wait_poll_every" yaml:"wait_poll_every"`
}

// CrawlerConfig bounds site discovery.
type CrawlerConfig struct {
	MaxPages   int           `mapstructure:"max_pages" yaml:"max_pages"`
	SettleWait time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	// PagesPerSecond paces navigation so small sites are not hammered.
	PagesPerSecond float64 `mapstructure:"pages_per_second" yaml:"pages_per_second"`
}

// ScreenshotConfig controls where captures land and how they are encoded.
type ScreenshotConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Quality applies to the default jpeg encoding.
	Quality int `mapstructure:"quality" yaml:"quality"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browserpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Browser
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.preferred_port", 9222)
	v.SetDefault("browser.port_range_min", 9222)
	v.SetDefault("browser.port_range_max", 9322)
	v.SetDefault("browser.instances", 1)
	v.SetDefault("browser.startup_timeout", "15s")
	v.SetDefault("browser.shutdown_grace", "3s")

	// Network
	v.SetDefault("network.connect_timeout", "10s")
	v.SetDefault("network.command_timeout", "30s")
	v.SetDefault("network.wait_poll_every", "250ms")

	// Crawler
	v.SetDefault("crawler.max_pages", 10)
	v.SetDefault("crawler.settle_wait", "2s")
	v.SetDefault("crawler.pages_per_second", 2.0)

	// Screenshot
	v.SetDefault("screenshot.dir", "screenshots")
	v.SetDefault("screenshot.quality", 60)
}

// Load unmarshals the viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig returns a Config populated purely from defaults.
// Primarily useful for tests and library consumers that bypass the CLI.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// Defaults are static; failing to load them is a programming error.
		panic(err)
	}
	return cfg
}

// Validate rejects configurations that can never work.
func (c *Config) Validate() error {
	if c.Browser.PortRangeMin <= 0 || c.Browser.PortRangeMax > 65535 {
		return fmt.Errorf("browser.port_range [%d, %d] is outside the valid TCP port space",
			c.Browser.PortRangeMin, c.Browser.PortRangeMax)
	}
	if c.Browser.PortRangeMin > c.Browser.PortRangeMax {
		return fmt.Errorf("browser.port_range_min %d exceeds browser.port_range_max %d",
			c.Browser.PortRangeMin, c.Browser.PortRangeMax)
	}
	if c.Browser.Instances < 1 {
		return fmt.Errorf("browser.instances must be at least 1, got %d", c.Browser.Instances)
	}
	if c.Crawler.MaxPages < 1 {
		return fmt.Errorf("crawler.max_pages must be at least 1, got %d", c.Crawler.MaxPages)
	}
	if c.Screenshot.Quality < 1 || c.Screenshot.Quality > 100 {
		return fmt.Errorf("screenshot.quality must be in [1, 100], got %d", c.Screenshot.Quality)
	}
	return nil
}
