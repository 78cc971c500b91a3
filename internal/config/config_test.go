// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 9222, cfg.Browser.PreferredPort)
	assert.Equal(t, 9222, cfg.Browser.PortRangeMin)
	assert.Equal(t, 9322, cfg.Browser.PortRangeMax)
	assert.Equal(t, 15*time.Second, cfg.Browser.StartupTimeout)
	assert.Equal(t, 3*time.Second, cfg.Browser.ShutdownGrace)

	assert.Equal(t, 10*time.Second, cfg.Network.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Network.CommandTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Network.WaitPollEvery)

	assert.Equal(t, 10, cfg.Crawler.MaxPages)
	assert.Equal(t, 2*time.Second, cfg.Crawler.SettleWait)
	assert.Equal(t, 2.0, cfg.Crawler.PagesPerSecond)

	assert.Equal(t, "screenshots", cfg.Screenshot.Dir)
	assert.Equal(t, 60, cfg.Screenshot.Quality)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
browser:
  headless: false
  preferred_port: 9300
  port_range_min: 9300
  port_range_max: 9310
crawler:
  max_pages: 50
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 9300, cfg.Browser.PreferredPort)
	assert.Equal(t, 50, cfg.Crawler.MaxPages)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Network.CommandTimeout)
	assert.Equal(t, 60, cfg.Screenshot.Quality)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "Defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "PortRangeOutsideTCPSpace",
			mutate:  func(c *Config) { c.Browser.PortRangeMax = 70000 },
			wantErr: "valid TCP port space",
		},
		{
			name:    "PortRangeMinZero",
			mutate:  func(c *Config) { c.Browser.PortRangeMin = 0 },
			wantErr: "valid TCP port space",
		},
		{
			name: "PortRangeInverted",
			mutate: func(c *Config) {
				c.Browser.PortRangeMin = 9300
				c.Browser.PortRangeMax = 9250
			},
			wantErr: "exceeds",
		},
		{
			name:    "ZeroInstances",
			mutate:  func(c *Config) { c.Browser.Instances = 0 },
			wantErr: "browser.instances",
		},
		{
			name:    "ZeroMaxPages",
			mutate:  func(c *Config) { c.Crawler.MaxPages = 0 },
			wantErr: "crawler.max_pages",
		},
		{
			name:    "QualityOutOfRange",
			mutate:  func(c *Config) { c.Screenshot.Quality = 101 },
			wantErr: "screenshot.quality",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("browser.instances", 0)

	_, err := Load(v)
	require.Error(t, err)
}
