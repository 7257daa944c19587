package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://www.revolico.com", cfg.Scraper.BaseURL)
	assert.Equal(t, 3, cfg.Scraper.MaxListings)
	assert.Equal(t, 3*time.Second, cfg.Scraper.MinDelay)
	assert.Equal(t, 8*time.Second, cfg.Scraper.MaxDelay)
	assert.Equal(t, 20*time.Second, cfg.Scraper.RequestTimeout)
	assert.Equal(t, 3, cfg.Scraper.Attempts())
	assert.Equal(t, "revolico_data.json", cfg.Scraper.OutputFile)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 100, cfg.WhatsApp.DailyLimit)
	assert.NotEmpty(t, cfg.Scraper.UserAgents)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SCRAPER_MAX_LISTINGS", "7")
	t.Setenv("SCRAPER_MIN_DELAY", "1s")
	t.Setenv("SCRAPER_MAX_DELAY", "2s")
	t.Setenv("SCRAPER_PROXIES", "10.0.0.1:8080, socks5://10.0.0.2:1080")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scraper.MaxListings)
	assert.Equal(t, time.Second, cfg.Scraper.MinDelay)
	assert.Equal(t, 2*time.Second, cfg.Scraper.MaxDelay)
	assert.Equal(t, []string{"10.0.0.1:8080", "socks5://10.0.0.2:1080"}, cfg.Proxy.Proxies)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, int64(-100123), cfg.Notify.TelegramChatID)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scraper:
  max_listings: 5
  min_delay: 500ms
  max_delay: 1s
  user_agents:
    - "test-agent/1.0"
proxy:
  proxies:
    - "127.0.0.1:3128"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SCRAPER_MAX_LISTINGS", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Scraper.MaxListings, "environment wins over file")
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.MinDelay)
	assert.Equal(t, []string{"test-agent/1.0"}, cfg.Scraper.UserAgents)
	assert.Equal(t, []string{"127.0.0.1:3128"}, cfg.Proxy.Proxies)
	assert.Equal(t, "https://www.revolico.com", cfg.Scraper.BaseURL, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad base url", func(c *Config) { c.Scraper.BaseURL = "not a url" }},
		{"bad mode", func(c *Config) { c.Scraper.Mode = "carrier-pigeon" }},
		{"no listings", func(c *Config) { c.Scraper.MaxListings = 0 }},
		{"inverted delays", func(c *Config) { c.Scraper.MinDelay = 10 * time.Second }},
		{"negative retries", func(c *Config) { c.Scraper.MaxRetries = -1 }},
		{"shrinking backoff", func(c *Config) { c.Scraper.BackoffFactor = 0.5 }},
		{"no user agents", func(c *Config) { c.Scraper.UserAgents = nil }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"inverted message delays", func(c *Config) { c.WhatsApp.MinMessageDelay = time.Hour }},
		{"zero daily limit", func(c *Config) { c.WhatsApp.DailyLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

func TestBaseURLs(t *testing.T) {
	cfg := Default().Scraper
	cfg.AlternativeURLs = []string{"https://m.revolico.com", "", cfg.BaseURL}

	assert.Equal(t, []string{"https://www.revolico.com", "https://m.revolico.com"}, cfg.BaseURLs())
}
