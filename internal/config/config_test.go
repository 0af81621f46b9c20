// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "https://snkrdunk.com/en", cfg.Site.BaseURL)
	assert.Equal(t, "a[href='/en/account']", cfg.Site.Selectors.AccountLink)
	assert.Equal(t, "li.product__item", cfg.Site.Selectors.ResultItem)
	assert.Equal(t, 30*time.Second, cfg.Scraper.PageLoadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Scraper.ElementTimeout)
	assert.Equal(t, 15*time.Second, cfg.Scraper.LoginTimeout)
	assert.Equal(t, time.Second, cfg.Scraper.SettleDelay)
	assert.Equal(t, 10, cfg.Scraper.MaxResults)
	assert.Equal(t, "cookies.json", cfg.Session.CookiePath)
	assert.Equal(t, "login_error.png", cfg.Diagnostics.LoginScreenshot)
	assert.Equal(t, "search_error.png", cfg.Diagnostics.SearchScreenshot)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":5001", cfg.Server.Addr)
	assert.EqualValues(t, 1, cfg.Server.MaxBrowsers)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestSiteURLs(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "https://snkrdunk.com/en", cfg.Site.HomeURL())
	assert.Equal(t, "https://snkrdunk.com/en/login?slide=right", cfg.Site.LoginURL())
	assert.Equal(t, "//div[contains(text(), 'Streetwear & TCG')]", cfg.Site.CategoryTabXPath())

	cfg.Site.BaseURL = "https://snkrdunk.com/en/"
	cfg.Site.CategoryLabel = "Sneakers"
	assert.Equal(t, "https://snkrdunk.com/en", cfg.Site.HomeURL(), "trailing slash is trimmed")
	assert.Equal(t, "//div[contains(text(), 'Sneakers')]", cfg.Site.CategoryTabXPath())
}

func TestCategoryTabXPath_QuotesLabel(t *testing.T) {
	tests := []struct {
		name     string
		template string
		label    string
		want     string
	}{
		{"plain", "//div[contains(text(), %s)]", "Sneakers", `//div[contains(text(), 'Sneakers')]`},
		{"apostrophe", "//div[contains(text(), %s)]", "Collector's Items", `//div[contains(text(), "Collector's Items")]`},
		{"both quotes", "//div[contains(text(), %s)]", `Kid's "Best"`, `//div[contains(text(), concat('Kid', "'", 's "Best"'))]`},
		{"leading apostrophe", "//div[contains(text(), %s)]", `'90s "Vintage"`, `//div[contains(text(), concat("'", '90s "Vintage"'))]`},
		{"single quoted template", "//div[contains(text(), '%s')]", "Collector's Items", `//div[contains(text(), "Collector's Items")]`},
		{"double quoted template", `//div[.="%s"]`, "Sneakers", `//div[.='Sneakers']`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := SiteConfig{CategoryLabel: tt.label}
			site.Selectors.CategoryTab = tt.template
			assert.Equal(t, tt.want, site.CategoryTabXPath())
		})
	}
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"relative base url", func(c *Config) { c.Site.BaseURL = "/en" }, "base_url must be an absolute URL"},
		{"empty label", func(c *Config) { c.Site.CategoryLabel = " " }, "category_label is required"},
		{"tab without verb", func(c *Config) { c.Site.Selectors.CategoryTab = "//div" }, "exactly one %s verb"},
		{"missing selector", func(c *Config) { c.Site.Selectors.ResultItem = "" }, "selectors.result_item is required"},
		{"zero timeout", func(c *Config) { c.Scraper.LoginTimeout = 0 }, "login_timeout must be a positive duration"},
		{"negative settle", func(c *Config) { c.Scraper.SettleDelay = -time.Second }, "settle_delay must not be negative"},
		{"zero max results", func(c *Config) { c.Scraper.MaxResults = 0 }, "max_results must be a positive integer"},
		{"no cookie path", func(c *Config) { c.Session.CookiePath = "" }, "session.cookie_path is required"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "database.url is required"},
		{"zero browsers", func(c *Config) { c.Server.MaxBrowsers = 0 }, "server.max_browsers must be a positive integer"},
		{"negative rate", func(c *Config) { c.Server.RatePerMinute = -1 }, "rate_per_minute must not be negative"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCredentialsPresent(t *testing.T) {
	assert.False(t, CredentialsConfig{}.Present())
	assert.False(t, CredentialsConfig{Email: "a@b.c"}.Present())
	assert.False(t, CredentialsConfig{Email: "  ", Password: "x"}.Present())
	assert.True(t, CredentialsConfig{Email: "a@b.c", Password: "x"}.Present())
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlConfig := []byte(`
site:
  category_label: "トレカ"
scraper:
  max_results: 25
  settle_delay: 250ms
database:
  driver: postgres
  url: postgres://scout@localhost/tcgscout
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "トレカ", cfg.Site.CategoryLabel)
		assert.Equal(t, 25, cfg.Scraper.MaxResults)
		assert.Equal(t, 250*time.Millisecond, cfg.Scraper.SettleDelay)
		assert.Equal(t, "postgres", cfg.Database.Driver)
	})

	t.Run("credentials come from the environment", func(t *testing.T) {
		t.Setenv("SNKRDUNK_EMAIL", "collector@example.com")
		t.Setenv("SNKRDUNK_PASSWORD", "hunter2")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "collector@example.com", cfg.Credentials.Email)
		assert.Equal(t, "hunter2", cfg.Credentials.Password)
		assert.True(t, cfg.Credentials.Present())
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("scraper.max_results", -3)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("home directory is expanded", func(t *testing.T) {
		home, err := homedir.Dir()
		require.NoError(t, err)

		v := viper.New()
		SetDefaults(v)
		v.Set("session.cookie_path", "~/.tcgscout/cookies.json")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".tcgscout", "cookies.json"), cfg.Session.CookiePath)
	})
}
