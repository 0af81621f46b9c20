// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Site        SiteConfig        `mapstructure:"site" yaml:"site"`
	Scraper     ScraperConfig     `mapstructure:"scraper" yaml:"scraper"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	// Credentials are sourced from the environment; they are never written
	// back to a config file.
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"-"`
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

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int      `mapstructure:"window_height" yaml:"window_height"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// StartupTimeout bounds the launch check that confirms the browser responds.
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// SiteConfig centralizes every URL and selector the scraper depends on.
// A markup change on the remote site is fixed here, not in code.
type SiteConfig struct {
	BaseURL       string         `mapstructure:"base_url" yaml:"base_url"`
	LoginPath     string         `mapstructure:"login_path" yaml:"login_path"`
	CategoryLabel string         `mapstructure:"category_label" yaml:"category_label"`
	Selectors     SelectorConfig `mapstructure:"selectors" yaml:"selectors"`
}

// SelectorConfig lists the DOM selectors used by the login and search flows.
// All are CSS selectors except CategoryTab, which is an XPath template that
// receives the category label through a single %s verb. The verb is replaced by
// a quoted XPath string literal, so the template must not quote it itself.
type SelectorConfig struct {
	AccountLink   string `mapstructure:"account_link" yaml:"account_link"`
	EmailInput    string `mapstructure:"email_input" yaml:"email_input"`
	PasswordInput string `mapstructure:"password_input" yaml:"password_input"`
	LoginSubmit   string `mapstructure:"login_submit" yaml:"login_submit"`
	SearchLink    string `mapstructure:"search_link" yaml:"search_link"`
	SearchInput   string `mapstructure:"search_input" yaml:"search_input"`
	CategoryTab   string `mapstructure:"category_tab" yaml:"category_tab"`
	ResultItem    string `mapstructure:"result_item" yaml:"result_item"`
	ItemName      string `mapstructure:"item_name" yaml:"item_name"`
	ItemPrice     string `mapstructure:"item_price" yaml:"item_price"`
	ItemImage     string `mapstructure:"item_image" yaml:"item_image"`
	// EmptyMarker, when set, is an element the site renders for a search with
	// no matches. Without it a zero result search can only end in a timeout.
	EmptyMarker string `mapstructure:"empty_marker" yaml:"empty_marker"`
}

// ScraperConfig tunes the bounded waits of the login and search sequences.
type ScraperConfig struct {
	PageLoadTimeout   time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	ResultsTimeout    time.Duration `mapstructure:"results_timeout" yaml:"results_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	MaxResults        int           `mapstructure:"max_results" yaml:"max_results"`
}

// SessionConfig locates the persisted cookie blob.
type SessionConfig struct {
	CookiePath string `mapstructure:"cookie_path" yaml:"cookie_path"`
}

// DiagnosticsConfig locates the failure screenshots.
type DiagnosticsConfig struct {
	LoginScreenshot  string `mapstructure:"login_screenshot" yaml:"login_screenshot"`
	SearchScreenshot string `mapstructure:"search_screenshot" yaml:"search_screenshot"`
}

// DatabaseConfig selects and locates the search history backend.
type DatabaseConfig struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	MaxBrowsers     int64         `mapstructure:"max_browsers" yaml:"max_browsers"`
	RatePerMinute   int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit" yaml:"history_limit"`
}

// CredentialsConfig is the account used for the credential login flow.
type CredentialsConfig struct {
	Email    string `mapstructure:"email" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// Present reports whether both halves of the credential pair are set.
func (c CredentialsConfig) Present() bool {
	return strings.TrimSpace(c.Email) != "" && c.Password != ""
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
	v.SetDefault("logger.service_name", "tcgscout")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.startup_timeout", "30s")

	// -- Site --
	v.SetDefault("site.base_url", "https://snkrdunk.com/en")
	v.SetDefault("site.login_path", "/login?slide=right")
	v.SetDefault("site.category_label", "Streetwear & TCG")
	v.SetDefault("site.selectors.account_link", "a[href='/en/account']")
	v.SetDefault("site.selectors.email_input", "#email")
	v.SetDefault("site.selectors.password_input", "#password")
	v.SetDefault("site.selectors.login_submit", "button.button-rc-bk[type='submit']")
	v.SetDefault("site.selectors.search_link", "a[href='/en/search']")
	v.SetDefault("site.selectors.search_input", "#search-field")
	v.SetDefault("site.selectors.category_tab", "//div[contains(text(), %s)]")
	v.SetDefault("site.selectors.result_item", "li.product__item")
	v.SetDefault("site.selectors.item_name", ".product__item-name")
	v.SetDefault("site.selectors.item_price", ".product__item-price")
	v.SetDefault("site.selectors.item_image", "img")
	v.SetDefault("site.selectors.empty_marker", "")

	// -- Scraper --
	v.SetDefault("scraper.page_load_timeout", "30s")
	v.SetDefault("scraper.element_timeout", "10s")
	v.SetDefault("scraper.login_timeout", "15s")
	v.SetDefault("scraper.results_timeout", "15s")
	v.SetDefault("scraper.settle_delay", "1s")
	v.SetDefault("scraper.screenshot_timeout", "10s")
	v.SetDefault("scraper.max_results", 10)

	// -- Session & Diagnostics --
	v.SetDefault("session.cookie_path", "cookies.json")
	v.SetDefault("diagnostics.login_screenshot", "login_error.png")
	v.SetDefault("diagnostics.search_screenshot", "search_error.png")

	// -- Database --
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "history.db")

	// -- Server --
	v.SetDefault("server.addr", ":5001")
	v.SetDefault("server.max_browsers", 1)
	v.SetDefault("server.rate_per_minute", 6)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.history_limit", 20)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. These names are shared
	// with deployments that predate the TCGSCOUT_ prefix.
	v.BindEnv("credentials.email", "SNKRDUNK_EMAIL")
	v.BindEnv("credentials.password", "SNKRDUNK_PASSWORD")
	v.BindEnv("database.url", "TCGSCOUT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every file path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.Session.CookiePath,
		&c.Diagnostics.LoginScreenshot,
		&c.Diagnostics.SearchScreenshot,
		&c.Database.Path,
		&c.Logger.LogFile,
		&c.Browser.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site configuration invalid: %w", err)
	}
	if err := c.Scraper.Validate(); err != nil {
		return fmt.Errorf("scraper configuration invalid: %w", err)
	}
	if c.Session.CookiePath == "" {
		return fmt.Errorf("session.cookie_path is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	if c.Server.MaxBrowsers <= 0 {
		return fmt.Errorf("server.max_browsers must be a positive integer")
	}
	if c.Server.RatePerMinute < 0 {
		return fmt.Errorf("server.rate_per_minute must not be negative")
	}
	return nil
}

// Validate checks the site URLs and selectors.
func (s *SiteConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", s.BaseURL)
	}
	if strings.TrimSpace(s.CategoryLabel) == "" {
		return fmt.Errorf("category_label is required")
	}
	if strings.Count(s.Selectors.CategoryTab, "%s") != 1 {
		return fmt.Errorf("selectors.category_tab must contain exactly one %%s verb")
	}
	required := map[string]string{
		"account_link":   s.Selectors.AccountLink,
		"email_input":    s.Selectors.EmailInput,
		"password_input": s.Selectors.PasswordInput,
		"login_submit":   s.Selectors.LoginSubmit,
		"search_link":    s.Selectors.SearchLink,
		"search_input":   s.Selectors.SearchInput,
		"result_item":    s.Selectors.ResultItem,
		"item_name":      s.Selectors.ItemName,
		"item_price":     s.Selectors.ItemPrice,
		"item_image":     s.Selectors.ItemImage,
	}
	for name, sel := range required {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("selectors.%s is required", name)
		}
	}
	return nil
}

// HomeURL returns the site root the scraper navigates to.
func (s *SiteConfig) HomeURL() string {
	return strings.TrimRight(s.BaseURL, "/")
}

// LoginURL returns the credential form URL.
func (s *SiteConfig) LoginURL() string {
	return s.HomeURL() + s.LoginPath
}

// CategoryTabXPath renders the category tab selector for the configured label.
// A template that still wraps the verb in quotes is accepted.
func (s *SiteConfig) CategoryTabXPath() string {
	tmpl := strings.NewReplacer(`'%s'`, "%s", `"%s"`, "%s").Replace(s.Selectors.CategoryTab)
	return fmt.Sprintf(tmpl, xpathLiteral(s.CategoryLabel))
}

// xpathLiteral quotes v as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value holding both quote kinds is built with concat().
func xpathLiteral(v string) string {
	switch {
	case !strings.Contains(v, "'"):
		return "'" + v + "'"
	case !strings.Contains(v, `"`):
		return `"` + v + `"`
	}
	parts := strings.Split(v, "'")
	args := make([]string, 0, 2*len(parts))
	for i, part := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if part != "" {
			args = append(args, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// Validate checks the scraper timeouts.
func (s *ScraperConfig) Validate() error {
	durations := map[string]time.Duration{
		"page_load_timeout": s.PageLoadTimeout,
		"element_timeout":   s.ElementTimeout,
		"login_timeout":     s.LoginTimeout,
		"results_timeout":   s.ResultsTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("max_results must be a positive integer")
	}
	return nil
}

// Validate checks the history backend selection.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", d.Driver)
	}
	return nil
}
