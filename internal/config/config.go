// Package config loads and validates extractor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

// Browser engines.
const (
	EngineHeadless = "headless"
	EngineDirect   = "direct"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Canonical CanonicalConfig `mapstructure:"canonical"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Detector  DetectorConfig  `mapstructure:"detector"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the session provider.
type BrowserConfig struct {
	Engine            string   `mapstructure:"engine"`
	MaxParallel       int      `mapstructure:"max_parallel"`
	Headless          bool     `mapstructure:"headless"`
	NoSandbox         bool     `mapstructure:"no_sandbox"`
	ExecPath          string   `mapstructure:"exec_path"`
	UserAgent         string   `mapstructure:"user_agent"`
	Locale            string   `mapstructure:"locale"`
	Timezone          string   `mapstructure:"timezone"`
	SettleMs          int      `mapstructure:"settle_ms"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	Proxies           []string `mapstructure:"proxies"`
	DomainQPS         float64  `mapstructure:"domain_qps"`
	DomainBurst       int      `mapstructure:"domain_burst"`
}

// CanonicalConfig selects the thread URL canonicalization policy.
type CanonicalConfig struct {
	ForceHost   string `mapstructure:"force_host"`
	StrictParse bool   `mapstructure:"strict_parse"`
}

// ExtractConfig bounds individual fetches and error previews.
type ExtractConfig struct {
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
	PreviewLimit        int `mapstructure:"preview_limit"`
}

// ListingConfig governs review listing pagination and extraction.
type ListingConfig struct {
	Host            string                   `mapstructure:"host"`
	DefaultPages    int                      `mapstructure:"default_pages"`
	MaxPages        int                      `mapstructure:"max_pages"`
	MaxCardsPerPage int                      `mapstructure:"max_cards_per_page"`
	BlockPolicy     string                   `mapstructure:"block_policy"`
	Selectors       extract.ListingSelectors `mapstructure:"selectors"`
}

// DetectorConfig tunes block page heuristics.
type DetectorConfig struct {
	ChallengeSelectors []string `mapstructure:"challenge_selectors"`
	TitleMarkers       []string `mapstructure:"title_markers"`
}

// Load builds a Config from disk/environment. An empty path searches the usual
// locations for config.yaml and tolerates its absence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "EXTRACTOR_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/extractor/")
		v.AddConfigPath("$HOME/.extractor")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("browser.engine", EngineHeadless)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.settle_ms", 500)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.proxies", []string{})
	v.SetDefault("browser.domain_qps", 0)
	v.SetDefault("browser.domain_burst", 1)

	v.SetDefault("canonical.force_host", extract.DefaultThreadHost)
	v.SetDefault("canonical.strict_parse", true)

	v.SetDefault("extract.fetch_timeout_seconds", 60)
	v.SetDefault("extract.preview_limit", extract.DefaultPreviewLimit)

	selectors := extract.DefaultListingSelectors()
	v.SetDefault("listing.host", extract.DefaultListingHost)
	v.SetDefault("listing.default_pages", extract.DefaultPageLimit)
	v.SetDefault("listing.max_pages", extract.MaxPageLimit)
	v.SetDefault("listing.max_cards_per_page", extract.DefaultMaxCardsPerPage)
	v.SetDefault("listing.block_policy", string(extract.BlockAbort))
	v.SetDefault("listing.selectors.card", selectors.Card)
	v.SetDefault("listing.selectors.reviewer", selectors.Reviewer)
	v.SetDefault("listing.selectors.rating", selectors.Rating)
	v.SetDefault("listing.selectors.date", selectors.Date)
	v.SetDefault("listing.selectors.title", selectors.Title)
	v.SetDefault("listing.selectors.body", selectors.Body)
	v.SetDefault("listing.selectors.product_title", selectors.ProductTitle)

	v.SetDefault("detector.challenge_selectors", extract.DefaultChallengeSelectors)
	v.SetDefault("detector.title_markers", extract.DefaultTitleMarkers)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Browser.Engine {
	case EngineHeadless, EngineDirect:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineHeadless, EngineDirect, c.Browser.Engine)
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.Browser.DomainQPS < 0 {
		return fmt.Errorf("browser.domain_qps must be >= 0")
	}
	if c.Extract.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("extract.fetch_timeout_seconds must be > 0")
	}
	if c.Listing.MaxPages <= 0 {
		return fmt.Errorf("listing.max_pages must be > 0")
	}
	if c.Listing.DefaultPages <= 0 || c.Listing.DefaultPages > c.Listing.MaxPages {
		return fmt.Errorf("listing.default_pages must be between 1 and listing.max_pages")
	}
	if _, err := extract.ParseBlockPolicy(c.Listing.BlockPolicy); err != nil {
		return fmt.Errorf("listing.block_policy: %w", err)
	}
	return nil
}

// RequestTimeout is the end-to-end budget of one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// NavTimeout bounds a single browser navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// Settle is the pause after the document is ready.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Browser.SettleMs) * time.Millisecond
}

// ExtractOptions converts the configuration into orchestrator options.
func (c Config) ExtractOptions() extract.Options {
	policy, err := extract.ParseBlockPolicy(c.Listing.BlockPolicy)
	if err != nil {
		policy = extract.BlockAbort
	}
	return extract.Options{
		Canonical: extract.CanonicalOptions{
			ForceHost:   c.Canonical.ForceHost,
			StrictParse: c.Canonical.StrictParse,
			ListingHost: c.Listing.Host,
		},
		Selectors:    c.Listing.Selectors,
		MaxCards:     c.Listing.MaxCardsPerPage,
		BlockPolicy:  policy,
		FetchTimeout: time.Duration(c.Extract.FetchTimeoutSeconds) * time.Second,
		PreviewLimit: c.Extract.PreviewLimit,
		DefaultPages: c.Listing.DefaultPages,
		MaxPages:     c.Listing.MaxPages,
	}
}
