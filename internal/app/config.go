package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"
)

// envPrefix is stripped from environment variables before they are merged
// over the file config. A double underscore separates nesting levels, so
// RATESCOUT_PORTAL__PASSWORD overrides portal.password.
const envPrefix = "RATESCOUT_"

// Config holds all application configuration.
type Config struct {
	Portal  PortalConfig  `koanf:"portal" validate:"required"`
	Sheet   SheetConfig   `koanf:"sheet" validate:"required"`
	Browser BrowserConfig `koanf:"browser" validate:"required"`
	Scrape  ScrapeConfig  `koanf:"scrape"`
}

// PortalConfig holds affiliate-portal credentials and the expected store.
type PortalConfig struct {
	Email    string `koanf:"email" validate:"required,email"`
	Password string `koanf:"password" validate:"required"`
	// StoreID is the affiliate store identifier the session must have
	// selected. Empty skips the store check.
	StoreID string `koanf:"store_id"`
}

// SheetConfig identifies the spreadsheet acting as the work queue.
type SheetConfig struct {
	SpreadsheetID   string `koanf:"spreadsheet_id" validate:"required"`
	Worksheet       string `koanf:"worksheet" validate:"required"`
	CredentialsJSON string `koanf:"credentials_json" validate:"required"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	ChromePath string        `koanf:"chrome_path" validate:"required"`
	ProfileDir string        `koanf:"profile_dir"`
	Headless   bool          `koanf:"headless"`
	NoSandbox  bool          `koanf:"no_sandbox"`
	NavTimeout time.Duration `koanf:"nav_timeout"`
}

// ScrapeConfig holds the pipeline's timing and retry knobs. Zero values are
// replaced with defaults matching long-run operation against the live site.
type ScrapeConfig struct {
	Attempts       int           `koanf:"attempts"`
	ExtractBudget  time.Duration `koanf:"extract_budget"`
	ReloginBudget  time.Duration `koanf:"relogin_budget"`
	CycleInterval  time.Duration `koanf:"cycle_interval"`
	CrashCooldown  time.Duration `koanf:"crash_cooldown"`
	SessionRetries int           `koanf:"session_retries"`
	FlushEvery     int           `koanf:"flush_every"`
}

// Defaults applied by Load when the corresponding key is absent.
const (
	defaultNavTimeout     = 60 * time.Second
	defaultAttempts       = 2
	defaultExtractBudget  = 50 * time.Second
	defaultReloginBudget  = 40 * time.Second
	defaultCycleInterval  = 5 * time.Minute
	defaultCrashCooldown  = 5 * time.Second
	defaultSessionRetries = 3
	defaultFlushEvery     = 10
)

// Load reads configuration from a YAML file, merges environment overrides,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envKey maps RATESCOUT_PORTAL__PASSWORD to portal.password. Single
// underscores are preserved so keys like no_sandbox survive the mapping.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func applyDefaults(cfg *Config) {
	if cfg.Browser.NavTimeout == 0 {
		cfg.Browser.NavTimeout = defaultNavTimeout
	}
	if cfg.Scrape.Attempts == 0 {
		cfg.Scrape.Attempts = defaultAttempts
	}
	if cfg.Scrape.ExtractBudget == 0 {
		cfg.Scrape.ExtractBudget = defaultExtractBudget
	}
	if cfg.Scrape.ReloginBudget == 0 {
		cfg.Scrape.ReloginBudget = defaultReloginBudget
	}
	if cfg.Scrape.CycleInterval == 0 {
		cfg.Scrape.CycleInterval = defaultCycleInterval
	}
	if cfg.Scrape.CrashCooldown == 0 {
		cfg.Scrape.CrashCooldown = defaultCrashCooldown
	}
	if cfg.Scrape.SessionRetries == 0 {
		cfg.Scrape.SessionRetries = defaultSessionRetries
	}
	if cfg.Scrape.FlushEvery == 0 {
		cfg.Scrape.FlushEvery = defaultFlushEvery
	}
}

// ConfigFrom extracts the Config from the CLI command metadata.
func ConfigFrom(cmd *cli.Command) (*Config, error) {
	v, ok := cmd.Root().Metadata["config"]
	if !ok {
		return nil, fmt.Errorf("config not found in command metadata")
	}
	cfg, ok := v.(*Config)
	if !ok {
		return nil, fmt.Errorf("config has unexpected type %T", v)
	}
	return cfg, nil
}
