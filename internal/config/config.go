package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "Europe/Brussels"
	defaultLocale        = "en"
	defaultRefreshCron   = "0 */6 * * *"
	defaultSoonWindow    = "1h"
	defaultLogLevel      = "info"
	defaultFavoritesPath = "/var/lib/confsched/favorites.yaml"
	defaultICSCacheDir   = "/var/lib/confsched/ics-cache"
	defaultICSWindowDays = 30
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// ScheduleConfig lists where conference events come from. Events of all
// sources are merged into one schedule.
type ScheduleConfig struct {
	// ICS is the list of subscribed ICS feeds. A VEVENT's first CATEGORIES
	// value is used as its track.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// Files are local schedule files (.yaml, .yml or .json).
	Files []string `yaml:"files" json:"files"`

	// Watch rebuilds the index when one of Files changes on disk.
	Watch bool `yaml:"watch" json:"watch"`

	// WindowDays bounds recurrence expansion of ICS events to
	// [now - WindowDays, now + WindowDays].
	WindowDays int `yaml:"window_days" json:"window_days"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone of the venue (e.g. "Europe/Brussels").
	// Event days are calendar dates in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale is the BCP 47 tag whose collation orders track names.
	Locale string `yaml:"locale" json:"locale"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// used to reload the schedule and rebuild the index.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// SoonWindow is how far ahead /api/soon looks, as a Go duration.
	SoonWindow string `yaml:"soon_window" json:"soon_window"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// FavoritesPath is the YAML file favorites are persisted to.
	FavoritesPath string `yaml:"favorites_path" json:"favorites_path"`

	// ICSCacheDir holds per-feed HTTP cache entries.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		Locale:      defaultLocale,
		RefreshCron: defaultRefreshCron,
		SoonWindow:  defaultSoonWindow,
		LogLevel:    defaultLogLevel,
		Schedule: ScheduleConfig{
			ICS:        []ICSConfig{},
			Files:      []string{},
			WindowDays: defaultICSWindowDays,
		},
		FavoritesPath: defaultFavoritesPath,
		ICSCacheDir:   defaultICSCacheDir,
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	// Unknown locale; fall back to English rather than failing startup.
	if _, err := language.Parse(c.Locale); err != nil {
		c.Locale = defaultLocale
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if d, err := time.ParseDuration(c.SoonWindow); err != nil || d <= 0 {
		c.SoonWindow = defaultSoonWindow
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// ok
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Schedule.ICS == nil {
		c.Schedule.ICS = []ICSConfig{}
	}
	if c.Schedule.Files == nil {
		c.Schedule.Files = []string{}
	}
	if c.Schedule.WindowDays <= 0 {
		c.Schedule.WindowDays = defaultICSWindowDays
	}
	if c.FavoritesPath == "" {
		c.FavoritesPath = defaultFavoritesPath
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
}

// Location resolves Timezone. An unknown zone is an error: days would
// silently shift otherwise.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LocaleTag returns the parsed Locale, English if it does not parse.
func (c *Config) LocaleTag() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// SoonDuration returns SoonWindow as a duration.
func (c *Config) SoonDuration() time.Duration {
	d, err := time.ParseDuration(c.SoonWindow)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via a temp file in the same
// directory and a rename, so readers never see a half-written file. The
// parent directory is created with 0700 and the file ends up 0600.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".confsched-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
