package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"todaycal/internal/ics"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultLogLevel        = "info"
	defaultCachePath       = "/var/lib/todaycal/calendar-cache.json"
	defaultCacheMaxAge     = "1h"
	defaultFetchTimeout    = "15s"
	defaultRefreshCron     = "*/15 * * * *"
	defaultStaleMultiplier = 24
)

// SourceConfig describes a single ICS subscription source.
type SourceConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging and event attribution.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the web API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Sources is the list of subscribed ICS feeds, fetched in order.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// CachePath is where the aggregated snapshot is persisted.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// CacheMaxAge is a duration string ("90m", "1h", "1d").
	CacheMaxAge string `yaml:"cache_max_age" json:"cache_max_age"`

	// StaleMultiplier scales CacheMaxAge for the fallback read used when
	// every source fails.
	StaleMultiplier int `yaml:"stale_multiplier" json:"stale_multiplier"`

	// FetchTimeout bounds each source request.
	FetchTimeout string `yaml:"fetch_timeout" json:"fetch_timeout"`

	// RefreshCron is a cron-style schedule used by `serve`.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// envOverlay lists the settings that may be overridden from the environment.
// Unset variables leave the file value untouched.
type envOverlay struct {
	Listen       string   `env:"TODAYCAL_LISTEN"`
	LogLevel     string   `env:"TODAYCAL_LOG_LEVEL"`
	Sources      []string `env:"TODAYCAL_SOURCES" envSeparator:","`
	CachePath    string   `env:"TODAYCAL_CACHE_PATH"`
	CacheMaxAge  string   `env:"TODAYCAL_CACHE_MAX_AGE"`
	FetchTimeout string   `env:"TODAYCAL_FETCH_TIMEOUT"`
	RefreshCron  string   `env:"TODAYCAL_REFRESH"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		LogLevel:        defaultLogLevel,
		Sources:         []SourceConfig{},
		CachePath:       defaultCachePath,
		CacheMaxAge:     defaultCacheMaxAge,
		StaleMultiplier: defaultStaleMultiplier,
		FetchTimeout:    defaultFetchTimeout,
		RefreshCron:     defaultRefreshCron,
		BasicAuth:       nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CachePath == "" {
		c.CachePath = defaultCachePath
	}
	if _, err := str2duration.ParseDuration(c.CacheMaxAge); err != nil {
		c.CacheMaxAge = defaultCacheMaxAge
	}
	if c.StaleMultiplier <= 0 {
		c.StaleMultiplier = defaultStaleMultiplier
	}
	if _, err := str2duration.ParseDuration(c.FetchTimeout); err != nil {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// CacheMaxAgeDuration returns CacheMaxAge parsed, or the default. Zero is
// kept: every call then fetches, and the stale fallback window is zero too.
func (c *Config) CacheMaxAgeDuration() time.Duration {
	d, err := str2duration.ParseDuration(c.CacheMaxAge)
	if err != nil || d < 0 {
		return time.Hour
	}
	return d
}

// FetchTimeoutDuration returns FetchTimeout parsed, or the default.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return parseDurationOr(c.FetchTimeout, 15*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := str2duration.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// IcsSources converts configured sources into aggregator sources, skipping
// entries without a URL. The ID falls back to Name, then URL.
func (c *Config) IcsSources() []ics.Source {
	out := make([]ics.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.URL == "" {
			continue
		}
		id := s.ID
		if id == "" {
			if s.Name != "" {
				id = s.Name
			} else {
				id = s.URL
			}
		}
		out = append(out, ics.Source{ID: id, URL: s.URL})
	}
	return out
}

// SnapshotPath returns the cache record location for the configured source
// set: CachePath with a short hash of the source URLs inserted before the
// extension. Changing the sources therefore never serves the old set's
// snapshot.
func (c *Config) SnapshotPath() string {
	h := sha256.New()
	for _, s := range c.IcsSources() {
		h.Write([]byte(s.URL))
		h.Write([]byte{0})
	}
	key := hex.EncodeToString(h.Sum(nil))[:12]

	ext := filepath.Ext(c.CachePath)
	return strings.TrimSuffix(c.CachePath, ext) + "-" + key + ext
}

// Options builds the explicit aggregator configuration for one call.
func (c *Config) Options(forceRefresh bool) ics.Options {
	return ics.Options{
		Sources:         c.IcsSources(),
		CacheMaxAge:     c.CacheMaxAgeDuration(),
		ForceRefresh:    forceRefresh,
		StaleMultiplier: c.StaleMultiplier,
	}
}

// Load loads configuration from the given YAML path, then applies .env and
// environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600 perms.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	// .env in the working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
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
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv overlays TODAYCAL_* environment variables onto cfg.
// TODAYCAL_SOURCES is a comma-separated URL list and replaces the file's
// sources entirely.
func ApplyEnv(cfg *Config) error {
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&cfg.Listen, ov.Listen)
	setIf(&cfg.LogLevel, ov.LogLevel)
	setIf(&cfg.CachePath, ov.CachePath)
	setIf(&cfg.CacheMaxAge, ov.CacheMaxAge)
	setIf(&cfg.FetchTimeout, ov.FetchTimeout)
	setIf(&cfg.RefreshCron, ov.RefreshCron)

	if len(ov.Sources) > 0 {
		cfg.Sources = make([]SourceConfig, 0, len(ov.Sources))
		for _, u := range ov.Sources {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			cfg.Sources = append(cfg.Sources, SourceConfig{URL: u})
		}
	}
	return nil
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".todaycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
