package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen           = "127.0.0.1:8080"
	defaultTimezone         = "UTC"
	defaultDirectoryURL     = "http://127.0.0.1:8000"
	defaultDirectoryTimeout = 5 * time.Second
	defaultSessionName      = "commcal-session"
	defaultSessionIdle      = 2 * time.Hour
	defaultSnapshotCron     = "*/30 * * * *"
	defaultSnapshotOutput   = "/var/lib/commcal/preview.png"
	defaultSnapshotWidth    = 1280
	defaultSnapshotHeight   = 960
	defaultICSCacheDir      = "/var/lib/commcal/ics-cache"
)

// DirectoryConfig points at the Events Directory REST service.
type DirectoryConfig struct {
	// BaseURL is the scheme://host[:port] prefix of /api/events.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout bounds every request to the directory.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ICSConfig describes a single ICS subscription overlaid on the month.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SessionConfig controls the browser session cookie that ties a browser
// to its calendar view.
type SessionConfig struct {
	// Key signs the cookie. If empty, a random key is generated at startup
	// and sessions do not survive restarts.
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
	// IdleTimeout drops views that have not been used for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// SnapshotConfig controls periodic PNG captures of the print view.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cron    string `yaml:"cron" json:"cron"`
	Output  string `yaml:"output" json:"output"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// LogConfig selects log verbosity and encoding ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for "today" and for placing feed
	// occurrences on calendar dates (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	Directory DirectoryConfig `yaml:"directory" json:"directory"`

	// ICS is the list of subscribed ICS feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
	// ICSCacheDir stores per-feed bodies and HTTP cache metadata.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Session  SessionConfig  `yaml:"session" json:"session"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		Directory: DirectoryConfig{
			BaseURL: defaultDirectoryURL,
			Timeout: defaultDirectoryTimeout,
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: defaultICSCacheDir,
		BasicAuth:   nil,
		Session: SessionConfig{
			Name:        defaultSessionName,
			IdleTimeout: defaultSessionIdle,
		},
		Snapshot: SnapshotConfig{
			Enabled: false,
			Cron:    defaultSnapshotCron,
			Output:  defaultSnapshotOutput,
			Width:   defaultSnapshotWidth,
			Height:  defaultSnapshotHeight,
		},
		Log: LogConfig{Level: "info", Format: "console"},
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
	if c.Directory.BaseURL == "" {
		c.Directory.BaseURL = defaultDirectoryURL
	}
	c.Directory.BaseURL = strings.TrimRight(c.Directory.BaseURL, "/")
	if c.Directory.Timeout <= 0 {
		c.Directory.Timeout = defaultDirectoryTimeout
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = c.ICS[i].URL
			}
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
	if c.Session.Name == "" {
		c.Session.Name = defaultSessionName
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = defaultSessionIdle
	}
	if c.Snapshot.Cron == "" {
		c.Snapshot.Cron = defaultSnapshotCron
	}
	if c.Snapshot.Output == "" {
		c.Snapshot.Output = defaultSnapshotOutput
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = defaultSnapshotWidth
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = defaultSnapshotHeight
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "console", "json":
		// ok
	default:
		c.Log.Format = "console"
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
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

	tmp, err := os.CreateTemp(dir, ".commcal-config-*.tmp")
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
