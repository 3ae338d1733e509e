package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultSourcesFile = "channels.json"
	DefaultCursorFile  = "last_checked.json"
	DefaultStatusAddr  = "127.0.0.1:8080"
)

// Environment variables overlaid onto the file config.
const (
	EnvYouTubeAPIKey   = "YOUTUBE_API_KEY"
	EnvSlackWebhookURL = "SLACK_WEBHOOK_URL"
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvGitHubToken     = "GITHUB_TOKEN"
	EnvCursorDSN       = "TUBEWATCH_CURSOR_DSN"
	EnvSlackBotToken   = "SLACK_BOT_TOKEN"
	EnvNotionAPIKey    = "NOTION_API_KEY"
	EnvNotionDatabase  = "NOTION_DATABASE_ID"
)

// Parse reads and strictly decodes a JSON or YAML config file. Unknown keys
// and trailing data are errors.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(path, b)
}

// ParseBytes decodes data; the format follows the extension of name.
func ParseBytes(name string, data []byte) (*Config, error) {
	format := formatOf(name)
	jb := data
	if format == "yaml" {
		var err error
		if jb, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("config %s (yaml): %w", name, err)
		}
	}

	var cfg Config
	if len(bytes.TrimSpace(jb)) == 0 || string(bytes.TrimSpace(jb)) == "null" {
		return &cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s (%s): %w", name, format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("config %s: trailing data after the config object", name)
	}
	return &cfg, nil
}

// Default is the configuration used when no config file exists: every value
// comes from defaults and the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load parses path (when it exists or required is set), loads .env files,
// overlays the environment, fills defaults and validates.
func Load(path string, required bool) (*Config, error) {
	var cfg *Config
	// relative paths are anchored at the config file only when one was read
	var anchor string
	_, statErr := os.Stat(path)
	switch {
	case path != "" && (statErr == nil || required):
		c, err := Parse(path)
		if err != nil {
			return nil, err
		}
		cfg, anchor = c, path
	default:
		cfg = &Config{}
	}

	dotenv := []string{".env"}
	if path != "" {
		if p := filepath.Join(filepath.Dir(path), ".env"); p != ".env" {
			dotenv = append(dotenv, p)
		}
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}

	if err := settle(cfg, anchor); err != nil {
		return nil, err
	}
	return cfg, nil
}

// settle overlays the environment, fills defaults, anchors relative paths at
// the config file's directory and validates.
func settle(cfg *Config, path string) error {
	ApplyEnv(cfg, os.Getenv)
	cfg.ApplyDefaults()
	if path != "" {
		cfg.ResolvePaths(filepath.Dir(path))
	}
	return cfg.Validate()
}

// ResolvePaths joins relative file paths (sources file, file or sqlite
// store, log file) onto dir, so a run started from any working directory
// finds the same files.
func (c *Config) ResolvePaths(dir string) {
	if dir == "" || dir == "." {
		return
	}
	anchor := func(p *string) {
		v := strings.TrimSpace(*p)
		if v != "" && !filepath.IsAbs(v) {
			*p = filepath.Join(dir, v)
		}
	}
	anchor(&c.SourcesFile)
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
		anchor(&c.Storage.Path)
	}
	anchor(&c.Logging.File.Path)
}

// LoadDotEnv loads the given .env files that exist. Variables already set in
// the process environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets from the environment. Non-empty variables
// override file values.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.YouTube.APIKey, EnvYouTubeAPIKey)
	set(&cfg.Notifier.Slack.WebhookURL, EnvSlackWebhookURL)
	set(&cfg.Notifier.Telegram.Token, EnvTelegramToken)
	set(&cfg.GitHub.Token, EnvGitHubToken)
	set(&cfg.Storage.DSN, EnvCursorDSN)
	set(&cfg.SlackHistory.Token, EnvSlackBotToken)
	set(&cfg.Notion.Token, EnvNotionAPIKey)
	set(&cfg.Notion.DatabaseID, EnvNotionDatabase)
}

// ApplyDefaults fills empty fields that have a natural default.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.SourcesFile) == "" && len(c.Sources) == 0 {
		c.SourcesFile = DefaultSourcesFile
	}
	if strings.TrimSpace(c.Notifier.Driver) == "" {
		c.Notifier.Driver = "slack"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.EqualFold(c.Storage.Driver, "file") && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultCursorFile
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Status.Enabled && strings.TrimSpace(c.Status.Addr) == "" {
		c.Status.Addr = DefaultStatusAddr
	}
}

// Validate checks ranges, enums and duration strings. Secrets are checked
// when the components are built, since a dry run does not need them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.YouTube.PageSize < 0 || c.YouTube.PageSize > 50 {
		add("youtube.page_size must be between 0 and 50")
	}
	if c.YouTube.RetryMax != nil && *c.YouTube.RetryMax < 0 {
		add("youtube.retry_max must be >= 0")
	}
	if c.YouTube.RatePerSec < 0 {
		add("youtube.rate_per_sec must be >= 0")
	}
	dur("youtube.timeout", c.YouTube.Timeout)
	dur("youtube.retry_base", c.YouTube.RetryBase)

	if c.GitHub.PageSize < 0 || c.GitHub.PageSize > 100 {
		add("github.page_size must be between 0 and 100")
	}
	dur("github.timeout", c.GitHub.Timeout)

	switch strings.ToLower(strings.TrimSpace(c.Notifier.Driver)) {
	case "", "slack", "telegram":
	default:
		add("notifier.driver: unknown %q (want slack or telegram)", c.Notifier.Driver)
	}
	if c.Notifier.RatePerSec < 0 {
		add("notifier.rate_per_sec must be >= 0")
	}
	if c.Notifier.RetryMax < 0 {
		add("notifier.retry_max must be >= 0")
	}
	dur("notifier.retry_base", c.Notifier.RetryBase)
	dur("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
	dur("notifier.timeout", c.Notifier.Timeout)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "postgres", "postgresql", "memory":
	default:
		add("storage.driver: unknown %q", c.Storage.Driver)
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if c.SlackHistory.Limit < 0 || c.SlackHistory.Limit > 1000 {
		add("slack_history.limit must be between 0 and 1000")
	}
	dur("slack_history.lookback", c.SlackHistory.Lookback)
	dur("slack_history.timeout", c.SlackHistory.Timeout)
	dur("notion.timeout", c.Notion.Timeout)
	dur("notion.retention", c.Notion.Retention)

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled is true")
	}
	if c.Logging.Alert.RatePerSec < 0 {
		add("logging.alert.rate_per_sec must be >= 0")
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("timezone: invalid %q: %w", tz, err)
		}
	}
	for i, e := range c.Sources {
		if strings.TrimSpace(e.Name) == "" {
			add("sources[%d].name is required", i)
		}
	}
	return errors.Join(errs...)
}
