package config

import "tubewatch/internal/registry"

// Config is the whole tubewatch configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may be left empty here and supplied through the environment
// (see ApplyEnv).
type Config struct {
	// SourcesFile is the channels/sources list. Default: "channels.json"
	// unless inline sources are given.
	SourcesFile string           `json:"sources_file,omitempty"`
	Sources     []registry.Entry `json:"sources,omitempty"`

	YouTube  YouTubeConfig  `json:"youtube"`
	GitHub   GitHubConfig   `json:"github"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`

	// SlackHistory and Notion serve "slack" sources: recommendation posts
	// read from a channel are filed as Notion pages.
	SlackHistory SlackHistoryConfig `json:"slack_history"`
	Notion       NotionConfig       `json:"notion"`

	// Schedule is used by `serve`: a cron spec ("*/30 * * * *"), a
	// descriptor ("@hourly") or "@every 30m".
	Schedule string `json:"schedule,omitempty"`
	// Timezone for cron specs. Default: local time.
	Timezone string `json:"timezone,omitempty"`

	Status StatusConfig `json:"status"`
	DryRun bool         `json:"dry_run,omitempty"`
}

// YouTubeConfig controls the Data API client.
//
// Defaults (when fields are omitted/zero):
//   - base_url: https://www.googleapis.com/youtube/v3
//   - page_size: 5 (max 50)
//   - timeout: "15s"
//   - retry_max: 3
//   - retry_base: "1s"
//   - rate_per_sec: 5
type YouTubeConfig struct {
	APIKey      string  `json:"api_key,omitempty"`
	AccessToken string  `json:"access_token,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	RetryMax    *int    `json:"retry_max,omitempty"`
	RetryBase   string  `json:"retry_base,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
}

type GitHubConfig struct {
	Token    string `json:"token,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// NotifierConfig selects the downstream channel and its delivery policy.
//
// Defaults: driver "slack", rate_per_sec 1, retry_max 0, retry_base "500ms",
// retry_max_delay "10s", timeout "10s".
type NotifierConfig struct {
	Driver        string         `json:"driver,omitempty"`
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	Timeout       string         `json:"timeout,omitempty"`
	Slack         SlackConfig    `json:"slack"`
	Telegram      TelegramConfig `json:"telegram"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SlackHistoryConfig reads channel history with a bot token.
//
// Defaults: lookback "2h", limit 100, timeout "15s".
type SlackHistoryConfig struct {
	Token    string `json:"token,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Lookback string `json:"lookback,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// NotionConfig targets the database that receives slack recommendations.
// Pages dated more than retention ago are archived after each run; "0s"
// turns archiving off. Default retention: "168h".
type NotionConfig struct {
	Token      string `json:"token,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Retention  string `json:"retention,omitempty"`
}

// StorageConfig controls the cursor store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tubewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default), sqlite, postgres, memory
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console defaults to true.
	Console *bool        `json:"console,omitempty"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

// ConsoleEnabled reports whether console logging is on.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingAlert forwards warn+ log lines to the notifier channel.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StatusConfig controls the optional read-only HTTP status endpoint.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	// Pprof exposes /debug/pprof on the status server. Keep addr on loopback.
	Pprof bool `json:"pprof,omitempty"`
}
