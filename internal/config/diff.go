package config

import (
	"reflect"
	"strings"

	logx "tubewatch/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Secrets (API keys, tokens, webhook URLs, DSNs) are never
// included, only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.SourcesFile != newCfg.SourcesFile || !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.String("sources_file", newCfg.SourcesFile),
			logx.Int("sources.inline", len(newCfg.Sources)),
		)
	}

	if !reflect.DeepEqual(oldCfg.YouTube, newCfg.YouTube) {
		changed = append(changed, "youtube")
		attrs = append(attrs,
			logx.Bool("youtube.api_key_set", strings.TrimSpace(newCfg.YouTube.APIKey) != ""),
			logx.Int("youtube.page_size", newCfg.YouTube.PageSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.GitHub, newCfg.GitHub) {
		changed = append(changed, "github")
		attrs = append(attrs, logx.Bool("github.token_set", strings.TrimSpace(newCfg.GitHub.Token) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.driver", newCfg.Notifier.Driver),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if oldCfg.SlackHistory != newCfg.SlackHistory {
		changed = append(changed, "slack_history")
		attrs = append(attrs,
			logx.Bool("slack_history.token_set", strings.TrimSpace(newCfg.SlackHistory.Token) != ""),
			logx.String("slack_history.lookback", newCfg.SlackHistory.Lookback),
		)
	}

	if oldCfg.Notion != newCfg.Notion {
		changed = append(changed, "notion")
		attrs = append(attrs,
			logx.Bool("notion.token_set", strings.TrimSpace(newCfg.Notion.Token) != ""),
			logx.Bool("notion.database_set", strings.TrimSpace(newCfg.Notion.DatabaseID) != ""),
			logx.String("notion.retention", newCfg.Notion.Retention),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule || oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule", newCfg.Schedule),
			logx.String("timezone", newCfg.Timezone),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}
	if oldCfg.DryRun != newCfg.DryRun {
		changed = append(changed, "dry_run")
		attrs = append(attrs, logx.Bool("dry_run", newCfg.DryRun))
	}

	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "status", "schedule":
			out = append(out, s)
		}
	}
	return out
}
