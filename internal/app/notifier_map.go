package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tubewatch/internal/config"
	"tubewatch/internal/notifier"
	logx "tubewatch/pkg/logx"
)

// errNotifierUnconfigured means the selected driver has no credentials.
var errNotifierUnconfigured = errors.New("notifier is not configured")

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("notifier.timeout", nc.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		Timeout:       timeout,
	}, nil
}

// buildNotifier returns the configured channel wrapped in a Dispatcher.
// Missing credentials yield an error wrapping errNotifierUnconfigured.
func buildNotifier(cfg *config.Config, log logx.Logger) (*notifier.Dispatcher, error) {
	dcfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	var sender notifier.Sender
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Notifier.Driver)); driver {
	case "", "slack":
		url := strings.TrimSpace(cfg.Notifier.Slack.WebhookURL)
		if url == "" {
			return nil, fmt.Errorf("%w: notifier.slack.webhook_url (or %s) is empty", errNotifierUnconfigured, config.EnvSlackWebhookURL)
		}
		s, err := notifier.NewSlackSender(notifier.SlackConfig{WebhookURL: url, Timeout: dcfg.Timeout}, log)
		if err != nil {
			return nil, fmt.Errorf("notifier.slack: %w", err)
		}
		sender = s
	case "telegram":
		tc := cfg.Notifier.Telegram
		if strings.TrimSpace(tc.Token) == "" || tc.ChatID == 0 {
			return nil, fmt.Errorf("%w: notifier.telegram.token (or %s) and notifier.telegram.chat_id are required", errNotifierUnconfigured, config.EnvTelegramToken)
		}
		s, err := notifier.NewTelegramSender(notifier.TelegramConfig{
			Token:    tc.Token,
			ChatID:   tc.ChatID,
			ThreadID: tc.ThreadID,
			Timeout:  dcfg.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		sender = s
	default:
		return nil, fmt.Errorf("unknown notifier.driver: %s", driver)
	}
	return notifier.NewDispatcher(dcfg, sender, log), nil
}

// defaultNotionRetention matches the weekly cleanup of the recommendation
// database.
const defaultNotionRetention = 7 * 24 * time.Hour

// notionRetention is the archive horizon; an explicit zero disables it.
func notionRetention(cfg *config.Config) (time.Duration, error) {
	raw := strings.TrimSpace(cfg.Notion.Retention)
	if raw == "" {
		return defaultNotionRetention, nil
	}
	return config.ParseDurationField("notion.retention", raw)
}

// buildNotion returns the Notion sender and its Dispatcher. Missing
// credentials yield an error wrapping errNotifierUnconfigured.
func buildNotion(cfg *config.Config, log logx.Logger) (*notifier.NotionSender, *notifier.Dispatcher, error) {
	nc := cfg.Notion
	if strings.TrimSpace(nc.Token) == "" || strings.TrimSpace(nc.DatabaseID) == "" {
		return nil, nil, fmt.Errorf("%w: notion.token (or %s) and notion.database_id (or %s) are required", errNotifierUnconfigured, config.EnvNotionAPIKey, config.EnvNotionDatabase)
	}
	dcfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	timeout, err := config.ParseDurationOrDefault("notion.timeout", nc.Timeout, 15*time.Second)
	if err != nil {
		return nil, nil, err
	}
	s, err := notifier.NewNotionSender(notifier.NotionConfig{
		Token:      nc.Token,
		DatabaseID: nc.DatabaseID,
		BaseURL:    nc.BaseURL,
		Timeout:    timeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("notion: %w", err)
	}
	return s, notifier.NewDispatcher(dcfg, s, log), nil
}
