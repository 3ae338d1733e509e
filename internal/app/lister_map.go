package app

import (
	"fmt"
	"strings"
	"time"

	"tubewatch/internal/config"
	"tubewatch/internal/feed"
	"tubewatch/internal/github"
	"tubewatch/internal/slackhistory"
	"tubewatch/internal/youtube"
	logx "tubewatch/pkg/logx"
)

func mapYouTubeOptions(cfg *config.Config, log logx.Logger) ([]youtube.ClientOption, error) {
	yc := cfg.YouTube
	timeout, err := config.ParseDurationOrDefault("youtube.timeout", yc.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := config.ParseDurationOrDefault("youtube.retry_base", yc.RetryBase, time.Second)
	if err != nil {
		return nil, err
	}
	retryMax := 3
	if yc.RetryMax != nil {
		retryMax = *yc.RetryMax
	}

	// WithTimeout must precede WithAccessToken, which wraps the client.
	opts := []youtube.ClientOption{
		youtube.WithTimeout(timeout),
		youtube.WithRetries(retryMax, retryBase),
		youtube.WithPageSize(yc.PageSize),
		youtube.WithRateLimit(yc.RatePerSec),
		youtube.WithLogger(log),
	}
	if base := strings.TrimSpace(yc.BaseURL); base != "" {
		opts = append(opts, youtube.WithBaseURL(base))
	}
	if tok := strings.TrimSpace(yc.AccessToken); tok != "" {
		opts = append(opts, youtube.WithAccessToken(tok))
	}
	return opts, nil
}

// buildListers registers a lister per kind. YouTube is only registered when
// it has credentials; sources of an unregistered kind fail at fetch time.
func buildListers(cfg *config.Config, log logx.Logger) (feed.Mux, error) {
	mux := feed.Mux{}

	if youtubeConfigured(cfg) {
		opts, err := mapYouTubeOptions(cfg, log.With(logx.String("comp", "youtube")))
		if err != nil {
			return nil, err
		}
		mux[feed.KindYouTube] = youtube.NewClient(cfg.YouTube.APIKey, opts...)
	}

	timeout, err := config.ParseDurationOrDefault("github.timeout", cfg.GitHub.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	gh, err := github.NewClient(github.Config{
		Token:    cfg.GitHub.Token,
		BaseURL:  cfg.GitHub.BaseURL,
		PageSize: cfg.GitHub.PageSize,
		Timeout:  timeout,
	}, log.With(logx.String("comp", "github")))
	if err != nil {
		return nil, err
	}
	mux[feed.KindGitHub] = gh

	if slackHistoryConfigured(cfg) {
		sh, err := buildSlackHistory(cfg, log.With(logx.String("comp", "slackhistory")))
		if err != nil {
			return nil, err
		}
		mux[feed.KindSlack] = sh
	}
	return mux, nil
}

func buildSlackHistory(cfg *config.Config, log logx.Logger) (*slackhistory.Client, error) {
	sc := cfg.SlackHistory
	lookback, err := config.ParseDurationOrDefault("slack_history.lookback", sc.Lookback, slackhistory.DefaultLookback)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationOrDefault("slack_history.timeout", sc.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	return slackhistory.NewClient(slackhistory.Config{
		Token:    sc.Token,
		BaseURL:  sc.BaseURL,
		Lookback: lookback,
		Limit:    sc.Limit,
		Timeout:  timeout,
	}, log)
}

func slackHistoryConfigured(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.SlackHistory.Token) != ""
}

func youtubeConfigured(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.YouTube.APIKey) != "" || strings.TrimSpace(cfg.YouTube.AccessToken) != ""
}

// checkCredentials reports a fatal error when a tracked source has no way to
// be fetched.
func checkCredentials(cfg *config.Config, sources []feed.Source) error {
	for _, s := range sources {
		switch {
		case (s.Kind == "" || s.Kind == feed.KindYouTube) && !youtubeConfigured(cfg):
			return fmt.Errorf("youtube.api_key (or %s) is required to track %q", config.EnvYouTubeAPIKey, s.ID)
		case s.Kind == feed.KindSlack && !slackHistoryConfigured(cfg):
			return fmt.Errorf("slack_history.token (or %s) is required to track %q", config.EnvSlackBotToken, s.ID)
		}
	}
	return nil
}
