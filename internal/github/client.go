// Package github lists recent releases of GitHub repositories.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

const DefaultPageSize = 5

// Config configures the releases lister.
type Config struct {
	Token    string
	BaseURL  string // API root; empty means api.github.com
	PageSize int
	Timeout  time.Duration
}

type Client struct {
	client   *github.Client
	pageSize int
	log      logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var hc *http.Client
	if token := strings.TrimSpace(cfg.Token); token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(context.Background(), ts)
		hc.Timeout = timeout
	} else {
		hc = &http.Client{Timeout: timeout}
	}
	client := github.NewClient(hc)

	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github base_url: %w", err)
		}
		client.BaseURL = u
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{client: client, pageSize: pageSize, log: log}, nil
}

// SplitRepo splits "owner/repo".
func SplitRepo(id string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(strings.TrimSpace(id), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

// FetchRecent implements feed.Lister. Draft releases are skipped.
func (c *Client) FetchRecent(ctx context.Context, src feed.Source) ([]feed.Item, error) {
	owner, repo, ok := SplitRepo(src.ID)
	if !ok {
		return nil, feed.Upstream(src.ID, "parse repo", fmt.Errorf("%q is not owner/repo: %w", src.ID, feed.ErrNotFound))
	}

	opts := &github.ListOptions{
		PerPage: c.pageSize,
	}

	releases, _, err := c.client.Repositories.ListReleases(ctx, owner, repo, opts)
	if err != nil {
		return nil, feed.Upstream(src.ID, "list releases", classify(err))
	}

	items := make([]feed.Item, 0, len(releases))
	for _, release := range releases {
		if release.GetDraft() {
			continue
		}
		items = append(items, convertRelease(release))
	}
	c.log.Debug("fetched releases", logx.String("source", src.ID), logx.Int("items", len(items)))
	return items, nil
}

func convertRelease(r *github.RepositoryRelease) feed.Item {
	published := r.GetPublishedAt().Time
	if published.IsZero() {
		published = r.GetCreatedAt().Time
	}
	title := r.GetName()
	if title == "" {
		title = r.GetTagName()
	}
	return feed.Item{
		ID:          strconv.FormatInt(r.GetID(), 10),
		Title:       title,
		URL:         r.GetHTMLURL(),
		PublishedAt: published.UTC(),
		Description: feed.TruncateDescription(r.GetBody()),
		Thumbnail:   r.GetAuthor().GetAvatarURL(),
		Author:      r.GetAuthor().GetLogin(),
	}
}

// classify maps go-github errors onto the feed sentinels.
func classify(err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%w: %v", feed.ErrQuotaExceeded, err)
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return fmt.Errorf("%w: %v", feed.ErrQuotaExceeded, err)
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", feed.ErrNotFound, err)
	}
	return err
}
