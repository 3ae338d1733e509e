package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

const releasesJSON = `[
 {"id": 3, "tag_name": "v1.2.0", "name": "", "draft": true, "html_url": "https://github.com/o/r/releases/tag/v1.2.0",
  "created_at": "2024-01-04T00:00:00Z"},
 {"id": 2, "tag_name": "v1.1.0", "name": "One point one", "body": "notes", "html_url": "https://github.com/o/r/releases/tag/v1.1.0",
  "created_at": "2024-01-02T00:00:00Z", "published_at": "2024-01-03T00:00:00Z",
  "author": {"login": "octocat", "avatar_url": "https://avatars/octocat.png"}},
 {"id": 1, "tag_name": "v1.0.0", "html_url": "https://github.com/o/r/releases/tag/v1.0.0",
  "created_at": "2024-01-01T00:00:00Z"}
]`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Token: "tok", BaseURL: srv.URL, PageSize: 3}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestFetchRecent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/o/r/releases", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, releasesJSON)
	})

	items, err := c.FetchRecent(context.Background(), feed.Source{Name: "r", ID: "o/r", Kind: feed.KindGitHub})
	require.NoError(t, err)
	require.Len(t, items, 2, "drafts are skipped")

	assert.Equal(t, "2", items[0].ID)
	assert.Equal(t, "One point one", items[0].Title)
	assert.Equal(t, "octocat", items[0].Author)
	assert.Equal(t, "https://avatars/octocat.png", items[0].Thumbnail)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, "v1.0.0", items[1].Title, "tag name is the fallback title")
	assert.True(t, items[1].PublishedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), "created_at is the fallback time")
}

func TestFetchRecentNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	_, err := c.FetchRecent(context.Background(), feed.Source{ID: "o/missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrNotFound)
	var ue *feed.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "o/missing", ue.SourceID)
}

func TestFetchRecentRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"message":"API rate limit exceeded for 127.0.0.1."}`)
	})

	_, err := c.FetchRecent(context.Background(), feed.Source{ID: "o/r"})
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrQuotaExceeded)
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
		ok          bool
	}{
		{"cli/cli", "cli", "cli", true},
		{" golang/go ", "golang", "go", true},
		{"cli", "", "", false},
		{"/cli", "", "", false},
		{"a/b/c", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, ok := SplitRepo(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}
