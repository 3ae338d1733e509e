package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

const watchURL = "https://www.youtube.com/watch?v="

type channelsResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	Items []playlistItem `json:"items"`
}

type playlistItem struct {
	Snippet struct {
		PublishedAt  string               `json:"publishedAt"`
		Title        string               `json:"title"`
		Description  string               `json:"description"`
		ChannelTitle string               `json:"channelTitle"`
		Thumbnails   map[string]thumbnail `json:"thumbnails"`
		ResourceID   struct {
			VideoID string `json:"videoId"`
		} `json:"resourceId"`
	} `json:"snippet"`
}

type thumbnail struct {
	URL string `json:"url"`
}

// UploadsPlaylist resolves a channel to its uploads playlist ID. Results are
// cached for the lifetime of the client.
func (c *Client) UploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	c.mu.Lock()
	id, ok := c.playlists[channelID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	query := url.Values{}
	query.Set("part", "contentDetails")
	query.Set("id", channelID)

	var resp channelsResponse
	if err := c.get(ctx, "/channels", query, &resp); err != nil {
		return "", fmt.Errorf("get channel: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("channel %s: %w", channelID, feed.ErrNotFound)
	}

	id = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	c.mu.Lock()
	c.playlists[channelID] = id
	c.mu.Unlock()
	return id, nil
}

// RecentUploads returns the newest page of a playlist.
func (c *Client) RecentUploads(ctx context.Context, playlistID string) ([]feed.Item, error) {
	query := url.Values{}
	query.Set("part", "snippet")
	query.Set("playlistId", playlistID)
	query.Set("maxResults", strconv.Itoa(c.pageSize))

	var resp playlistItemsResponse
	if err := c.get(ctx, "/playlistItems", query, &resp); err != nil {
		return nil, fmt.Errorf("list playlist items: %w", err)
	}

	items := make([]feed.Item, 0, len(resp.Items))
	for _, pi := range resp.Items {
		it, ok := convertItem(pi)
		if !ok {
			c.log.Warn("skipping playlist item",
				logx.String("playlist", playlistID),
				logx.String("video_id", pi.Snippet.ResourceID.VideoID),
				logx.String("published_at", pi.Snippet.PublishedAt),
			)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// FetchRecent implements feed.Lister.
func (c *Client) FetchRecent(ctx context.Context, src feed.Source) ([]feed.Item, error) {
	playlist, err := c.UploadsPlaylist(ctx, src.ID)
	if err != nil {
		return nil, feed.Upstream(src.ID, "resolve uploads", err)
	}
	items, err := c.RecentUploads(ctx, playlist)
	if err != nil {
		return nil, feed.Upstream(src.ID, "list uploads", err)
	}
	c.log.Debug("fetched uploads", logx.String("source", src.ID), logx.Int("items", len(items)))
	return items, nil
}

func convertItem(pi playlistItem) (feed.Item, bool) {
	sn := pi.Snippet
	videoID := strings.TrimSpace(sn.ResourceID.VideoID)
	if videoID == "" {
		return feed.Item{}, false
	}
	published, err := time.Parse(time.RFC3339, sn.PublishedAt)
	if err != nil {
		return feed.Item{}, false
	}
	return feed.Item{
		ID:          videoID,
		Title:       sn.Title,
		URL:         watchURL + videoID,
		PublishedAt: published.UTC(),
		Description: feed.TruncateDescription(sn.Description),
		Thumbnail:   pickThumbnail(sn.Thumbnails),
		Author:      sn.ChannelTitle,
	}, true
}

func pickThumbnail(th map[string]thumbnail) string {
	if t, ok := th["high"]; ok && t.URL != "" {
		return t.URL
	}
	if t, ok := th["default"]; ok {
		return t.URL
	}
	return ""
}
