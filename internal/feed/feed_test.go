package feed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
		ok   bool
	}{
		{raw: "", want: KindYouTube, ok: true},
		{raw: " YouTube ", want: KindYouTube, ok: true},
		{raw: "github", want: KindGitHub, ok: true},
		{raw: "Slack", want: KindSlack, ok: true},
		{raw: "rss", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "짧은 설명"
	assert.Equal(t, short, TruncateDescription("  "+short+"\n"))

	long := strings.Repeat("가", 250)
	got := TruncateDescription(long)
	assert.Equal(t, strings.Repeat("가", 200)+"...", got)
}

func TestUpstreamWrapsOnce(t *testing.T) {
	err := Upstream("UC1", "list", ErrQuotaExceeded)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Equal(t, "upstream UC1: list: upstream quota exceeded", err.Error())

	again := Upstream("UC1", "other", err)
	assert.Same(t, err, again)
	assert.NoError(t, Upstream("UC1", "list", nil))
}

func TestMuxRoutesByKind(t *testing.T) {
	yt := ListerFunc(func(context.Context, Source) ([]Item, error) {
		return []Item{{ID: "v1"}}, nil
	})
	m := Mux{KindYouTube: yt}

	items, err := m.FetchRecent(context.Background(), Source{ID: "UC1"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = m.FetchRecent(context.Background(), Source{ID: "o/r", Kind: KindGitHub})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "o/r", ue.SourceID)
}
