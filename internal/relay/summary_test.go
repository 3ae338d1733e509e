package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubewatch/internal/feed"
)

func sampleSummary() Summary {
	cur := ts("2024-01-03T00:00:00Z")
	return Summary{
		RunID:      "run-1",
		StartedAt:  ts("2024-01-04T00:00:00Z"),
		FinishedAt: ts("2024-01-04T00:00:05Z"),
		Results: []SourceResult{
			{Source: feed.Source{Name: "Fireship", ID: "UC1"}, Status: StatusOK, Fetched: 5, New: 2, Notified: 2, NewCursor: &cur},
			{Source: feed.Source{Name: "Broken", ID: "UC2"}, Status: StatusFailed, Errors: []error{errors.New("upstream UC2: quota")}},
			{Source: feed.Source{Name: "Flaky", ID: "UC3"}, Status: StatusPartial, Fetched: 3, New: 3, Notified: 2, Failed: 1},
		},
	}
}

func TestSummaryTotals(t *testing.T) {
	s := sampleSummary()
	assert.Equal(t, 4, s.Notified())
	assert.Equal(t, 1, s.FailedItems())
	assert.Equal(t, []string{"UC2", "UC3"}, s.FailedSources())
	assert.Equal(t, ExitFailures, s.ExitCode())

	rec := s.Record()
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, 3, rec.Sources)
	assert.Equal(t, 4, rec.Notified)
	assert.Equal(t, []string{"UC2", "UC3"}, rec.FailedSources)
}

func TestExitCodeClean(t *testing.T) {
	s := Summary{Results: []SourceResult{{Status: StatusOK}, {Status: StatusBootstrapped}}}
	assert.Equal(t, ExitOK, s.ExitCode())
	assert.Equal(t, ExitOK, Summary{}.ExitCode())
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleSummary().WriteTable(&buf))
	out := buf.String()

	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "2024-01-03T00:00:00Z")
	assert.Contains(t, out, "UC2: upstream UC2: quota")
	assert.Contains(t, out, "run run-1: 3 sources, 4 notified, 1 failed items, exit 1")
}

func TestSourceResultJSON(t *testing.T) {
	b, err := json.Marshal(sampleSummary().Results[1])
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, []any{"upstream UC2: quota"}, got["errors"])
	_, hasCursor := got["new_cursor"]
	assert.False(t, hasCursor)
}
