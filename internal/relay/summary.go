package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"tubewatch/internal/feed"
	"tubewatch/internal/storage"
)

// Status is the outcome of one source in a run.
type Status string

const (
	StatusOK           Status = "ok"
	StatusBootstrapped Status = "bootstrapped"
	StatusPartial      Status = "partial"
	StatusFailed       Status = "failed"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailures = 1
	// ExitFatal means the run did not start (config, registry or store error).
	ExitFatal = 2
)

type SourceResult struct {
	Source     feed.Source `json:"source"`
	Status     Status      `json:"status"`
	Fetched    int         `json:"fetched"`
	New        int         `json:"new"`
	Notified   int         `json:"notified"`
	Failed     int         `json:"failed"`
	PrevCursor *time.Time  `json:"prev_cursor,omitempty"`
	NewCursor  *time.Time  `json:"new_cursor,omitempty"`
	Errors     []error     `json:"-"`
}

// MarshalJSON renders Errors as strings.
func (r SourceResult) MarshalJSON() ([]byte, error) {
	type plain SourceResult
	msgs := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		msgs = append(msgs, err.Error())
	}
	return json.Marshal(struct {
		plain
		Errors []string `json:"errors,omitempty"`
	}{plain(r), msgs})
}

// Summary is the report of one run.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run,omitempty"`
	Results    []SourceResult `json:"results"`
}

// ExitCode is 0 when every source finished cleanly and 1 otherwise.
func (s Summary) ExitCode() int {
	for _, r := range s.Results {
		if r.Status == StatusFailed || r.Status == StatusPartial {
			return ExitFailures
		}
	}
	return ExitOK
}

func (s Summary) Notified() int {
	n := 0
	for _, r := range s.Results {
		n += r.Notified
	}
	return n
}

func (s Summary) FailedItems() int {
	n := 0
	for _, r := range s.Results {
		n += r.Failed
	}
	return n
}

// FailedSources lists the IDs of sources that failed or partially failed.
func (s Summary) FailedSources() []string {
	var out []string
	for _, r := range s.Results {
		if r.Status == StatusFailed || r.Status == StatusPartial {
			out = append(out, r.Source.ID)
		}
	}
	return out
}

// Record converts the summary into its persisted form.
func (s Summary) Record() storage.RunRecord {
	return storage.RunRecord{
		ID:            s.RunID,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
		Sources:       len(s.Results),
		Notified:      s.Notified(),
		FailedItems:   s.FailedItems(),
		FailedSources: s.FailedSources(),
	}
}

// WriteTable prints one row per source followed by every collected error.
func (s Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tID\tSTATUS\tFETCHED\tNEW\tNOTIFIED\tFAILED\tCURSOR")
	for _, r := range s.Results {
		cursor := "-"
		if r.NewCursor != nil {
			cursor = storage.FormatTimestamp(*r.NewCursor)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Source.Name, r.Source.ID, r.Status, r.Fetched, r.New, r.Notified, r.Failed, cursor)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, r := range s.Results {
		for _, err := range r.Errors {
			if _, werr := fmt.Fprintf(w, "%s: %v\n", r.Source.ID, err); werr != nil {
				return werr
			}
		}
	}
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	_, err := fmt.Fprintf(w, "run %s%s: %d sources, %d notified, %d failed items, exit %d\n",
		s.RunID, mode, len(s.Results), s.Notified(), s.FailedItems(), s.ExitCode())
	return err
}
