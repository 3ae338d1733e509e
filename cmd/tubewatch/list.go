package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tubewatch/internal/app"
	"tubewatch/internal/feed"
	"tubewatch/internal/relay"
	"tubewatch/internal/storage"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Validate and list tracked sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.Sources()
			if err != nil {
				return &exitError{code: relay.ExitFatal, err: err}
			}
			return printSources(cmd.OutOrStdout(), outputFmt, sources)
		},
	}
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	return cmd
}

func cursorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursors",
		Short: "List stored cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			cursors, err := a.Cursors(cmd.Context())
			if err != nil {
				return &exitError{code: relay.ExitFatal, err: err}
			}
			return printCursors(cmd.OutOrStdout(), outputFmt, cursors)
		},
	}
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	return cmd
}

func printSources(w io.Writer, format string, sources []feed.Source) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tID\tKIND")
		for _, s := range sources {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.ID, s.Kind)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printCursors(w io.Writer, format string, cursors map[string]time.Time) error {
	ids := make([]string, 0, len(cursors))
	for id := range cursors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	switch format {
	case "json":
		out := make(map[string]string, len(cursors))
		for id, at := range cursors {
			out[id] = storage.FormatTimestamp(at)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCURSOR")
		for _, id := range ids {
			fmt.Fprintf(tw, "%s\t%s\n", id, storage.FormatTimestamp(cursors[id]))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
