package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"voxelswarm.ai/internal/journal"
)

func newJournalCmd() *cobra.Command {
	var (
		dir   string
		agent string
		kind  string
		index string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print pool lifecycle events from a journal directory",
		Long: `Decode the zstd JSONL journal files written by "botpool run" and print
the events in order, optionally filtered by agent name or event kind.

With --index, print per-kind counts from the SQLite index instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if index != "" {
				return printCounts(cmd.Context(), cmd.OutOrStdout(), index, agent)
			}
			return printJournal(cmd.OutOrStdout(), dir, journal.Filter{Agent: agent, Kind: journal.Kind(kind)})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data/journal", "journal directory")
	cmd.Flags().StringVar(&agent, "agent", "", "only events for this agent")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (e.g. agent_disconnected)")
	cmd.Flags().StringVar(&index, "index", "", "SQLite index file to summarize")
	return cmd
}

func kindColor(k journal.Kind) *color.Color {
	switch k {
	case journal.KindSpawned, journal.KindConnected:
		return color.New(color.FgGreen)
	case journal.KindDisconnected, journal.KindRetryScheduled:
		return color.New(color.FgYellow)
	case journal.KindForcedReconnect, journal.KindRemoved:
		return color.New(color.FgRed)
	case journal.KindTargetAcquired, journal.KindTargetChanged, journal.KindTargetCleared:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgWhite)
	}
}

func printJournal(out io.Writer, dir string, f journal.Filter) error {
	events, err := journal.ReadDir(dir, f)
	if err != nil {
		return err
	}
	dim := color.New(color.FgCyan)
	for _, e := range events {
		dim.Fprintf(out, "%s ", e.Time.Format("2006-01-02 15:04:05.000"))
		kindColor(e.Kind).Fprintf(out, "%-20s", e.Kind)
		if e.Agent != "" {
			fmt.Fprintf(out, " agent=%s", e.Agent)
		}
		if e.Cause != "" {
			fmt.Fprintf(out, " cause=%s", e.Cause)
		}
		if e.Attempt > 0 {
			fmt.Fprintf(out, " attempt=%d", e.Attempt)
		}
		if e.DelayMs > 0 {
			fmt.Fprintf(out, " delay=%s", e.Delay())
		}
		if e.Target != "" {
			fmt.Fprintf(out, " target=%s", e.Target)
		}
		if e.Detail != "" {
			fmt.Fprintf(out, " detail=%q", e.Detail)
		}
		fmt.Fprintln(out)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
	}
	return nil
}

func printCounts(ctx context.Context, out io.Writer, path, agent string) error {
	idx, err := journal.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	counts, err := idx.CountByKind(ctx, agent)
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kindColor(journal.Kind(k)).Fprintf(out, "%-20s", k)
		fmt.Fprintf(out, " %d\n", counts[journal.Kind(k)])
	}
	return nil
}
