// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-digest/internal/history"
	"github.com/pdiddy/paper-digest/internal/sink"
	"github.com/pdiddy/paper-digest/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent digest runs",
	Long: `History reads the run ledger (history.path) and lists recent runs with
their per-subject statistics, newest first. It also reports the digest
files kept in the output directory (output.dir) and the latest one.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 10, "number of runs to show")
	historyCmd.Flags().Bool("json", false, "output runs as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if cfg.History.Path == "" {
		return types.NewConfigError("history.path", "not set")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	output, err := loadOutputSummary(cfg.Output.Dir)
	if err != nil {
		return err
	}
	return formatHistory(os.Stdout, runs, totals, output, jsonOutput)
}

// outputSummary describes the output directory and its latest digest.
type outputSummary struct {
	Dir             string        `json:"dir"`
	Stats           sink.DirStats `json:"stats"`
	LatestSubject   string        `json:"latest_subject,omitempty"`
	LatestPapers    int           `json:"latest_papers,omitempty"`
	LatestFallbacks int           `json:"latest_fallbacks,omitempty"`
}

func loadOutputSummary(dir string) (outputSummary, error) {
	out := outputSummary{Dir: dir}
	st, err := sink.Stats(dir)
	if err != nil {
		return out, err
	}
	out.Stats = st
	if st.Latest == "" {
		return out, nil
	}
	rep, err := sink.ReadReport(sink.ReportPath(st.Latest))
	if err != nil {
		logger.Debug().Err(err).Str("digest", st.Latest).Msg("no report beside latest digest")
		return out, nil
	}
	out.LatestSubject = rep.Subject
	out.LatestPapers = len(rep.Papers)
	out.LatestFallbacks = rep.Stats.SummarizationFailures
	return out, nil
}

func formatHistory(w io.Writer, runs []types.RunStats, totals history.Totals, output outputSummary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Runs   []types.RunStats `json:"runs"`
			Totals history.Totals   `json:"totals"`
			Output outputSummary    `json:"output"`
		}{runs, totals, output})
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		formatOutput(w, output)
		return nil
	}

	fmt.Fprintf(w, "%-19s  %-10s  %6s  %7s  %9s  %7s  %s\n",
		"Started", "Status", "Papers", "Batches", "Fallbacks", "Tokens", "Subjects")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range runs {
		subjects := make([]string, len(r.Subjects))
		for i, s := range r.Subjects {
			subjects[i] = fmt.Sprintf("%s(%s)", s.Subject, s.Status)
		}
		fmt.Fprintf(w, "%-19s  %-10s  %6d  %7d  %9d  %7d  %s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Status, r.PapersFetched, r.BatchesProcessed,
			r.SummarizationFailures, r.EstimatedTokens, strings.Join(subjects, " "))
	}
	fmt.Fprintf(w, "\n%d runs total, %d papers, %d fallbacks, ~%d tokens\n",
		totals.Runs, totals.PapersFetched, totals.SummarizationFailures, totals.EstimatedTokens)
	formatOutput(w, output)
	return nil
}

func formatOutput(w io.Writer, output outputSummary) {
	st := output.Stats
	fmt.Fprintf(w, "Output %s: %d digests, %d reports, %.1f KB\n",
		output.Dir, st.Digests, st.Reports, float64(st.Bytes)/1024)
	if st.Latest == "" {
		return
	}
	fmt.Fprintf(w, "Latest digest: %s (%s", st.Latest, st.LatestModified.Local().Format(time.DateTime))
	if output.LatestSubject != "" {
		fmt.Fprintf(w, ", %s, %d papers, %d fallbacks", output.LatestSubject, output.LatestPapers, output.LatestFallbacks)
	}
	fmt.Fprintln(w, ")")
}
