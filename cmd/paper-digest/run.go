// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pdiddy/paper-digest/internal/batch"
	"github.com/pdiddy/paper-digest/internal/config"
	"github.com/pdiddy/paper-digest/internal/deliver"
	"github.com/pdiddy/paper-digest/internal/digest"
	"github.com/pdiddy/paper-digest/internal/history"
	"github.com/pdiddy/paper-digest/internal/observability"
	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/internal/sink"
	"github.com/pdiddy/paper-digest/internal/source"
	"github.com/pdiddy/paper-digest/internal/summarize"
	"github.com/pdiddy/paper-digest/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, summarize and deliver a digest for each subject",
	Long: `Run queries arXiv for each subject, batches the papers under the token
budget, summarizes each batch with Gemini and delivers the digest.

Delivery modes:
  both   post to Slack and always write the Markdown file (default)
  slack  post to Slack; write the file only when delivery fails
  file   write the file; no Slack calls

Exit status: 0 success, 1 failure, 2 configuration or auth error,
3 partial delivery failure, 4 no papers found.`,
	Example: `  paper-digest run --subjects astro-ph.GA --keywords dwarf,galaxies --max-results 3
  paper-digest run --subjects quant-ph,cs.AI --mode file
  paper-digest run --subjects cs.LG --dry-run`,
	RunE: runDigest,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.StringSlice("subjects", nil, "arXiv subject categories (comma-separated, e.g. astro-ph.GA,quant-ph)")
	f.StringSlice("keywords", nil, "keywords that must appear (comma-separated)")
	f.Bool("any-keyword", false, "match any keyword instead of all")
	f.Int("max-results", 10, "maximum papers per subject")
	f.Int("min-results", 0, "warn when fewer papers than this are found")
	f.String("mode", string(types.ModeBoth), "delivery mode: both, slack or file")
	f.Bool("dry-run", false, "fetch and plan batches only; no summarization or delivery")
}

func requestFromFlags(cmd *cobra.Command) digest.Request {
	subjects, _ := cmd.Flags().GetStringSlice("subjects")
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	anyKeyword, _ := cmd.Flags().GetBool("any-keyword")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	minResults, _ := cmd.Flags().GetInt("min-results")
	mode, _ := cmd.Flags().GetString("mode")

	op := types.OperatorAnd
	if anyKeyword {
		op = types.OperatorOr
	}
	return digest.Request{
		Subjects:   trimAll(subjects),
		Keywords:   trimAll(keywords),
		Operator:   op,
		MinResults: minResults,
		MaxResults: maxResults,
		Mode:       types.DeliveryMode(strings.ToLower(mode)),
	}
}

func runDigest(cmd *cobra.Command, args []string) error {
	req := requestFromFlags(cmd)
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun {
		o := &digest.Orchestrator{
			Source:         newSource(),
			Batch:          batch.OptionsFromConfig(cfg.Batch),
			SubjectWorkers: cfg.Concurrency.Subjects,
			Logger:         logger,
		}
		plans, err := o.Plan(ctx, req)
		if err != nil {
			return err
		}
		printPlan(os.Stdout, plans)
		return nil
	}

	if err := config.RequireCredentials(cfg, req.Mode); err != nil {
		return err
	}

	o, closeAll, err := buildOrchestrator(ctx, req.Mode)
	if err != nil {
		return err
	}
	defer closeAll()

	rep, err := o.Run(ctx, req)
	if rep.Run.RunID != "" {
		printReport(os.Stdout, rep)
	}
	if o.Metrics != nil && cfg.Metrics.Textfile != "" {
		if werr := o.Metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Warn().Err(werr).Msg("metrics textfile not written")
		}
	}

	code := runExitCode(rep, err)
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code, err: err}
}

func newSource() *source.Client {
	return source.New(cfg.Source, retry.FromConfig(cfg.Retry, nil), logger)
}

// buildOrchestrator wires every component for mode. The returned func
// releases the history ledger.
func buildOrchestrator(ctx context.Context, mode types.DeliveryMode) (*digest.Orchestrator, func(), error) {
	policy := retry.FromConfig(cfg.Retry, nil)

	gen, err := summarize.NewGemini(ctx, cfg.Gemini, logger)
	if err != nil {
		return nil, nil, err
	}

	var archiver sink.Archiver
	if cfg.Archive.Enabled() {
		a, err := sink.NewS3Archiver(cfg.Archive)
		if err != nil {
			return nil, nil, err
		}
		archiver = a
	}

	o := &digest.Orchestrator{
		Source: newSource(),
		Summarizer: &summarize.Processor{
			Gen:               gen,
			Policy:            policy,
			CallTimeout:       cfg.Gemini.Timeout,
			MaxAbstractLength: cfg.Batch.MaxAbstractLength,
			Logger:            logger.With().Str("component", "summarize").Logger(),
		},
		Sink:           sink.New(cfg.Output, archiver, logger),
		Metrics:        observability.NewMetrics("paper_digest"),
		Batch:          batch.OptionsFromConfig(cfg.Batch),
		Formatter:      deliver.NewFormatter(cfg.Slack.MessageLimit),
		SubjectWorkers: cfg.Concurrency.Subjects,
		BatchWorkers:   cfg.Concurrency.Batches,
		Logger:         logger,
	}

	if mode.UsesSlack() {
		n, err := deliver.NewSlack(cfg.Slack, 0, policy, logger)
		if err != nil {
			return nil, nil, err
		}
		o.Notifier = n
	}

	closeAll := func() {}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.History.Path).Msg("run history disabled")
		} else {
			o.History = store
			closeAll = func() { store.Close() }
		}
	}
	return o, closeAll, nil
}

func printReport(w io.Writer, rep digest.Report) {
	fmt.Fprintf(w, "Run %s: %s (%d papers, %d batches, %d fallbacks, ~%d tokens, %s)\n",
		rep.Run.RunID, rep.Run.Status, rep.Run.PapersFetched, rep.Run.BatchesProcessed,
		rep.Run.SummarizationFailures, rep.Run.EstimatedTokens, rep.Run.Elapsed.Round(time.Millisecond))
	for _, s := range rep.Subjects {
		name := s.Stats.Subject
		if name == "" {
			name = "(keywords)"
		}
		fmt.Fprintf(w, "  %-16s %-10s papers=%d batches=%d fallbacks=%d blocks=%d/%d",
			name, s.Stats.Status, s.Stats.PapersFetched, s.Stats.BatchesProcessed,
			s.Stats.SummarizationFailures, s.Stats.BlocksSent, s.Stats.BlocksSent+s.Stats.BlocksFailed)
		if s.Stats.OutputFile != "" {
			fmt.Fprintf(w, " file=%s", s.Stats.OutputFile)
		}
		if s.Written.ArchiveURL != "" {
			fmt.Fprintf(w, " archive=%s", s.Written.ArchiveURL)
		}
		fmt.Fprintln(w)
		if s.Stats.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", s.Stats.Error)
		}
	}
}

func printPlan(w io.Writer, plans []digest.SubjectPlan) {
	for _, p := range plans {
		name := p.Subject
		if name == "" {
			name = "(keywords)"
		}
		if p.Err != nil {
			fmt.Fprintf(w, "%s: error: %v\n", name, p.Err)
			continue
		}
		fmt.Fprintf(w, "%s: %d papers in %d batches\n", name, len(p.Papers), len(p.Batches))
		for _, b := range p.Batches {
			fmt.Fprintf(w, "  batch %d: %d papers, ~%d tokens\n", b.Index, len(b.Papers), b.EstimatedTokens)
			for _, paper := range b.Papers {
				fmt.Fprintf(w, "    %s  %s\n", paper.ID, paper.Title)
			}
		}
	}
}

func trimAll(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
