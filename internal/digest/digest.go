// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package digest runs the fetch, plan, summarize and deliver pipeline for a
// set of subjects. Each subject is an independent sub-run: its failure is
// recorded in its own statistics and never aborts its siblings. Only
// configuration errors abort a run.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"github.com/pdiddy/paper-digest/internal/batch"
	"github.com/pdiddy/paper-digest/internal/deliver"
	"github.com/pdiddy/paper-digest/internal/observability"
	"github.com/pdiddy/paper-digest/internal/sink"
	"github.com/pdiddy/paper-digest/internal/source"
	"github.com/pdiddy/paper-digest/internal/summarize"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// Source fetches the papers matching a query.
type Source interface {
	Fetch(ctx context.Context, q types.Query) ([]types.Paper, error)
}

// Summarizer summarizes one batch. A returned error aborts the subject.
type Summarizer interface {
	Summarize(ctx context.Context, b types.Batch) (summarize.Result, error)
}

// Notifier posts digest blocks and alerts to the messaging channel.
type Notifier interface {
	Send(ctx context.Context, blocks []string) []deliver.BlockResult
	Alert(ctx context.Context, text string) error
}

// Sink persists a rendered digest.
type Sink interface {
	Write(ctx context.Context, subject, markdown string, report sink.Report) (sink.Written, error)
}

// Recorder stores finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run types.RunStats) error
}

// Request describes one digest run.
type Request struct {
	Subjects   []string
	Keywords   []string
	Operator   types.KeywordOperator
	MinResults int
	MaxResults int
	Mode       types.DeliveryMode
}

// Query returns the source query for subject.
func (r Request) Query(subject string) types.Query {
	op := r.Operator
	if op == "" {
		op = types.OperatorAnd
	}
	return types.Query{
		Subject:    subject,
		Keywords:   r.Keywords,
		Operator:   op,
		MinResults: r.MinResults,
		MaxResults: r.MaxResults,
	}
}

// subjects returns the subject list, or a single keyword-only query when
// no subject was given.
func (r Request) subjects() []string {
	var out []string
	for _, s := range r.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// SubjectReport is the outcome of one subject sub-run.
type SubjectReport struct {
	Stats      types.SubjectStats
	Entries    []types.Entry
	Batches    []types.Batch
	Deliveries []deliver.BlockResult
	Written    sink.Written
	Err        error
}

// Report is the outcome of a run.
type Report struct {
	Run      types.RunStats
	Subjects []SubjectReport
}

// Orchestrator wires the pipeline components. Notifier may be nil when
// every request uses file mode. History and Metrics are optional.
type Orchestrator struct {
	Source     Source
	Summarizer Summarizer
	Notifier   Notifier
	Sink       Sink
	History    Recorder
	Metrics    *observability.Metrics

	Batch     batch.Options
	Formatter deliver.Formatter

	SubjectWorkers int
	BatchWorkers   int

	Now      func() time.Time
	NewRunID func() string
	Logger   zerolog.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Validate checks req against the orchestrator before any network call.
func (o *Orchestrator) Validate(req Request) error {
	mode := req.Mode
	if mode == "" {
		mode = types.ModeBoth
	}
	if !mode.Valid() {
		return types.NewConfigError("mode", "unknown delivery mode %q", req.Mode)
	}
	if mode.UsesSlack() && o.Notifier == nil {
		return types.NewConfigError("mode", "%s delivery needs a Slack notifier", mode)
	}
	for _, subject := range req.subjects() {
		if err := source.ValidateQuery(req.Query(subject)); err != nil {
			return err
		}
	}
	return o.Batch.Validate()
}

// Run executes req for every subject and returns the merged report. The
// error is non-nil only for configuration errors; the report is still
// populated for subjects that ran.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	if req.Mode == "" {
		req.Mode = types.ModeBoth
	}
	if err := o.Validate(req); err != nil {
		return Report{}, err
	}

	runID := uuid.NewString()
	if o.NewRunID != nil {
		runID = o.NewRunID()
	}
	started := o.now()
	logger := observability.WithRunContext(o.Logger, runID)
	logger.Info().
		Strs("subjects", req.Subjects).
		Strs("keywords", req.Keywords).
		Str("mode", string(req.Mode)).
		Int("max_results", req.MaxResults).
		Msg("digest run started")

	mapper := iter.Mapper[string, SubjectReport]{MaxGoroutines: workers(o.SubjectWorkers)}
	reports := mapper.Map(req.subjects(), func(subject *string) SubjectReport {
		return o.runSubject(ctx, runID, *subject, req, logger)
	})

	run := types.RunStats{RunID: runID, StartedAt: started}
	stats := make([]types.SubjectStats, len(reports))
	var configErrs []error
	for i, r := range reports {
		stats[i] = r.Stats
		if types.IsConfigError(r.Err) {
			configErrs = append(configErrs, fmt.Errorf("subject %q: %w", r.Stats.Subject, r.Err))
		}
	}
	run.Merge(stats)
	run.Elapsed = o.now().Sub(started)

	logger.Info().
		Str("status", string(run.Status)).
		Int("papers", run.PapersFetched).
		Int("batches", run.BatchesProcessed).
		Int("fallbacks", run.SummarizationFailures).
		Int("estimated_tokens", run.EstimatedTokens).
		Dur("elapsed", run.Elapsed).
		Msg("digest run finished")

	if o.Metrics != nil {
		o.Metrics.RecordRun(run)
	}
	if o.History != nil {
		if err := o.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn().Err(err).Msg("recording run history failed")
		}
	}

	return Report{Run: run, Subjects: reports}, errors.Join(configErrs...)
}

func (o *Orchestrator) runSubject(ctx context.Context, runID, subject string, req Request, parent zerolog.Logger) SubjectReport {
	start := o.now()
	log := observability.WithSubjectContext(parent, subject)
	rep := SubjectReport{Stats: types.SubjectStats{Subject: subject}}
	finish := func(status types.Status, err error) SubjectReport {
		rep.Stats.Status = status
		rep.Err = err
		if err != nil {
			rep.Stats.Error = err.Error()
		}
		rep.Stats.Elapsed = o.now().Sub(start)
		return rep
	}

	query := req.Query(subject)
	papers, err := o.Source.Fetch(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("fetch failed")
		if !types.IsConfigError(err) {
			o.alert(ctx, req.Mode, subject, fmt.Sprintf("Paper source unavailable: %v", err), log)
		}
		return finish(types.StatusFailed, err)
	}
	rep.Stats.PapersFetched = len(papers)
	if len(papers) == 0 {
		log.Info().Msg("no papers matched")
		return finish(types.StatusNoResults, nil)
	}

	batches, err := batch.Plan(papers, o.Batch)
	if err != nil {
		return finish(types.StatusFailed, err)
	}
	rep.Batches = batches
	rep.Stats.BatchesProcessed = len(batches)
	for _, b := range batches {
		rep.Stats.EstimatedTokens += b.EstimatedTokens
	}
	log.Info().Int("papers", len(papers)).Int("batches", len(batches)).Msg("batches planned")

	entries, fallbacks, err := o.summarizeAll(ctx, batches, log)
	if err != nil {
		log.Error().Err(err).Msg("summarization aborted")
		return finish(types.StatusFailed, err)
	}
	rep.Entries = entries
	rep.Stats.SummarizationFailures = fallbacks

	title := Title(subject, req.Keywords)
	generated := o.now()
	status := types.StatusSuccess
	var deliveryErr error

	if req.Mode.UsesSlack() {
		blocks := o.Formatter.Format(deliver.Header(title, generated), entries)
		rep.Deliveries = o.Notifier.Send(ctx, blocks)
		rep.Stats.BlocksSent = deliver.CountSent(rep.Deliveries)
		rep.Stats.BlocksFailed = len(rep.Deliveries) - rep.Stats.BlocksSent
		if deliver.DeliveryFailed(rep.Deliveries) {
			deliveryErr = firstDeliveryError(rep.Deliveries)
			status = types.StatusPartial
			log.Error().Err(deliveryErr).
				Int("sent", rep.Stats.BlocksSent).
				Int("failed", rep.Stats.BlocksFailed).
				Msg("slack delivery failed")
		}
		if fallbacks > 0 {
			o.alert(ctx, req.Mode, subject, fmt.Sprintf(
				"AI summaries unavailable for %d of %d papers; abstract excerpts were used.", fallbacks, len(entries)), log)
		}
	}

	if writeFile(req.Mode, deliveryErr != nil) {
		rep.Stats.Elapsed = o.now().Sub(start)
		rep.Stats.Status = status
		report := sink.Report{
			RunID:       runID,
			Subject:     subject,
			Query:       query,
			GeneratedAt: generated,
			Stats:       rep.Stats,
			Papers:      sink.ReportPapers(entries),
		}
		written, err := o.Sink.Write(ctx, subject, deliver.Markdown(title, generated, entries), report)
		if err != nil {
			log.Error().Err(err).Msg("writing digest file failed")
			if req.Mode == types.ModeFile || deliveryErr != nil {
				// Nothing reached any destination.
				return finish(types.StatusFailed, errors.Join(deliveryErr, err))
			}
			return finish(types.StatusPartial, err)
		}
		rep.Written = written
		rep.Stats.OutputFile = written.Path
	}

	log.Info().
		Str("status", string(status)).
		Int("fallbacks", fallbacks).
		Int("blocks_sent", rep.Stats.BlocksSent).
		Str("file", rep.Stats.OutputFile).
		Msg("subject finished")
	return finish(status, deliveryErr)
}

// summarizeAll summarizes batches with a bounded pool and returns the
// entries in input order with the number of fallback summaries.
func (o *Orchestrator) summarizeAll(ctx context.Context, batches []types.Batch, log zerolog.Logger) ([]types.Entry, int, error) {
	type outcome struct {
		res summarize.Result
		err error
	}
	mapper := iter.Mapper[types.Batch, outcome]{MaxGoroutines: workers(o.BatchWorkers)}
	outcomes := mapper.Map(batches, func(b *types.Batch) outcome {
		res, err := o.Summarizer.Summarize(ctx, *b)
		return outcome{res: res, err: err}
	})

	var (
		entries   []types.Entry
		fallbacks int
		errs      []error
	)
	for i, out := range outcomes {
		if out.err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", batches[i].Index, out.err))
			continue
		}
		if len(out.res.Summaries) != len(batches[i].Papers) {
			errs = append(errs, fmt.Errorf("batch %d: %d summaries for %d papers",
				batches[i].Index, len(out.res.Summaries), len(batches[i].Papers)))
			continue
		}
		if out.res.Outcome == summarize.OutcomeFallback {
			bl := observability.WithBatchContext(log, batches[i].Index, len(batches[i].Papers))
			bl.Warn().Str("reason", out.res.FallbackReason).Msg("batch fell back to abstract excerpts")
		}
		for j, p := range batches[i].Papers {
			s := out.res.Summaries[j]
			if s.IsFallback() {
				fallbacks++
			}
			entries = append(entries, types.Entry{Paper: p, Summary: s})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, 0, err
	}
	return entries, fallbacks, nil
}

// alert posts an alert when mode uses Slack. Alert failures are logged.
func (o *Orchestrator) alert(ctx context.Context, mode types.DeliveryMode, subject, message string, log zerolog.Logger) {
	if !mode.UsesSlack() || o.Notifier == nil {
		return
	}
	if err := o.Notifier.Alert(ctx, deliver.AlertText(subject, message)); err != nil {
		log.Warn().Err(err).Msg("alert not delivered")
	}
}

// writeFile applies the delivery mode policy: both and file always write,
// slack writes only when delivery failed.
func writeFile(mode types.DeliveryMode, deliveryFailed bool) bool {
	switch mode {
	case types.ModeBoth, types.ModeFile:
		return true
	case types.ModeSlack:
		return deliveryFailed
	}
	return false
}

func firstDeliveryError(results []deliver.BlockResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return types.ErrDeliveryFailure
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Title names the digest of subject and keywords.
func Title(subject string, keywords []string) string {
	var parts []string
	if subject != "" {
		parts = append(parts, subject)
	}
	if kw := strings.Join(keywords, ", "); kw != "" {
		parts = append(parts, kw)
	}
	if len(parts) == 0 {
		return "arXiv digest"
	}
	return "arXiv digest: " + strings.Join(parts, " / ")
}
