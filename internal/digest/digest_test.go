// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-digest/internal/batch"
	"github.com/pdiddy/paper-digest/internal/deliver"
	"github.com/pdiddy/paper-digest/internal/observability"
	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/internal/sink"
	"github.com/pdiddy/paper-digest/internal/summarize"
	"github.com/pdiddy/paper-digest/pkg/types"
)

var fixedNow = time.Date(2024, 1, 3, 9, 4, 5, 0, time.UTC)

// --- fakes ---

type fakeSource struct {
	papers map[string][]types.Paper
	errs   map[string]error

	mu      sync.Mutex
	queries []types.Query
}

func (f *fakeSource) Fetch(_ context.Context, q types.Query) ([]types.Paper, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if err := f.errs[q.Subject]; err != nil {
		return nil, err
	}
	return f.papers[q.Subject], nil
}

type fakeNotifier struct {
	fail error

	mu     sync.Mutex
	blocks [][]string
	alerts []string
}

func (f *fakeNotifier) Send(_ context.Context, blocks []string) []deliver.BlockResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, blocks)
	out := make([]deliver.BlockResult, len(blocks))
	for i := range blocks {
		out[i].Index = i
		if f.fail != nil {
			out[i].Err = fmt.Errorf("%w: %w", types.ErrDeliveryFailure, f.fail)
			continue
		}
		out[i].Sent = true
	}
	return out
}

func (f *fakeNotifier) Alert(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, text)
	return f.fail
}

func (f *fakeNotifier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

type fakeHistory struct {
	runs []types.RunStats
}

func (f *fakeHistory) RecordRun(_ context.Context, run types.RunStats) error {
	f.runs = append(f.runs, run)
	return nil
}

// answeringGenerator answers every prompt with one summary per paper.
type answeringGenerator struct {
	hang func(prompt string) bool
}

func (g answeringGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.hang != nil && g.hang(prompt) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	n := strings.Count(prompt, "\nTitle: ")
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "- Summary %d of this batch\n%s\n", i+1, summarize.Delimiter)
	}
	return b.String(), nil
}

// --- helpers ---

func papers(subject string, n int) []types.Paper {
	out := make([]types.Paper, n)
	for i := range out {
		out[i] = types.Paper{
			ID:        fmt.Sprintf("2401.%05d", i+1),
			Title:     fmt.Sprintf("%s paper %d", subject, i+1),
			Authors:   []string{"A. Author", "B. Author"},
			Abstract:  fmt.Sprintf("We study the formation of dwarf galaxies in %s with a new method number %d and report results.", subject, i+1),
			Published: fixedNow.Add(-time.Hour),
			Link:      fmt.Sprintf("https://arxiv.org/abs/2401.%05d", i+1),
			Subject:   subject,
		}
	}
	return out
}

func testProcessor(gen summarize.Generator) *summarize.Processor {
	return &summarize.Processor{
		Gen:               gen,
		Policy:            retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		CallTimeout:       20 * time.Millisecond,
		MaxAbstractLength: 200,
		Logger:            zerolog.Nop(),
	}
}

func newOrchestrator(t *testing.T, src Source, sum Summarizer, n Notifier) (*Orchestrator, *fakeHistory) {
	t.Helper()
	fs := sink.New(types.OutputConfig{Dir: t.TempDir()}, nil, zerolog.Nop())
	fs.Now = func() time.Time { return fixedNow }
	h := &fakeHistory{}
	o := &Orchestrator{
		Source:         src,
		Summarizer:     sum,
		Sink:           fs,
		History:        h,
		Metrics:        observability.NewMetrics("digest_test"),
		Batch:          batch.Options{MaxBatchSize: 5, MaxTokensPerBatch: 4000, MaxAbstractLength: 200},
		Formatter:      deliver.NewFormatter(3000),
		SubjectWorkers: 2,
		BatchWorkers:   2,
		Now:            func() time.Time { return fixedNow },
		NewRunID:       func() string { return "run-test" },
		Logger:         zerolog.Nop(),
	}
	if n != nil {
		o.Notifier = n
	}
	return o, h
}

func subjectReport(t *testing.T, r Report, subject string) SubjectReport {
	t.Helper()
	for _, s := range r.Subjects {
		if s.Stats.Subject == subject {
			return s
		}
	}
	t.Fatalf("no report for subject %q", subject)
	return SubjectReport{}
}

// --- end-to-end scenarios ---

func TestRunSingleBatchOneBlock(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{"astro-ph.GA": papers("astro-ph.GA", 3)}}
	notifier := &fakeNotifier{}
	o, h := newOrchestrator(t, src, testProcessor(answeringGenerator{}), notifier)

	rep, err := o.Run(context.Background(), Request{
		Subjects:   []string{"astro-ph.GA"},
		Keywords:   []string{"dwarf", "galaxies"},
		MaxResults: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, rep.Run.Status)
	assert.Equal(t, "run-test", rep.Run.RunID)
	require.Len(t, rep.Subjects, 1)
	sub := rep.Subjects[0]
	assert.Len(t, sub.Batches, 1)
	require.Len(t, sub.Entries, 3)
	for _, e := range sub.Entries {
		assert.Equal(t, types.ProvenanceAI, e.Summary.Provenance)
	}
	assert.Equal(t, 1, sub.Stats.BlocksSent)
	assert.Zero(t, sub.Stats.SummarizationFailures)
	assert.Empty(t, notifier.alerts)

	require.Len(t, notifier.blocks, 1)
	require.Len(t, notifier.blocks[0], 1)
	assert.Contains(t, notifier.blocks[0][0], "arXiv digest: astro-ph.GA / dwarf, galaxies")

	require.NotEmpty(t, sub.Written.Path)
	data, err := os.ReadFile(sub.Written.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "astro-ph.GA paper 3")

	require.Len(t, src.queries, 1)
	assert.Equal(t, types.OperatorAnd, src.queries[0].Operator)
	assert.Equal(t, []string{"dwarf", "galaxies"}, src.queries[0].Keywords)

	require.Len(t, h.runs, 1)
	assert.Equal(t, 3, h.runs[0].PapersFetched)
}

func TestRunSlackAuthFailureWritesFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"error":"invalid_auth"}`)
	}))
	t.Cleanup(ts.Close)

	notifier, err := deliver.NewSlack(types.SlackConfig{
		BotToken:          "xoxb-revoked",
		ChannelID:         "C123",
		APIURL:            ts.URL,
		MessagesPerSecond: 1000,
	}, time.Second, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	for _, mode := range []types.DeliveryMode{types.ModeBoth, types.ModeSlack} {
		t.Run(string(mode), func(t *testing.T) {
			src := &fakeSource{papers: map[string][]types.Paper{"quant-ph": papers("quant-ph", 4)}}
			o, _ := newOrchestrator(t, src, testProcessor(answeringGenerator{}), notifier)

			rep, err := o.Run(context.Background(), Request{Subjects: []string{"quant-ph"}, MaxResults: 4, Mode: mode})
			require.NoError(t, err)

			assert.Equal(t, types.StatusPartial, rep.Run.Status)
			sub := rep.Subjects[0]
			assert.ErrorIs(t, sub.Err, types.ErrDeliveryFailure)
			assert.Zero(t, sub.Stats.BlocksSent)
			assert.Equal(t, len(sub.Deliveries), sub.Stats.BlocksFailed)

			require.NotEmpty(t, sub.Stats.OutputFile)
			data, err := os.ReadFile(sub.Stats.OutputFile)
			require.NoError(t, err)
			for i := 1; i <= 4; i++ {
				assert.Contains(t, string(data), fmt.Sprintf("quant-ph paper %d", i))
			}
			assert.Equal(t, 4, strings.Count(string(data), "Summary "))
		})
	}
}

func TestRunGeminiTimeoutFallsBackSiblingSucceeds(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{
		"astro-ph.GA": papers("astro-ph.GA", 5),
		"cs.AI":       papers("cs.AI", 2),
	}}
	gen := answeringGenerator{hang: func(prompt string) bool { return strings.Contains(prompt, "astro-ph.GA") }}
	notifier := &fakeNotifier{}
	o, _ := newOrchestrator(t, src, testProcessor(gen), notifier)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"astro-ph.GA", "cs.AI"}, MaxResults: 5})
	require.NoError(t, err)

	astro := subjectReport(t, rep, "astro-ph.GA")
	assert.Equal(t, types.StatusSuccess, astro.Stats.Status)
	assert.Equal(t, 5, astro.Stats.SummarizationFailures)
	require.Len(t, astro.Entries, 5)
	for _, e := range astro.Entries {
		assert.Equal(t, types.ProvenanceFallback, e.Summary.Provenance)
		assert.True(t, strings.HasPrefix(e.Summary.Text, "We study"))
	}

	ai := subjectReport(t, rep, "cs.AI")
	assert.Equal(t, types.StatusSuccess, ai.Stats.Status)
	assert.Zero(t, ai.Stats.SummarizationFailures)

	assert.Equal(t, 5, rep.Run.SummarizationFailures)
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "astro-ph.GA")
	assert.Contains(t, notifier.alerts[0], "5 of 5")
}

// --- subject isolation and modes ---

func TestRunSourceFailureIsolated(t *testing.T) {
	src := &fakeSource{
		papers: map[string][]types.Paper{"cs.AI": papers("cs.AI", 2)},
		errs:   map[string]error{"hep-th": fmt.Errorf("%w: 503", types.ErrSourceUnavailable)},
	}
	notifier := &fakeNotifier{}
	o, _ := newOrchestrator(t, src, testProcessor(answeringGenerator{}), notifier)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"hep-th", "cs.AI"}, MaxResults: 2})
	require.NoError(t, err)

	assert.Equal(t, types.StatusPartial, rep.Run.Status)
	hep := subjectReport(t, rep, "hep-th")
	assert.Equal(t, types.StatusFailed, hep.Stats.Status)
	assert.ErrorIs(t, hep.Err, types.ErrSourceUnavailable)
	assert.Contains(t, hep.Stats.Error, "paper source unavailable")
	assert.Equal(t, types.StatusSuccess, subjectReport(t, rep, "cs.AI").Stats.Status)

	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "hep-th")
}

func TestRunNoResults(t *testing.T) {
	notifier := &fakeNotifier{}
	o, _ := newOrchestrator(t, &fakeSource{}, testProcessor(answeringGenerator{}), notifier)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"math.CO"}, MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNoResults, rep.Run.Status)
	assert.Empty(t, rep.Subjects[0].Stats.OutputFile)
	assert.Zero(t, notifier.sendCount())
}

func TestRunFileModeNeedsNoNotifier(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{"cs.LG": papers("cs.LG", 2)}}
	o, _ := newOrchestrator(t, src, testProcessor(answeringGenerator{}), nil)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"cs.LG"}, MaxResults: 2, Mode: types.ModeFile})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rep.Run.Status)
	assert.FileExists(t, rep.Subjects[0].Stats.OutputFile)
	assert.FileExists(t, rep.Subjects[0].Written.ReportPath)
}

func TestRunSlackModeSkipsFileOnSuccess(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{"cs.LG": papers("cs.LG", 2)}}
	notifier := &fakeNotifier{}
	o, _ := newOrchestrator(t, src, testProcessor(answeringGenerator{}), notifier)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"cs.LG"}, MaxResults: 2, Mode: types.ModeSlack})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, rep.Run.Status)
	assert.Empty(t, rep.Subjects[0].Stats.OutputFile)
	assert.Equal(t, 1, notifier.sendCount())
}

type configErrorSummarizer struct{}

func (configErrorSummarizer) Summarize(context.Context, types.Batch) (summarize.Result, error) {
	return summarize.Result{}, types.NewConfigError("gemini.api_key", "rejected by service (401)")
}

func TestRunConfigErrorFromSummarizer(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{"cs.AI": papers("cs.AI", 2)}}
	notifier := &fakeNotifier{}
	o, _ := newOrchestrator(t, src, configErrorSummarizer{}, notifier)

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"cs.AI"}, MaxResults: 2})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
	assert.Equal(t, types.StatusFailed, rep.Run.Status)
	assert.Zero(t, notifier.sendCount())
}

// orderSummarizer answers with a delay so batches finish out of order.
type orderSummarizer struct{}

func (s orderSummarizer) Summarize(_ context.Context, b types.Batch) (summarize.Result, error) {
	time.Sleep(time.Duration(5-b.Index%5) * time.Millisecond)
	res := summarize.Result{BatchIndex: b.Index, Outcome: summarize.OutcomeAI}
	for _, p := range b.Papers {
		res.Summaries = append(res.Summaries, types.Summary{PaperID: p.ID, Text: "s", Provenance: types.ProvenanceAI})
	}
	return res, nil
}

func TestRunPreservesPaperOrder(t *testing.T) {
	src := &fakeSource{papers: map[string][]types.Paper{"cs.AI": papers("cs.AI", 23)}}
	o, _ := newOrchestrator(t, src, orderSummarizer{}, &fakeNotifier{})
	o.BatchWorkers = 4
	o.Batch.MaxBatchSize = 2

	rep, err := o.Run(context.Background(), Request{Subjects: []string{"cs.AI"}, MaxResults: 23})
	require.NoError(t, err)

	sub := rep.Subjects[0]
	assert.Len(t, sub.Batches, 12)
	require.Len(t, sub.Entries, 23)
	for i, e := range sub.Entries {
		assert.Equal(t, fmt.Sprintf("2401.%05d", i+1), e.Paper.ID)
		assert.Equal(t, e.Paper.ID, e.Summary.PaperID)
	}
}

// --- validation and planning ---

func TestValidate(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeSource{}, configErrorSummarizer{}, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown mode", Request{Subjects: []string{"cs.AI"}, Mode: "pigeon"}},
		{"slack without notifier", Request{Subjects: []string{"cs.AI"}, Mode: types.ModeSlack}},
		{"default mode without notifier", Request{Subjects: []string{"cs.AI"}}},
		{"negative max", Request{Subjects: []string{"cs.AI"}, MaxResults: -1, Mode: types.ModeFile}},
		{"empty query", Request{Mode: types.ModeFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tt.req)
			assert.True(t, types.IsConfigError(err), "got %v", err)
		})
	}

	assert.NoError(t, o.Validate(Request{Keywords: []string{"lensing"}, Mode: types.ModeFile}))
}

func TestPlan(t *testing.T) {
	src := &fakeSource{
		papers: map[string][]types.Paper{"cs.AI": papers("cs.AI", 7)},
		errs:   map[string]error{"bad": errors.New("boom")},
	}
	o, _ := newOrchestrator(t, src, nil, nil)

	plans, err := o.Plan(context.Background(), Request{Subjects: []string{"cs.AI", "bad"}, MaxResults: 7})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "cs.AI", plans[0].Subject)
	assert.Len(t, plans[0].Papers, 7)
	assert.Len(t, plans[0].Batches, 2)
	assert.Error(t, plans[1].Err)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "arXiv digest: astro-ph.GA / dwarf, galaxies", Title("astro-ph.GA", []string{"dwarf", "galaxies"}))
	assert.Equal(t, "arXiv digest: quant-ph", Title("quant-ph", nil))
	assert.Equal(t, "arXiv digest: lensing", Title("", []string{"lensing"}))
	assert.Equal(t, "arXiv digest", Title("", nil))
}

func TestWriteFilePolicy(t *testing.T) {
	assert.True(t, writeFile(types.ModeBoth, false))
	assert.True(t, writeFile(types.ModeFile, false))
	assert.False(t, writeFile(types.ModeSlack, false))
	assert.True(t, writeFile(types.ModeSlack, true))
}
