// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-digest/pkg/types"
)

func sampleRun() types.RunStats {
	r := types.RunStats{RunID: "r1", Elapsed: 12 * time.Second}
	r.Merge([]types.SubjectStats{
		{Subject: "astro-ph.GA", Status: types.StatusSuccess, PapersFetched: 5, BatchesProcessed: 1, EstimatedTokens: 900, BlocksSent: 2, Elapsed: 4 * time.Second},
		{Subject: "quant-ph", Status: types.StatusPartial, PapersFetched: 5, BatchesProcessed: 5, SummarizationFailures: 5, BlocksFailed: 1, Elapsed: 9 * time.Second},
	})
	return r
}

func TestRecordRun(t *testing.T) {
	m := NewMetrics("test_digest")
	m.RecordRun(sampleRun())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("partial")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PapersFetched.WithLabelValues("astro-ph.GA")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SummarizationFallback.WithLabelValues("quant-ph")))
	assert.Equal(t, 900.0, testutil.ToFloat64(m.EstimatedTokens.WithLabelValues("astro-ph.GA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlocksFailed.WithLabelValues("quant-ph")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SubjectDuration))
}

func TestMetricsAreIsolated(t *testing.T) {
	a := NewMetrics("digest")
	b := NewMetrics("digest")
	a.RecordRun(sampleRun())
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PapersFetched.WithLabelValues("astro-ph.GA")))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics("digest")
	m.RecordRun(sampleRun())

	path := filepath.Join(t.TempDir(), "digest.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `digest_papers_fetched_total{subject="quant-ph"} 5`)
	assert.Contains(t, string(data), `digest_runs_total{status="partial"} 1`)
	assert.Contains(t, string(data), "# HELP digest_summarization_fallbacks_total Papers whose summary fell back")
	assert.Contains(t, string(data), `digest_summarization_fallbacks_total{subject="quant-ph"} 5`)
}
