// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-digest/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, started time.Time) types.RunStats {
	r := types.RunStats{RunID: id, StartedAt: started, Elapsed: 1500 * time.Millisecond}
	r.Merge([]types.SubjectStats{
		{Subject: "astro-ph.GA", Status: types.StatusSuccess, PapersFetched: 3, BatchesProcessed: 1, EstimatedTokens: 200, BlocksSent: 1, OutputFile: "output/a.md"},
		{Subject: "quant-ph", Status: types.StatusFailed, Error: "paper source unavailable"},
	})
	return r
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, sampleRun("run-a", base)))
	require.NoError(t, s.RecordRun(ctx, sampleRun("run-b", base.Add(time.Hour))))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, "run-a", runs[1].RunID)

	r := runs[1]
	assert.Equal(t, types.StatusPartial, r.Status)
	assert.Equal(t, 3, r.PapersFetched)
	assert.Equal(t, 1500*time.Millisecond, r.Elapsed)
	assert.True(t, base.Equal(r.StartedAt))
	require.Len(t, r.Subjects, 2)
	assert.Equal(t, "astro-ph.GA", r.Subjects[0].Subject)
	assert.Equal(t, "output/a.md", r.Subjects[0].OutputFile)
	assert.Equal(t, types.StatusFailed, r.Subjects[1].Status)
	assert.Equal(t, "paper source unavailable", r.Subjects[1].Error)
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.RecordRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
}

func TestDuplicateRunRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("dup", time.Now())
	require.NoError(t, s.RecordRun(ctx, run))
	assert.Error(t, s.RecordRun(ctx, run))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Runs)
}

func TestTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)

	require.NoError(t, s.RecordRun(ctx, sampleRun("a", time.Now())))
	require.NoError(t, s.RecordRun(ctx, sampleRun("b", time.Now().Add(time.Second))))

	totals, err = s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Runs)
	assert.Equal(t, 6, totals.PapersFetched)
	assert.Equal(t, 400, totals.EstimatedTokens)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), sampleRun("persisted", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].RunID)
}
