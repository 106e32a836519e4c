// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Status is the outcome of a subject sub-run or a whole run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusNoResults Status = "no-results"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// SubjectStats counts the work done for one subject.
type SubjectStats struct {
	Subject               string        `json:"subject" yaml:"subject"`
	Status                Status        `json:"status" yaml:"status"`
	PapersFetched         int           `json:"papers_fetched" yaml:"papers_fetched"`
	BatchesProcessed      int           `json:"batches_processed" yaml:"batches_processed"`
	SummarizationFailures int           `json:"summarization_failures" yaml:"summarization_failures"`
	EstimatedTokens       int           `json:"estimated_tokens" yaml:"estimated_tokens"`
	BlocksSent            int           `json:"blocks_sent" yaml:"blocks_sent"`
	BlocksFailed          int           `json:"blocks_failed" yaml:"blocks_failed"`
	OutputFile            string        `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	Error                 string        `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed               time.Duration `json:"elapsed" yaml:"elapsed"`
}

// RunStats aggregates SubjectStats after all sub-runs finish.
type RunStats struct {
	RunID                 string         `json:"run_id" yaml:"run_id"`
	StartedAt             time.Time      `json:"started_at" yaml:"started_at"`
	Status                Status         `json:"status" yaml:"status"`
	PapersFetched         int            `json:"papers_fetched" yaml:"papers_fetched"`
	BatchesProcessed      int            `json:"batches_processed" yaml:"batches_processed"`
	SummarizationFailures int            `json:"summarization_failures" yaml:"summarization_failures"`
	EstimatedTokens       int            `json:"estimated_tokens" yaml:"estimated_tokens"`
	Elapsed               time.Duration  `json:"elapsed" yaml:"elapsed"`
	Subjects              []SubjectStats `json:"subjects" yaml:"subjects"`
}

// Merge folds per-subject stats into the run totals and derives the run
// status. It is called once, after every sub-run has returned.
func (r *RunStats) Merge(subjects []SubjectStats) {
	r.Subjects = append(r.Subjects, subjects...)
	for _, s := range subjects {
		r.PapersFetched += s.PapersFetched
		r.BatchesProcessed += s.BatchesProcessed
		r.SummarizationFailures += s.SummarizationFailures
		r.EstimatedTokens += s.EstimatedTokens
	}
	r.Status = combineStatus(r.Subjects)
}

// combineStatus derives the run status: all failed is failed, all empty is
// no-results, any failure or partial delivery is partial.
func combineStatus(subjects []SubjectStats) Status {
	if len(subjects) == 0 {
		return StatusNoResults
	}
	var failed, empty, partial int
	for _, s := range subjects {
		switch s.Status {
		case StatusFailed:
			failed++
		case StatusNoResults:
			empty++
		case StatusPartial:
			partial++
		}
	}
	switch {
	case failed == len(subjects):
		return StatusFailed
	case empty == len(subjects):
		return StatusNoResults
	case failed > 0 || partial > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}
