// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history keeps a SQLite ledger of digest runs and their
// per-subject statistics. Papers and summaries are not stored.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/paper-digest/pkg/types"
)

// Store manages the run ledger database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and creates the schema if it
// does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			status TEXT NOT NULL,
			papers_fetched INTEGER,
			batches_processed INTEGER,
			summarization_failures INTEGER,
			estimated_tokens INTEGER,
			elapsed_ms INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS subject_runs (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			subject TEXT NOT NULL,
			status TEXT NOT NULL,
			papers_fetched INTEGER,
			batches_processed INTEGER,
			summarization_failures INTEGER,
			estimated_tokens INTEGER,
			blocks_sent INTEGER,
			blocks_failed INTEGER,
			output_file TEXT,
			error TEXT,
			elapsed_ms INTEGER,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// RecordRun stores a run and its subjects in one transaction.
func (s *Store) RecordRun(ctx context.Context, run types.RunStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status, papers_fetched, batches_processed,
			summarization_failures, estimated_tokens, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UTC().Format(time.RFC3339Nano), string(run.Status),
		run.PapersFetched, run.BatchesProcessed, run.SummarizationFailures,
		run.EstimatedTokens, run.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}

	for i, sub := range run.Subjects {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subject_runs (run_id, position, subject, status, papers_fetched,
				batches_processed, summarization_failures, estimated_tokens, blocks_sent,
				blocks_failed, output_file, error, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, i, sub.Subject, string(sub.Status), sub.PapersFetched,
			sub.BatchesProcessed, sub.SummarizationFailures, sub.EstimatedTokens,
			sub.BlocksSent, sub.BlocksFailed, sub.OutputFile, sub.Error, sub.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting subject %s: %w", sub.Subject, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit runs, newest first, with their subjects.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.RunStats, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, status, papers_fetched, batches_processed,
			summarization_failures, estimated_tokens, elapsed_ms
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunStats
	for rows.Next() {
		var (
			r         types.RunStats
			startedAt string
			status    string
			elapsedMS int64
		)
		if err := rows.Scan(&r.RunID, &startedAt, &status, &r.PapersFetched, &r.BatchesProcessed,
			&r.SummarizationFailures, &r.EstimatedTokens, &elapsedMS); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = types.Status(status)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			r.StartedAt = t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		subjects, err := s.subjects(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Subjects = subjects
	}
	return runs, nil
}

func (s *Store) subjects(ctx context.Context, runID string) ([]types.SubjectStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, status, papers_fetched, batches_processed, summarization_failures,
			estimated_tokens, blocks_sent, blocks_failed, output_file, error, elapsed_ms
		FROM subject_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying subjects for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []types.SubjectStats
	for rows.Next() {
		var (
			sub       types.SubjectStats
			status    string
			elapsedMS int64
		)
		if err := rows.Scan(&sub.Subject, &status, &sub.PapersFetched, &sub.BatchesProcessed,
			&sub.SummarizationFailures, &sub.EstimatedTokens, &sub.BlocksSent, &sub.BlocksFailed,
			&sub.OutputFile, &sub.Error, &elapsedMS); err != nil {
			return nil, fmt.Errorf("scanning subject: %w", err)
		}
		sub.Status = types.Status(status)
		sub.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Totals summarizes the whole ledger.
type Totals struct {
	Runs                  int `json:"runs" yaml:"runs"`
	PapersFetched         int `json:"papers_fetched" yaml:"papers_fetched"`
	SummarizationFailures int `json:"summarization_failures" yaml:"summarization_failures"`
	EstimatedTokens       int `json:"estimated_tokens" yaml:"estimated_tokens"`
}

// Totals aggregates every recorded run.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(papers_fetched), 0),
			coalesce(sum(summarization_failures), 0), coalesce(sum(estimated_tokens), 0)
		FROM runs`).Scan(&t.Runs, &t.PapersFetched, &t.SummarizationFailures, &t.EstimatedTokens)
	if err != nil {
		return Totals{}, fmt.Errorf("querying totals: %w", err)
	}
	return t, nil
}
