// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pdiddy/paper-digest/pkg/types"
)

// Metrics holds the counters for digest runs. Each Metrics owns its
// registry so a run can dump exactly its own values to a textfile.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal             *prometheus.CounterVec
	PapersFetched         *prometheus.CounterVec
	BatchesProcessed      *prometheus.CounterVec
	SummarizationFallback *prometheus.CounterVec
	EstimatedTokens       *prometheus.CounterVec
	BlocksSent            *prometheus.CounterVec
	BlocksFailed          *prometheus.CounterVec
	SubjectDuration       *prometheus.HistogramVec
	RunDuration           prometheus.Histogram
}

// NewMetrics registers the digest metrics under namespace on a fresh
// registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Digest runs by final status.",
		}, []string{"status"}),
		PapersFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_fetched_total",
			Help:      "Papers returned by the paper source.",
		}, []string{"subject"}),
		BatchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Summarization batches processed.",
		}, []string{"subject"}),
		SummarizationFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarization_fallbacks_total",
			Help:      "Papers whose summary fell back to a truncated abstract.",
		}, []string{"subject"}),
		EstimatedTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_tokens_total",
			Help:      "Estimated prompt tokens across batches.",
		}, []string{"subject"}),
		BlocksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_sent_total",
			Help:      "Message blocks delivered to the chat channel.",
		}, []string{"subject"}),
		BlocksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_failed_total",
			Help:      "Message blocks that could not be delivered.",
		}, []string{"subject"}),
		SubjectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subject_duration_seconds",
			Help:      "Time spent processing one subject.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end run duration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	reg.MustRegister(
		m.RunsTotal, m.PapersFetched, m.BatchesProcessed, m.SummarizationFallback,
		m.EstimatedTokens, m.BlocksSent, m.BlocksFailed, m.SubjectDuration, m.RunDuration,
	)
	return m
}

// RecordSubject adds one subject's statistics.
func (m *Metrics) RecordSubject(s types.SubjectStats) {
	m.PapersFetched.WithLabelValues(s.Subject).Add(float64(s.PapersFetched))
	m.BatchesProcessed.WithLabelValues(s.Subject).Add(float64(s.BatchesProcessed))
	m.SummarizationFallback.WithLabelValues(s.Subject).Add(float64(s.SummarizationFailures))
	m.EstimatedTokens.WithLabelValues(s.Subject).Add(float64(s.EstimatedTokens))
	m.BlocksSent.WithLabelValues(s.Subject).Add(float64(s.BlocksSent))
	m.BlocksFailed.WithLabelValues(s.Subject).Add(float64(s.BlocksFailed))
	m.SubjectDuration.WithLabelValues(string(s.Status)).Observe(s.Elapsed.Seconds())
}

// RecordRun adds the run-level outcome and each of its subjects.
func (m *Metrics) RecordRun(r types.RunStats) {
	for _, s := range r.Subjects {
		m.RecordSubject(s)
	}
	m.RunsTotal.WithLabelValues(string(r.Status)).Inc()
	m.RunDuration.Observe(r.Elapsed.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
