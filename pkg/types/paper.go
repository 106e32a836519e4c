// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the data shared by the digest pipeline stages:
// papers, batches, summaries, run statistics, configuration and errors.
package types

import "time"

// Paper holds the metadata of one paper fetched from the listing API.
// Papers are immutable once fetched; title and abstract whitespace is
// collapsed by the source client.
type Paper struct {
	// ID is the arXiv identifier without version suffix (e.g. "2301.07041").
	ID string `json:"id" yaml:"id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Published is the submission date reported by the source.
	Published time.Time `json:"published" yaml:"published"`

	// Link is the canonical abstract page URL.
	Link string `json:"link" yaml:"link"`

	// Subject is the query subject that returned this paper.
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// KeywordOperator joins keywords in a query.
type KeywordOperator string

const (
	OperatorAnd KeywordOperator = "AND"
	OperatorOr  KeywordOperator = "OR"
)

// Query describes one fetch against the paper source.
type Query struct {
	// Subject is an optional category filter (e.g. "astro-ph.GA").
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`

	// Keywords are full-text terms in query order.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// Operator joins the keywords (default AND).
	Operator KeywordOperator `json:"operator,omitempty" yaml:"operator,omitempty"`

	// MinResults is a soft lower bound; fewer results only produce a warning.
	MinResults int `json:"min_results" yaml:"min_results"`

	// MaxResults caps the number of papers requested.
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// Batch is a contiguous, ordered slice of papers summarized in one AI call.
type Batch struct {
	// Index is the zero-based position of the batch in the plan.
	Index int `json:"index" yaml:"index"`

	// Papers is never empty.
	Papers []Paper `json:"papers" yaml:"papers"`

	// EstimatedTokens is the summed estimated cost of the papers.
	EstimatedTokens int `json:"estimated_tokens" yaml:"estimated_tokens"`
}

// Provenance records how a summary was produced.
type Provenance string

const (
	ProvenanceAI       Provenance = "ai-generated"
	ProvenanceFallback Provenance = "fallback-truncated"
)

// Summary is the text delivered for one paper.
type Summary struct {
	PaperID    string     `json:"paper_id" yaml:"paper_id"`
	Text       string     `json:"text" yaml:"text"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`

	// FallbackReason is set only when Provenance is ProvenanceFallback.
	FallbackReason string `json:"fallback_reason,omitempty" yaml:"fallback_reason,omitempty"`
}

// IsFallback reports whether the summary is a truncated-abstract fallback.
func (s Summary) IsFallback() bool {
	return s.Provenance == ProvenanceFallback
}

// Entry pairs a paper with its summary for formatting and archiving.
type Entry struct {
	Paper   Paper   `json:"paper" yaml:"paper"`
	Summary Summary `json:"summary" yaml:"summary"`
}
