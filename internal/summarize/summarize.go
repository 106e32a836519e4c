// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package summarize turns a batch of papers into one summary per paper with
// a single call to a generative AI service. Transient failures are retried
// with exponential backoff; when retries run out every paper in the batch
// falls back to its truncated abstract.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/internal/token"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// Generator abstracts the generative AI API so tests can supply a fake.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ServiceError is a failed call with the HTTP status reported by the service.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("summarization service returned HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Outcome distinguishes AI summaries from fallbacks for a whole batch.
type Outcome string

const (
	OutcomeAI       Outcome = "ai-generated"
	OutcomeFallback Outcome = "fallback"
)

// Result is the summarization of one batch. Summaries is aligned 1:1 with
// the batch papers in both outcomes.
type Result struct {
	BatchIndex     int
	Summaries      []types.Summary
	Outcome        Outcome
	FallbackReason string
	Attempts       int
	PromptTokens   int
}

// Processor summarizes batches.
type Processor struct {
	Gen               Generator
	Policy            retry.Policy
	CallTimeout       time.Duration
	MaxAbstractLength int
	Logger            zerolog.Logger
}

// Summarize sends batch to the service. Transient errors and malformed
// responses are retried under p.Policy. On exhaustion the result is a
// fallback: each paper's abstract truncated to MaxAbstractLength.
//
// The returned error is non-nil only for configuration errors (rejected
// credentials, unknown model) and cancellation of ctx; both abort the run.
func (p *Processor) Summarize(ctx context.Context, batch types.Batch) (Result, error) {
	res := Result{BatchIndex: batch.Index}
	if len(batch.Papers) == 0 {
		res.Outcome = OutcomeAI
		return res, nil
	}

	prompt, err := renderPrompt(batch.Papers, p.MaxAbstractLength)
	if err != nil {
		return res, fmt.Errorf("rendering prompt: %w", err)
	}
	res.PromptTokens = token.Estimate(prompt)

	log := p.Logger.With().Int("batch", batch.Index).Int("papers", len(batch.Papers)).Logger()

	policy := p.Policy
	policy.Retryable = Retryable
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("summarization failed, retrying")
	}

	var texts []string
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt + 1
		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		out, err := p.Gen.Generate(callCtx, prompt)
		if err != nil {
			return classify(ctx, err)
		}
		texts, err = parseSummaries(out, len(batch.Papers))
		return err
	})

	switch {
	case err == nil:
		res.Outcome = OutcomeAI
		res.Summaries = make([]types.Summary, len(batch.Papers))
		for i, paper := range batch.Papers {
			res.Summaries[i] = types.Summary{PaperID: paper.ID, Text: texts[i], Provenance: types.ProvenanceAI}
		}
		log.Info().Int("attempts", res.Attempts).Msg("batch summarized")
		return res, nil
	case types.IsConfigError(err):
		return res, err
	case ctx.Err() != nil:
		return res, ctx.Err()
	}

	reason := err.Error()
	log.Error().Err(err).Int("attempts", res.Attempts).Msg("summarization exhausted, using truncated abstracts")
	return p.fallback(batch, res, reason), nil
}

func (p *Processor) fallback(batch types.Batch, res Result, reason string) Result {
	res.Outcome = OutcomeFallback
	res.FallbackReason = reason
	res.Summaries = make([]types.Summary, len(batch.Papers))
	for i, paper := range batch.Papers {
		res.Summaries[i] = types.Summary{
			PaperID:        paper.ID,
			Text:           token.TruncateWords(paper.Abstract, p.MaxAbstractLength),
			Provenance:     types.ProvenanceFallback,
			FallbackReason: reason,
		}
	}
	return res
}

func (p *Processor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}

// classify wraps err with the error kind used for retry decisions. parent
// is the batch context: a deadline on the call context alone is a timeout
// and therefore transient.
func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var se *ServiceError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return &types.ConfigError{Field: "gemini", Reason: se.Error()}
		}
		return fmt.Errorf("%w: %w", types.ErrSummarizationTransient, err)
	}

	if errors.Is(err, types.ErrSummarizationParse) {
		return err
	}

	// Timeouts of the call context, network failures and anything else
	// unrecognised are worth another attempt.
	return fmt.Errorf("%w: %w", types.ErrSummarizationTransient, err)
}

// Retryable reports whether a classified error may succeed on another try:
// transient service failures and unparseable responses.
func Retryable(err error) bool {
	return errors.Is(err, types.ErrSummarizationTransient) || errors.Is(err, types.ErrSummarizationParse)
}
