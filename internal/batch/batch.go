// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch partitions papers into ordered, token-bounded batches for
// the summarization service.
package batch

import (
	"github.com/pdiddy/paper-digest/internal/token"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// Options bounds each batch.
type Options struct {
	MaxBatchSize      int
	MaxTokensPerBatch int
	MaxAbstractLength int
}

// OptionsFromConfig maps batch configuration to planner options.
func OptionsFromConfig(cfg types.BatchConfig) Options {
	return Options{
		MaxBatchSize:      cfg.MaxSize,
		MaxTokensPerBatch: cfg.MaxTokens,
		MaxAbstractLength: cfg.MaxAbstractLength,
	}
}

// Validate rejects non-positive limits.
func (o Options) Validate() error {
	switch {
	case o.MaxBatchSize <= 0:
		return types.NewConfigError("batch.max_size", "must be positive, got %d", o.MaxBatchSize)
	case o.MaxTokensPerBatch <= 0:
		return types.NewConfigError("batch.max_tokens", "must be positive, got %d", o.MaxTokensPerBatch)
	case o.MaxAbstractLength <= 0:
		return types.NewConfigError("batch.max_abstract_length", "must be positive, got %d", o.MaxAbstractLength)
	}
	return nil
}

// Cost returns the estimated token cost a paper adds to a batch: its title
// plus its abstract truncated to maxAbstract characters.
func Cost(p types.Paper, maxAbstract int) int {
	return token.Estimate(p.Title) + token.Estimate(token.TruncateWords(p.Abstract, maxAbstract))
}

// Plan groups papers greedily in input order. A batch is closed before a
// paper that would push it past MaxTokensPerBatch or MaxBatchSize. A paper
// whose cost alone exceeds the budget gets a batch of its own. The batches
// concatenated reproduce the input exactly.
func Plan(papers []types.Paper, opts Options) ([]types.Batch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var (
		batches []types.Batch
		cur     types.Batch
	)
	flush := func() {
		if len(cur.Papers) == 0 {
			return
		}
		cur.Index = len(batches)
		batches = append(batches, cur)
		cur = types.Batch{}
	}

	for _, p := range papers {
		cost := Cost(p, opts.MaxAbstractLength)
		if len(cur.Papers) > 0 &&
			(cur.EstimatedTokens+cost > opts.MaxTokensPerBatch || len(cur.Papers)+1 > opts.MaxBatchSize) {
			flush()
		}
		cur.Papers = append(cur.Papers, p)
		cur.EstimatedTokens += cost
	}
	flush()

	if batches == nil {
		batches = []types.Batch{}
	}
	return batches, nil
}
