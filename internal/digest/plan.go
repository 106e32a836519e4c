// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package digest

import (
	"context"

	"github.com/sourcegraph/conc/iter"

	"github.com/pdiddy/paper-digest/internal/batch"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// SubjectPlan is the fetch and batch plan of one subject, without
// summarization or delivery.
type SubjectPlan struct {
	Subject string
	Papers  []types.Paper
	Batches []types.Batch
	Err     error
}

// Plan fetches and batches every subject of req. Mode is ignored and no
// summarization or delivery call is made.
func (o *Orchestrator) Plan(ctx context.Context, req Request) ([]SubjectPlan, error) {
	req.Mode = types.ModeFile
	if err := o.Validate(req); err != nil {
		return nil, err
	}

	mapper := iter.Mapper[string, SubjectPlan]{MaxGoroutines: workers(o.SubjectWorkers)}
	return mapper.Map(req.subjects(), func(subject *string) SubjectPlan {
		plan := SubjectPlan{Subject: *subject}
		papers, err := o.Source.Fetch(ctx, req.Query(*subject))
		if err != nil {
			plan.Err = err
			return plan
		}
		plan.Papers = papers
		plan.Batches, plan.Err = batch.Plan(papers, o.Batch)
		return plan
	}), nil
}
