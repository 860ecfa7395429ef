// Package choose implements conditional branching over nested policy lists.
package choose

import (
	"context"

	"github.com/edgegate/edgegate/internal/exprs"
	"github.com/edgegate/edgegate/internal/pipeline"
)

// Branch pairs a condition with the policies to run when it holds.
type Branch struct {
	When     *exprs.Predicate
	Policies pipeline.Chain
}

// Policy evaluates branches in order and executes the first whose condition
// is true, else the otherwise branch, else nothing. A condition that fails
// to evaluate counts as false.
type Policy struct {
	branches  []Branch
	otherwise pipeline.Chain
}

// New creates a choose policy.
func New(branches []Branch, otherwise pipeline.Chain) *Policy {
	return &Policy{
		branches:  branches,
		otherwise: otherwise,
	}
}

// Name implements pipeline.Policy.
func (p *Policy) Name() string { return "choose" }

// Apply implements pipeline.Policy. The outcome of the selected branch
// propagates: a nested short-circuit or failure behaves exactly as if it
// came from a top-level policy.
func (p *Policy) Apply(ctx context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	for _, b := range p.branches {
		if b.When != nil && b.When.Eval(ex) {
			return b.Policies.Run(ctx, ex)
		}
	}
	if p.otherwise != nil {
		return p.otherwise.Run(ctx, ex)
	}
	return pipeline.Continue()
}
