// Package scope merges policy declarations from global, API, and operation
// scope into one effective ordered pipeline per stage.
package scope

import (
	"sync"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// Level is the breadth at which a policy applies.
type Level string

const (
	LevelGlobal    Level = "global"
	LevelAPI       Level = "api"
	LevelOperation Level = "operation"
)

// Statement is one declared entry in a scope's stage list: either a policy
// or a base marker fixing where the parent scope's policies are spliced in.
type Statement struct {
	Policy pipeline.Policy
	Base   bool
}

// Base returns a base placement marker.
func Base() Statement {
	return Statement{Base: true}
}

// Of wraps a policy as a statement.
func Of(p pipeline.Policy) Statement {
	return Statement{Policy: p}
}

// StageSet holds declared statements per stage for one scope.
type StageSet map[pipeline.Stage][]Statement

// APIScope holds an API's own statements and those of its operations,
// keyed by operation id.
type APIScope struct {
	Stages     StageSet
	Operations map[string]StageSet
}

// Declarations carries every configured scope.
type Declarations struct {
	Global StageSet
	APIs   map[string]*APIScope
}

// EffectivePipeline is the merged, ordered policy chain per stage for one
// (api, operation) pair. It is immutable once built.
type EffectivePipeline struct {
	stages map[pipeline.Stage]pipeline.Chain
}

// Stage returns the merged chain for a stage; nil when no policies apply.
func (ep *EffectivePipeline) Stage(s pipeline.Stage) pipeline.Chain {
	return ep.stages[s]
}

// Resolver computes effective pipelines, caching results per
// (api, operation) until declarations change.
type Resolver struct {
	mu    sync.RWMutex
	decls *Declarations
	cache map[string]*EffectivePipeline
}

// NewResolver creates a resolver over the given declarations.
func NewResolver(decls *Declarations) *Resolver {
	if decls == nil {
		decls = &Declarations{}
	}
	return &Resolver{
		decls: decls,
		cache: make(map[string]*EffectivePipeline),
	}
}

// Resolve returns the effective pipeline for an (api, operation) pair. The
// result is deterministic for unchanged declarations and is cached.
func (r *Resolver) Resolve(api, operation string) *EffectivePipeline {
	key := api + "|" + operation

	r.mu.RLock()
	ep, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return ep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.cache[key]; ok {
		return ep
	}

	ep = r.build(api, operation)
	r.cache[key] = ep
	return ep
}

// SetDeclarations swaps the configuration and invalidates the cache.
func (r *Resolver) SetDeclarations(decls *Declarations) {
	if decls == nil {
		decls = &Declarations{}
	}
	r.mu.Lock()
	r.decls = decls
	r.cache = make(map[string]*EffectivePipeline)
	r.mu.Unlock()
}

// Invalidate drops all cached pipelines.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]*EffectivePipeline)
	r.mu.Unlock()
}

// build merges Global -> API -> Operation for every stage. Callers hold the
// write lock.
func (r *Resolver) build(api, operation string) *EffectivePipeline {
	var apiScope *APIScope
	if r.decls.APIs != nil {
		apiScope = r.decls.APIs[api]
	}

	var opStages StageSet
	apiStages := StageSet{}
	if apiScope != nil {
		apiStages = apiScope.Stages
		if apiScope.Operations != nil {
			opStages = apiScope.Operations[operation]
		}
	}

	stages := make(map[pipeline.Stage]pipeline.Chain, len(pipeline.Stages))
	for _, stage := range pipeline.Stages {
		global := flatten(nil, r.decls.Global[stage])
		apiChain := mergeStage(global, apiStages[stage])
		stages[stage] = mergeStage(apiChain, opStages[stage])
	}

	return &EffectivePipeline{stages: stages}
}

// mergeStage combines a parent chain with child statements. Without a base
// marker the parent runs first; a base marker splices the parent at its
// exact position. Only the first marker splices; extra markers are ignored.
func mergeStage(parent pipeline.Chain, child []Statement) pipeline.Chain {
	if len(child) == 0 {
		return parent
	}

	hasBase := false
	for _, st := range child {
		if st.Base {
			hasBase = true
			break
		}
	}

	if !hasBase {
		return flatten(parent, child)
	}

	merged := make(pipeline.Chain, 0, len(parent)+len(child))
	spliced := false
	for _, st := range child {
		if st.Base {
			if !spliced {
				merged = append(merged, parent...)
				spliced = true
			}
			continue
		}
		merged = append(merged, st.Policy)
	}
	return merged
}

// flatten appends child policies (skipping markers) onto a copy of parent.
func flatten(parent pipeline.Chain, child []Statement) pipeline.Chain {
	out := make(pipeline.Chain, 0, len(parent)+len(child))
	out = append(out, parent...)
	for _, st := range child {
		if st.Policy != nil {
			out = append(out, st.Policy)
		}
	}
	return out
}
