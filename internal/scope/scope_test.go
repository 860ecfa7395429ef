package scope

import (
	"context"
	"testing"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// named is a no-op policy with an identifying label.
type named string

func (n named) Name() string { return string(n) }

func (n named) Apply(context.Context, *pipeline.Exchange) pipeline.Outcome {
	return pipeline.Continue()
}

func names(c pipeline.Chain) []string {
	out := make([]string, len(c))
	for i, p := range c {
		out[i] = p.Name()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func decls() *Declarations {
	return &Declarations{
		Global: StageSet{
			pipeline.StageInbound: {Of(named("g1")), Of(named("g2"))},
			pipeline.StageOnError: {Of(named("g-err"))},
		},
		APIs: map[string]*APIScope{
			"cars": {
				Stages: StageSet{
					pipeline.StageInbound: {Of(named("a1"))},
				},
				Operations: map[string]StageSet{
					"getCar": {
						pipeline.StageInbound: {Of(named("o1"))},
					},
					"listCars": {
						pipeline.StageInbound: {Of(named("o-first")), Base(), Of(named("o-last"))},
					},
				},
			},
		},
	}
}

func TestDefaultMergeOrderParentFirst(t *testing.T) {
	r := NewResolver(decls())
	ep := r.Resolve("cars", "getCar")

	got := names(ep.Stage(pipeline.StageInbound))
	want := []string{"g1", "g2", "a1", "o1"}
	if !equal(got, want) {
		t.Errorf("inbound order = %v, want %v", got, want)
	}
}

func TestBaseMarkerSplicesParentInPlace(t *testing.T) {
	r := NewResolver(decls())
	ep := r.Resolve("cars", "listCars")

	got := names(ep.Stage(pipeline.StageInbound))
	// Operation declares: o-first, <base>, o-last; base expands to the
	// already-merged global+api chain.
	want := []string{"o-first", "g1", "g2", "a1", "o-last"}
	if !equal(got, want) {
		t.Errorf("spliced order = %v, want %v", got, want)
	}
}

func TestOnErrorStageMergesLikeOthers(t *testing.T) {
	r := NewResolver(decls())
	ep := r.Resolve("cars", "getCar")

	got := names(ep.Stage(pipeline.StageOnError))
	if !equal(got, []string{"g-err"}) {
		t.Errorf("on-error chain = %v", got)
	}
}

func TestUnknownAPIFallsBackToGlobal(t *testing.T) {
	r := NewResolver(decls())
	ep := r.Resolve("unknown", "nope")

	got := names(ep.Stage(pipeline.StageInbound))
	if !equal(got, []string{"g1", "g2"}) {
		t.Errorf("global-only chain = %v", got)
	}
}

func TestResolveIsDeterministicAndCached(t *testing.T) {
	r := NewResolver(decls())

	first := r.Resolve("cars", "listCars")
	second := r.Resolve("cars", "listCars")

	if first != second {
		t.Error("unchanged declarations must yield the cached pipeline")
	}
	if !equal(names(first.Stage(pipeline.StageInbound)), names(second.Stage(pipeline.StageInbound))) {
		t.Error("stage orderings must be identical across resolutions")
	}
}

func TestSetDeclarationsInvalidatesCache(t *testing.T) {
	r := NewResolver(decls())
	before := r.Resolve("cars", "getCar")

	fresh := decls()
	fresh.Global[pipeline.StageInbound] = []Statement{Of(named("replaced"))}
	r.SetDeclarations(fresh)

	after := r.Resolve("cars", "getChar")
	if before == after {
		t.Error("cache must be dropped when declarations change")
	}

	got := names(r.Resolve("cars", "getCar").Stage(pipeline.StageInbound))
	want := []string{"replaced", "a1", "o1"}
	if !equal(got, want) {
		t.Errorf("post-reload order = %v, want %v", got, want)
	}
}

func TestEmptyDeclarations(t *testing.T) {
	r := NewResolver(nil)
	ep := r.Resolve("any", "thing")

	for _, stage := range pipeline.Stages {
		if len(ep.Stage(stage)) != 0 {
			t.Errorf("stage %s should be empty", stage)
		}
	}
}
