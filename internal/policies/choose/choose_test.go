package choose

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/edgegate/edgegate/internal/exprs"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

func newExchange(headers map[string]string) *pipeline.Exchange {
	u, _ := url.Parse("/cars")
	ex := pipeline.NewExchange(&pipeline.Request{
		Method: "GET",
		URL:    u,
		Header: make(http.Header),
	})
	for k, v := range headers {
		ex.Request.Header.Set(k, v)
	}
	return ex
}

func predicate(t *testing.T, src string) *exprs.Predicate {
	t.Helper()
	p, err := exprs.CompilePredicate(src)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return p
}

// recorder notes whether it ran and returns a fixed outcome.
type recorder struct {
	ran     bool
	outcome pipeline.Outcome
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Apply(context.Context, *pipeline.Exchange) pipeline.Outcome {
	r.ran = true
	return r.outcome
}

func TestFirstTrueBranchWins(t *testing.T) {
	first := &recorder{outcome: pipeline.Continue()}
	second := &recorder{outcome: pipeline.Continue()}

	p := New([]Branch{
		{When: predicate(t, `Header("X-Env") == "staging"`), Policies: pipeline.Chain{first}},
		{When: predicate(t, `true`), Policies: pipeline.Chain{second}},
	}, nil)

	out := p.Apply(context.Background(), newExchange(map[string]string{"X-Env": "staging"}))
	if !out.IsContinue() {
		t.Fatal("expected continue")
	}
	if !first.ran {
		t.Error("first matching branch must run")
	}
	if second.ran {
		t.Error("later branches must not run once one matched")
	}
}

func TestOtherwiseBranch(t *testing.T) {
	branch := &recorder{outcome: pipeline.Continue()}
	otherwise := &recorder{outcome: pipeline.Continue()}

	p := New([]Branch{
		{When: predicate(t, `false`), Policies: pipeline.Chain{branch}},
	}, pipeline.Chain{otherwise})

	p.Apply(context.Background(), newExchange(nil))
	if branch.ran {
		t.Error("false branch must not run")
	}
	if !otherwise.ran {
		t.Error("otherwise branch must run when no condition holds")
	}
}

func TestNoBranchNoOtherwiseIsNoop(t *testing.T) {
	p := New([]Branch{
		{When: predicate(t, `false`), Policies: nil},
	}, nil)

	if out := p.Apply(context.Background(), newExchange(nil)); !out.IsContinue() {
		t.Error("no matching branch and no otherwise must be a no-op")
	}
}

func TestFailedConditionCountsAsFalse(t *testing.T) {
	// Claim comparison on an absent token fails at evaluation time; the
	// branch must be skipped, not crash the pipeline.
	branch := &recorder{outcome: pipeline.Continue()}
	otherwise := &recorder{outcome: pipeline.Continue()}

	p := New([]Branch{
		{When: predicate(t, `Claim("level") > 5`), Policies: pipeline.Chain{branch}},
	}, pipeline.Chain{otherwise})

	p.Apply(context.Background(), newExchange(nil))
	if branch.ran {
		t.Error("branch with failing condition must be skipped")
	}
	if !otherwise.ran {
		t.Error("otherwise must run instead")
	}
}

func TestNestedOutcomePropagates(t *testing.T) {
	resp := pipeline.NewResponse()
	resp.Set(http.StatusForbidden, "Forbidden", []byte("no"))

	p := New([]Branch{
		{When: predicate(t, `true`), Policies: pipeline.Chain{
			&recorder{outcome: pipeline.ShortCircuit(resp)},
		}},
	}, nil)

	out := p.Apply(context.Background(), newExchange(nil))
	if !out.IsShortCircuit() {
		t.Fatal("nested short-circuit must propagate")
	}
	if out.Response.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", out.Response.StatusCode)
	}

	p = New([]Branch{
		{When: predicate(t, `true`), Policies: pipeline.Chain{
			&recorder{outcome: pipeline.Fail(problem.New(problem.KindForbidden, "denied"))},
		}},
	}, nil)

	out = p.Apply(context.Background(), newExchange(nil))
	if !out.IsFail() || out.Err.Kind != problem.KindForbidden {
		t.Error("nested failure must propagate")
	}
}

func TestNestedChainStopsAtFirstNonContinue(t *testing.T) {
	resp := pipeline.NewResponse()
	resp.Set(http.StatusOK, "OK", nil)

	after := &recorder{outcome: pipeline.Continue()}
	p := New([]Branch{
		{When: predicate(t, `true`), Policies: pipeline.Chain{
			&recorder{outcome: pipeline.ShortCircuit(resp)},
			after,
		}},
	}, nil)

	p.Apply(context.Background(), newExchange(nil))
	if after.ran {
		t.Error("policies after a nested short-circuit must not run")
	}
}
