// Package exprs evaluates small boolean and value expressions against an
// exchange. Expressions are compiled once at configuration time and run per
// exchange with a typed environment.
package exprs

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

// Env is the expression environment for one exchange. Lookups that miss
// return zero values rather than failing, matching the forgiving evaluation
// the pipeline requires for conditions.
type Env struct {
	Method string
	Path   string
	Status int

	ex *pipeline.Exchange
}

// NewEnv builds the environment for an exchange.
func NewEnv(ex *pipeline.Exchange) Env {
	e := Env{ex: ex}
	if ex.Request != nil {
		e.Method = ex.Request.Method
		if ex.Request.URL != nil {
			e.Path = ex.Request.URL.Path
		}
	}
	if ex.Response != nil {
		e.Status = ex.Response.StatusCode
	}
	return e
}

// Header returns a request header value, or "" when absent.
func (e Env) Header(name string) string {
	if e.ex == nil || e.ex.Request == nil {
		return ""
	}
	return e.ex.Request.Header.Get(name)
}

// HasHeader reports whether a request header is present.
func (e Env) HasHeader(name string) bool {
	if e.ex == nil || e.ex.Request == nil {
		return false
	}
	return len(e.ex.Request.Header.Values(name)) > 0
}

// ResponseHeader returns a response header value, or "" when absent.
func (e Env) ResponseHeader(name string) string {
	if e.ex == nil || e.ex.Response == nil {
		return ""
	}
	return e.ex.Response.Header.Get(name)
}

// Claim returns an auth token claim, or nil when the token is unset or the
// claim is absent.
func (e Env) Claim(name string) any {
	if e.ex == nil {
		return nil
	}
	return e.ex.Claim(name)
}

// ClaimString returns a claim coerced to string, or "" when absent.
func (e Env) ClaimString(name string) string {
	v := e.Claim(name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// HasClaim reports whether the auth token carries a claim.
func (e Env) HasClaim(name string) bool {
	if e.ex == nil || e.ex.AuthToken == nil {
		return false
	}
	_, ok := e.ex.AuthToken[name]
	return ok
}

// Var returns an exchange variable, or nil when absent.
func (e Env) Var(name string) any {
	if e.ex == nil {
		return nil
	}
	return e.ex.Variables[name]
}

// VarOr returns an exchange variable, or the given default when absent.
func (e Env) VarOr(name string, def any) any {
	if e.ex == nil {
		return def
	}
	if v, ok := e.ex.Variables[name]; ok {
		return v
	}
	return def
}

// HasVar reports whether an exchange variable is set.
func (e Env) HasVar(name string) bool {
	if e.ex == nil {
		return false
	}
	_, ok := e.ex.Variables[name]
	return ok
}

// Param returns a matched path-template parameter, or "" when absent.
func (e Env) Param(name string) string {
	if e.ex == nil {
		return ""
	}
	return e.ex.Params[name]
}

// Query returns a query parameter value, or "" when absent.
func (e Env) Query(name string) string {
	if e.ex == nil || e.ex.Request == nil || e.ex.Request.URL == nil {
		return ""
	}
	return e.ex.Request.URL.Query().Get(name)
}

// Subscription returns the resolved subscription key, or "".
func (e Env) Subscription() string {
	if e.ex == nil {
		return ""
	}
	return e.ex.SubscriptionKey
}

// Predicate is a compiled boolean expression.
type Predicate struct {
	src     string
	program *vm.Program
}

// CompilePredicate compiles a boolean expression.
func CompilePredicate(src string) (*Predicate, error) {
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &Predicate{src: src, program: program}, nil
}

// Source returns the expression text.
func (p *Predicate) Source() string {
	return p.src
}

// Eval evaluates the predicate against an exchange. Any evaluation error
// (missing claim, type mismatch) is recovered as false; conditions never
// crash the pipeline.
func (p *Predicate) Eval(ex *pipeline.Exchange) bool {
	output, err := expr.Run(p.program, NewEnv(ex))
	if err != nil {
		logging.Debug("condition recovered as false",
			zap.String("expression", p.src),
			zap.Error(err),
		)
		return false
	}
	result, ok := output.(bool)
	if !ok {
		return false
	}
	return result
}

// Value is a compiled value expression.
type Value struct {
	src     string
	program *vm.Program
}

// CompileValue compiles a value expression.
func CompileValue(src string) (*Value, error) {
	program, err := expr.Compile(src, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Value{src: src, program: program}, nil
}

// Source returns the expression text.
func (v *Value) Source() string {
	return v.src
}

// Eval evaluates the expression against an exchange. Failures are reported
// as ExpressionError; callers decide whether to recover or substitute a
// default, never the pipeline.
func (v *Value) Eval(ex *pipeline.Exchange) (any, *problem.PolicyError) {
	output, err := expr.Run(v.program, NewEnv(ex))
	if err != nil {
		return nil, problem.Wrap(err, problem.KindExpressionError, v.src)
	}
	return output, nil
}

// EvalString evaluates the expression and coerces the result to a string,
// substituting def on failure or nil.
func (v *Value) EvalString(ex *pipeline.Exchange, def string) string {
	output, err := v.Eval(ex)
	if err != nil || output == nil {
		return def
	}
	if s, ok := output.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", output)
}
