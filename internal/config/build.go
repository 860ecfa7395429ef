package config

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/edgegate/edgegate/internal/exprs"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/policies/backend"
	"github.com/edgegate/edgegate/internal/policies/choose"
	"github.com/edgegate/edgegate/internal/policies/cors"
	"github.com/edgegate/edgegate/internal/policies/jwtauth"
	"github.com/edgegate/edgegate/internal/policies/ratelimit"
	"github.com/edgegate/edgegate/internal/policies/respcache"
	"github.com/edgegate/edgegate/internal/policies/transform"
	"github.com/edgegate/edgegate/internal/scope"
)

// Builder constructs policies from configuration. The response cache and the
// rate-limit counter store are shared across every statement so reloads and
// scopes observe the same state.
type Builder struct {
	cache    *respcache.Cache
	counters ratelimit.CounterStore
}

// NewBuilder creates a policy builder with shared backing stores derived
// from the config: a bounded response cache, and Redis-backed counters when
// redis.address is set, local sharded counters otherwise.
func NewBuilder(cfg *Config) *Builder {
	var counters ratelimit.CounterStore
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counters = ratelimit.NewRedisStore(client, cfg.Redis.KeyPrefix)
	} else {
		counters = ratelimit.NewLocalStore()
	}

	return &Builder{
		cache:    respcache.NewCache(cfg.Cache.MaxEntries, cfg.Cache.MaxTTL),
		counters: counters,
	}
}

// Cache exposes the shared response cache.
func (b *Builder) Cache() *respcache.Cache {
	return b.cache
}

// Declarations converts the configured policy statements into scope
// declarations with constructed policies.
func (b *Builder) Declarations(pc PoliciesConfig) (*scope.Declarations, error) {
	decls := &scope.Declarations{
		APIs: make(map[string]*scope.APIScope),
	}

	global, err := b.stageSet(pc.Global)
	if err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	decls.Global = global

	for name, api := range pc.APIs {
		stages, err := b.stageSet(api.StagesConfig)
		if err != nil {
			return nil, fmt.Errorf("api %s: %w", name, err)
		}
		as := &scope.APIScope{
			Stages:     stages,
			Operations: make(map[string]scope.StageSet),
		}
		for op, sc := range api.Operations {
			if sc == nil {
				continue
			}
			opStages, err := b.stageSet(*sc)
			if err != nil {
				return nil, fmt.Errorf("api %s operation %s: %w", name, op, err)
			}
			as.Operations[op] = opStages
		}
		decls.APIs[name] = as
	}

	return decls, nil
}

func (b *Builder) stageSet(sc StagesConfig) (scope.StageSet, error) {
	set := make(scope.StageSet)
	for stage, stmts := range map[pipeline.Stage][]StatementConfig{
		pipeline.StageInbound:  sc.Inbound,
		pipeline.StageBackend:  sc.Backend,
		pipeline.StageOutbound: sc.Outbound,
		pipeline.StageOnError:  sc.OnError,
	} {
		if len(stmts) == 0 {
			continue
		}
		built, err := b.statements(stmts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stage, err)
		}
		set[stage] = built
	}
	return set, nil
}

func (b *Builder) statements(stmts []StatementConfig) ([]scope.Statement, error) {
	out := make([]scope.Statement, 0, len(stmts))
	for i, st := range stmts {
		if st.Base {
			out = append(out, scope.Base())
			continue
		}
		p, err := b.policy(st)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		out = append(out, scope.Of(p))
	}
	return out, nil
}

// chain builds a nested statement list into a flat policy chain. Base
// markers are not allowed inside choose branches.
func (b *Builder) chain(stmts []StatementConfig) (pipeline.Chain, error) {
	out := make(pipeline.Chain, 0, len(stmts))
	for i, st := range stmts {
		if st.Base {
			return nil, fmt.Errorf("statement %d: base is not allowed here", i)
		}
		p, err := b.policy(st)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// policy constructs the single policy a statement declares.
func (b *Builder) policy(st StatementConfig) (pipeline.Policy, error) {
	switch {
	case st.ValidateJWT != nil:
		return b.validateJWT(st.ValidateJWT)

	case st.RateLimit != nil:
		cfg := ratelimit.Config{
			Calls:         st.RateLimit.Calls,
			RenewalPeriod: st.RateLimit.RenewalPeriod,
		}
		if src := st.RateLimit.CounterExpression; src != "" {
			v, err := exprs.CompileValue(src)
			if err != nil {
				return nil, fmt.Errorf("rate_limit.counter_expression: %w", err)
			}
			cfg.CounterKey = v
		}
		return ratelimit.New(cfg, b.counters), nil

	case st.Cors != nil:
		return cors.New(cors.Config{
			AllowedOrigins:   st.Cors.AllowedOrigins,
			AllowedMethods:   st.Cors.AllowedMethods,
			AllowedHeaders:   st.Cors.AllowedHeaders,
			ExposeHeaders:    st.Cors.ExposeHeaders,
			AllowCredentials: st.Cors.AllowCredentials,
			MaxAge:           st.Cors.MaxAge,
		}), nil

	case st.SetHeader != nil:
		cfg := transform.SetHeaderConfig{
			Name:         st.SetHeader.Name,
			Value:        st.SetHeader.Value,
			ExistsAction: transform.ExistsAction(st.SetHeader.ExistsAction),
			Target:       transform.Target(st.SetHeader.Target),
		}
		if src := st.SetHeader.ValueExpression; src != "" {
			v, err := exprs.CompileValue(src)
			if err != nil {
				return nil, fmt.Errorf("set_header.value_expression: %w", err)
			}
			cfg.ValueExpr = v
		}
		return transform.NewSetHeader(cfg), nil

	case st.SetVariable != nil:
		cfg := transform.SetVariableConfig{
			Name:  st.SetVariable.Name,
			Value: st.SetVariable.Value,
		}
		if src := st.SetVariable.ValueExpression; src != "" {
			v, err := exprs.CompileValue(src)
			if err != nil {
				return nil, fmt.Errorf("set_variable.value_expression: %w", err)
			}
			cfg.ValueExpr = v
		}
		return transform.NewSetVariable(cfg), nil

	case st.CacheLookup != nil:
		return respcache.NewLookup(respcache.Config{
			TTL:         st.CacheLookup.TTL,
			VaryHeaders: st.CacheLookup.VaryHeaders,
			VaryQuery:   st.CacheLookup.VaryQuery,
		}, b.cache), nil

	case st.CacheStore != nil:
		return respcache.NewStore(respcache.Config{
			TTL:         st.CacheStore.TTL,
			VaryHeaders: st.CacheStore.VaryHeaders,
			VaryQuery:   st.CacheStore.VaryQuery,
		}, b.cache), nil

	case st.Mock != nil:
		return backend.NewMock(backend.MockConfig{
			StatusCode:  st.Mock.StatusCode,
			ContentType: st.Mock.ContentType,
			Body:        st.Mock.Body,
			Headers:     st.Mock.Headers,
		}), nil

	case st.SendBackend != nil:
		return backend.NewSend(backend.SendConfig{
			BaseURL: st.SendBackend.BaseURL,
			Timeout: st.SendBackend.Timeout,
		})

	case st.Return != nil:
		return backend.NewReturn(backend.ReturnConfig{
			StatusCode: st.Return.StatusCode,
			Reason:     st.Return.Reason,
			Headers:    st.Return.Headers,
			Body:       st.Return.Body,
		}), nil

	case st.Choose != nil:
		branches := make([]choose.Branch, 0, len(st.Choose.When))
		for j, br := range st.Choose.When {
			pred, err := exprs.CompilePredicate(br.Condition)
			if err != nil {
				return nil, fmt.Errorf("choose.when[%d].condition: %w", j, err)
			}
			then, err := b.chain(br.Then)
			if err != nil {
				return nil, fmt.Errorf("choose.when[%d]: %w", j, err)
			}
			branches = append(branches, choose.Branch{When: pred, Policies: then})
		}
		otherwise, err := b.chain(st.Choose.Otherwise)
		if err != nil {
			return nil, fmt.Errorf("choose.otherwise: %w", err)
		}
		return choose.New(branches, otherwise), nil

	case st.Trace != nil:
		return transform.NewTrace(transform.TraceConfig{Message: st.Trace.Message}), nil
	}

	return nil, fmt.Errorf("empty statement")
}

// validateJWT builds the JWT policy and its key resolver.
func (b *Builder) validateJWT(v *ValidateJWTStatement) (pipeline.Policy, error) {
	var keys jwtauth.KeyResolver
	switch {
	case v.Secret != "":
		keys = jwtauth.HMACKey(v.Secret)
	case v.PublicKey != "":
		parsed, err := jwtauth.ParseRSAKey([]byte(v.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("validate_jwt.public_key: %w", err)
		}
		keys = parsed
	case v.JWKSURL != "":
		resolver, err := jwtauth.NewJWKSResolver(v.JWKSURL, v.RefreshInterval, 0)
		if err != nil {
			return nil, fmt.Errorf("validate_jwt.jwks_url: %w", err)
		}
		keys = resolver
	default:
		return nil, fmt.Errorf("validate_jwt requires secret, public_key, or jwks_url")
	}

	cfg := jwtauth.Config{
		HeaderName: v.HeaderName,
		Scheme:     v.Scheme,
		Issuer:     v.Issuer,
		Audience:   v.Audiences,
	}
	for _, rc := range v.RequiredClaims {
		cfg.RequiredClaims = append(cfg.RequiredClaims, jwtauth.RequiredClaim{
			Name:   rc.Name,
			Values: rc.Values,
		})
	}
	return jwtauth.New(cfg, keys), nil
}
