// Package jwtauth validates bearer tokens against a configured signing-key
// source, issuer, audience, and required claims.
package jwtauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

// RequiredClaim demands that a token claim match at least one of the listed
// values (match=any semantics). Claims holding arrays match when any element
// matches any listed value.
type RequiredClaim struct {
	Name   string
	Values []string
}

// Config holds JWT validation configuration.
type Config struct {
	HeaderName     string // header carrying the token, default Authorization
	Scheme         string // expected auth scheme prefix, default Bearer
	Issuer         string
	Audience       []string
	RequiredClaims []RequiredClaim
}

// Policy validates a JWT and populates the exchange auth token on success.
type Policy struct {
	header         string
	scheme         string
	issuer         string
	audience       []string
	requiredClaims []RequiredClaim
	parser         *jwt.Parser
	keyfunc        jwt.Keyfunc
}

// New creates a JWT validation policy using the given key resolver.
func New(cfg Config, keys KeyResolver) *Policy {
	header := cfg.HeaderName
	if header == "" {
		header = "Authorization"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	return &Policy{
		header:         header,
		scheme:         scheme,
		issuer:         cfg.Issuer,
		audience:       cfg.Audience,
		requiredClaims: cfg.RequiredClaims,
		parser:         jwt.NewParser(jwt.WithExpirationRequired()),
		keyfunc:        keys.Keyfunc(),
	}
}

// Name implements pipeline.Policy.
func (p *Policy) Name() string { return "validate-jwt" }

// Apply implements pipeline.Policy. Signature, expiry and not-before are
// checked by the parser; issuer, audience and required claims here.
func (p *Policy) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	tokenString := p.extractToken(ex)
	if tokenString == "" {
		return pipeline.Fail(problem.Newf(problem.KindInvalidToken,
			"%s token not provided in %s header", p.scheme, p.header))
	}

	token, err := p.parser.Parse(tokenString, p.keyfunc)
	if err != nil {
		return pipeline.Fail(problem.Wrap(err, problem.KindInvalidToken, "token rejected"))
	}
	if !token.Valid {
		return pipeline.Fail(problem.New(problem.KindInvalidToken, "token is not valid"))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return pipeline.Fail(problem.New(problem.KindInvalidToken, "unreadable token claims"))
	}

	if p.issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != p.issuer {
			return pipeline.Fail(problem.Newf(problem.KindInvalidToken, "issuer %q not accepted", iss))
		}
	}

	if len(p.audience) > 0 {
		aud, _ := claims.GetAudience()
		if !p.containsAudience(aud) {
			return pipeline.Fail(problem.New(problem.KindInvalidToken, "audience not accepted"))
		}
	}

	for _, rc := range p.requiredClaims {
		if !claimMatchesAny(claims[rc.Name], rc.Values) {
			return pipeline.Fail(problem.Newf(problem.KindInvalidToken,
				"required claim %q missing or not matching", rc.Name))
		}
	}

	claimsMap := make(map[string]any, len(claims))
	for k, v := range claims {
		claimsMap[k] = v
	}
	ex.AuthToken = claimsMap

	return pipeline.Continue()
}

// extractToken pulls the token from the configured header, stripping the
// scheme prefix case-insensitively.
func (p *Policy) extractToken(ex *pipeline.Exchange) string {
	value := ex.Request.Header.Get(p.header)
	if value == "" {
		return ""
	}

	prefix := p.scheme + " "
	if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
		return value[len(prefix):]
	}

	// A bare token in a custom header is accepted as-is.
	if !strings.EqualFold(p.header, "Authorization") {
		return value
	}
	return ""
}

func (p *Policy) containsAudience(tokenAud []string) bool {
	for _, ta := range tokenAud {
		for _, ea := range p.audience {
			if ta == ea {
				return true
			}
		}
	}
	return false
}

// claimMatchesAny reports whether the claim value, or any element of an
// array claim, equals one of the accepted values.
func claimMatchesAny(claim any, accepted []string) bool {
	if claim == nil {
		return false
	}

	match := func(v any) bool {
		var s string
		switch t := v.(type) {
		case string:
			s = t
		default:
			s = fmt.Sprintf("%v", t)
		}
		for _, a := range accepted {
			if s == a {
				return true
			}
		}
		return false
	}

	if values, ok := claim.([]any); ok {
		for _, v := range values {
			if match(v) {
				return true
			}
		}
		return false
	}
	return match(claim)
}
