package jwtauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyResolver supplies the verification key for token signatures. The JWKS
// implementation talks to an external discovery endpoint; static resolvers
// wrap a configured secret or public key.
type KeyResolver interface {
	Keyfunc() jwt.Keyfunc
}

// HMACKey resolves tokens signed with a shared secret.
type HMACKey []byte

// Keyfunc implements KeyResolver.
func (k HMACKey) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(k), nil
	}
}

// RSAKey resolves tokens signed with a static RSA key pair.
type RSAKey struct {
	public *rsa.PublicKey
}

// ParseRSAKey parses a PEM-encoded PKIX public key.
func ParseRSAKey(pemData []byte) (*RSAKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key data")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}
	return &RSAKey{public: rsaPub}, nil
}

// Keyfunc implements KeyResolver.
func (k *RSAKey) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return k.public, nil
	}
}

// JWKSResolver fetches and caches JSON Web Key Sets from an issuer's
// discovery endpoint, refreshing in the background.
type JWKSResolver struct {
	cache   *jwk.Cache
	url     string
	timeout time.Duration
}

// NewJWKSResolver creates a JWKS resolver that auto-refreshes keys. timeout
// bounds each key fetch so a slow endpoint surfaces as a token failure
// rather than hanging the exchange.
func NewJWKSResolver(jwksURL string, refreshInterval, timeout time.Duration) (*JWKSResolver, error) {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSResolver{
		cache:   cache,
		url:     jwksURL,
		timeout: timeout,
	}, nil
}

// Keyfunc implements KeyResolver, looking keys up by the token's kid header.
func (p *JWKSResolver) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		keySet, err := p.cache.Get(ctx, p.url)
		if err != nil {
			return nil, fmt.Errorf("get JWKS: %w", err)
		}

		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			if keySet.Len() > 0 {
				key, _ := keySet.Key(0)
				var rawKey any
				if err := key.Raw(&rawKey); err != nil {
					return nil, fmt.Errorf("extract raw key: %w", err)
				}
				return rawKey, nil
			}
			return nil, fmt.Errorf("no kid in token header and no keys in JWKS")
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not found in JWKS", kid)
		}

		var rawKey any
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("extract raw key for kid %q: %w", kid, err)
		}
		return rawKey, nil
	}
}
