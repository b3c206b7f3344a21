// Package auth implements the JWT stage of the security gate: signature
// verification with configurable algorithms and key sources, issuer and
// audience policy, and a short-TTL claim cache in front of verification.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
)

// Config holds validator settings.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Algorithm string        `yaml:"algorithm"`  // HS256/384/512 or RS256/384/512
	Secret    string        `yaml:"secret"`     // HMAC secret
	PublicKey string        `yaml:"public_key"` // PEM public key for RS*
	JWKSURL   string        `yaml:"jwks_url"`   // JWKS endpoint for RS* (overrides PublicKey)
	Issuers   []string      `yaml:"issuers"`
	Audiences []string      `yaml:"audiences"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// Claims is the validated identity attached to a request.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Scope     string
	Roles     []string
	Extra     map[string]interface{}
}

// HasScope reports whether the space-separated scope claim contains
// required.
func (c *Claims) HasScope(required string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == required {
			return true
		}
	}
	return false
}

// HasRole reports whether the roles array claim contains required.
func (c *Claims) HasRole(required string) bool {
	for _, r := range c.Roles {
		if r == required {
			return true
		}
	}
	return false
}

// Validator verifies bearer tokens and caches validated claims.
type Validator struct {
	cfg     Config
	keyFunc jwt.Keyfunc
	methods []string
	cache   *expirable.LRU[string, *Claims]
}

// NewValidator builds a validator for the configured algorithm and key
// source.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10_000
	}

	v := &Validator{
		cfg:     cfg,
		methods: []string{cfg.Algorithm},
		cache:   expirable.NewLRU[string, *Claims](cfg.CacheSize, nil, cfg.CacheTTL),
	}

	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if cfg.Secret == "" {
			return nil, fmt.Errorf("auth: %s requires a secret", cfg.Algorithm)
		}
		secret := []byte(cfg.Secret)
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}

	case strings.HasPrefix(cfg.Algorithm, "RS"):
		if cfg.JWKSURL != "" {
			jwks, err := NewJWKSKeySource(cfg.JWKSURL, time.Hour)
			if err != nil {
				return nil, err
			}
			v.keyFunc = jwks.KeyFunc()
			break
		}
		pub, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return pub, nil
		}

	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %s", cfg.Algorithm)
	}

	return v, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("auth: no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not RSA")
	}
	return rsaPub, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
// Anything that is not "Bearer <token>" is an invalid-token error.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", gwerr.Unauthorized("bearer token not provided")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", gwerr.Unauthorized("invalid authorization header format")
	}
	return header[len(prefix):], nil
}

// Validate verifies a raw token and returns its claims. The claim
// cache is consulted first; a cached entry expires at the earlier of
// the cache TTL and the token's own expiration.
func (v *Validator) Validate(token string) (*Claims, error) {
	if !v.cfg.Enabled {
		return &Claims{Subject: "anonymous"}, nil
	}

	if claims, ok := v.cache.Get(token); ok {
		if time.Now().Before(claims.ExpiresAt) {
			return claims, nil
		}
		v.cache.Remove(token)
		return nil, gwerr.TokenExpired()
	}

	parsed, err := jwt.Parse(token, v.keyFunc,
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gwerr.TokenExpired()
		}
		return nil, gwerr.Unauthorized(fmt.Sprintf("invalid token: %v", err))
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gwerr.Unauthorized("invalid token claims")
	}

	claims, err := v.buildClaims(mapClaims)
	if err != nil {
		return nil, err
	}

	v.cache.Add(token, claims)
	return claims, nil
}

func (v *Validator) buildClaims(mc jwt.MapClaims) (*Claims, error) {
	claims := &Claims{Extra: make(map[string]interface{})}

	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if iss, err := mc.GetIssuer(); err == nil {
		claims.Issuer = iss
	}
	if aud, err := mc.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if len(v.cfg.Issuers) > 0 && !contains(v.cfg.Issuers, claims.Issuer) {
		return nil, gwerr.Unauthorized("invalid token issuer")
	}
	if len(v.cfg.Audiences) > 0 && !intersects(v.cfg.Audiences, claims.Audience) {
		return nil, gwerr.Unauthorized("invalid token audience")
	}

	if scope, ok := mc["scope"].(string); ok {
		claims.Scope = scope
	}
	if roles, ok := mc["roles"].([]interface{}); ok {
		for _, r := range roles {
			if rs, ok := r.(string); ok {
				claims.Roles = append(claims.Roles, rs)
			}
		}
	}
	for k, val := range mc {
		switch k {
		case "sub", "iss", "aud", "exp", "iat", "nbf", "scope", "roles":
		default:
			claims.Extra[k] = val
		}
	}

	return claims, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// CacheLen returns the number of cached claim entries.
func (v *Validator) CacheLen() int {
	return v.cache.Len()
}
