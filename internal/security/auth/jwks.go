package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSKeySource fetches and caches a JSON Web Key Set, refreshing in
// the background.
type JWKSKeySource struct {
	cache *jwk.Cache
	url   string
}

// NewJWKSKeySource registers url with an auto-refreshing cache and
// performs an initial fetch to fail fast on a bad endpoint.
func NewJWKSKeySource(url string, refreshInterval time.Duration) (*JWKSKeySource, error) {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}

	ctx := context.Background()
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("auth: register JWKS url: %w", err)
	}
	if _, err := cache.Refresh(ctx, url); err != nil {
		return nil, fmt.Errorf("auth: fetch JWKS from %s: %w", url, err)
	}

	return &JWKSKeySource{cache: cache, url: url}, nil
}

// KeyFunc resolves the verification key for a token by its kid header.
// When the token has no kid, the first key in the set is used.
func (s *JWKSKeySource) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		keySet, err := s.cache.Get(ctx, s.url)
		if err != nil {
			return nil, fmt.Errorf("get JWKS: %w", err)
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if keySet.Len() == 0 {
				return nil, fmt.Errorf("no keys in JWKS and no kid in token")
			}
			key, _ := keySet.Key(0)
			var raw interface{}
			if err := key.Raw(&raw); err != nil {
				return nil, fmt.Errorf("extract raw key: %w", err)
			}
			return raw, nil
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not found in JWKS", kid)
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extract raw key for kid %q: %w", kid, err)
		}
		return raw, nil
	}
}
