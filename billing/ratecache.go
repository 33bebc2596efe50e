package billing

import (
	"context"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

// CachedConfigProvider memoizes ScopeConfig lookups of another provider for
// a TTL. A sweep reads the same franchise once per unit; the cache turns
// that into one read per franchise and scope. ActiveScopes is never cached.
type CachedConfigProvider struct {
	Inner ConfigProvider
	cache *goCache.Cache
}

// NewCachedConfigProvider wraps inner with a ttl cache.
func NewCachedConfigProvider(inner ConfigProvider, ttl time.Duration) *CachedConfigProvider {
	return &CachedConfigProvider{
		Inner: inner,
		cache: goCache.New(ttl, 2*ttl),
	}
}

func (c *CachedConfigProvider) ActiveScopes(ctx context.Context) ([]Scope, error) {
	return c.Inner.ActiveScopes(ctx)
}

func (c *CachedConfigProvider) ScopeConfig(ctx context.Context, scope Scope) (ScopeConfig, error) {
	key := scope.String()
	if v, ok := c.cache.Get(key); ok {
		return v.(ScopeConfig), nil
	}
	cfg, err := c.Inner.ScopeConfig(ctx, scope)
	if err != nil {
		return ScopeConfig{}, err
	}
	c.cache.SetDefault(key, cfg)
	return cfg, nil
}

// Invalidate drops every cached entry, e.g. after a franchise is updated.
func (c *CachedConfigProvider) Invalidate() {
	c.cache.Flush()
}
