package service

import (
	"context"
	"sync"
	"time"
)

// TokenFetcher obtains a fresh token and how long it stays valid. A zero ttl
// falls back to the cache's default.
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one short-lived credential for a publisher and refreshes it on expiry.
type TokenCache struct {
	mu         sync.Mutex
	fetch      TokenFetcher
	defaultTTL time.Duration
	token      string
	expiresAt  time.Time
	now        func() time.Time
}

// tokenExpiryMargin renews tokens slightly early so an upload never starts with a dying one.
const tokenExpiryMargin = time.Minute

func NewTokenCache(fetch TokenFetcher, defaultTTL time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, defaultTTL: defaultTTL, now: time.Now}
}

func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	token, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl > 2*tokenExpiryMargin {
		ttl -= tokenExpiryMargin
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
	return token, nil
}

// Invalidate drops the cached token, typically after the platform rejected it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
