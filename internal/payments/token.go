package payments

import (
	"context"
	"sync"
	"time"
)

// TokenFetcher exchanges gateway credentials for a bearer token. expiresIn
// is taken verbatim from the gateway and may be either a duration in seconds
// or an absolute epoch-seconds timestamp.
type TokenFetcher func(ctx context.Context) (token string, expiresIn int64, err error)

// earlyRefreshMargin refreshes tokens slightly before their stated expiry so
// an in-flight request never carries a token that dies mid-call.
const earlyRefreshMargin = 60 * time.Second

// TokenCache holds one process-wide bearer token, refreshed lazily on use.
// A fetch failure clears the cached value so the next caller retries cleanly.
type TokenCache struct {
	mu        sync.Mutex
	fetch     TokenFetcher
	now       func() time.Time
	token     string
	expiresAt time.Time
}

func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// GetOrRefresh returns the cached token, fetching a new one if the cache is
// empty or within the early-refresh margin of expiry.
func (c *TokenCache) GetOrRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expiresAt.Add(-earlyRefreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetch(ctx)
	if err != nil {
		c.token = ""
		c.expiresAt = time.Time{}
		return "", err
	}
	c.token = token
	// The gateway reports expiry as either seconds-from-now or an absolute
	// epoch timestamp; anything beyond the current epoch second count has to
	// be absolute.
	if expiresIn > now.Unix() {
		c.expiresAt = time.Unix(expiresIn, 0)
	} else {
		c.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}
	return c.token, nil
}

// Invalidate drops the cached token, typically after the gateway answered
// with an authentication failure. The next use fetches fresh.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
